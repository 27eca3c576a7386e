package reconcile

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/electrium-mobility/rolesync/internal/model"
)

// UserResolver はDiscordメンバーをOutlineユーザーIDへ解決する。
// Refreshで照合用の索引を再構築し、Resolveで個々のメンバーを解決する。
type UserResolver interface {
	Refresh(ctx context.Context) error
	Resolve(member model.Member) (userID string, ok bool)
}

// DirectoryResolver はスプレッドシートのEmail列とOutlineのユーザー一覧を
// 突き合わせてDiscordメンバーを解決するUserResolverの実装。
// シートに該当行がない、またはEmailが未登録のメンバーは
// Outlineユーザー名（大文字小文字を区別しない）で照合を試みる。
type DirectoryResolver struct {
	sheets    SpreadsheetReader
	directory GroupDirectory
	worksheet string
	logger    *slog.Logger

	mu              sync.RWMutex
	emailByUsername map[string]string
	idByEmail       map[string]string
	idByName        map[string]string
}

// NewDirectoryResolver はDirectoryResolverの新しいインスタンスを生成する。
func NewDirectoryResolver(sheets SpreadsheetReader, directory GroupDirectory, worksheet string, logger *slog.Logger) *DirectoryResolver {
	return &DirectoryResolver{
		sheets:    sheets,
		directory: directory,
		worksheet: worksheet,
		logger:    logger,
	}
}

// Refresh はシートとOutlineの最新状態から照合索引を再構築する。
func (r *DirectoryResolver) Refresh(ctx context.Context) error {
	rows, err := r.sheets.Records(ctx, r.worksheet)
	if err != nil {
		return err
	}
	users, err := r.directory.ListUsers(ctx)
	if err != nil {
		return err
	}

	emailByUsername := make(map[string]string, len(rows))
	for _, row := range rows {
		if row.Username == "" || row.Email == "" {
			continue
		}
		emailByUsername[strings.ToLower(row.Username)] = strings.ToLower(row.Email)
	}

	idByEmail := make(map[string]string, len(users))
	idByName := make(map[string]string, len(users))
	for _, u := range users {
		if u.Email != "" {
			idByEmail[strings.ToLower(u.Email)] = u.ID
		}
		if u.Name != "" {
			idByName[strings.ToLower(u.Name)] = u.ID
		}
	}

	r.mu.Lock()
	r.emailByUsername = emailByUsername
	r.idByEmail = idByEmail
	r.idByName = idByName
	r.mu.Unlock()

	r.logger.Info("ユーザー照合索引を再構築しました",
		slog.Int("sheet_rows", len(rows)),
		slog.Int("outline_users", len(users)),
	)
	return nil
}

// Resolve はDiscordメンバーに対応するOutlineユーザーIDを返す。
// シートのEmail経由の照合を優先し、失敗した場合は
// ユーザー名と表示名での照合にフォールバックする。
func (r *DirectoryResolver) Resolve(member model.Member) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if email, ok := r.emailByUsername[strings.ToLower(member.Username)]; ok {
		if id, ok := r.idByEmail[email]; ok {
			return id, true
		}
	}
	if id, ok := r.idByName[strings.ToLower(member.Username)]; ok {
		return id, true
	}
	if member.DisplayName != "" {
		if id, ok := r.idByName[strings.ToLower(member.DisplayName)]; ok {
			return id, true
		}
	}
	return "", false
}
