// Package reconcile はDiscordロールとOutlineグループの突き合わせ同期を提供する。
// ロールマッピングごとに「あるべきメンバー集合」と「現在のメンバー集合」の
// 差分を計算し、追加・削除操作を適用する。
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/electrium-mobility/rolesync/internal/model"
)

// MembershipSource はDiscordギルドのロールとメンバーの読み取り口。
type MembershipSource interface {
	ListRoleNames(ctx context.Context) ([]string, error)
	MembersWithRole(ctx context.Context, roleName string) ([]model.Member, error)
}

// GroupDirectory はOutlineのグループとユーザーの操作口。
type GroupDirectory interface {
	ListGroups(ctx context.Context) ([]model.Group, error)
	CreateGroup(ctx context.Context, name, description string) (model.Group, error)
	GroupMembers(ctx context.Context, groupID string) ([]model.DirectoryUser, error)
	AddMember(ctx context.Context, groupID, userID string) error
	RemoveMember(ctx context.Context, groupID, userID string) error
	ListUsers(ctx context.Context) ([]model.DirectoryUser, error)
}

// SpreadsheetReader はメンバーデータベース（スプレッドシート）の読み取り口。
type SpreadsheetReader interface {
	Records(ctx context.Context, worksheet string) ([]model.SheetRow, error)
}

// MappingSource はロールマッピング設定の参照口。
type MappingSource interface {
	Expand(roleNames []string) []model.RoleMapping
	Settings() model.MappingSettings
}

// Metrics は同期実行の計測の記録口。
type Metrics interface {
	RecordSyncRun(dryRun bool, d time.Duration)
	RecordMembersAdded(n int)
	RecordMembersRemoved(n int)
	RecordOperationFailures(n int)
}

// Reconciler はロールとグループの同期を実行する。
type Reconciler struct {
	discord  MembershipSource
	outline  GroupDirectory
	mappings MappingSource
	resolver UserResolver
	metrics  Metrics
	logger   *slog.Logger
}

// NewReconciler はReconcilerの新しいインスタンスを生成する。
func NewReconciler(discord MembershipSource, outline GroupDirectory, mappings MappingSource, resolver UserResolver, metrics Metrics, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		discord:  discord,
		outline:  outline,
		mappings: mappings,
		resolver: resolver,
		metrics:  metrics,
		logger:   logger,
	}
}

// Run は全ロールマッピングの同期を1回実行し、結果レポートを返す。
// dryRunがtrueの場合は差分の計算のみ行い、Outlineへの書き込みは一切行わない。
// 個々のメンバー操作の失敗は記録して続行し、エラーとしては返さない。
// エラーを返すのは前提条件（ロール一覧、グループ一覧、照合索引）の
// 取得に失敗した場合のみ。
func (r *Reconciler) Run(ctx context.Context, dryRun bool) (*model.SyncReport, error) {
	started := time.Now()
	report := &model.SyncReport{
		RunID:     uuid.NewString(),
		DryRun:    dryRun,
		StartedAt: started,
	}

	r.logger.Info("同期を開始します",
		slog.String("run_id", report.RunID),
		slog.Bool("dry_run", dryRun),
	)

	roleNames, err := r.discord.ListRoleNames(ctx)
	if err != nil {
		return nil, err
	}

	groups, err := r.outline.ListGroups(ctx)
	if err != nil {
		return nil, err
	}
	groupsByName := make(map[string]model.Group, len(groups))
	for _, g := range groups {
		groupsByName[strings.ToLower(g.Name)] = g
	}

	if err := r.resolver.Refresh(ctx); err != nil {
		return nil, err
	}

	settings := r.mappings.Settings()
	for _, m := range r.mappings.Expand(roleNames) {
		for _, groupName := range m.Groups {
			result := r.syncMapping(ctx, m, groupName, groupsByName, settings, dryRun)
			report.Mappings = append(report.Mappings, result)
		}
	}

	report.Duration = time.Since(started)
	r.metrics.RecordSyncRun(dryRun, report.Duration)
	r.metrics.RecordMembersAdded(report.TotalAdded())
	r.metrics.RecordMembersRemoved(report.TotalRemoved())
	r.metrics.RecordOperationFailures(report.TotalFailed())

	r.logger.Info("同期が完了しました",
		slog.String("run_id", report.RunID),
		slog.Bool("dry_run", dryRun),
		slog.Int("added", report.TotalAdded()),
		slog.Int("removed", report.TotalRemoved()),
		slog.Int("failed", report.TotalFailed()),
		slog.Duration("duration", report.Duration),
	)
	return report, nil
}

// RunOne は指定したロールとグループの組だけを同期する。
// マッピング設定に登録されていない組も対象にできる（スラッシュコマンドからの
// 単発同期用）。レポートの形式はRunと同一で、対象は1マッピングのみとなる。
// 存在しないロール名はグループを空にしてしまうため、同期前に検証して拒否する。
func (r *Reconciler) RunOne(ctx context.Context, roleName, groupName string, dryRun bool) (*model.SyncReport, error) {
	started := time.Now()
	report := &model.SyncReport{
		RunID:     uuid.NewString(),
		DryRun:    dryRun,
		StartedAt: started,
	}

	r.logger.Info("単発同期を開始します",
		slog.String("run_id", report.RunID),
		slog.String("role", roleName),
		slog.String("group", groupName),
		slog.Bool("dry_run", dryRun),
	)

	roleNames, err := r.discord.ListRoleNames(ctx)
	if err != nil {
		return nil, err
	}
	known := false
	for _, n := range roleNames {
		if n == roleName {
			known = true
			break
		}
	}
	if !known {
		return nil, model.NewRoleNotFoundError(roleName)
	}

	groups, err := r.outline.ListGroups(ctx)
	if err != nil {
		return nil, err
	}
	groupsByName := make(map[string]model.Group, len(groups))
	for _, g := range groups {
		groupsByName[strings.ToLower(g.Name)] = g
	}

	if err := r.resolver.Refresh(ctx); err != nil {
		return nil, err
	}

	m := model.RoleMapping{RoleName: roleName, Groups: []string{groupName}}
	result := r.syncMapping(ctx, m, groupName, groupsByName, r.mappings.Settings(), dryRun)
	report.Mappings = append(report.Mappings, result)

	report.Duration = time.Since(started)
	r.metrics.RecordSyncRun(dryRun, report.Duration)
	r.metrics.RecordMembersAdded(report.TotalAdded())
	r.metrics.RecordMembersRemoved(report.TotalRemoved())
	r.metrics.RecordOperationFailures(report.TotalFailed())

	r.logger.Info("単発同期が完了しました",
		slog.String("run_id", report.RunID),
		slog.Int("added", report.TotalAdded()),
		slog.Int("removed", report.TotalRemoved()),
		slog.Int("failed", report.TotalFailed()),
	)
	return report, nil
}

// syncMapping は1つのロールとグループの組を同期する。
func (r *Reconciler) syncMapping(ctx context.Context, m model.RoleMapping, groupName string, groupsByName map[string]model.Group, settings model.MappingSettings, dryRun bool) model.MappingResult {
	result := model.MappingResult{
		RoleName:  m.RoleName,
		GroupName: groupName,
	}

	group, exists := groupsByName[strings.ToLower(groupName)]
	if !exists {
		if !settings.AutoCreateGroups {
			result.SkipReason = "グループが存在せず、auto_create_groups が無効です"
			r.logger.Warn("マッピングをスキップします",
				slog.String("role", m.RoleName),
				slog.String("group", groupName),
				slog.String("reason", result.SkipReason),
			)
			return result
		}
		result.Created = true
		if dryRun {
			// 作成予定として記録し、現メンバーは空集合として扱う
			group = model.Group{Name: groupName}
		} else {
			created, err := r.outline.CreateGroup(ctx, groupName, fmt.Sprintf("%s ロールから自動作成", m.RoleName))
			if err != nil {
				result.SkipReason = "グループの作成に失敗しました"
				r.logger.Error("グループの作成に失敗しました",
					slog.String("group", groupName),
					slog.String("error", err.Error()),
				)
				return result
			}
			group = created
			groupsByName[strings.ToLower(groupName)] = created
		}
	}

	members, err := r.discord.MembersWithRole(ctx, m.RoleName)
	if err != nil {
		result.SkipReason = "ロールメンバーの取得に失敗しました"
		r.logger.Error("ロールメンバーの取得に失敗しました",
			slog.String("role", m.RoleName),
			slog.String("error", err.Error()),
		)
		return result
	}

	// あるべきメンバー集合（OutlineユーザーID → Discordユーザー名）
	desired := make(map[string]string, len(members))
	for _, member := range members {
		id, ok := r.resolver.Resolve(member)
		if !ok {
			result.Failed = append(result.Failed, member.Username)
			r.logger.Warn("Outlineユーザーを解決できませんでした",
				slog.String("role", m.RoleName),
				slog.String("username", member.Username),
			)
			continue
		}
		desired[id] = member.Username
	}

	// 現在のメンバー集合
	actual := make(map[string]model.DirectoryUser)
	if group.ID != "" {
		current, err := r.outline.GroupMembers(ctx, group.ID)
		if err != nil {
			result.SkipReason = "グループメンバーの取得に失敗しました"
			r.logger.Error("グループメンバーの取得に失敗しました",
				slog.String("group", groupName),
				slog.String("error", err.Error()),
			)
			return result
		}
		for _, u := range current {
			actual[u.ID] = u
		}
	}

	for id, username := range desired {
		if _, ok := actual[id]; ok {
			result.Unchanged = append(result.Unchanged, username)
			continue
		}
		if !dryRun {
			if err := r.outline.AddMember(ctx, group.ID, id); err != nil {
				result.Failed = append(result.Failed, username)
				r.logger.Error("グループへの追加に失敗しました",
					slog.String("group", groupName),
					slog.String("username", username),
					slog.String("error", err.Error()),
				)
				continue
			}
		}
		result.Added = append(result.Added, username)
	}

	for id, user := range actual {
		if _, ok := desired[id]; ok {
			continue
		}
		label := user.Name
		if label == "" {
			label = user.Email
		}
		if !dryRun {
			if err := r.outline.RemoveMember(ctx, group.ID, id); err != nil {
				result.Failed = append(result.Failed, label)
				r.logger.Error("グループからの削除に失敗しました",
					slog.String("group", groupName),
					slog.String("user", label),
					slog.String("error", err.Error()),
				)
				continue
			}
		}
		result.Removed = append(result.Removed, label)
	}

	return result
}
