// Package mapping はロール→グループ対応の宣言的マッピング設定を提供する。
// 設定ファイルの読み込み、検証、プロセスを再起動しないアトミックなリロードを含む。
package mapping

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/electrium-mobility/rolesync/internal/model"
)

// Category は設定ファイル上の1カテゴリ（プロジェクト / リーダー / 部門）を表す。
type Category struct {
	Name        string            `json:"-"`
	Description string            `json:"description"`
	Pattern     string            `json:"pattern"`      // 一括マッチ用パターン（任意、例: "f25"）
	GroupPrefix string            `json:"group_prefix"` // パターン展開時のグループ名接頭辞（例: "F25-"）
	Mappings    map[string]string `json:"mappings"`     // ロール名 → グループ名
}

// fileFormat は role_mapping.json 全体の構造を表す。
type fileFormat struct {
	RoleMappings map[string]Category   `json:"role_mappings"`
	Settings     model.MappingSettings `json:"settings"`
}

// snapshot は読み込み済み設定の不変スナップショット。
// リロード時はスナップショット全体を差し替えるため、
// 進行中のリコンサイルに部分的な状態が見えることはない。
type snapshot struct {
	categories []Category
	settings   model.MappingSettings
}

// Store はマッピング設定の読み込みとリロードを管理する。
// 読み込み失敗時は直前のスナップショットを維持する。
type Store struct {
	path   string
	logger *slog.Logger

	mu   sync.RWMutex
	snap *snapshot
}

// NewStore はStoreの新しいインスタンスを生成する。
// この時点ではファイルを読み込まない。Load を呼び出すこと。
func NewStore(path string, logger *slog.Logger) *Store {
	return &Store{
		path:   path,
		logger: logger,
	}
}

// Load は設定ファイルを読み込み、検証のうえスナップショットを差し替える。
// 構造が不正な場合や同一ロールが複数カテゴリに重複定義されている場合は
// ConfigErrorを返し、直前のスナップショットを維持する。
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		s.logger.Error("マッピング設定ファイルの読み込みに失敗しました",
			slog.String("path", s.path),
			slog.String("error", err.Error()),
		)
		return model.NewConfigInvalidError(fmt.Sprintf("ファイルを読み込めません: %s", s.path))
	}

	var file fileFormat
	if err := json.Unmarshal(data, &file); err != nil {
		s.logger.Error("マッピング設定のJSONパースに失敗しました",
			slog.String("path", s.path),
			slog.String("error", err.Error()),
		)
		return model.NewConfigInvalidError("JSONの構文が不正です")
	}

	if len(file.RoleMappings) == 0 {
		return model.NewConfigInvalidError("role_mappings が空です")
	}

	// カテゴリ名順に並べて決定的な順序にする
	names := make([]string, 0, len(file.RoleMappings))
	for name := range file.RoleMappings {
		names = append(names, name)
	}
	sort.Strings(names)

	// 同一ロールの重複定義を検出する
	seen := make(map[string]string) // ロール名 → 定義カテゴリ
	categories := make([]Category, 0, len(names))
	for _, name := range names {
		cat := file.RoleMappings[name]
		cat.Name = name
		for role := range cat.Mappings {
			if prev, ok := seen[role]; ok {
				return model.NewConfigInvalidError(
					fmt.Sprintf("ロール %q が %s と %s の両方に定義されています", role, prev, name))
			}
			seen[role] = name
		}
		categories = append(categories, cat)
	}

	settings := file.Settings
	if settings.SyncIntervalHours <= 0 {
		settings.SyncIntervalHours = 24
	}

	s.mu.Lock()
	s.snap = &snapshot{categories: categories, settings: settings}
	s.mu.Unlock()

	s.logger.Info("マッピング設定を読み込みました",
		slog.String("path", s.path),
		slog.Int("categories", len(categories)),
		slog.Int("mappings", len(seen)),
	)
	return nil
}

// Reload は設定ファイルを再読み込みする。
// 成功時のみスナップショットが差し替わる（Loadと同一のセマンティクス）。
func (s *Store) Reload() error {
	return s.Load()
}

// Loaded は有効なスナップショットが存在するかを返す。
func (s *Store) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap != nil
}

// Settings は現在のスナップショットの設定を返す。
// 未読み込みの場合は同期間隔のみ既定の24hに補正した設定を返す。
func (s *Store) Settings() model.MappingSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap == nil {
		return model.MappingSettings{SyncIntervalHours: 24}
	}
	return s.snap.settings
}

// Categories は現在のスナップショットのカテゴリ一覧を返す。
// 返り値は表示用のコピーであり、変更してもストアには影響しない。
func (s *Store) Categories() []Category {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap == nil {
		return nil
	}
	out := make([]Category, len(s.snap.categories))
	copy(out, s.snap.categories)
	return out
}

// Mappings は明示的に定義された全マッピングをロール名順で返す。
// パターン展開は含まない（Expand を使用すること）。
func (s *Store) Mappings() []model.RoleMapping {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap == nil {
		return nil
	}

	var out []model.RoleMapping
	for _, cat := range s.snap.categories {
		for role, group := range cat.Mappings {
			out = append(out, model.RoleMapping{
				RoleName: role,
				Groups:   []string{group},
				Category: cat.Name,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoleName < out[j].RoleName })
	return out
}

// Expand は明示的マッピングに加え、パターンを持つカテゴリを
// 指定されたロール一覧に対して展開した全マッピングを返す。
// パターン展開はリロード時点のロール一覧に基づくため、
// 新しく作成されたロールを拾うには明示的なリロードが必要となる。
func (s *Store) Expand(roleNames []string) []model.RoleMapping {
	explicit := s.Mappings()
	mapped := make(map[string]bool, len(explicit))
	for _, m := range explicit {
		mapped[m.RoleName] = true
	}

	out := explicit
	for _, cat := range s.Categories() {
		if cat.Pattern == "" {
			continue
		}
		pattern := strings.ToLower(cat.Pattern)
		for _, role := range roleNames {
			if mapped[role] || !strings.Contains(strings.ToLower(role), pattern) {
				continue
			}
			mapped[role] = true
			out = append(out, model.RoleMapping{
				RoleName:    role,
				Groups:      []string{patternGroupName(role, cat.Pattern, cat.GroupPrefix)},
				Category:    cat.Name,
				FromPattern: true,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoleName < out[j].RoleName })
	return out
}

// Validate は全マッピングのロールがDiscordのロール一覧に存在するかを確認し、
// 未知のロールを参照しているマッピングを警告として返す。
// 警告は致命的エラーではなく、該当マッピングは実行時にスキップされる。
func (s *Store) Validate(roleNames []string) []string {
	known := make(map[string]bool, len(roleNames))
	for _, r := range roleNames {
		known[r] = true
	}

	var warnings []string
	for _, m := range s.Mappings() {
		if !known[m.RoleName] {
			warnings = append(warnings,
				fmt.Sprintf("マッピング %s → %s: ロールがDiscordに存在しません", m.RoleName, strings.Join(m.Groups, ", ")))
		}
	}
	return warnings
}

// patternGroupName はパターン展開時のグループ名を生成する。
// ロール名からパターントークンとハイフンを除去した残りに接頭辞を付ける。
func patternGroupName(role, pattern, prefix string) string {
	cleaned := role
	// 大文字小文字どちらの表記も除去する
	cleaned = strings.ReplaceAll(cleaned, strings.ToUpper(pattern), "")
	cleaned = strings.ReplaceAll(cleaned, strings.ToLower(pattern), "")
	cleaned = strings.ReplaceAll(cleaned, "-", "")
	cleaned = strings.TrimSpace(cleaned)
	if prefix == "" {
		return cleaned
	}
	return prefix + cleaned
}
