package model

// マッピングカテゴリ。role_mapping.json のトップレベルキーに対応する。
const (
	CategoryProject    = "project_teams"
	CategoryLeadership = "leadership"
	CategoryDepartment = "departments"
)

// RoleMapping は1つのDiscordロールと対応するOutlineグループ群の対応を表す。
// 実行時には不変であり、変更はマッピングストアの明示的なリロードでのみ反映される。
type RoleMapping struct {
	RoleName string   // Discordロール名
	Groups   []string // 対応するOutlineグループ名（1つ以上）
	Category string   // カテゴリ（project_teams / leadership / departments）
	// FromPattern はパターン展開によって生成されたマッピングであることを示す。
	// 設定リロード時点のロール一覧に基づいて展開される。
	FromPattern bool
}

// MappingSettings はマッピング設定ファイルの settings セクションを表す。
type MappingSettings struct {
	AutoCreateGroups  bool `json:"auto_create_groups"`
	SyncMembers       bool `json:"sync_members"`
	SyncIntervalHours int  `json:"sync_interval_hours"`
}
