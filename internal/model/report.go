package model

import "time"

// SyncReport は1回のリコンサイル実行の結果を表す。
// 永続化はせず、呼び出し元への出力生成の間だけ存在する。
type SyncReport struct {
	RunID     string          // 実行ID
	DryRun    bool            // ドライラン実行かどうか
	StartedAt time.Time       // 実行開始時刻
	Duration  time.Duration   // 実行所要時間
	Mappings  []MappingResult // マッピングごとの結果
}

// MappingResult は1つのロール→グループマッピングの同期結果を表す。
// 各操作は独立に失敗しうるため、失敗はここに記録され、バッチ全体を中断しない。
type MappingResult struct {
	RoleName   string   // Discordロール名
	GroupName  string   // Outlineグループ名
	Created    bool     // グループをこの実行で作成したかどうか
	Added      []string // 追加したメンバー（ドライラン時は追加予定）
	Removed    []string // 削除したメンバー（ドライラン時は削除予定）
	Unchanged  []string // 変更のなかったメンバー
	Failed     []string // 操作に失敗したメンバー（理由付き）
	SkipReason string   // 空でなければマッピング全体をスキップした理由
}

// Skipped はマッピングがスキップされたかどうかを返す。
func (r *MappingResult) Skipped() bool {
	return r.SkipReason != ""
}

// TotalAdded は全マッピングの追加メンバー数の合計を返す。
func (r *SyncReport) TotalAdded() int {
	n := 0
	for _, m := range r.Mappings {
		n += len(m.Added)
	}
	return n
}

// TotalRemoved は全マッピングの削除メンバー数の合計を返す。
func (r *SyncReport) TotalRemoved() int {
	n := 0
	for _, m := range r.Mappings {
		n += len(m.Removed)
	}
	return n
}

// TotalFailed は全マッピングの失敗操作数の合計を返す。
func (r *SyncReport) TotalFailed() int {
	n := 0
	for _, m := range r.Mappings {
		n += len(m.Failed)
	}
	return n
}

// PromotionReport は1回のステータス昇格実行の結果を表す。
type PromotionReport struct {
	RunID     string             // 実行ID
	StartedAt time.Time          // 実行開始時刻
	Duration  time.Duration      // 実行所要時間
	Results   []MemberTransition // メンバーごとの遷移結果
}

// MemberTransition は1メンバーのステータス遷移結果を表す。
type MemberTransition struct {
	Username string // Discordユーザー名
	From     Status // 遷移前のステータス
	To       Status // 遷移後のステータス（最終ティアからの遷移では未設定）
	Archived bool   // アーカイブシートに記録したかどうか
	Err      string // 空でなければこのメンバーの処理で発生したエラー
}

// CountByError は失敗した遷移の数を返す。
func (r *PromotionReport) CountByError() int {
	n := 0
	for _, t := range r.Results {
		if t.Err != "" {
			n++
		}
	}
	return n
}
