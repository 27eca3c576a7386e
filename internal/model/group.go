package model

// Group はOutline上のグループを表す。
// 名前で識別され、auto_create_groups 有効時はマッピング先が存在しなければ作成される。
type Group struct {
	ID          string // OutlineグループID
	Name        string // グループ名
	MemberCount int    // メンバー数（一覧表示用）
}

// DirectoryUser はOutline上のユーザーを表す。
// Discordメンバーとはメールアドレス（またはユーザー名）で照合される。
type DirectoryUser struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// SheetRow はスプレッドシートの1行（1メンバー分）を表す。
// Indexはシート上の1始まり行番号で、ステータス更新時の書き込み先指定に使用する。
type SheetRow struct {
	Index    int               // シート上の行番号（1始まり、ヘッダー行を含む）
	Username string            // Discord Username 列の値
	Email    string            // Email 列の値（Outlineユーザーとの照合キー）
	Status   string            // Status 列の値
	Fields   map[string]string // その他の列（応募メタデータなど、読み取り専用）
}
