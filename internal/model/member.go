package model

// Status はメンバーの進行ステータスを表す。
// Incoming → Active → Previous の順に1段階ずつ進み、Previousの次はステータスなしとなる。
type Status string

const (
	// StatusIncoming は加入予定メンバーを示す。
	StatusIncoming Status = "Incoming"
	// StatusActive は現役メンバーを示す。
	StatusActive Status = "Active"
	// StatusPrevious は元メンバー（最終ティア）を示す。
	StatusPrevious Status = "Previous"
	// StatusNone はいずれのステータスロールも持たないことを示す。
	StatusNone Status = ""
)

// StatusNames は3つのステータスロール名を進行順に列挙する。
var StatusNames = []Status{StatusIncoming, StatusActive, StatusPrevious}

// ParseStatus は文字列をStatusに変換する。
// 定義された3値のいずれでもない場合はfalseを返す。
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusIncoming, StatusActive, StatusPrevious:
		return Status(s), true
	}
	return StatusNone, false
}

// Member はDiscordサーバーのメンバーを表す。
// StatusはRoles内のステータスロールから導出され、常に3値のいずれかまたは未設定となる。
type Member struct {
	ID          string   // DiscordユーザーID
	Username    string   // Discordユーザー名（シートとの照合キー）
	DisplayName string   // サーバー内表示名
	Roles       []string // 保持しているロール名の集合
}

// HasRole はメンバーが指定ロールを保持しているかを返す。
func (m *Member) HasRole(roleName string) bool {
	for _, r := range m.Roles {
		if r == roleName {
			return true
		}
	}
	return false
}

// CurrentStatus はメンバーの現在のステータスを保持ロールから導出する。
// 複数のステータスロールを保持している場合は進行順で最も早いものを返す。
func (m *Member) CurrentStatus() Status {
	for _, s := range StatusNames {
		if m.HasRole(string(s)) {
			return s
		}
	}
	return StatusNone
}
