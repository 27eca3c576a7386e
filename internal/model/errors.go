// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// 呼び出し元（Discordコマンド応答）に表示する原因カテゴリと対処方法を含む。
// スタックトレースや外部APIの生レスポンスはログにのみ出力し、このエラーには含めない。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: config, not_found, api, permission
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeConfigInvalid        = "CONFIG_INVALID"
	ErrCodeRoleNotFound         = "ROLE_NOT_FOUND"
	ErrCodeGroupNotFound        = "GROUP_NOT_FOUND"
	ErrCodeMemberNotFound       = "MEMBER_NOT_FOUND"
	ErrCodeSheetRowNotFound     = "SHEET_ROW_NOT_FOUND"
	ErrCodeInvalidStatus        = "INVALID_STATUS"
	ErrCodeDiscordAPI           = "DISCORD_API_ERROR"
	ErrCodeOutlineAPI           = "OUTLINE_API_ERROR"
	ErrCodeSheetsAPI            = "SHEETS_API_ERROR"
	ErrCodeOutlineNotConfigured = "OUTLINE_NOT_CONFIGURED"
	ErrCodePermissionDenied     = "PERMISSION_DENIED"
)

// NewConfigInvalidError はマッピング設定の読み込み失敗エラーを生成する。
// 読み込み失敗時は直前に読み込まれた設定が維持される。
func NewConfigInvalidError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeConfigInvalid,
		Message:  fmt.Sprintf("ロールマッピング設定の読み込みに失敗しました: %s", reason),
		Category: "config",
		Action:   "role_mapping.json の構文とキーの重複を確認してください。前回の設定は維持されています。",
	}
}

// NewRoleNotFoundError はDiscordロール未検出エラーを生成する。
func NewRoleNotFoundError(roleName string) *APIError {
	return &APIError{
		Code:     ErrCodeRoleNotFound,
		Message:  fmt.Sprintf("Discordロールが見つかりません: %s", roleName),
		Category: "not_found",
		Action:   "ロール名を確認するか、/list-roles で現在のロール一覧を確認してください。",
	}
}

// NewGroupNotFoundError はOutlineグループ未検出エラーを生成する。
func NewGroupNotFoundError(groupName string) *APIError {
	return &APIError{
		Code:     ErrCodeGroupNotFound,
		Message:  fmt.Sprintf("Outlineグループが見つかりません: %s", groupName),
		Category: "not_found",
		Action:   "グループ名を確認するか、auto_create_groups を有効にしてください。",
	}
}

// NewMemberNotFoundError はDiscordメンバー未検出エラーを生成する。
func NewMemberNotFoundError(name string) *APIError {
	return &APIError{
		Code:     ErrCodeMemberNotFound,
		Message:  fmt.Sprintf("Discordメンバーが見つかりません: %s", name),
		Category: "not_found",
		Action:   "ユーザー名を確認してください。",
	}
}

// NewSheetRowNotFoundError はスプレッドシート行未検出エラーを生成する。
// Discord側のロール変更は既に適用されている場合がある（トランザクションは保証しない）。
func NewSheetRowNotFoundError(username string) *APIError {
	return &APIError{
		Code:     ErrCodeSheetRowNotFound,
		Message:  fmt.Sprintf("スプレッドシートに該当する行が見つかりません: %s", username),
		Category: "not_found",
		Action:   "シートの Discord Username 列にこのメンバーの行があるか確認してください。",
	}
}

// NewInvalidStatusError は未定義ステータス指定エラーを生成する。
func NewInvalidStatusError(status string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidStatus,
		Message:  fmt.Sprintf("無効なステータスです: %s", status),
		Category: "not_found",
		Action:   "ステータスには Incoming、Active、Previous のいずれかを指定してください。",
	}
}

// NewDiscordAPIError はDiscord API呼び出し失敗エラーを生成する。
func NewDiscordAPIError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeDiscordAPI,
		Message:  fmt.Sprintf("Discord APIの呼び出しに失敗しました: %s", reason),
		Category: "api",
		Action:   "しばらく待ってから再度お試しください。続く場合はBotトークンと権限を確認してください。",
	}
}

// NewOutlineAPIError はOutline API呼び出し失敗エラーを生成する。
func NewOutlineAPIError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeOutlineAPI,
		Message:  fmt.Sprintf("Outline APIの呼び出しに失敗しました: %s", reason),
		Category: "api",
		Action:   "OUTLINE_API_URL と OUTLINE_API_TOKEN を確認し、しばらく待ってから再度お試しください。",
	}
}

// NewSheetsAPIError はGoogle Sheets API呼び出し失敗エラーを生成する。
func NewSheetsAPIError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeSheetsAPI,
		Message:  fmt.Sprintf("Google Sheets APIの呼び出しに失敗しました: %s", reason),
		Category: "api",
		Action:   "サービスアカウントにシートへの編集権限があるか確認してください。",
	}
}

// NewOutlineNotConfiguredError はOutline API未設定エラーを生成する。
func NewOutlineNotConfiguredError() *APIError {
	return &APIError{
		Code:     ErrCodeOutlineNotConfigured,
		Message:  "Outline APIが設定されていません。",
		Category: "config",
		Action:   "OUTLINE_API_URL と OUTLINE_API_TOKEN を環境変数に設定してください。",
	}
}

// NewPermissionDeniedError は権限不足エラーを生成する。
// 副作用を伴う処理の開始前にチェックされ、コマンド全体を中断する。
func NewPermissionDeniedError(command string) *APIError {
	return &APIError{
		Code:     ErrCodePermissionDenied,
		Message:  fmt.Sprintf("このコマンドを実行する権限がありません: %s", command),
		Category: "permission",
		Action:   "ロール管理（Manage Roles）権限を持つメンバーのみ実行できます。",
	}
}
