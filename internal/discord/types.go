package discord

import (
	"encoding/json"
	"strconv"
)

// Role はDiscordサーバーのロールを表す。
type Role struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Position int    `json:"position"`
}

// guildMember はメンバー一覧APIのレスポンス要素を表す。
type guildMember struct {
	User  memberUser `json:"user"`
	Nick  string     `json:"nick"`
	Roles []string   `json:"roles"` // ロールIDの配列
}

// memberUser はメンバーに紐づくユーザー情報を表す。
type memberUser struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name"`
}

// インタラクション種別
const (
	InteractionTypePing               = 1
	InteractionTypeApplicationCommand = 2
)

// インタラクション応答種別
const (
	ResponseTypePong                   = 1
	ResponseTypeChannelMessage         = 4
	ResponseTypeDeferredChannelMessage = 5
)

// MessageFlagEphemeral は実行者にのみ表示されるメッセージを示すフラグ。
const MessageFlagEphemeral = 1 << 6

// PermissionManageRoles はロール管理権限のビット。
// 副作用を伴うコマンドの実行前チェックに使用する。
const PermissionManageRoles uint64 = 1 << 28

// Interaction はDiscordから受信するスラッシュコマンドのペイロードを表す。
type Interaction struct {
	ID            string             `json:"id"`
	ApplicationID string             `json:"application_id"`
	Type          int                `json:"type"`
	Token         string             `json:"token"`
	GuildID       string             `json:"guild_id,omitempty"`
	Data          *InteractionData   `json:"data,omitempty"`
	Member        *InteractionMember `json:"member,omitempty"`
}

// InteractionData はコマンド名とオプションを保持する。
type InteractionData struct {
	Name    string              `json:"name"`
	Options []InteractionOption `json:"options,omitempty"`
}

// InteractionOption はコマンドの1オプションを表す。
// Valueの型はオプション種別によって異なるため、RawMessageで保持する。
type InteractionOption struct {
	Name  string          `json:"name"`
	Type  int             `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

// InteractionMember はコマンド実行者の情報を表す。
// Permissionsはチャンネル内での実効権限ビットの10進文字列。
type InteractionMember struct {
	User        memberUser `json:"user"`
	Permissions string     `json:"permissions"`
}

// Username はコマンド実行者のユーザー名を返す。
func (m *InteractionMember) Username() string {
	return m.User.Username
}

// HasManageRoles は実行者がロール管理権限を持つかを返す。
// 権限ビットのパースに失敗した場合は権限なしとして扱う。
func (m *InteractionMember) HasManageRoles() bool {
	bits, err := strconv.ParseUint(m.Permissions, 10, 64)
	if err != nil {
		return false
	}
	return bits&PermissionManageRoles != 0
}

// StringOption は指定名の文字列オプションの値を返す。
func (d *InteractionData) StringOption(name string) (string, bool) {
	for _, opt := range d.Options {
		if opt.Name != name {
			continue
		}
		var v string
		if err := json.Unmarshal(opt.Value, &v); err != nil {
			return "", false
		}
		return v, true
	}
	return "", false
}

// BoolOption は指定名の真偽値オプションの値を返す。
func (d *InteractionData) BoolOption(name string) (bool, bool) {
	for _, opt := range d.Options {
		if opt.Name != name {
			continue
		}
		var v bool
		if err := json.Unmarshal(opt.Value, &v); err != nil {
			return false, false
		}
		return v, true
	}
	return false, false
}

// InteractionResponse はインタラクションへの応答を表す。
type InteractionResponse struct {
	Type int              `json:"type"`
	Data *ResponseMessage `json:"data,omitempty"`
}

// ResponseMessage は応答メッセージの本文を表す。
type ResponseMessage struct {
	Content string `json:"content,omitempty"`
	Flags   int    `json:"flags,omitempty"`
}
