// Package discord はDiscord REST APIのクライアントと
// インタラクション（スラッシュコマンド）の署名検証を提供する。
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/electrium-mobility/rolesync/internal/model"
)

// DefaultBaseURL はDiscord REST APIのベースURL。
const DefaultBaseURL = "https://discord.com/api/v10"

// membersPageSize はメンバー一覧取得の1ページあたりの件数（APIの最大値）。
const membersPageSize = 1000

// Client はDiscord REST APIのクライアント。
// グローバルレート制限に収まるようトークンバケットで呼び出しを間引く。
// キャッシュは持たず、毎回現在の状態を問い合わせる（メンバーシップは呼び出し間で変化しうる）。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	token      string
	guildID    string
	baseURL    string // テスト用にエンドポイントを差し替え可能
	limiter    *rate.Limiter
}

// NewClient はClientの新しいインスタンスを生成する。
// レート制限はDiscordのグローバル上限（50 req/sec）より保守的な値に設定する。
func NewClient(httpClient *http.Client, logger *slog.Logger, token, guildID string) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		token:      token,
		guildID:    guildID,
		baseURL:    DefaultBaseURL,
		limiter:    rate.NewLimiter(rate.Limit(25), 5),
	}
}

// ListRoles はサーバーの全ロールを返す（@everyoneを除く）。
func (c *Client) ListRoles(ctx context.Context) ([]Role, error) {
	var roles []Role
	path := fmt.Sprintf("/guilds/%s/roles", c.guildID)
	if err := c.do(ctx, http.MethodGet, path, nil, &roles); err != nil {
		return nil, err
	}

	out := make([]Role, 0, len(roles))
	for _, r := range roles {
		if r.Name == "@everyone" {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// ListRoleNames はサーバーの全ロール名を返す。
func (c *Client) ListRoleNames(ctx context.Context) ([]string, error) {
	roles, err := c.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
	}
	return names, nil
}

// RoleByName は指定名のロールを返す。
// 見つからない場合は第2戻り値がfalseとなる（エラーではない）。
func (c *Client) RoleByName(ctx context.Context, name string) (Role, bool, error) {
	roles, err := c.ListRoles(ctx)
	if err != nil {
		return Role{}, false, err
	}
	for _, r := range roles {
		if r.Name == name {
			return r, true, nil
		}
	}
	return Role{}, false, nil
}

// ListMembers はサーバーの全メンバーをページネーションで取得する。
// 各メンバーのRolesにはロールIDではなくロール名を解決して格納する。
func (c *Client) ListMembers(ctx context.Context) ([]model.Member, error) {
	roles, err := c.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	roleNames := make(map[string]string, len(roles))
	for _, r := range roles {
		roleNames[r.ID] = r.Name
	}

	var members []model.Member
	after := ""
	for {
		path := fmt.Sprintf("/guilds/%s/members?limit=%d", c.guildID, membersPageSize)
		if after != "" {
			path += "&after=" + after
		}

		var page []guildMember
		if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}

		for _, gm := range page {
			members = append(members, convertMember(gm, roleNames))
		}
		after = page[len(page)-1].User.ID

		if len(page) < membersPageSize {
			break
		}
	}
	return members, nil
}

// MembersWithRole は指定ロールを保持する全メンバーを返す。
// ロールが存在しない場合は空集合を返す（ロールは一時的に不在でありうるため、エラーではない）。
func (c *Client) MembersWithRole(ctx context.Context, roleName string) ([]model.Member, error) {
	role, ok, err := c.RoleByName(ctx, roleName)
	if err != nil {
		return nil, err
	}
	if !ok {
		c.logger.Debug("ロールが存在しないため空集合を返します",
			slog.String("role", roleName),
		)
		return []model.Member{}, nil
	}

	members, err := c.ListMembers(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]model.Member, 0)
	for _, m := range members {
		if m.HasRole(role.Name) {
			out = append(out, m)
		}
	}
	return out, nil
}

// GrantRole はメンバーに指定名のロールを付与する。
// ロールが存在しない場合はRoleNotFoundErrorを返す。
func (c *Client) GrantRole(ctx context.Context, userID, roleName string) error {
	role, ok, err := c.RoleByName(ctx, roleName)
	if err != nil {
		return err
	}
	if !ok {
		return model.NewRoleNotFoundError(roleName)
	}
	path := fmt.Sprintf("/guilds/%s/members/%s/roles/%s", c.guildID, userID, role.ID)
	return c.do(ctx, http.MethodPut, path, nil, nil)
}

// RevokeRole はメンバーから指定名のロールを剥奪する。
// ロールが存在しない場合は何もしない。
func (c *Client) RevokeRole(ctx context.Context, userID, roleName string) error {
	role, ok, err := c.RoleByName(ctx, roleName)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	path := fmt.Sprintf("/guilds/%s/members/%s/roles/%s", c.guildID, userID, role.ID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// EditOriginalResponse は遅延応答済みインタラクションの元メッセージを更新する。
// 実行に時間のかかるコマンド（同期・昇格）の完了報告に使用する。
func (c *Client) EditOriginalResponse(ctx context.Context, applicationID, token, content string) error {
	path := fmt.Sprintf("/webhooks/%s/%s/messages/@original", applicationID, token)
	body := map[string]string{"content": content}
	return c.do(ctx, http.MethodPatch, path, body, nil)
}

// do はレート制限を待ってからHTTPリクエストを実行し、レスポンスをデコードする。
// 非2xxレスポンスはDiscordAPIErrorに変換する（生のレスポンスボディはログにのみ出力する）。
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("レート制限の待機中にキャンセルされました: %w", err)
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("リクエストボディのエンコードに失敗しました: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Discord APIの呼び出しに失敗しました",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return model.NewDiscordAPIError("接続エラー")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Error("Discord APIがエラーステータスを返しました",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("http_status", resp.StatusCode),
			slog.String("body", string(raw)),
		)
		return model.NewDiscordAPIError(fmt.Sprintf("HTTPステータス %d", resp.StatusCode))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.logger.Error("Discord APIレスポンスのパースに失敗しました",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return model.NewDiscordAPIError("レスポンスのパースに失敗")
	}
	return nil
}

// convertMember はAPIレスポンスのメンバーをドメインモデルに変換する。
// ロールIDは解決済みのロール名に変換し、未知のIDは無視する。
func convertMember(gm guildMember, roleNames map[string]string) model.Member {
	display := gm.Nick
	if display == "" {
		display = gm.User.GlobalName
	}
	if display == "" {
		display = gm.User.Username
	}

	names := make([]string, 0, len(gm.Roles))
	for _, id := range gm.Roles {
		if name, ok := roleNames[id]; ok {
			names = append(names, name)
		}
	}

	return model.Member{
		ID:          gm.User.ID,
		Username:    gm.User.Username,
		DisplayName: display,
		Roles:       names,
	}
}
