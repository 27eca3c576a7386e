// Package outline はOutline（ナレッジベース）APIのクライアントを提供する。
// グループの一覧・作成・メンバー追加削除とユーザー一覧の取得を行う。
package outline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"github.com/electrium-mobility/rolesync/internal/model"
)

// listPageSize はページネーション1回あたりの取得件数。
const listPageSize = 25

// envelope はOutline APIの共通レスポンス構造を表す。
// dataの中身はエンドポイントにより配列またはオブジェクトとなるため、RawMessageで保持する。
type envelope struct {
	Data       json.RawMessage `json:"data"`
	Pagination *pagination     `json:"pagination"`
	OK         bool            `json:"ok"`
}

// pagination はページネーション情報を表す。
type pagination struct {
	Total  int `json:"total"`
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// Client はOutline APIのクライアント。
// 全エンドポイントはPOSTのRPC形式で、Bearerトークンで認証する。
// ベースURLは運用者が設定する任意のURLであるため、SSRF防止付きクライアントと併用する。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	token      string
	limiter    *rate.Limiter
}

// NewClient はClientの新しいインスタンスを生成する。
// baseURLは末尾のスラッシュを除去して保持する。
func NewClient(httpClient *http.Client, logger *slog.Logger, baseURL, token string) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		limiter:    rate.NewLimiter(rate.Limit(10), 5),
	}
}

// ListGroups は全グループを返す。
// dataが {groups: [...]} 形式と配列形式の両方に対応する（APIバージョンにより異なる）。
func (c *Client) ListGroups(ctx context.Context) ([]model.Group, error) {
	var groups []model.Group
	offset := 0
	for {
		env, err := c.rpc(ctx, "groups.list", map[string]any{
			"offset": offset,
			"limit":  listPageSize,
		})
		if err != nil {
			return nil, err
		}

		page, err := decodeGroups(env.Data)
		if err != nil {
			c.logger.Error("グループ一覧のパースに失敗しました",
				slog.String("error", err.Error()),
			)
			return nil, model.NewOutlineAPIError("グループ一覧のパースに失敗")
		}
		groups = append(groups, page...)

		if len(page) < listPageSize {
			break
		}
		offset += listPageSize
	}
	return groups, nil
}

// CreateGroup はグループを作成する。
// 同名グループが既に存在する場合は既存グループを返す（冪等）。
func (c *Client) CreateGroup(ctx context.Context, name, description string) (model.Group, error) {
	body := map[string]any{"name": name}
	if description != "" {
		body["description"] = description
	}

	env, err := c.rpc(ctx, "groups.create", body)
	if err != nil {
		// 既存グループとの名前衝突は成功として扱う
		existing, lookupErr := c.groupByName(ctx, name)
		if lookupErr == nil && existing != nil {
			return *existing, nil
		}
		return model.Group{}, err
	}

	var g model.Group
	if err := json.Unmarshal(env.Data, &wireGroupAlias{&g}); err != nil {
		return model.Group{}, model.NewOutlineAPIError("作成したグループのパースに失敗")
	}
	return g, nil
}

// GroupMembers はグループの現在のメンバー（OutlineユーザーID集合）を返す。
func (c *Client) GroupMembers(ctx context.Context, groupID string) ([]model.DirectoryUser, error) {
	var users []model.DirectoryUser
	offset := 0
	for {
		env, err := c.rpc(ctx, "groups.memberships", map[string]any{
			"id":     groupID,
			"offset": offset,
			"limit":  listPageSize,
		})
		if err != nil {
			return nil, err
		}

		var data struct {
			Users []model.DirectoryUser `json:"users"`
		}
		if err := json.Unmarshal(env.Data, &data); err != nil {
			c.logger.Error("グループメンバーのパースに失敗しました",
				slog.String("group_id", groupID),
				slog.String("error", err.Error()),
			)
			return nil, model.NewOutlineAPIError("グループメンバーのパースに失敗")
		}
		users = append(users, data.Users...)

		if len(data.Users) < listPageSize {
			break
		}
		offset += listPageSize
	}
	return users, nil
}

// AddMember はユーザーをグループに追加する。
func (c *Client) AddMember(ctx context.Context, groupID, userID string) error {
	_, err := c.rpc(ctx, "groups.add_user", map[string]any{
		"id":     groupID,
		"userId": userID,
	})
	return err
}

// RemoveMember はユーザーをグループから削除する。
func (c *Client) RemoveMember(ctx context.Context, groupID, userID string) error {
	_, err := c.rpc(ctx, "groups.remove_user", map[string]any{
		"id":     groupID,
		"userId": userID,
	})
	return err
}

// ListUsers は全ユーザーをページネーションで取得する。
func (c *Client) ListUsers(ctx context.Context) ([]model.DirectoryUser, error) {
	var users []model.DirectoryUser
	offset := 0
	for {
		env, err := c.rpc(ctx, "users.list", map[string]any{
			"offset": offset,
			"limit":  listPageSize,
		})
		if err != nil {
			return nil, err
		}

		var page []model.DirectoryUser
		if err := json.Unmarshal(env.Data, &page); err != nil {
			// 一部バージョンは {users: [...]} 形式で返す
			var wrapped struct {
				Users []model.DirectoryUser `json:"users"`
			}
			if err2 := json.Unmarshal(env.Data, &wrapped); err2 != nil {
				c.logger.Error("ユーザー一覧のパースに失敗しました",
					slog.String("error", err.Error()),
				)
				return nil, model.NewOutlineAPIError("ユーザー一覧のパースに失敗")
			}
			page = wrapped.Users
		}
		users = append(users, page...)

		if len(page) < listPageSize {
			break
		}
		offset += listPageSize
	}
	return users, nil
}

// groupByName は指定名のグループを検索する。見つからない場合はnilを返す。
func (c *Client) groupByName(ctx context.Context, name string) (*model.Group, error) {
	groups, err := c.ListGroups(ctx)
	if err != nil {
		return nil, err
	}
	for _, g := range groups {
		if strings.EqualFold(g.Name, name) {
			return &g, nil
		}
	}
	return nil, nil
}

// rpc はレート制限を待ってからRPCエンドポイントを呼び出す。
// 非2xxレスポンスはOutlineAPIErrorに変換する（生のレスポンスはログにのみ出力する）。
func (c *Client) rpc(ctx context.Context, endpoint string, body map[string]any) (*envelope, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("レート制限の待機中にキャンセルされました: %w", err)
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("リクエストボディのエンコードに失敗しました: %w", err)
	}

	url := c.baseURL + "/" + endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Outline APIの呼び出しに失敗しました",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()),
		)
		return nil, model.NewOutlineAPIError("接続エラー")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Error("Outline APIがエラーステータスを返しました",
			slog.String("endpoint", endpoint),
			slog.Int("http_status", resp.StatusCode),
			slog.String("body", string(raw)),
		)
		return nil, model.NewOutlineAPIError(fmt.Sprintf("%s がHTTPステータス %d を返しました", endpoint, resp.StatusCode))
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		c.logger.Error("Outline APIレスポンスのパースに失敗しました",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()),
		)
		return nil, model.NewOutlineAPIError("レスポンスのパースに失敗")
	}
	return &env, nil
}

// wireGroup はAPIレスポンス上のグループ表現。
type wireGroup struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	MemberCount int    `json:"memberCount"`
}

// wireGroupAlias はwireGroupをmodel.Groupに直接デコードするためのラッパー。
type wireGroupAlias struct {
	g *model.Group
}

// UnmarshalJSON はAPI表現をドメインモデルに変換する。
func (a *wireGroupAlias) UnmarshalJSON(data []byte) error {
	var w wireGroup
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	a.g.ID = w.ID
	a.g.Name = w.Name
	a.g.MemberCount = w.MemberCount
	return nil
}

// decodeGroups はgroups.listのdataをパースする。
// {groups: [...]} 形式と配列形式の両方を受け付ける。
func decodeGroups(data json.RawMessage) ([]model.Group, error) {
	var wrapped struct {
		Groups []wireGroup `json:"groups"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Groups != nil {
		return convertGroups(wrapped.Groups), nil
	}

	var plain []wireGroup
	if err := json.Unmarshal(data, &plain); err != nil {
		return nil, err
	}
	return convertGroups(plain), nil
}

// convertGroups はAPI表現のグループ群をドメインモデルに変換する。
func convertGroups(ws []wireGroup) []model.Group {
	out := make([]model.Group, 0, len(ws))
	for _, w := range ws {
		out = append(out, model.Group{ID: w.ID, Name: w.Name, MemberCount: w.MemberCount})
	}
	return out
}
