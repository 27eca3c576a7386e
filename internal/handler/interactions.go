// Package handler はDiscordインタラクションの受信とスラッシュコマンドの実行を提供する。
package handler

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/electrium-mobility/rolesync/internal/discord"
	"github.com/electrium-mobility/rolesync/internal/mapping"
	"github.com/electrium-mobility/rolesync/internal/model"
	"github.com/electrium-mobility/rolesync/internal/report"
)

// maxBodySize はインタラクションペイロードの最大サイズ。
const maxBodySize = 1 << 20

// maxMessageLength はDiscordメッセージ本文の最大文字数。
const maxMessageLength = 2000

// Syncer はロール→グループ同期の実行口。
type Syncer interface {
	Run(ctx context.Context, dryRun bool) (*model.SyncReport, error)
	RunOne(ctx context.Context, roleName, groupName string, dryRun bool) (*model.SyncReport, error)
}

// Promoter はステータス昇格処理の実行口。
type Promoter interface {
	PromoteAll(ctx context.Context) (*model.PromotionReport, error)
	SetStatus(ctx context.Context, username string, target model.Status) (*model.MemberTransition, error)
	SyncFromSheet(ctx context.Context) (*model.PromotionReport, error)
}

// RoleLister はDiscordロール一覧の取得口。
type RoleLister interface {
	ListRoleNames(ctx context.Context) ([]string, error)
}

// MemberLister はDiscordメンバー一覧の取得口。
type MemberLister interface {
	ListMembers(ctx context.Context) ([]model.Member, error)
	MembersWithRole(ctx context.Context, roleName string) ([]model.Member, error)
}

// GroupLister はOutlineグループとユーザー一覧の取得口。
type GroupLister interface {
	ListGroups(ctx context.Context) ([]model.Group, error)
	GroupMembers(ctx context.Context, groupID string) ([]model.DirectoryUser, error)
	ListUsers(ctx context.Context) ([]model.DirectoryUser, error)
}

// MappingAdmin はロールマッピング設定の参照と再読み込み口。
type MappingAdmin interface {
	Reload() error
	Categories() []mapping.Category
	Settings() model.MappingSettings
	Validate(roleNames []string) []string
}

// SheetReader はスプレッドシートの読み取り口。
type SheetReader interface {
	Records(ctx context.Context, worksheet string) ([]model.SheetRow, error)
}

// Responder は遅延応答メッセージの編集口。
type Responder interface {
	EditOriginalResponse(ctx context.Context, applicationID, token, content string) error
}

// CommandMetrics はコマンド実行の計測の記録口。
type CommandMetrics interface {
	RecordCommand(command string)
}

// InteractionHandlerDeps はNewInteractionHandlerに必要な依存関係をまとめた構造体。
// SyncerとGroupsはOutline未設定の場合nilとなり、該当コマンドはエラー応答を返す。
type InteractionHandlerDeps struct {
	PublicKey ed25519.PublicKey
	Responder Responder
	Roles     RoleLister
	Members   MemberLister
	Groups    GroupLister
	Syncer    Syncer
	Promoter  Promoter
	Mappings  MappingAdmin
	Sheets    SheetReader
	Worksheet string
	Metrics   CommandMetrics
	Logger    *slog.Logger
	Timeout   time.Duration
}

// InteractionHandler はDiscordインタラクションのエンドポイントを処理する。
type InteractionHandler struct {
	deps InteractionHandlerDeps
}

// NewInteractionHandler はInteractionHandlerの新しいインスタンスを生成する。
func NewInteractionHandler(deps InteractionHandlerDeps) *InteractionHandler {
	return &InteractionHandler{deps: deps}
}

// Handle はインタラクションリクエストを処理する。
// Ed25519署名の検証に失敗したリクエストは401で拒否する。
func (h *InteractionHandler) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	sig := r.Header.Get(discord.HeaderSignature)
	ts := r.Header.Get(discord.HeaderTimestamp)
	if !discord.VerifySignature(h.deps.PublicKey, ts, body, sig) {
		h.deps.Logger.Warn("署名検証に失敗したリクエストを拒否しました",
			slog.String("remote_addr", r.RemoteAddr),
		)
		http.Error(w, "invalid request signature", http.StatusUnauthorized)
		return
	}

	var interaction discord.Interaction
	if err := json.Unmarshal(body, &interaction); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	switch interaction.Type {
	case discord.InteractionTypePing:
		h.respond(w, &discord.InteractionResponse{Type: discord.ResponseTypePong})
	case discord.InteractionTypeApplicationCommand:
		h.dispatch(w, r.Context(), &interaction)
	default:
		http.Error(w, "unsupported interaction type", http.StatusBadRequest)
	}
}

// dispatch はスラッシュコマンドを実行する。
// pingとcheckapps以外のコマンドはロール管理権限を要求する。
func (h *InteractionHandler) dispatch(w http.ResponseWriter, ctx context.Context, i *discord.Interaction) {
	if i.Data == nil {
		http.Error(w, "missing command data", http.StatusBadRequest)
		return
	}
	name := i.Data.Name
	h.deps.Metrics.RecordCommand(name)
	h.deps.Logger.Info("コマンドを受信しました",
		slog.String("command", name),
		slog.String("user", username(i)),
	)

	if requiresManageRoles(name) {
		if i.Member == nil || !i.Member.HasManageRoles() {
			h.ephemeral(w, formatError(model.NewPermissionDeniedError(name)))
			return
		}
	}

	switch name {
	case "ping":
		h.ephemeral(w, "Pong!")
	case "checkapps":
		h.runSync(w, ctx, h.checkApps)
	case "list-roles":
		h.runSync(w, ctx, h.listRoles)
	case "list-outline-groups":
		h.requireOutline(w, func() { h.runSync(w, ctx, h.listGroups) })
	case "show-role-mappings":
		h.runSync(w, ctx, func(context.Context) (string, error) { return h.showMappings() })
	case "reload-mappings":
		h.runSync(w, ctx, h.reloadMappings)
	case "sync-outline":
		roleName, okRole := i.Data.StringOption("role_name")
		groupName, okGroup := i.Data.StringOption("group_name")
		if !okRole || !okGroup {
			h.ephemeral(w, "Usage: `/sync-outline role_name:<Discord role> group_name:<Outline group>`")
			return
		}
		h.requireOutline(w, func() {
			h.deferAndRun(w, i, func(ctx context.Context) (string, error) {
				r, err := h.deps.Syncer.RunOne(ctx, roleName, groupName, false)
				if err != nil {
					return "", err
				}
				return report.Format(r), nil
			})
		})
	case "who-intersection":
		role1, role2, ok := intersectionRoles(i)
		if !ok {
			h.ephemeral(w, "The `role1_name` and `role2_name` options are required.")
			return
		}
		h.runSync(w, ctx, func(ctx context.Context) (string, error) {
			return h.whoIntersection(ctx, role1, role2)
		})
	case "ping-intersection":
		role1, role2, ok := intersectionRoles(i)
		if !ok {
			h.ephemeral(w, "The `role1_name` and `role2_name` options are required.")
			return
		}
		h.pingIntersection(w, ctx, role1, role2)
	case "check-sheet-members":
		h.deferAndRun(w, i, h.checkSheetMembers)
	case "sync-outline-auto":
		dryRun, _ := i.Data.BoolOption("dry_run")
		h.requireOutline(w, func() {
			h.deferAndRun(w, i, func(ctx context.Context) (string, error) {
				r, err := h.deps.Syncer.Run(ctx, dryRun)
				if err != nil {
					return "", err
				}
				return report.Format(r), nil
			})
		})
	case "test-outline-features":
		h.requireOutline(w, func() {
			h.deferAndRun(w, i, h.testOutline)
		})
	case "promote":
		h.deferAndRun(w, i, func(ctx context.Context) (string, error) {
			r, err := h.deps.Promoter.PromoteAll(ctx)
			if err != nil {
				return "", err
			}
			return report.FormatPromotion(r), nil
		})
	case "sync_roles":
		h.deferAndRun(w, i, func(ctx context.Context) (string, error) {
			r, err := h.deps.Promoter.SyncFromSheet(ctx)
			if err != nil {
				return "", err
			}
			return report.FormatPromotion(r), nil
		})
	case "setstatus":
		user, ok := i.Data.StringOption("user")
		if !ok {
			h.ephemeral(w, "The `user` option is required.")
			return
		}
		raw, ok := i.Data.StringOption("status")
		if !ok {
			h.ephemeral(w, "The `status` option is required.")
			return
		}
		target, ok := model.ParseStatus(raw)
		if !ok {
			h.ephemeral(w, formatError(model.NewInvalidStatusError(raw)))
			return
		}
		h.deferAndRun(w, i, func(ctx context.Context) (string, error) {
			t, err := h.deps.Promoter.SetStatus(ctx, user, target)
			if err != nil {
				// シート行の不在はロール変更自体は成功として報告する
				var apiErr *model.APIError
				if t != nil && errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeSheetRowNotFound {
					return fmt.Sprintf("Set %s to **%s** (no matching sheet row to update).", t.Username, target), nil
				}
				return "", err
			}
			return fmt.Sprintf("Set %s to **%s** (was %s).", t.Username, target, statusLabel(t.From)), nil
		})
	default:
		h.ephemeral(w, fmt.Sprintf("Unknown command: `%s`", name))
	}
}

// requiresManageRoles はコマンドがロール管理権限を要求するかを返す。
func requiresManageRoles(command string) bool {
	switch command {
	case "ping", "checkapps":
		return false
	}
	return true
}

// requireOutline はOutline連携が設定済みの場合のみfnを実行する。
func (h *InteractionHandler) requireOutline(w http.ResponseWriter, fn func()) {
	if h.deps.Groups == nil {
		h.ephemeral(w, formatError(model.NewOutlineNotConfiguredError()))
		return
	}
	fn()
}

// runSync は短時間で完了するコマンドを同期実行し、結果を実行者にのみ表示する。
func (h *InteractionHandler) runSync(w http.ResponseWriter, ctx context.Context, fn func(context.Context) (string, error)) {
	ctx, cancel := context.WithTimeout(ctx, h.deps.Timeout)
	defer cancel()

	content, err := fn(ctx)
	if err != nil {
		content = formatError(err)
	}
	h.ephemeral(w, content)
}

// deferAndRun は遅延応答を返してからコマンドをバックグラウンドで実行し、
// 完了後に元の応答メッセージを結果で上書きする。
// 実行時間の読めない同期・昇格コマンドはDiscordの3秒応答期限を超えうるため、
// この経路で処理する。
func (h *InteractionHandler) deferAndRun(w http.ResponseWriter, i *discord.Interaction, fn func(context.Context) (string, error)) {
	h.respond(w, &discord.InteractionResponse{Type: discord.ResponseTypeDeferredChannelMessage})

	appID, token := i.ApplicationID, i.Token
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.deps.Timeout)
		defer cancel()

		content, err := fn(ctx)
		if err != nil {
			content = formatError(err)
		}
		if err := h.deps.Responder.EditOriginalResponse(ctx, appID, token, truncate(content)); err != nil {
			h.deps.Logger.Error("遅延応答の更新に失敗しました",
				slog.String("error", err.Error()),
			)
		}
	}()
}

// checkApps はスプレッドシートのステータス内訳と未分類の行を報告する。
func (h *InteractionHandler) checkApps(ctx context.Context) (string, error) {
	rows, err := h.deps.Sheets.Records(ctx, h.deps.Worksheet)
	if err != nil {
		return "", err
	}

	counts := map[model.Status]int{}
	var pending []string
	for _, row := range rows {
		if row.Username == "" {
			continue
		}
		if s, ok := model.ParseStatus(row.Status); ok {
			counts[s]++
			continue
		}
		pending = append(pending, row.Username)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**Member sheet** (%d rows)\n", len(rows))
	for _, s := range model.StatusNames {
		fmt.Fprintf(&b, "- %s: %d\n", s, counts[s])
	}
	if len(pending) > 0 {
		fmt.Fprintf(&b, "Needs review (%d): %s", len(pending), strings.Join(pending, ", "))
	} else {
		b.WriteString("No rows need review.")
	}
	return b.String(), nil
}

// listRoles はサーバーのロール一覧を返す。
func (h *InteractionHandler) listRoles(ctx context.Context) (string, error) {
	names, err := h.deps.Roles.ListRoleNames(ctx)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "**Server roles** (%d)\n", len(names))
	for _, n := range names {
		fmt.Fprintf(&b, "- %s\n", n)
	}
	return b.String(), nil
}

// listGroups はOutlineのグループ一覧を返す。
func (h *InteractionHandler) listGroups(ctx context.Context) (string, error) {
	groups, err := h.deps.Groups.ListGroups(ctx)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "**Outline groups** (%d)\n", len(groups))
	for _, g := range groups {
		fmt.Fprintf(&b, "- %s (%d members)\n", g.Name, g.MemberCount)
	}
	return b.String(), nil
}

// showMappings は現在のロールマッピング設定を整形して返す。
func (h *InteractionHandler) showMappings() (string, error) {
	cats := h.deps.Mappings.Categories()
	if len(cats) == 0 {
		return "No role mappings are loaded.", nil
	}

	var b strings.Builder
	b.WriteString("**Role mappings**\n")
	for _, cat := range cats {
		fmt.Fprintf(&b, "__%s__", cat.Name)
		if cat.Description != "" {
			fmt.Fprintf(&b, " (%s)", cat.Description)
		}
		b.WriteString("\n")
		for role, group := range cat.Mappings {
			fmt.Fprintf(&b, "- `%s` → `%s`\n", role, group)
		}
		if cat.Pattern != "" {
			fmt.Fprintf(&b, "- pattern `%s` → prefix `%s`\n", cat.Pattern, cat.GroupPrefix)
		}
	}

	s := h.deps.Mappings.Settings()
	fmt.Fprintf(&b, "Settings: auto_create_groups=%t sync_members=%t interval=%dh",
		s.AutoCreateGroups, s.SyncMembers, s.SyncIntervalHours)
	return b.String(), nil
}

// reloadMappings はマッピング設定ファイルを再読み込みし、検証警告を報告する。
func (h *InteractionHandler) reloadMappings(ctx context.Context) (string, error) {
	if err := h.deps.Mappings.Reload(); err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("Reloaded role mappings.")
	if names, err := h.deps.Roles.ListRoleNames(ctx); err == nil {
		for _, warning := range h.deps.Mappings.Validate(names) {
			fmt.Fprintf(&b, "\n⚠ %s", warning)
		}
	}
	return b.String(), nil
}

// testOutline はOutline APIの読み取り系エンドポイントの疎通を確認する。
func (h *InteractionHandler) testOutline(ctx context.Context) (string, error) {
	var b strings.Builder
	b.WriteString("**Outline connectivity check**\n")

	groups, err := h.deps.Groups.ListGroups(ctx)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(&b, "- groups.list: OK (%d groups)\n", len(groups))

	users, err := h.deps.Groups.ListUsers(ctx)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(&b, "- users.list: OK (%d users)\n", len(users))

	if len(groups) > 0 {
		members, err := h.deps.Groups.GroupMembers(ctx, groups[0].ID)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "- groups.memberships: OK (%s has %d members)\n", groups[0].Name, len(members))
	}
	return b.String(), nil
}

// intersectionRoles はインタラクションから2つのロール名オプションを取り出す。
func intersectionRoles(i *discord.Interaction) (string, string, bool) {
	role1, ok1 := i.Data.StringOption("role1_name")
	role2, ok2 := i.Data.StringOption("role2_name")
	return role1, role2, ok1 && ok2
}

// intersectMembers は両方のロールを保持するメンバーを列挙する。
// どちらかのロールが存在しない場合はNotFoundエラーを返す。
func (h *InteractionHandler) intersectMembers(ctx context.Context, role1, role2 string) ([]model.Member, error) {
	names, err := h.deps.Roles.ListRoleNames(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(names))
	for _, n := range names {
		known[n] = true
	}
	if !known[role1] {
		return nil, model.NewRoleNotFoundError(role1)
	}
	if !known[role2] {
		return nil, model.NewRoleNotFoundError(role2)
	}

	members, err := h.deps.Members.MembersWithRole(ctx, role1)
	if err != nil {
		return nil, err
	}
	var both []model.Member
	for _, m := range members {
		if m.HasRole(role2) {
			both = append(both, m)
		}
	}
	return both, nil
}

// whoIntersection は両方のロールを保持するメンバー数を報告する。
func (h *InteractionHandler) whoIntersection(ctx context.Context, role1, role2 string) (string, error) {
	both, err := h.intersectMembers(ctx, role1, role2)
	if err != nil {
		return "", err
	}
	if len(both) == 0 {
		return fmt.Sprintf("No members have both **%s** and **%s**.", role1, role2), nil
	}
	return fmt.Sprintf("**%d** members have both **%s** and **%s**.", len(both), role1, role2), nil
}

// pingIntersection は両方のロールを保持するメンバーにメンションを送る。
// メンションが届くよう、このコマンドの応答のみチャンネル全体に公開される。
func (h *InteractionHandler) pingIntersection(w http.ResponseWriter, ctx context.Context, role1, role2 string) {
	ctx, cancel := context.WithTimeout(ctx, h.deps.Timeout)
	defer cancel()

	both, err := h.intersectMembers(ctx, role1, role2)
	if err != nil {
		h.ephemeral(w, formatError(err))
		return
	}
	if len(both) == 0 {
		h.ephemeral(w, fmt.Sprintf("No members have both **%s** and **%s**.", role1, role2))
		return
	}

	mentions := make([]string, 0, len(both))
	for _, m := range both {
		mentions = append(mentions, fmt.Sprintf("<@%s>", m.ID))
	}
	h.respond(w, &discord.InteractionResponse{
		Type: discord.ResponseTypeChannelMessage,
		Data: &discord.ResponseMessage{
			Content: truncate(fmt.Sprintf("Pinging members with both **%s** and **%s**:\n%s",
				role1, role2, strings.Join(mentions, " "))),
		},
	})
}

// checkSheetMembers はシートの各行のDiscordユーザー名がサーバーに存在するかを照合する。
// ユーザー名と表示名の両方で突き合わせる。
func (h *InteractionHandler) checkSheetMembers(ctx context.Context) (string, error) {
	rows, err := h.deps.Sheets.Records(ctx, h.deps.Worksheet)
	if err != nil {
		return "", err
	}
	members, err := h.deps.Members.ListMembers(ctx)
	if err != nil {
		return "", err
	}

	present := make(map[string]bool, len(members)*2)
	for _, m := range members {
		present[strings.ToLower(m.Username)] = true
		if m.DisplayName != "" {
			present[strings.ToLower(m.DisplayName)] = true
		}
	}

	var found int
	var missing, empty []string
	for _, row := range rows {
		if row.Username == "" {
			empty = append(empty, fmt.Sprintf("row %d", row.Index))
			continue
		}
		if present[strings.ToLower(row.Username)] {
			found++
			continue
		}
		missing = append(missing, row.Username)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**Sheet member check** (%s)\n", h.deps.Worksheet)
	fmt.Fprintf(&b, "Found: %d | Missing: %d | Empty: %d\n", found, len(missing), len(empty))
	if len(missing) > 0 {
		fmt.Fprintf(&b, "Missing from Discord: %s\n", strings.Join(missing, ", "))
	}
	if len(empty) > 0 {
		fmt.Fprintf(&b, "Rows with no Discord username: %s\n", strings.Join(empty, ", "))
	}
	if len(missing) == 0 && len(empty) == 0 {
		b.WriteString("All sheet members are in the server.")
	}
	return b.String(), nil
}

// respond はインタラクション応答をJSONで書き出す。
func (h *InteractionHandler) respond(w http.ResponseWriter, resp *discord.InteractionResponse) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.deps.Logger.Error("応答の書き込みに失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// ephemeral は実行者にのみ表示されるメッセージを応答する。
func (h *InteractionHandler) ephemeral(w http.ResponseWriter, content string) {
	h.respond(w, &discord.InteractionResponse{
		Type: discord.ResponseTypeChannelMessage,
		Data: &discord.ResponseMessage{
			Content: truncate(content),
			Flags:   discord.MessageFlagEphemeral,
		},
	})
}

// formatError はエラーをユーザー向けメッセージに整形する。
// APIErrorの場合はメッセージと対処方法を表示し、それ以外は汎用メッセージに丸める。
func formatError(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Action != "" {
			return fmt.Sprintf("⚠ %s\n%s", apiErr.Message, apiErr.Action)
		}
		return "⚠ " + apiErr.Message
	}
	return "⚠ An unexpected error occurred. Check the server logs."
}

// statusLabel はステータスの表示名を返す。
func statusLabel(s model.Status) string {
	if s == model.StatusNone {
		return "none"
	}
	return string(s)
}

// username はコマンド実行者のユーザー名を返す。
func username(i *discord.Interaction) string {
	if i.Member == nil {
		return ""
	}
	return i.Member.Username()
}

// truncate はDiscordの本文上限に収まるよう文字列を切り詰める。
// 上限は文字数で規定されるため、バイト位置ではなくルーン境界で切る。
func truncate(s string) string {
	if utf8.RuneCountInString(s) <= maxMessageLength {
		return s
	}
	const marker = "\n… (truncated)"
	runes := []rune(s)
	return string(runes[:maxMessageLength-utf8.RuneCountInString(marker)]) + marker
}
