// Package status はメンバーの進行ステータス（Incoming → Active → Previous）の
// 昇格と、Discordロール・スプレッドシート間のステータス整合を提供する。
package status

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/electrium-mobility/rolesync/internal/model"
)

// archiveStatus はPreviousから離脱したメンバーにシート上で記録するステータス値。
const archiveStatus = "Alumni"

// transitions はステータス昇格の遷移表。
// Previousの次はステータスなし（ロール剥奪とアーカイブ）となる。
var transitions = map[model.Status]model.Status{
	model.StatusIncoming: model.StatusActive,
	model.StatusActive:   model.StatusPrevious,
	model.StatusPrevious: model.StatusNone,
}

// Next は現在のステータスの次の段階を返す。
func Next(s model.Status) model.Status {
	return transitions[s]
}

// RoleManager はDiscordメンバーのロール付与・剥奪口。
type RoleManager interface {
	ListMembers(ctx context.Context) ([]model.Member, error)
	GrantRole(ctx context.Context, userID, roleName string) error
	RevokeRole(ctx context.Context, userID, roleName string) error
}

// SpreadsheetStore はメンバーデータベース（スプレッドシート）の読み書き口。
type SpreadsheetStore interface {
	Records(ctx context.Context, worksheet string) ([]model.SheetRow, error)
	FindRow(ctx context.Context, worksheet, username string) (model.SheetRow, error)
	UpdateStatus(ctx context.Context, worksheet string, rowIndex int, status string) error
	AppendRow(ctx context.Context, worksheet string, cells []string) error
}

// Metrics は昇格実行の計測の記録口。
type Metrics interface {
	RecordPromotionRun(d time.Duration)
	RecordStatusTransitions(n int)
}

// Engine はステータス昇格処理を実行する。
type Engine struct {
	discord          RoleManager
	sheets           SpreadsheetStore
	metrics          Metrics
	logger           *slog.Logger
	worksheet        string
	archiveWorksheet string
}

// NewEngine はEngineの新しいインスタンスを生成する。
func NewEngine(discord RoleManager, sheets SpreadsheetStore, metrics Metrics, logger *slog.Logger, worksheet, archiveWorksheet string) *Engine {
	return &Engine{
		discord:          discord,
		sheets:           sheets,
		metrics:          metrics,
		logger:           logger,
		worksheet:        worksheet,
		archiveWorksheet: archiveWorksheet,
	}
}

// PromoteAll は全メンバーのステータスを1段階進める。
// Previousのメンバーはステータスロールを失い、アーカイブ用ワークシートに記録される。
// 個々のメンバーの失敗は記録して続行する。
func (e *Engine) PromoteAll(ctx context.Context) (*model.PromotionReport, error) {
	started := time.Now()
	report := &model.PromotionReport{
		RunID:     uuid.NewString(),
		StartedAt: started,
	}

	e.logger.Info("一斉昇格を開始します", slog.String("run_id", report.RunID))

	members, err := e.discord.ListMembers(ctx)
	if err != nil {
		return nil, err
	}

	for _, member := range members {
		current := member.CurrentStatus()
		if current == model.StatusNone {
			continue
		}
		t := e.promote(ctx, member, current)
		report.Results = append(report.Results, t)
	}

	report.Duration = time.Since(started)
	e.metrics.RecordPromotionRun(report.Duration)
	e.metrics.RecordStatusTransitions(len(report.Results))

	e.logger.Info("一斉昇格が完了しました",
		slog.String("run_id", report.RunID),
		slog.Int("transitions", len(report.Results)),
		slog.Int("errors", report.CountByError()),
		slog.Duration("duration", report.Duration),
	)
	return report, nil
}

// promote は1人のメンバーを次のステータスへ進める。
// ロールの付け替えを先に行い、シート更新の失敗はロール変更を巻き戻さず記録のみ行う。
func (e *Engine) promote(ctx context.Context, member model.Member, current model.Status) model.MemberTransition {
	next := Next(current)
	t := model.MemberTransition{
		Username: member.Username,
		From:     current,
		To:       next,
	}

	if err := e.discord.RevokeRole(ctx, member.ID, string(current)); err != nil {
		t.Err = err.Error()
		return t
	}
	if next != model.StatusNone {
		if err := e.discord.GrantRole(ctx, member.ID, string(next)); err != nil {
			t.Err = err.Error()
			return t
		}
	}

	if err := e.recordTransition(ctx, member, next, &t); err != nil {
		t.Err = err.Error()
	}
	return t
}

// recordTransition は昇格結果をシートに反映する。
// Previousからの離脱はアーカイブ用ワークシートへの追記とAlumniステータスの記録を行う。
// シートに該当行がない場合はロール変更を有効としたまま警告を残す。
func (e *Engine) recordTransition(ctx context.Context, member model.Member, next model.Status, t *model.MemberTransition) error {
	row, err := e.sheets.FindRow(ctx, e.worksheet, member.Username)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeSheetRowNotFound {
			e.logger.Warn("シートに該当行がありません",
				slog.String("username", member.Username),
			)
			return nil
		}
		return err
	}

	sheetStatus := string(next)
	if next == model.StatusNone {
		sheetStatus = archiveStatus
		if err := e.sheets.AppendRow(ctx, e.archiveWorksheet, []string{
			member.Username,
			row.Email,
			archiveStatus,
			time.Now().Format("2006-01-02"),
		}); err != nil {
			return err
		}
		t.Archived = true
	}
	return e.sheets.UpdateStatus(ctx, e.worksheet, row.Index, sheetStatus)
}

// SetStatus は1人のメンバーのステータスを指定値に設定する。
// 他のステータスロールはすべて剥奪され、指定ロールのみが付与される。
// シートに該当行がない場合、ロール変更は有効のままSheetRowNotFoundErrorを返す。
func (e *Engine) SetStatus(ctx context.Context, username string, target model.Status) (*model.MemberTransition, error) {
	members, err := e.discord.ListMembers(ctx)
	if err != nil {
		return nil, err
	}

	var member *model.Member
	for i := range members {
		if strings.EqualFold(members[i].Username, username) {
			member = &members[i]
			break
		}
	}
	if member == nil {
		return nil, model.NewMemberNotFoundError(username)
	}

	t := &model.MemberTransition{
		Username: member.Username,
		From:     member.CurrentStatus(),
		To:       target,
	}

	for _, s := range model.StatusNames {
		if s == target || !member.HasRole(string(s)) {
			continue
		}
		if err := e.discord.RevokeRole(ctx, member.ID, string(s)); err != nil {
			return nil, err
		}
	}
	if target != model.StatusNone && !member.HasRole(string(target)) {
		if err := e.discord.GrantRole(ctx, member.ID, string(target)); err != nil {
			return nil, err
		}
	}

	row, err := e.sheets.FindRow(ctx, e.worksheet, member.Username)
	if err != nil {
		return t, err
	}
	if err := e.sheets.UpdateStatus(ctx, e.worksheet, row.Index, string(target)); err != nil {
		return t, err
	}
	return t, nil
}

// SyncFromSheet はシートのStatus列を正としてDiscordのステータスロールを整合させる。
// シート上のステータスが3値のいずれでもない行、およびDiscordに存在しない
// ユーザー名の行はスキップする。すでに整合しているメンバーには何も行わない。
func (e *Engine) SyncFromSheet(ctx context.Context) (*model.PromotionReport, error) {
	started := time.Now()
	report := &model.PromotionReport{
		RunID:     uuid.NewString(),
		StartedAt: started,
	}

	e.logger.Info("シートからのステータス同期を開始します", slog.String("run_id", report.RunID))

	rows, err := e.sheets.Records(ctx, e.worksheet)
	if err != nil {
		return nil, err
	}
	members, err := e.discord.ListMembers(ctx)
	if err != nil {
		return nil, err
	}
	byUsername := make(map[string]model.Member, len(members))
	for _, m := range members {
		byUsername[strings.ToLower(m.Username)] = m
	}

	for _, row := range rows {
		target, ok := model.ParseStatus(row.Status)
		if !ok {
			continue
		}
		member, ok := byUsername[strings.ToLower(row.Username)]
		if !ok {
			continue
		}
		current := member.CurrentStatus()
		if current == target && e.onlyTargetRole(member, target) {
			continue
		}

		t := model.MemberTransition{
			Username: member.Username,
			From:     current,
			To:       target,
		}
		if err := e.applySheetStatus(ctx, member, target); err != nil {
			t.Err = err.Error()
		}
		report.Results = append(report.Results, t)
	}

	report.Duration = time.Since(started)
	e.metrics.RecordPromotionRun(report.Duration)
	e.metrics.RecordStatusTransitions(len(report.Results))

	e.logger.Info("シートからのステータス同期が完了しました",
		slog.String("run_id", report.RunID),
		slog.Int("transitions", len(report.Results)),
		slog.Int("errors", report.CountByError()),
		slog.Duration("duration", report.Duration),
	)
	return report, nil
}

// applySheetStatus はメンバーのステータスロールを指定値だけが残るよう付け替える。
func (e *Engine) applySheetStatus(ctx context.Context, member model.Member, target model.Status) error {
	for _, s := range model.StatusNames {
		if s == target || !member.HasRole(string(s)) {
			continue
		}
		if err := e.discord.RevokeRole(ctx, member.ID, string(s)); err != nil {
			return err
		}
	}
	if target != model.StatusNone && !member.HasRole(string(target)) {
		return e.discord.GrantRole(ctx, member.ID, string(target))
	}
	return nil
}

// onlyTargetRole はメンバーが指定ステータス以外のステータスロールを
// 保持していないかを返す。
func (e *Engine) onlyTargetRole(member model.Member, target model.Status) bool {
	for _, s := range model.StatusNames {
		if s != target && member.HasRole(string(s)) {
			return false
		}
	}
	return true
}
