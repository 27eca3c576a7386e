// Package rolesync はステータスロールの定期同期処理を提供する。
// シートのStatus列を正とするロール整合を一定間隔で実行する。
package rolesync

import (
	"context"
	"log/slog"
	"time"

	"github.com/electrium-mobility/rolesync/internal/model"
)

// StatusSyncer はシートからのステータス同期の実行インターフェース。
type StatusSyncer interface {
	// SyncFromSheet はシートのStatus列を正としてDiscordロールを整合させる。
	SyncFromSheet(ctx context.Context) (*model.PromotionReport, error)
}

// Scheduler はステータス同期のスケジューリングを行う。
// 起動直後に1回実行し、以降は設定された間隔（既定24時間）ごとに実行する。
// 1回の同期はDiscordとシートの全走査を伴うため、並列実行はせず逐次で回す。
type Scheduler struct {
	syncer  StatusSyncer
	logger  *slog.Logger
	timeout time.Duration
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
func NewScheduler(syncer StatusSyncer, logger *slog.Logger, timeout time.Duration) *Scheduler {
	return &Scheduler{
		syncer:  syncer,
		logger:  logger,
		timeout: timeout,
	}
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("ステータス同期スケジューラを開始しました",
		slog.Duration("interval", interval),
	)

	// 起動直後に1回実行
	s.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("ステータス同期スケジューラを停止しました")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce はステータス同期を1回実行する。
// 失敗は記録するのみで、次の周期の実行には影響しない。
func (s *Scheduler) RunOnce(ctx context.Context) {
	runCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	report, err := s.syncer.SyncFromSheet(runCtx)
	if err != nil {
		s.logger.Error("定期ステータス同期に失敗しました",
			slog.String("error", err.Error()),
		)
		return
	}

	s.logger.Info("定期ステータス同期が完了しました",
		slog.String("run_id", report.RunID),
		slog.Int("transitions", len(report.Results)),
		slog.Int("errors", report.CountByError()),
	)
}
