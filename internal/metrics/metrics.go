// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する実装。
// reconcileパッケージとstatusパッケージのMetricsインターフェースを満たす。
type Collector struct {
	syncRuns          *prometheus.CounterVec
	syncDuration      prometheus.Histogram
	membersAdded      prometheus.Counter
	membersRemoved    prometheus.Counter
	operationFailures prometheus.Counter
	promotionRuns     prometheus.Counter
	promotionDuration prometheus.Histogram
	statusTransitions prometheus.Counter
	commandsHandled   *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rolesync_sync_runs_total",
			Help: "同期実行の合計数（dry_runラベル別）",
		}, []string{"dry_run"}),
		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rolesync_sync_duration_seconds",
			Help:    "同期実行の所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		membersAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rolesync_members_added_total",
			Help: "グループに追加したメンバーの合計数",
		}),
		membersRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rolesync_members_removed_total",
			Help: "グループから削除したメンバーの合計数",
		}),
		operationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rolesync_operation_failures_total",
			Help: "失敗したメンバー操作の合計数",
		}),
		promotionRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rolesync_promotion_runs_total",
			Help: "ステータス昇格実行の合計数",
		}),
		promotionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rolesync_promotion_duration_seconds",
			Help:    "ステータス昇格実行の所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		statusTransitions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rolesync_status_transitions_total",
			Help: "ステータス遷移の合計数",
		}),
		commandsHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rolesync_commands_handled_total",
			Help: "処理したスラッシュコマンドの合計数（コマンド名別）",
		}, []string{"command"}),
	}

	reg.MustRegister(
		c.syncRuns,
		c.syncDuration,
		c.membersAdded,
		c.membersRemoved,
		c.operationFailures,
		c.promotionRuns,
		c.promotionDuration,
		c.statusTransitions,
		c.commandsHandled,
	)

	return c
}

// RecordSyncRun は同期実行を記録する。
func (c *Collector) RecordSyncRun(dryRun bool, d time.Duration) {
	c.syncRuns.WithLabelValues(strconv.FormatBool(dryRun)).Inc()
	c.syncDuration.Observe(d.Seconds())
}

// RecordMembersAdded は追加したメンバー数を記録する。
func (c *Collector) RecordMembersAdded(n int) {
	c.membersAdded.Add(float64(n))
}

// RecordMembersRemoved は削除したメンバー数を記録する。
func (c *Collector) RecordMembersRemoved(n int) {
	c.membersRemoved.Add(float64(n))
}

// RecordOperationFailures は失敗したメンバー操作数を記録する。
func (c *Collector) RecordOperationFailures(n int) {
	c.operationFailures.Add(float64(n))
}

// RecordPromotionRun はステータス昇格実行を記録する。
func (c *Collector) RecordPromotionRun(d time.Duration) {
	c.promotionRuns.Inc()
	c.promotionDuration.Observe(d.Seconds())
}

// RecordStatusTransitions はステータス遷移数を記録する。
func (c *Collector) RecordStatusTransitions(n int) {
	c.statusTransitions.Add(float64(n))
}

// RecordCommand は処理したスラッシュコマンドを記録する。
func (c *Collector) RecordCommand(command string) {
	c.commandsHandled.WithLabelValues(command).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
