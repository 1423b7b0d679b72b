// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ワーカーやサービス層から利用する。
type MetricsCollector interface {
	RecordCheckSuccess(siteType string)
	RecordCheckFailure(siteType string, reason string)
	RecordCheckSkipped()
	RecordCheckLatency(duration time.Duration)
	RecordSlotsFound(count int)
	RecordNewAppointments(count int)
	RecordNotification(result string)
	RecordDateFallback()
	RecordAppointmentsSwept(count int64)
}

// 通知結果のラベル値。
const (
	NotificationSent   = "sent"
	NotificationFailed = "failed"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	checkSuccess    *prometheus.CounterVec
	checkFail       *prometheus.CounterVec
	checkSkipped    prometheus.Counter
	checkLatency    prometheus.Histogram
	slotsFound      prometheus.Counter
	newAppointments prometheus.Counter
	notifications   *prometheus.CounterVec
	dateFallback    prometheus.Counter
	swept           prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		checkSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "apptwatch_check_success_total",
			Help: "サイトチェック成功の合計数",
		}, []string{"site_type"}),
		checkFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "apptwatch_check_fail_total",
			Help: "サイトチェック失敗の合計数",
		}, []string{"site_type", "reason"}),
		checkSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "apptwatch_check_skipped_total",
			Help: "実行中のためスキップされたサイトチェックの合計数",
		}),
		checkLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "apptwatch_check_latency_seconds",
			Help:    "サイトチェックのレイテンシ（秒）",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 45, 60, 90},
		}),
		slotsFound: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "apptwatch_slots_found_total",
			Help: "ページから抽出された予約枠候補の合計数",
		}),
		newAppointments: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "apptwatch_new_appointments_total",
			Help: "新規に検出された予約枠の合計数",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "apptwatch_notifications_total",
			Help: "結果別の通知送信数",
		}, []string{"result"}),
		dateFallback: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "apptwatch_date_fallback_total",
			Help: "日付を解釈できず現在時刻で代替した回数",
		}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "apptwatch_appointments_swept_total",
			Help: "保持期間切れで削除された予約枠の合計数",
		}),
	}

	reg.MustRegister(
		c.checkSuccess,
		c.checkFail,
		c.checkSkipped,
		c.checkLatency,
		c.slotsFound,
		c.newAppointments,
		c.notifications,
		c.dateFallback,
		c.swept,
	)

	return c
}

// RecordCheckSuccess はサイトチェック成功を記録する。
func (c *Collector) RecordCheckSuccess(siteType string) {
	c.checkSuccess.WithLabelValues(siteType).Inc()
}

// RecordCheckFailure はサイトチェック失敗を理由別に記録する。
func (c *Collector) RecordCheckFailure(siteType string, reason string) {
	c.checkFail.WithLabelValues(siteType, reason).Inc()
}

// RecordCheckSkipped はガード競合によるスキップを記録する。
func (c *Collector) RecordCheckSkipped() {
	c.checkSkipped.Inc()
}

// RecordCheckLatency はサイトチェックのレイテンシを記録する。
func (c *Collector) RecordCheckLatency(duration time.Duration) {
	c.checkLatency.Observe(duration.Seconds())
}

// RecordSlotsFound は抽出された予約枠候補数を記録する。
func (c *Collector) RecordSlotsFound(count int) {
	c.slotsFound.Add(float64(count))
}

// RecordNewAppointments は新規予約枠数を記録する。
func (c *Collector) RecordNewAppointments(count int) {
	c.newAppointments.Add(float64(count))
}

// RecordNotification は通知の送信結果を記録する。
func (c *Collector) RecordNotification(result string) {
	c.notifications.WithLabelValues(result).Inc()
}

// RecordDateFallback は日付フォールバックを記録する。
func (c *Collector) RecordDateFallback() {
	c.dateFallback.Inc()
}

// RecordAppointmentsSwept は削除された予約枠数を記録する。
func (c *Collector) RecordAppointmentsSwept(count int64) {
	c.swept.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
