// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 連携解除コールバックの処理結果ラベル。
const (
	OutcomeAccepted      = "accepted"
	OutcomeRejected      = "rejected"
	OutcomeMisconfigured = "misconfigured"
	OutcomeError         = "error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ハンドラーやワーカーから利用する。
type MetricsCollector interface {
	RecordDeauthorization(outcome string)
	RecordSignedRequestFailure(code string)
	RecordPagesFetchSuccess(pages int)
	RecordPagesFetchFailure(reason string)
	RecordPagesFetchLatency(duration time.Duration)
	RecordRateLimited(limitType string)
	RecordDeletionRequestsPurged(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	deauthorizations  *prometheus.CounterVec
	signatureFailures *prometheus.CounterVec
	fetchSuccess      prometheus.Counter
	fetchFail         *prometheus.CounterVec
	fetchLatency      prometheus.Histogram
	pagesReturned     prometheus.Histogram
	rateLimited       *prometheus.CounterVec
	purged            prometheus.Counter
	httpRequests      *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		deauthorizations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pagedesk_deauthorizations_total",
			Help: "連携解除コールバックの処理結果別の件数",
		}, []string{"outcome"}),
		signatureFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pagedesk_signed_request_failures_total",
			Help: "signed_request検証失敗の種別ごとの件数",
		}, []string{"code"}),
		fetchSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagedesk_pages_fetch_success_total",
			Help: "ページ一覧取得成功の合計数",
		}),
		fetchFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pagedesk_pages_fetch_fail_total",
			Help: "ページ一覧取得失敗の理由別の件数",
		}, []string{"reason"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pagedesk_pages_fetch_latency_seconds",
			Help:    "Graph APIからのページ一覧取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		pagesReturned: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pagedesk_pages_returned",
			Help:    "1回の取得で返したページ数",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pagedesk_rate_limited_total",
			Help: "レート制限により拒否したリクエスト数",
		}, []string{"limit_type"}),
		purged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagedesk_deletion_requests_purged_total",
			Help: "保持期間を過ぎて削除した削除リクエスト記録の合計数",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pagedesk_http_requests_total",
			Help: "HTTPステータスコード・メソッド別のレスポンス数",
		}, []string{"code", "method"}),
	}

	reg.MustRegister(
		c.deauthorizations,
		c.signatureFailures,
		c.fetchSuccess,
		c.fetchFail,
		c.fetchLatency,
		c.pagesReturned,
		c.rateLimited,
		c.purged,
		c.httpRequests,
	)

	return c
}

// RecordDeauthorization は連携解除コールバックの処理結果を記録する。
func (c *Collector) RecordDeauthorization(outcome string) {
	c.deauthorizations.WithLabelValues(outcome).Inc()
}

// RecordSignedRequestFailure はsigned_request検証失敗をエラーコード別に記録する。
func (c *Collector) RecordSignedRequestFailure(code string) {
	c.signatureFailures.WithLabelValues(code).Inc()
}

// RecordPagesFetchSuccess はページ一覧取得の成功と返却件数を記録する。
func (c *Collector) RecordPagesFetchSuccess(pages int) {
	c.fetchSuccess.Inc()
	c.pagesReturned.Observe(float64(pages))
}

// RecordPagesFetchFailure はページ一覧取得の失敗を記録する。
func (c *Collector) RecordPagesFetchFailure(reason string) {
	c.fetchFail.WithLabelValues(reason).Inc()
}

// RecordPagesFetchLatency はGraph API呼び出しのレイテンシを記録する。
func (c *Collector) RecordPagesFetchLatency(duration time.Duration) {
	c.fetchLatency.Observe(duration.Seconds())
}

// RecordRateLimited はレート制限による拒否を記録する。
func (c *Collector) RecordRateLimited(limitType string) {
	c.rateLimited.WithLabelValues(limitType).Inc()
}

// RecordDeletionRequestsPurged は削除した削除リクエスト記録の件数を記録する。
func (c *Collector) RecordDeletionRequestsPurged(count int64) {
	c.purged.Add(float64(count))
}

// InstrumentHandler はレスポンスのステータスコードとメソッドを記録するミドルウェアを返す。
func (c *Collector) InstrumentHandler(next http.Handler) http.Handler {
	return promhttp.InstrumentHandlerCounter(c.httpRequests, next)
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// NopCollector は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type NopCollector struct{}

func (NopCollector) RecordDeauthorization(string) {}
func (NopCollector) RecordSignedRequestFailure(string) {}
func (NopCollector) RecordPagesFetchSuccess(int) {}
func (NopCollector) RecordPagesFetchFailure(string) {}
func (NopCollector) RecordPagesFetchLatency(time.Duration) {}
func (NopCollector) RecordRateLimited(string) {}
func (NopCollector) RecordDeletionRequestsPurged(int64) {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)
