package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findFamily はレジストリから指定名のメトリクスファミリーを取得する。
func findFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("%s metric not found", name)
	return nil
}

// labeledCounters はラベル値ごとのカウンタ値を返す（ラベルが1つのメトリクス用）。
func labeledCounters(mf *dto.MetricFamily) map[string]float64 {
	out := make(map[string]float64)
	for _, m := range mf.GetMetric() {
		out[m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
	}
	return out
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	if c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordDeauthorization_CountsByOutcome は連携解除の結果がラベル別に集計されることを検証する。
func TestRecordDeauthorization_CountsByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordDeauthorization(OutcomeAccepted)
	c.RecordDeauthorization(OutcomeAccepted)
	c.RecordDeauthorization(OutcomeRejected)

	got := labeledCounters(findFamily(t, reg, "pagedesk_deauthorizations_total"))
	if got[OutcomeAccepted] != 2 {
		t.Errorf("deauthorizations_total{outcome=accepted} = %v, want 2", got[OutcomeAccepted])
	}
	if got[OutcomeRejected] != 1 {
		t.Errorf("deauthorizations_total{outcome=rejected} = %v, want 1", got[OutcomeRejected])
	}
}

// TestRecordSignedRequestFailure_CountsByCode は検証失敗がエラーコード別に集計されることを検証する。
func TestRecordSignedRequestFailure_CountsByCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSignedRequestFailure("SIGNATURE_MISMATCH")
	c.RecordSignedRequestFailure("SIGNATURE_MISMATCH")
	c.RecordSignedRequestFailure("DECODE_ERROR")

	got := labeledCounters(findFamily(t, reg, "pagedesk_signed_request_failures_total"))
	if len(got) != 2 {
		t.Fatalf("expected 2 label combinations, got %d", len(got))
	}
	if got["SIGNATURE_MISMATCH"] != 2 || got["DECODE_ERROR"] != 1 {
		t.Errorf("signed_request_failures_total = %v", got)
	}
}

// TestRecordPagesFetchSuccess_ObservesPageCount は取得成功と返却件数が記録されることを検証する。
func TestRecordPagesFetchSuccess_ObservesPageCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordPagesFetchSuccess(3)
	c.RecordPagesFetchSuccess(0)

	if val := findFamily(t, reg, "pagedesk_pages_fetch_success_total").GetMetric()[0].GetCounter().GetValue(); val != 2 {
		t.Errorf("pages_fetch_success_total = %v, want 2", val)
	}

	h := findFamily(t, reg, "pagedesk_pages_returned").GetMetric()[0].GetHistogram()
	if h.GetSampleCount() != 2 {
		t.Errorf("sample_count = %d, want 2", h.GetSampleCount())
	}
	if h.GetSampleSum() != 3 {
		t.Errorf("sample_sum = %v, want 3", h.GetSampleSum())
	}
}

// TestRecordPagesFetchFailure_CountsByReason は取得失敗が理由別に集計されることを検証する。
func TestRecordPagesFetchFailure_CountsByReason(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordPagesFetchFailure("upstream")
	c.RecordPagesFetchFailure("transport")
	c.RecordPagesFetchFailure("upstream")

	got := labeledCounters(findFamily(t, reg, "pagedesk_pages_fetch_fail_total"))
	if got["upstream"] != 2 || got["transport"] != 1 {
		t.Errorf("pages_fetch_fail_total = %v", got)
	}
}

// TestRecordPagesFetchLatency_ObservesHistogram はレイテンシのヒストグラムに値が記録されることを検証する。
func TestRecordPagesFetchLatency_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordPagesFetchLatency(100 * time.Millisecond)
	c.RecordPagesFetchLatency(2 * time.Second)

	h := findFamily(t, reg, "pagedesk_pages_fetch_latency_seconds").GetMetric()[0].GetHistogram()
	if h.GetSampleCount() != 2 {
		t.Errorf("sample_count = %d, want 2", h.GetSampleCount())
	}
	// 合計は0.1 + 2.0 = 2.1秒
	if h.GetSampleSum() < 2.0 || h.GetSampleSum() > 2.2 {
		t.Errorf("sample_sum = %v, want ~2.1", h.GetSampleSum())
	}
}

func TestRecordRateLimited_CountsByType(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRateLimited("webhook")

	got := labeledCounters(findFamily(t, reg, "pagedesk_rate_limited_total"))
	if got["webhook"] != 1 {
		t.Errorf("rate_limited_total{limit_type=webhook} = %v, want 1", got["webhook"])
	}
}

func TestRecordDeletionRequestsPurged_AddsCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordDeletionRequestsPurged(10)
	c.RecordDeletionRequestsPurged(5)

	if val := findFamily(t, reg, "pagedesk_deletion_requests_purged_total").GetMetric()[0].GetCounter().GetValue(); val != 15 {
		t.Errorf("deletion_requests_purged_total = %v, want 15", val)
	}
}

// TestInstrumentHandler_CountsByCodeAndMethod はレスポンスがステータスコードとメソッド別に集計されることを検証する。
func TestInstrumentHandler_CountsByCodeAndMethod(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	handler := c.InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/ok", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/ok", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/bad", nil))

	mf := findFamily(t, reg, "pagedesk_http_requests_total")
	counts := make(map[string]float64)
	for _, m := range mf.GetMetric() {
		var code, method string
		for _, l := range m.GetLabel() {
			switch l.GetName() {
			case "code":
				code = l.GetValue()
			case "method":
				method = l.GetValue()
			}
		}
		counts[method+" "+code] = m.GetCounter().GetValue()
	}
	if counts["post 200"] != 2 {
		t.Errorf("http_requests_total{post,200} = %v, want 2 (all: %v)", counts["post 200"], counts)
	}
	if counts["post 400"] != 1 {
		t.Errorf("http_requests_total{post,400} = %v, want 1 (all: %v)", counts["post 400"], counts)
	}
}

// TestMetricsHandler_ReturnsPrometheusFormat は/metricsエンドポイントがPrometheus形式で返すことを検証する。
func TestMetricsHandler_ReturnsPrometheusFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	// いくつかのメトリクスを記録
	c.RecordDeauthorization(OutcomeAccepted)
	c.RecordSignedRequestFailure("SIGNATURE_MISMATCH")
	c.RecordPagesFetchSuccess(2)
	c.RecordPagesFetchFailure("upstream")
	c.RecordPagesFetchLatency(500 * time.Millisecond)

	handler := Handler(reg)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, _ := io.ReadAll(resp.Body)
	bodyStr := string(body)

	expectedMetrics := []string{
		"pagedesk_deauthorizations_total",
		"pagedesk_signed_request_failures_total",
		"pagedesk_pages_fetch_success_total",
		"pagedesk_pages_fetch_fail_total",
		"pagedesk_pages_fetch_latency_seconds",
		"pagedesk_pages_returned",
	}

	for _, metric := range expectedMetrics {
		if !strings.Contains(bodyStr, metric) {
			t.Errorf("response body does not contain %q", metric)
		}
	}
}

// TestCollector_ImplementsMetricsCollectorInterface はCollectorがMetricsCollectorインターフェースを実装することを検証する。
func TestCollector_ImplementsMetricsCollectorInterface(t *testing.T) {
	reg := prometheus.NewRegistry()
	var _ MetricsCollector = NewCollector(reg)
	var _ MetricsCollector = NopCollector{}
}

// TestMultipleCollectors_IndependentRegistries は異なるレジストリで独立に動作することを検証する。
func TestMultipleCollectors_IndependentRegistries(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()
	c1 := NewCollector(reg1)
	c2 := NewCollector(reg2)

	c1.RecordPagesFetchSuccess(1)
	c2.RecordPagesFetchSuccess(1)
	c2.RecordPagesFetchSuccess(1)

	val1 := findFamily(t, reg1, "pagedesk_pages_fetch_success_total").GetMetric()[0].GetCounter().GetValue()
	val2 := findFamily(t, reg2, "pagedesk_pages_fetch_success_total").GetMetric()[0].GetCounter().GetValue()

	if val1 != 1 {
		t.Errorf("reg1 pages_fetch_success = %v, want 1", val1)
	}
	if val2 != 2 {
		t.Errorf("reg2 pages_fetch_success = %v, want 2", val2)
	}
}
