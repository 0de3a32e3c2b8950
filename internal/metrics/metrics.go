// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// otp.Recorderを包含し、サービス層とミドルウェアから利用する。
type MetricsCollector interface {
	RecordOTPIssued()
	RecordOTPVerification(result string)
	RecordDeliveryFailure(channel string)
	RecordRegistration()
	RecordSearch()
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	otpIssued        prometheus.Counter
	otpVerifications *prometheus.CounterVec
	deliveryFailures *prometheus.CounterVec
	registrations    prometheus.Counter
	searches         prometheus.Counter
	httpStatus       *prometheus.CounterVec
	requestLatency   prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		otpIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "donorlink_otp_issued_total",
			Help: "発行したワンタイムコードの合計数",
		}),
		otpVerifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "donorlink_otp_verifications_total",
			Help: "照合結果別のワンタイムコード照合数",
		}, []string{"result"}),
		deliveryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "donorlink_otp_delivery_failures_total",
			Help: "送信チャネル別のコード送信失敗数",
		}, []string{"channel"}),
		registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "donorlink_registrations_total",
			Help: "完了した献血者登録の合計数",
		}),
		searches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "donorlink_searches_total",
			Help: "完了した献血者検索の合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "donorlink_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "donorlink_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.otpIssued,
		c.otpVerifications,
		c.deliveryFailures,
		c.registrations,
		c.searches,
		c.httpStatus,
		c.requestLatency,
	)

	return c
}

// RecordOTPIssued はコード発行を記録する。
func (c *Collector) RecordOTPIssued() {
	c.otpIssued.Inc()
}

// RecordOTPVerification は照合結果を記録する。
func (c *Collector) RecordOTPVerification(result string) {
	c.otpVerifications.WithLabelValues(result).Inc()
}

// RecordDeliveryFailure はコード送信失敗を記録する。
func (c *Collector) RecordDeliveryFailure(channel string) {
	c.deliveryFailures.WithLabelValues(channel).Inc()
}

// RecordRegistration は登録完了を記録する。
func (c *Collector) RecordRegistration() {
	c.registrations.Inc()
}

// RecordSearch は検索完了を記録する。
func (c *Collector) RecordSearch() {
	c.searches.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエスト処理時間を記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// Nop は何も記録しないMetricsCollector。テストやCLIサブコマンドで使用する。
type Nop struct{}

func (Nop) RecordOTPIssued()                   {}
func (Nop) RecordOTPVerification(string)       {}
func (Nop) RecordDeliveryFailure(string)       {}
func (Nop) RecordRegistration()                {}
func (Nop) RecordSearch()                      {}
func (Nop) RecordHTTPStatus(int)               {}
func (Nop) RecordRequestLatency(time.Duration) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
