// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Rewrite の結果ラベル。
const (
	OutcomeRedirect = "redirect"
	OutcomeNoMatch  = "no_match"
	OutcomeError    = "error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// リモートインスタンスクライアントやサービス層、ミドルウェアから利用する。
type MetricsCollector interface {
	// RecordRemoteCall はリモートインスタンスAPI呼び出しを記録する。
	// 通信自体が失敗した場合はstatusCodeに0を渡す。
	RecordRemoteCall(endpoint string, statusCode int, duration time.Duration)
	RecordInstanceRegistered()
	RecordLogin(success bool)
	RecordRewrite(outcome string)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	remoteCalls        *prometheus.CounterVec
	remoteLatency      *prometheus.HistogramVec
	instanceRegistered prometheus.Counter
	logins             *prometheus.CounterVec
	rewrites           *prometheus.CounterVec
	httpStatus         *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		remoteCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fediurl_remote_calls_total",
			Help: "リモートインスタンスAPI呼び出し数（エンドポイント・ステータス別）",
		}, []string{"endpoint", "status_code"}),
		remoteLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fediurl_remote_call_latency_seconds",
			Help:    "リモートインスタンスAPI呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		instanceRegistered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fediurl_instances_registered_total",
			Help: "新規登録したインスタンス（OAuthアプリ）の合計数",
		}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fediurl_logins_total",
			Help: "OAuthコールバックの結果別件数",
		}, []string{"result"}),
		rewrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fediurl_rewrites_total",
			Help: "URL書き換えの結果別件数",
		}, []string{"outcome"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fediurl_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.remoteCalls,
		c.remoteLatency,
		c.instanceRegistered,
		c.logins,
		c.rewrites,
		c.httpStatus,
	)

	return c
}

// RecordRemoteCall はリモートAPI呼び出しの件数とレイテンシを記録する。
func (c *Collector) RecordRemoteCall(endpoint string, statusCode int, duration time.Duration) {
	status := "error"
	if statusCode > 0 {
		status = strconv.Itoa(statusCode)
	}
	c.remoteCalls.WithLabelValues(endpoint, status).Inc()
	c.remoteLatency.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordInstanceRegistered はインスタンスの新規登録を記録する。
func (c *Collector) RecordInstanceRegistered() {
	c.instanceRegistered.Inc()
}

// RecordLogin はログイン結果を記録する。
func (c *Collector) RecordLogin(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.logins.WithLabelValues(result).Inc()
}

// RecordRewrite はURL書き換えの結果を記録する。
func (c *Collector) RecordRewrite(outcome string) {
	c.rewrites.WithLabelValues(outcome).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// APIとは別ポートで公開する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
