// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 認証・トークン処理の結果ラベル。
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeInvalid  = "invalid"
	OutcomeExpired  = "expired"
	OutcomeMismatch = "mismatched"
	OutcomeDropped  = "dropped"
)

// Recorder はメトリクス記録のインターフェース。
// サービス層、メール送信ワーカー、HTTPミドルウェアから利用する。
type Recorder interface {
	RecordLogin(outcome string)
	RecordRegistration()
	RecordToken(purpose, outcome string)
	RecordMail(template, outcome string)
	RecordMailLatency(duration time.Duration)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins        *prometheus.CounterVec
	registrations prometheus.Counter
	tokens        *prometheus.CounterVec
	mail          *prometheus.CounterVec
	mailLatency   prometheus.Histogram
	httpStatus    *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pft_auth_logins_total",
			Help: "結果別のログイン試行数",
		}, []string{"outcome"}),
		registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pft_auth_registrations_total",
			Help: "ユーザー登録の合計数",
		}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pft_auth_tokens_total",
			Help: "用途・結果別のトークン検証数",
		}, []string{"purpose", "outcome"}),
		mail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pft_mail_messages_total",
			Help: "テンプレート・結果別のメール送信数",
		}, []string{"template", "outcome"}),
		mailLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pft_mail_send_latency_seconds",
			Help:    "メール送信のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pft_http_requests_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.logins,
		c.registrations,
		c.tokens,
		c.mail,
		c.mailLatency,
		c.httpStatus,
	)

	return c
}

// RecordLogin はログイン試行の結果を記録する。
func (c *Collector) RecordLogin(outcome string) {
	c.logins.WithLabelValues(outcome).Inc()
}

// RecordRegistration はユーザー登録を記録する。
func (c *Collector) RecordRegistration() {
	c.registrations.Inc()
}

// RecordToken はトークン検証の結果を記録する。
func (c *Collector) RecordToken(purpose, outcome string) {
	c.tokens.WithLabelValues(purpose, outcome).Inc()
}

// RecordMail はメール送信の結果を記録する。
func (c *Collector) RecordMail(template, outcome string) {
	c.mail.WithLabelValues(template, outcome).Inc()
}

// RecordMailLatency はメール送信のレイテンシを記録する。
func (c *Collector) RecordMailLatency(duration time.Duration) {
	c.mailLatency.Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

var _ Recorder = (*Collector)(nil)

// Nop は何も記録しないRecorder。
type Nop struct{}

func (Nop) RecordLogin(string) {}
func (Nop) RecordRegistration() {}
func (Nop) RecordToken(string, string) {}
func (Nop) RecordMail(string, string) {}
func (Nop) RecordMailLatency(time.Duration) {}
func (Nop) RecordHTTPStatus(int) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
