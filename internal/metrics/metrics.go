// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ハンドラーやサービス層から利用する。
type MetricsCollector interface {
	RecordOAuthStart(flow string)
	RecordOAuthCallback(flow string, result string)
	RecordTokenRefresh(result string)
	RecordRateLimitRejection(class string)
	RecordMachineAuthFailure()
	RecordLogout(result string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	oauthStart      *prometheus.CounterVec
	oauthCallback   *prometheus.CounterVec
	tokenRefresh    *prometheus.CounterVec
	rateLimitHit    *prometheus.CounterVec
	machineAuthFail prometheus.Counter
	logout          *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		oauthStart: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meallog_oauth_start_total",
			Help: "OAuthフロー開始の合計数（フロー別）",
		}, []string{"flow"}),
		oauthCallback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meallog_oauth_callback_total",
			Help: "OAuthコールバック処理の合計数（フロー・結果別）",
		}, []string{"flow", "result"}),
		tokenRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meallog_token_refresh_total",
			Help: "トークンリフレッシュの合計数（結果別）",
		}, []string{"result"}),
		rateLimitHit: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meallog_rate_limit_rejection_total",
			Help: "レート制限による拒否の合計数（エンドポイント種別）",
		}, []string{"class"}),
		machineAuthFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meallog_machine_auth_failure_total",
			Help: "マシンAPI認証失敗の合計数",
		}),
		logout: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meallog_logout_total",
			Help: "ログアウト処理の合計数（結果別）",
		}, []string{"result"}),
	}

	reg.MustRegister(
		c.oauthStart,
		c.oauthCallback,
		c.tokenRefresh,
		c.rateLimitHit,
		c.machineAuthFail,
		c.logout,
	)

	return c
}

// RecordOAuthStart はOAuthフロー開始を記録する。flowは"identity"または"provider"。
func (c *Collector) RecordOAuthStart(flow string) {
	c.oauthStart.WithLabelValues(flow).Inc()
}

// RecordOAuthCallback はOAuthコールバックの結果を記録する。
func (c *Collector) RecordOAuthCallback(flow string, result string) {
	c.oauthCallback.WithLabelValues(flow, result).Inc()
}

// RecordTokenRefresh はトークンリフレッシュの結果を記録する。
func (c *Collector) RecordTokenRefresh(result string) {
	c.tokenRefresh.WithLabelValues(result).Inc()
}

// RecordRateLimitRejection はレート制限による拒否を記録する。
func (c *Collector) RecordRateLimitRejection(class string) {
	c.rateLimitHit.WithLabelValues(class).Inc()
}

// RecordMachineAuthFailure はマシンAPI認証失敗を記録する。
func (c *Collector) RecordMachineAuthFailure() {
	c.machineAuthFail.Inc()
}

// RecordLogout はログアウト処理の結果を記録する。
// resultは"ok"または"stale_cookie_cleared"。
func (c *Collector) RecordLogout(result string) {
	c.logout.WithLabelValues(result).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
