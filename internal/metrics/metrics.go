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
// サービス層・ワーカーから利用する。
type MetricsCollector interface {
	// RecordMembershipOperation はメンバーシップ操作（add / remove / update_role）の完了を記録する。
	RecordMembershipOperation(operation string, success bool)
	// RecordMembershipRepair は片側欠落の修復の発生を記録する。
	// 修復は過去の部分障害の残骸の自己治癒を意味するが、
	// 継続的に増える場合は並行書き込みの競合を疑うこと。
	RecordMembershipRepair(operation string)
	// RecordInvitationTransition は招待の状態遷移（accepted / declined / expired）を記録する。
	RecordInvitationTransition(status string)
	// RecordActivityLogFailure は監査ログ書き込みの失敗を記録する。
	// ログ書き込み失敗は呼び出し元に返されないため、観測はこのカウンタで行う。
	RecordActivityLogFailure()
	// RecordProfileSyncProcessed はプロフィール伝播タスクの処理完了を記録する。
	RecordProfileSyncProcessed(success bool)
	// SetProfileSyncPending は未処理のプロフィール伝播タスク数を記録する。
	SetProfileSyncPending(count int)
	// RecordHTTPStatus はHTTPステータスコードを記録する。
	RecordHTTPStatus(statusCode int)
	// RecordHTTPLatency はリクエスト処理のレイテンシを記録する。
	RecordHTTPLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	membershipOps        *prometheus.CounterVec
	membershipRepairs    *prometheus.CounterVec
	invitationTransition *prometheus.CounterVec
	activityLogFailures  prometheus.Counter
	profileSyncProcessed *prometheus.CounterVec
	profileSyncPending   prometheus.Gauge
	httpStatus           *prometheus.CounterVec
	httpLatency          prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		membershipOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "teamman_membership_operations_total",
			Help: "メンバーシップ操作の合計数（操作種別・結果別）",
		}, []string{"operation", "result"}),
		membershipRepairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "teamman_membership_repairs_total",
			Help: "埋め込みメンバーシップの片側欠落修復の合計数",
		}, []string{"operation"}),
		invitationTransition: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "teamman_invitation_transitions_total",
			Help: "招待の状態遷移の合計数（遷移先別）",
		}, []string{"status"}),
		activityLogFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "teamman_activity_log_failures_total",
			Help: "握りつぶされた監査ログ書き込み失敗の合計数",
		}),
		profileSyncProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "teamman_profile_sync_processed_total",
			Help: "処理されたプロフィール伝播タスクの合計数（結果別）",
		}, []string{"result"}),
		profileSyncPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "teamman_profile_sync_pending",
			Help: "未処理のプロフィール伝播タスク数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "teamman_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		httpLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "teamman_http_latency_seconds",
			Help:    "HTTPリクエスト処理のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.membershipOps,
		c.membershipRepairs,
		c.invitationTransition,
		c.activityLogFailures,
		c.profileSyncProcessed,
		c.profileSyncPending,
		c.httpStatus,
		c.httpLatency,
	)

	return c
}

// RecordMembershipOperation はメンバーシップ操作の完了を記録する。
func (c *Collector) RecordMembershipOperation(operation string, success bool) {
	c.membershipOps.WithLabelValues(operation, resultLabel(success)).Inc()
}

// RecordMembershipRepair は片側欠落修復の発生を記録する。
func (c *Collector) RecordMembershipRepair(operation string) {
	c.membershipRepairs.WithLabelValues(operation).Inc()
}

// RecordInvitationTransition は招待の状態遷移を記録する。
func (c *Collector) RecordInvitationTransition(status string) {
	c.invitationTransition.WithLabelValues(status).Inc()
}

// RecordActivityLogFailure は監査ログ書き込み失敗を記録する。
func (c *Collector) RecordActivityLogFailure() {
	c.activityLogFailures.Inc()
}

// RecordProfileSyncProcessed はプロフィール伝播タスクの処理完了を記録する。
func (c *Collector) RecordProfileSyncProcessed(success bool) {
	c.profileSyncProcessed.WithLabelValues(resultLabel(success)).Inc()
}

// SetProfileSyncPending は未処理のプロフィール伝播タスク数を記録する。
func (c *Collector) SetProfileSyncPending(count int) {
	c.profileSyncPending.Set(float64(count))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordHTTPLatency はリクエスト処理のレイテンシを記録する。
func (c *Collector) RecordHTTPLatency(duration time.Duration) {
	c.httpLatency.Observe(duration.Seconds())
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
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
