package middleware

import (
	"net/http"
	"time"
)

// HTTPCollector はHTTPリクエストのメトリクスを記録するインターフェース。
// metrics.Collectorの部分集合として定義する。
type HTTPCollector interface {
	RecordHTTPStatus(statusCode int)
	RecordHTTPLatency(duration time.Duration)
}

// NewMetricsMiddleware はHTTPステータスコードとレイテンシを記録するミドルウェアを返す。
// collectorがnilの場合はパススルーとして動作する。
func NewMetricsMiddleware(collector HTTPCollector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if collector == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(recorder, r)

			collector.RecordHTTPStatus(recorder.statusCode)
			collector.RecordHTTPLatency(time.Since(start))
		})
	}
}
