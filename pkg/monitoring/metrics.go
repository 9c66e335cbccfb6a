package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	syncItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_items_total",
		Help: "Sync items processed, by model, operation and outcome",
	}, []string{"model", "operation", "outcome"})

	syncRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_requests_total",
		Help: "Sync HTTP requests, by endpoint and status class",
	}, []string{"endpoint", "status"})

	rateLimitRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rate_limit_rejections_total",
		Help: "Requests rejected by the sliding-window rate limiter",
	}, []string{"endpoint"})

	pullRowsReturnedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pull_rows_returned_total",
		Help: "Rows served by delta pull endpoints, by model",
	}, []string{"model"})
)

// RecordSyncItem counts one processed sync item
func RecordSyncItem(model, operation, outcome string) {
	syncItemsTotal.WithLabelValues(model, operation, outcome).Inc()
}

// RecordSyncRequest counts one sync HTTP request
func RecordSyncRequest(endpoint, status string) {
	syncRequestsTotal.WithLabelValues(endpoint, status).Inc()
}

// RecordRateLimitRejection counts one 429 rejection
func RecordRateLimitRejection(endpoint string) {
	rateLimitRejectionsTotal.WithLabelValues(endpoint).Inc()
}

// RecordPullRows counts rows served by a delta pull page
func RecordPullRows(model string, n int) {
	pullRowsReturnedTotal.WithLabelValues(model).Add(float64(n))
}

// Handler returns the HTTP handler for the /metrics endpoint
func Handler() http.Handler {
	return promhttp.Handler()
}
