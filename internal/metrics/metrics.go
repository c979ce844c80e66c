package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/webtm/webtm-go/internal/models"
)

var (
	// Crawl metrics
	CrawlPagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webtm_crawl_pages_total",
			Help: "Total number of pages fetched from the upstream forum API",
		},
		[]string{"fname"},
	)

	ContentsDiscoveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webtm_contents_discovered_total",
			Help: "Total number of contents classified during crawling by type and status",
		},
		[]string{"fname", "type", "status"},
	)

	UpstreamErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webtm_upstream_errors_total",
			Help: "Total number of failed upstream requests by kind",
		},
		[]string{"kind"}, // rate_limit, api, network
	)

	// Dispatch and rule metrics
	DispatchSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "webtm_dispatch_seconds",
			Help:    "Time spent dispatching one content to all user workers",
			Buckets: []float64{.005, .01, .05, .1, .5, 1, 5, 10}, // fast path to slow rule lookups
		},
	)

	RulesMatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webtm_rules_matched_total",
			Help: "Total number of rule matches by user and whitelist flag",
		},
		[]string{"user", "whitelist"},
	)

	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webtm_operations_total",
			Help: "Total number of moderation operations executed by type and result",
		},
		[]string{"type", "result"}, // result: ok, error
	)

	ConfirmsPending = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "webtm_confirms_pending",
			Help: "Number of operations waiting for manual confirmation per user",
		},
		[]string{"user"},
	)
)

// RecordCrawlPage counts one fetched page.
func RecordCrawlPage(fname string) {
	CrawlPagesTotal.WithLabelValues(fname).Inc()
}

// RecordContent counts one classified content item.
func RecordContent(fname string, contentType models.ContentType, status models.UpdateStatus) {
	ContentsDiscoveredTotal.WithLabelValues(fname, string(contentType), status.String()).Inc()
}

// RecordUpstreamError counts one failed upstream request.
func RecordUpstreamError(kind string) {
	UpstreamErrorsTotal.WithLabelValues(kind).Inc()
}

// RecordRuleMatch counts one rule hit.
func RecordRuleMatch(user string, whitelist bool) {
	RulesMatchedTotal.WithLabelValues(user, strconv.FormatBool(whitelist)).Inc()
}

// RecordOperation counts one executed moderation operation.
func RecordOperation(opType string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	OperationsTotal.WithLabelValues(opType, result).Inc()
}

// SetConfirmsPending tracks a user's pending-confirmation count.
func SetConfirmsPending(user string, n int) {
	ConfirmsPending.WithLabelValues(user).Set(float64(n))
}

// DeleteUserMetrics drops per-user series when a user is removed.
func DeleteUserMetrics(user string) {
	ConfirmsPending.DeleteLabelValues(user)
	RulesMatchedTotal.DeletePartialMatch(prometheus.Labels{"user": user})
}
