// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequests counts served requests by route pattern and status code.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "thirdshelf_http_requests_total",
		Help: "HTTP requests by route and status",
	}, []string{"route", "status"})

	// HTTPDuration tracks handler latency by route pattern.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "thirdshelf_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"route"})

	// AICalls counts assistant calls by feature and outcome.
	AICalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "thirdshelf_ai_calls_total",
		Help: "AI completions by feature and outcome",
	}, []string{"feature", "outcome"})

	// SearchCalls counts book lookups by outcome.
	SearchCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "thirdshelf_booksearch_calls_total",
		Help: "Book lookups by outcome",
	}, []string{"outcome"})

	// RealtimeFeeds is the number of open per-owner change feeds.
	RealtimeFeeds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "thirdshelf_realtime_feeds",
		Help: "Open change feeds by collection",
	}, []string{"collection"})

	// AutosaveCommits counts debounced draft commits by field and outcome.
	AutosaveCommits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "thirdshelf_autosave_commits_total",
		Help: "Debounced draft commits by field and outcome",
	}, []string{"field", "outcome"})
)

// Outcome labels an operation result.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
