// Package metrics holds the Prometheus collectors of the valuation engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "valuation",
			Name:      "jobs_total",
			Help:      "Valuation jobs that reached a terminal state.",
		},
		[]string{"status"},
	)
	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "valuation",
			Name:      "job_duration_seconds",
			Help:      "Valuation job duration in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160, 320},
		},
		[]string{"status"},
	)
	providerQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "valuation",
			Name:      "provider_queries_total",
			Help:      "Search provider queries issued, by result.",
		},
		[]string{"result"},
	)
	marketUpserts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "valuation",
			Name:      "market_upserts_total",
			Help:      "Market data upserts, by result.",
		},
		[]string{"result"},
	)
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "valuation",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"method", "route", "code"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "valuation",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// Result labels
const (
	ResultOK        = "ok"
	ResultError     = "error"
	ResultCached    = "cached"
	ResultInserted  = "inserted"
	ResultDuplicate = "duplicate"
)

func init() {
	prometheus.MustRegister(jobsTotal, jobDuration, providerQueries, marketUpserts, httpRequestsTotal, httpRequestDuration)
}

// RecordJob counts a finished job and observes its duration
func RecordJob(status string, started time.Time) {
	jobsTotal.WithLabelValues(status).Inc()
	jobDuration.WithLabelValues(status).Observe(time.Since(started).Seconds())
}

// RecordProviderQuery counts one provider query
func RecordProviderQuery(err error) {
	if err != nil {
		providerQueries.WithLabelValues(ResultError).Inc()
		return
	}
	providerQueries.WithLabelValues(ResultOK).Inc()
}

// RecordUpsert counts one market upsert outcome
func RecordUpsert(result string) {
	marketUpserts.WithLabelValues(result).Inc()
}

// RecordHTTPRequest counts a served request. route should be a path template
// so ids do not explode label cardinality.
func RecordHTTPRequest(method, route, code string, started time.Time) {
	httpRequestsTotal.WithLabelValues(method, route, code).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(time.Since(started).Seconds())
}
