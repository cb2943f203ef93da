// Package metrics declares the Prometheus collectors of the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RateLimitDecisions counts limiter outcomes per dimension
	RateLimitDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classifyd_ratelimit_decisions_total",
		Help: "Rate limiter decisions by dimension and outcome",
	}, []string{"dimension", "outcome"})

	// Admissions counts classification submissions by outcome
	Admissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classifyd_admissions_total",
		Help: "Classification submissions by admission outcome",
	}, []string{"outcome"})

	// TasksFinished counts terminal transitions won by workers or the reconciler
	TasksFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classifyd_tasks_finished_total",
		Help: "Tasks moved to a terminal state",
	}, []string{"state", "source"})

	// ClassifyDuration tracks classifier call latency
	ClassifyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "classifyd_classify_duration_seconds",
		Help:    "Histogram of classifier call duration",
		Buckets: prometheus.DefBuckets,
	})

	// ActiveWorkers tracks consumers currently processing a task
	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "classifyd_active_workers",
		Help: "Number of workers currently processing a task",
	})

	// HTTPRequests counts API requests by route pattern and status
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classifyd_http_requests_total",
		Help: "HTTP requests by route and status code",
	}, []string{"route", "code"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "classifyd_http_request_duration_seconds",
		Help:    "HTTP request latency by route",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)

// Outcome renders a boolean decision as a label value.
func Outcome(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "denied"
}
