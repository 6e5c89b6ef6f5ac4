package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Stream dispatcher

	BatchesProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "confirmation",
		Name:      "stream_batches_total",
		Help:      "Change-feed batches processed, by outcome.",
	}, []string{"outcome"})

	EntriesAcked = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "confirmation",
		Name:      "stream_entries_acked_total",
		Help:      "Change-feed entries acknowledged, by route.",
	}, []string{"route"})

	BatchAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "confirmation",
		Name:      "stream_batch_attempts_total",
		Help:      "Processing attempts over whole batches and bisected halves.",
	})

	Bisections = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "confirmation",
		Name:      "stream_bisections_total",
		Help:      "Times a failing batch was split in two.",
	})

	PoisonEntries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "confirmation",
		Name:      "stream_poison_entries_total",
		Help:      "Entries isolated after exhausting the retry budget.",
	})

	BatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "confirmation",
		Name:      "stream_batch_duration_seconds",
		Help:      "Wall time to settle one change-feed batch.",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	})

	// Side effects

	EmailsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "confirmation",
		Name:      "emails_total",
		Help:      "Confirmation emails, by outcome.",
	}, []string{"outcome"})

	CallbacksFired = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "confirmation",
		Name:      "callbacks_total",
		Help:      "Callback invocations, by outcome.",
	}, []string{"outcome"})

	LinkClicks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "confirmation",
		Name:      "link_clicks_total",
		Help:      "Confirmation link clicks, by outcome.",
	}, []string{"outcome"})

	RequestsExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "confirmation",
		Name:      "requests_expired_total",
		Help:      "Requests moved to Expired by the sweeper.",
	})

	// HTTP

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "confirmation",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})
)

func Register() {
	prometheus.MustRegister(
		BatchesProcessed,
		EntriesAcked,
		BatchAttempts,
		Bisections,
		PoisonEntries,
		BatchDuration,
		EmailsSent,
		CallbacksFired,
		LinkClicks,
		RequestsExpired,
		HTTPRequestDuration,
	)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return &http.Server{Addr: addr, Handler: mux}
}
