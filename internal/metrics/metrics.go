package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	CapabilitySearch     = "search"
	CapabilityCompletion = "completion"
	CapabilityCatalog    = "catalog"

	OutcomeOK    = "ok"
	OutcomeError = "error"
)

var (
	once sync.Once

	searchLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ragchat_search_latency_ms",
		Help:    "Latency of search capability calls in milliseconds",
		Buckets: []float64{25, 50, 100, 200, 300, 500, 800, 1200, 2000, 5000},
	})

	searchResults = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ragchat_search_results",
		Help:    "Number of passages returned per search",
		Buckets: []float64{0, 1, 2, 3, 5, 10, 20},
	})

	completionLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ragchat_completion_latency_ms",
		Help:    "Latency of completion calls in milliseconds",
		Buckets: []float64{100, 250, 500, 1000, 2000, 4000, 8000, 15000, 30000},
	}, []string{"purpose"})

	calls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ragchat_calls_total",
		Help: "Remote capability calls by outcome",
	}, []string{"capability", "outcome"})
)

func ensureRegistered() {
	once.Do(func() {
		prometheus.MustRegister(searchLatency, searchResults, completionLatency, calls)
	})
}

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeOK
}

// ObserveSearch records latency, result size and outcome of one search call.
func ObserveSearch(start time.Time, results int, err error) {
	ensureRegistered()
	searchLatency.Observe(float64(time.Since(start).Milliseconds()))
	if err == nil {
		searchResults.Observe(float64(results))
	}
	calls.WithLabelValues(CapabilitySearch, outcome(err)).Inc()
}

// ObserveCompletion records latency and outcome of one completion call.
// purpose is "rewrite" or "answer".
func ObserveCompletion(purpose string, start time.Time, err error) {
	ensureRegistered()
	completionLatency.WithLabelValues(purpose).Observe(float64(time.Since(start).Milliseconds()))
	calls.WithLabelValues(CapabilityCompletion, outcome(err)).Inc()
}

// ObserveCatalog records the outcome of one document catalog call.
func ObserveCatalog(err error) {
	ensureRegistered()
	calls.WithLabelValues(CapabilityCatalog, outcome(err)).Inc()
}

// Handler exposes the default registry.
func Handler() http.Handler {
	ensureRegistered()
	return promhttp.Handler()
}
