// Package metrics exposes Prometheus instrumentation for the pipeline and the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Query outcomes, one per terminal pipeline path.
const (
	OutcomeAnswered       = "answered"
	OutcomeEmptyRetrieval = "empty_retrieval"
	OutcomeTransport      = "transport_failure"
	OutcomeMalformed      = "malformed_output"
)

// Metrics holds every collector the application records.
type Metrics struct {
	// QueriesTotal counts finished queries.
	// Labels: prompt_type, confidence, outcome
	QueriesTotal *prometheus.CounterVec

	// LLMRequestDuration measures model call latency in seconds.
	// Labels: model
	LLMRequestDuration *prometheus.HistogramVec

	// RetrievedChunks observes how many chunks each query retrieved.
	RetrievedChunks prometheus.Histogram

	// IngestedChunks counts chunks written to the vector index.
	IngestedChunks prometheus.Counter

	// HTTPRequestCounter counts HTTP requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec

	// HTTPRequestDuration measures HTTP request latency.
	// Labels: method, path
	HTTPRequestDuration *prometheus.HistogramVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		QueriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "policyrag_queries_total",
			Help: "Queries answered, by prompt type, confidence and outcome.",
		}, []string{"prompt_type", "confidence", "outcome"}),

		LLMRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "policyrag_llm_request_duration_seconds",
			Help:    "Latency of model calls.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"model"}),

		RetrievedChunks: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "policyrag_retrieved_chunks",
			Help:    "Chunks retrieved per query.",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 20},
		}),

		IngestedChunks: factory.NewCounter(prometheus.CounterOpts{
			Name: "policyrag_ingested_chunks_total",
			Help: "Chunks written to the vector index.",
		}),

		HTTPRequestCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "policyrag_http_requests_total",
			Help: "HTTP requests, by method, path and status code.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "policyrag_http_request_duration_seconds",
			Help:    "Latency of HTTP requests.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"method", "path"}),
	}
}

// RecordQuery counts one finished query. Safe on a nil receiver.
func (m *Metrics) RecordQuery(promptType, confidence, outcome string, retrieved int) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(promptType, confidence, outcome).Inc()
	m.RetrievedChunks.Observe(float64(retrieved))
}

// ObserveLLM records the duration of one model call. Safe on a nil receiver.
func (m *Metrics) ObserveLLM(model string, d time.Duration) {
	if m == nil {
		return
	}
	m.LLMRequestDuration.WithLabelValues(model).Observe(d.Seconds())
}

// AddIngested counts chunks written to the index. Safe on a nil receiver.
func (m *Metrics) AddIngested(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.IngestedChunks.Add(float64(n))
}

// Middleware records request counts and latency. path should be the route pattern,
// not the raw URL, to keep label cardinality bounded.
func (m *Metrics) Middleware(path string, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.HTTPRequestCounter.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
