package provider

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the adapter's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	requests        *prometheus.CounterVec
	tokens          *prometheus.CounterVec
	malformedChunks prometheus.Counter
	duration        *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on reg when non-nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatbridge_requests_total",
				Help: "Total number of chat completion calls by mode and outcome.",
			},
			[]string{"mode", "outcome"},
		),
		tokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatbridge_tokens_total",
				Help: "Tokens reported by the server, by kind.",
			},
			[]string{"kind"},
		),
		malformedChunks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chatbridge_stream_malformed_chunks_total",
				Help: "Stream chunks that could not be parsed.",
			},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chatbridge_request_duration_seconds",
				Help:    "Duration of chat completion calls, including stream consumption.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"mode"},
		),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.requests, m.tokens, m.malformedChunks, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeRequest(mode, outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(mode, outcome).Inc()
	if !started.IsZero() {
		m.duration.WithLabelValues(mode).Observe(time.Since(started).Seconds())
	}
}

func (m *Metrics) observeTokens(prompt, completion int) {
	if m == nil {
		return
	}
	m.tokens.WithLabelValues("prompt").Add(float64(prompt))
	m.tokens.WithLabelValues("completion").Add(float64(completion))
}

func (m *Metrics) observeMalformedChunk() {
	if m == nil {
		return
	}
	m.malformedChunks.Inc()
}
