package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the translator.
type Metrics struct {
	registry *prometheus.Registry

	// Turn metrics
	TurnsTotal   *prometheus.CounterVec
	TurnDuration *prometheus.HistogramVec

	// Token metrics
	TokensTotal *prometheus.CounterVec

	// Cost metrics
	CostUSDTotal *prometheus.CounterVec

	// Output policy metrics
	PolicyViolationsTotal *prometheus.CounterVec

	// Session metrics
	SessionsActive  prometheus.Gauge
	SessionsTotal   *prometheus.CounterVec
	SessionDuration *prometheus.HistogramVec

	// Audio metrics
	AudioBytesTotal *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all Prometheus metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "translator"
	}

	registry := prometheus.NewRegistry()

	turnsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of completed conversation turns",
		},
		[]string{"provider", "model", "forced"},
	)

	turnDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Turn duration from commit to audio done in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "model"},
	)

	tokensTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Total tokens processed",
		},
		[]string{"provider", "model", "direction"},
	)

	costUSDTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cost_usd_total",
			Help:      "Total cost in USD",
		},
		[]string{"provider", "model"},
	)

	policyViolationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_violations_total",
			Help:      "Total replies caught by the output policy",
		},
		[]string{"reason"},
	)

	sessionsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of active translation sessions",
		},
	)

	sessionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of translation sessions",
		},
		[]string{"status"},
	)

	sessionDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Session duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"provider", "model"},
	)

	audioBytesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "Total audio bytes processed",
		},
		[]string{"direction"},
	)

	// Register all metrics
	registry.MustRegister(
		turnsTotal,
		turnDuration,
		tokensTotal,
		costUSDTotal,
		policyViolationsTotal,
		sessionsActive,
		sessionsTotal,
		sessionDuration,
		audioBytesTotal,
	)

	return &Metrics{
		registry:              registry,
		TurnsTotal:            turnsTotal,
		TurnDuration:          turnDuration,
		TokensTotal:           tokensTotal,
		CostUSDTotal:          costUSDTotal,
		PolicyViolationsTotal: policyViolationsTotal,
		SessionsActive:        sessionsActive,
		SessionsTotal:         sessionsTotal,
		SessionDuration:       sessionDuration,
		AudioBytesTotal:       audioBytesTotal,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordTurn records a completed turn.
func (m *Metrics) RecordTurn(provider, model string, forced bool, duration time.Duration) {
	m.TurnsTotal.WithLabelValues(provider, model, strconv.FormatBool(forced)).Inc()
	m.TurnDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
}

// RecordTokens records token usage.
func (m *Metrics) RecordTokens(provider, model string, inputTokens, outputTokens int) {
	if inputTokens > 0 {
		m.TokensTotal.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.TokensTotal.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
	}
}

// RecordCost records turn cost.
func (m *Metrics) RecordCost(provider, model string, costUSD float64) {
	if costUSD > 0 {
		m.CostUSDTotal.WithLabelValues(provider, model).Add(costUSD)
	}
}

// RecordPolicyViolation records a reply caught by the output policy.
func (m *Metrics) RecordPolicyViolation(reason string) {
	m.PolicyViolationsTotal.WithLabelValues(reason).Inc()
}

// RecordSessionStart records a new session starting.
func (m *Metrics) RecordSessionStart() {
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a session ending.
func (m *Metrics) RecordSessionEnd(provider, model, status string, duration time.Duration) {
	m.SessionsActive.Dec()
	m.SessionsTotal.WithLabelValues(status).Inc()
	m.SessionDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
}

// RecordAudioBytes records audio bytes moving through the session.
// Direction is "input" for microphone audio and "output" for
// synthesized audio.
func (m *Metrics) RecordAudioBytes(direction string, bytes int) {
	if bytes > 0 {
		m.AudioBytesTotal.WithLabelValues(direction).Add(float64(bytes))
	}
}
