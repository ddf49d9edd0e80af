// Package observability bundles Prometheus collectors for the agent loop.
// All record methods are nil-receiver safe so instrumentation can be left
// unwired in embedders that do not scrape metrics.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors recorded by sessions and adapters.
type Metrics struct {
	registry      *prometheus.Registry
	Turns         *prometheus.CounterVec
	TurnDuration  *prometheus.HistogramVec
	Rounds        prometheus.Counter
	ActiveTurns   prometheus.Gauge
	ToolCalls     *prometheus.CounterVec
	ToolErrors    *prometheus.CounterVec
	Tokens        *prometheus.CounterVec
	StreamErrors  *prometheus.CounterVec
	InputRequests prometheus.Counter
}

// NewMetrics constructs a registry with all agent collectors registered.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	turns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "loom_turns_total",
		Help: "Completed prompt turns by outcome",
	}, []string{"outcome"})

	turnDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "loom_turn_duration_seconds",
		Help:    "Wall-clock duration of prompt turns",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	rounds := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "loom_rounds_total",
		Help: "Model round trips across all turns",
	})

	activeTurns := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "loom_active_turns",
		Help: "Turns currently in flight",
	})

	toolCalls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "loom_tool_calls_total",
		Help: "Tool executions by tool name",
	}, []string{"tool"})

	toolErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "loom_tool_errors_total",
		Help: "Tool executions that returned an error result",
	}, []string{"tool"})

	tokens := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "loom_tokens_total",
		Help: "Token usage reported by providers",
	}, []string{"direction"})

	streamErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "loom_stream_errors_total",
		Help: "Transport and protocol stream failures by provider",
	}, []string{"provider"})

	inputRequests := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "loom_user_input_requests_total",
		Help: "Extension-issued user input requests",
	})

	reg.MustRegister(turns, turnDuration, rounds, activeTurns, toolCalls, toolErrors, tokens, streamErrors, inputRequests)

	return &Metrics{
		registry:      reg,
		Turns:         turns,
		TurnDuration:  turnDuration,
		Rounds:        rounds,
		ActiveTurns:   activeTurns,
		ToolCalls:     toolCalls,
		ToolErrors:    toolErrors,
		Tokens:        tokens,
		StreamErrors:  streamErrors,
		InputRequests: inputRequests,
	}
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns an HTTP handler serving the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// TurnStarted marks a turn in flight.
func (m *Metrics) TurnStarted() {
	if m == nil {
		return
	}
	m.ActiveTurns.Inc()
}

// TurnFinished records one completed turn. Outcome is one of "success",
// "error", or "cancelled".
func (m *Metrics) TurnFinished(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.ActiveTurns.Dec()
	m.Turns.WithLabelValues(outcome).Inc()
	m.TurnDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RoundCompleted records one model round trip.
func (m *Metrics) RoundCompleted() {
	if m == nil {
		return
	}
	m.Rounds.Inc()
}

// ToolExecuted records one tool execution and whether it errored.
func (m *Metrics) ToolExecuted(tool string, isError bool) {
	if m == nil {
		return
	}
	if tool == "" {
		tool = "unknown"
	}
	m.ToolCalls.WithLabelValues(tool).Inc()
	if isError {
		m.ToolErrors.WithLabelValues(tool).Inc()
	}
}

// AddUsage records provider-reported token usage.
func (m *Metrics) AddUsage(inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	m.Tokens.WithLabelValues("input").Add(float64(inputTokens))
	m.Tokens.WithLabelValues("output").Add(float64(outputTokens))
}

// StreamFailed records a transport or protocol stream failure.
func (m *Metrics) StreamFailed(provider string) {
	if m == nil {
		return
	}
	if provider == "" {
		provider = "unknown"
	}
	m.StreamErrors.WithLabelValues(provider).Inc()
}

// InputRequested records one extension-issued user input request.
func (m *Metrics) InputRequested() {
	if m == nil {
		return
	}
	m.InputRequests.Inc()
}
