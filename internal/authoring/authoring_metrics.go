package authoring

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the authoring collaborator.
type Metrics struct {
	TurnsTotal      *prometheus.CounterVec
	TurnDuration    *prometheus.HistogramVec
	TurnTokens      prometheus.Histogram
	TurnToolCalls   prometheus.Histogram
	LLMCallsTotal   *prometheus.CounterVec
	LLMTokensIn     *prometheus.CounterVec
	LLMTokensOut    *prometheus.CounterVec
	LLMDuration     *prometheus.HistogramVec
	ToolCallsTotal  *prometheus.CounterVec
	ToolDuration    *prometheus.HistogramVec
	ToolInputBytes  *prometheus.HistogramVec
	ToolOutputBytes *prometheus.HistogramVec
}

// NewMetrics registers and returns authoring metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auditoria_authoring_turns_total",
			Help: "Total authoring turns by outcome.",
		}, []string{"outcome"}),
		TurnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "auditoria_authoring_turn_duration_seconds",
			Help:    "Duration of authoring turns in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 9), // 0.5s .. ~128s
		}, []string{"outcome"}),
		TurnTokens: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "auditoria_authoring_turn_tokens",
			Help:    "Tokens consumed per authoring turn.",
			Buckets: prometheus.ExponentialBuckets(100, 2, 11), // 100 .. ~102400
		}),
		TurnToolCalls: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "auditoria_authoring_turn_tool_calls",
			Help:    "Tool calls per authoring turn.",
			Buckets: prometheus.LinearBuckets(0, 1, MaxToolRounds+1),
		}),
		LLMCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auditoria_llm_calls_total",
			Help: "Total successful LLM provider calls.",
		}, []string{"provider"}),
		LLMTokensIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auditoria_llm_tokens_input_total",
			Help: "Total LLM input tokens consumed.",
		}, []string{"provider"}),
		LLMTokensOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auditoria_llm_tokens_output_total",
			Help: "Total LLM output tokens consumed.",
		}, []string{"provider"}),
		LLMDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "auditoria_llm_call_duration_seconds",
			Help:    "Duration of individual LLM calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 9), // 0.25s .. ~64s
		}, []string{"provider"}),
		ToolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auditoria_tool_calls_total",
			Help: "Total tool executions by tool name and status.",
		}, []string{"tool", "status"}),
		ToolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "auditoria_tool_duration_seconds",
			Help:    "Duration of tool executions in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8), // 1ms .. ~16s
		}, []string{"tool"}),
		ToolInputBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "auditoria_tool_input_bytes",
			Help:    "Size of tool input in bytes.",
			Buckets: prometheus.ExponentialBuckets(64, 4, 6), // 64B .. 64KB
		}, []string{"tool"}),
		ToolOutputBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "auditoria_tool_output_bytes",
			Help:    "Size of tool output in bytes.",
			Buckets: prometheus.ExponentialBuckets(64, 4, 6), // 64B .. 64KB
		}, []string{"tool"}),
	}

	reg.MustRegister(
		m.TurnsTotal,
		m.TurnDuration,
		m.TurnTokens,
		m.TurnToolCalls,
		m.LLMCallsTotal,
		m.LLMTokensIn,
		m.LLMTokensOut,
		m.LLMDuration,
		m.ToolCallsTotal,
		m.ToolDuration,
		m.ToolInputBytes,
		m.ToolOutputBytes,
	)

	return m
}

// Hooks returns EngineHooks that update the metrics.
func (m *Metrics) Hooks() EngineHooks {
	return EngineHooks{
		OnLLMCall: func(provider string, inputTokens, outputTokens int, duration float64) {
			m.LLMCallsTotal.WithLabelValues(provider).Inc()
			m.LLMTokensIn.WithLabelValues(provider).Add(float64(inputTokens))
			m.LLMTokensOut.WithLabelValues(provider).Add(float64(outputTokens))
			m.LLMDuration.WithLabelValues(provider).Observe(duration)
		},
		OnToolCall: func(name string, duration float64, inputBytes, outputBytes int, isError bool) {
			status := "success"
			if isError {
				status = "error"
			}
			m.ToolCallsTotal.WithLabelValues(name, status).Inc()
			m.ToolDuration.WithLabelValues(name).Observe(duration)
			m.ToolInputBytes.WithLabelValues(name).Observe(float64(inputBytes))
			m.ToolOutputBytes.WithLabelValues(name).Observe(float64(outputBytes))
		},
		OnComplete: func(e *TurnEvent) {
			m.TurnsTotal.WithLabelValues(string(e.Outcome)).Inc()
			m.TurnDuration.WithLabelValues(string(e.Outcome)).Observe(e.Duration)
			m.TurnTokens.Observe(float64(e.TokensIn + e.TokensOut))
			m.TurnToolCalls.Observe(float64(e.ToolCalls))
		},
	}
}
