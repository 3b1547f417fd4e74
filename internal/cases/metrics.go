package cases

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/dogtor/internal/llm"
)

// Metrics holds Prometheus metrics for the case workflow.
type Metrics struct {
	StagesTotal       *prometheus.CounterVec
	StageDuration     *prometheus.HistogramVec
	UploadBytes       prometheus.Histogram
	UrgencyTotal      *prometheus.CounterVec
	AIAttemptsTotal   *prometheus.CounterVec
	AIAttemptDuration *prometheus.HistogramVec
	AIFallbacksTotal  *prometheus.CounterVec
	LLMTokensIn       *prometheus.CounterVec
	LLMTokensOut      *prometheus.CounterVec
}

// NewMetrics registers and returns case metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		StagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dogtor_case_stages_total",
			Help: "Total workflow stage requests by stage and outcome.",
		}, []string{"stage", "outcome"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dogtor_case_stage_duration_seconds",
			Help:    "Duration of workflow stage requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms .. ~20s
		}, []string{"stage"}),
		UploadBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dogtor_upload_bytes",
			Help:    "Size of accepted image uploads in bytes.",
			Buckets: prometheus.ExponentialBuckets(64*1024, 2, 10), // 64KB .. ~32MB
		}),
		UrgencyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dogtor_triage_urgency_total",
			Help: "Triage summaries stored by urgency level.",
		}, []string{"urgency"}),
		AIAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dogtor_ai_attempts_total",
			Help: "Model call attempts by stage and outcome.",
		}, []string{"stage", "outcome"}),
		AIAttemptDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dogtor_ai_attempt_duration_seconds",
			Help:    "Duration of individual model call attempts in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 0.25s .. ~32s
		}, []string{"stage"}),
		AIFallbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dogtor_ai_fallbacks_total",
			Help: "Stages answered with the fixed fallback payload.",
		}, []string{"stage"}),
		LLMTokensIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dogtor_llm_tokens_input_total",
			Help: "Total model input tokens consumed.",
		}, []string{"model"}),
		LLMTokensOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dogtor_llm_tokens_output_total",
			Help: "Total model output tokens consumed.",
		}, []string{"model"}),
	}

	reg.MustRegister(
		m.StagesTotal,
		m.StageDuration,
		m.UploadBytes,
		m.UrgencyTotal,
		m.AIAttemptsTotal,
		m.AIAttemptDuration,
		m.AIFallbacksTotal,
		m.LLMTokensIn,
		m.LLMTokensOut,
	)

	return m
}

// Hooks returns llm.Hooks that update the AI call metrics.
func (m *Metrics) Hooks() llm.Hooks {
	return llm.Hooks{
		OnAttempt: func(stage, outcome string, duration float64) {
			m.AIAttemptsTotal.WithLabelValues(stage, outcome).Inc()
			m.AIAttemptDuration.WithLabelValues(stage).Observe(duration)
		},
		OnUsage: func(model string, inputTokens, outputTokens int) {
			m.LLMTokensIn.WithLabelValues(model).Add(float64(inputTokens))
			m.LLMTokensOut.WithLabelValues(model).Add(float64(outputTokens))
		},
		OnFallback: func(stage string) {
			m.AIFallbacksTotal.WithLabelValues(stage).Inc()
		},
	}
}

// nil receivers are no-ops so the service can run without metrics.

func (m *Metrics) stage(stage, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.StagesTotal.WithLabelValues(stage, outcome).Inc()
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

func (m *Metrics) upload(n int) {
	if m == nil {
		return
	}
	m.UploadBytes.Observe(float64(n))
}

func (m *Metrics) urgency(u Urgency) {
	if m == nil {
		return
	}
	m.UrgencyTotal.WithLabelValues(string(u)).Inc()
}
