package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yungbote/podscribe-backend/internal/platform/envutil"
	"github.com/yungbote/podscribe-backend/internal/platform/logger"
	"github.com/yungbote/podscribe-backend/internal/resilience"
)

// Metrics owns a private Prometheus registry. A nil *Metrics is valid and
// records nothing, so callers never need to check Enabled themselves.
type Metrics struct {
	registry *prometheus.Registry

	apiRequests *prometheus.CounterVec
	apiLatency  *prometheus.HistogramVec
	apiInflight prometheus.Gauge

	jobsStarted  *prometheus.CounterVec
	jobsFinished *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
	jobsInflight *prometheus.GaugeVec

	stageLatency *prometheus.HistogramVec

	batchEvents *prometheus.CounterVec

	breakerState       *prometheus.GaugeVec
	breakerTransitions *prometheus.CounterVec

	publishes *prometheus.CounterVec

	llmRequests *prometheus.CounterVec
	llmLatency  *prometheus.HistogramVec
	llmTokens   *prometheus.CounterVec
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool {
	return envutil.Bool("METRICS_ENABLED", true)
}

// Init builds the process-wide metrics once. Returns nil when disabled.
func Init(log *logger.Logger) *Metrics {
	if !Enabled() {
		return nil
	}
	initOnce.Do(func() {
		instance = New()
		if log != nil {
			log.Info("Metrics enabled", "path", "/metrics")
		}
	})
	return instance
}

// Current returns the metrics built by Init, or nil.
func Current() *Metrics {
	return instance
}

// New builds an independent metrics set on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ps_api_requests_total",
			Help: "Total API requests by method/route/status.",
		}, []string{"method", "route", "status"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ps_api_request_duration_seconds",
			Help:    "API request latency in seconds by method/route/status.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"method", "route", "status"}),
		apiInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ps_api_inflight_requests",
			Help: "In-flight API requests.",
		}),
		jobsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ps_jobs_started_total",
			Help: "Job attempts started by provider.",
		}, []string{"provider"}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ps_jobs_finished_total",
			Help: "Job attempts finished by provider/outcome.",
		}, []string{"provider", "outcome"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ps_job_duration_seconds",
			Help:    "Wall time of one job attempt by provider/outcome.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		}, []string{"provider", "outcome"}),
		jobsInflight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ps_jobs_inflight",
			Help: "Job attempts currently executing by provider.",
		}, []string{"provider"}),
		stageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ps_pipeline_stage_duration_seconds",
			Help:    "Pipeline stage latency by provider/stage/status.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900, 1800},
		}, []string{"provider", "stage", "status"}),
		batchEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ps_batch_events_total",
			Help: "Batch lifecycle transitions by event.",
		}, []string{"event"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ps_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open).",
		}, []string{"name"}),
		breakerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ps_circuit_breaker_transitions_total",
			Help: "Circuit breaker transitions by name/to.",
		}, []string{"name", "to"}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ps_realtime_publish_total",
			Help: "Realtime publish attempts by event/status.",
		}, []string{"event", "status"}),
		llmRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ps_llm_requests_total",
			Help: "LLM requests by model/path/status.",
		}, []string{"model", "path", "status"}),
		llmLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ps_llm_request_duration_seconds",
			Help:    "LLM request latency by model/path/status.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 45, 90},
		}, []string{"model", "path", "status"}),
		llmTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ps_llm_tokens_total",
			Help: "LLM tokens by model/direction.",
		}, []string{"model", "direction"}),
	}
	reg.MustRegister(
		m.apiRequests, m.apiLatency, m.apiInflight,
		m.jobsStarted, m.jobsFinished, m.jobDuration, m.jobsInflight,
		m.stageLatency,
		m.batchEvents,
		m.breakerState, m.breakerTransitions,
		m.publishes,
		m.llmRequests, m.llmLatency, m.llmTokens,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveAPI(method, route string, status int, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	if route == "" {
		route = "unknown"
	}
	code := strconv.Itoa(status)
	m.apiRequests.WithLabelValues(method, route, code).Inc()
	m.apiLatency.WithLabelValues(method, route, code).Observe(dur.Seconds())
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

func (m *Metrics) JobStarted(provider string) {
	if m == nil {
		return
	}
	provider = orUnknown(provider)
	m.jobsStarted.WithLabelValues(provider).Inc()
	m.jobsInflight.WithLabelValues(provider).Inc()
}

func (m *Metrics) JobFinished(provider, outcome string, dur time.Duration) {
	if m == nil {
		return
	}
	provider = orUnknown(provider)
	outcome = orUnknown(outcome)
	m.jobsFinished.WithLabelValues(provider, outcome).Inc()
	m.jobDuration.WithLabelValues(provider, outcome).Observe(dur.Seconds())
	m.jobsInflight.WithLabelValues(provider).Dec()
}

func (m *Metrics) ObserveStage(provider, stage, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.stageLatency.WithLabelValues(orUnknown(provider), orUnknown(stage), orUnknown(status)).Observe(dur.Seconds())
}

// BatchEvent counts a batch lifecycle transition ("created", "started",
// "completed", ...).
func (m *Metrics) BatchEvent(event string) {
	if m == nil {
		return
	}
	m.batchEvents.WithLabelValues(orUnknown(event)).Inc()
}

// BreakerListener adapts the metrics to the breaker registry's callback.
func (m *Metrics) BreakerListener() resilience.StateListener {
	return func(name, _ string, to string) {
		if m == nil {
			return
		}
		m.breakerState.WithLabelValues(name).Set(breakerStateValue(to))
		m.breakerTransitions.WithLabelValues(name, to).Inc()
	}
}

func (m *Metrics) ObservePublish(event string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.publishes.WithLabelValues(orUnknown(event), status).Inc()
}

func (m *Metrics) ObserveLLMRequest(model, path, status string, dur time.Duration, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	model = orUnknown(model)
	path = orUnknown(path)
	status = orUnknown(status)
	m.llmRequests.WithLabelValues(model, path, status).Inc()
	m.llmLatency.WithLabelValues(model, path, status).Observe(dur.Seconds())
	if inputTokens > 0 {
		m.llmTokens.WithLabelValues(model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.llmTokens.WithLabelValues(model, "output").Add(float64(outputTokens))
	}
}

func breakerStateValue(state string) float64 {
	switch state {
	case resilience.StateOpen:
		return 2
	case resilience.StateHalfOpen:
		return 1
	default:
		return 0
	}
}

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
