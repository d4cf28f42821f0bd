package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	streamEvents    *prometheus.CounterVec
	outputTokens    *prometheus.CounterVec
	circuitOpen     *prometheus.CounterVec
	runsTotal       *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	nodeFailures    *prometheus.CounterVec
}

// NewPrometheusRecorder registers the agentcore metrics on reg.
// A nil reg registers on the default Prometheus registry.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &PrometheusRecorder{
		requestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_provider_requests_total",
				Help: "Provider streams by kind, model, status, error type and stop reason",
			},
			[]string{"kind", "model", "status", "error_type", "stop_reason"},
		),
		requestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_provider_request_duration_seconds",
				Help:    "Wall-clock duration of provider streams",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind", "model"},
		),
		streamEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_provider_stream_events_total",
				Help: "Normalised stream events received from providers",
			},
			[]string{"kind", "model"},
		),
		outputTokens: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_provider_output_tokens_total",
				Help: "Approximate output tokens streamed by providers",
			},
			[]string{"kind", "model"},
		),
		circuitOpen: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_circuit_open_total",
				Help: "Requests rejected by an open circuit breaker",
			},
			[]string{"kind", "model"},
		),
		runsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_runs_total",
				Help: "Orchestrator runs by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
		runDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_run_duration_seconds",
				Help:    "Wall-clock duration of orchestrator runs",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"mode"},
		),
		nodeFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_consensus_node_failures_total",
				Help: "Consensus graph node failures by criticality",
			},
			[]string{"critical"},
		),
	}
}

// ObserveRequest records a completed provider stream.
func (p *PrometheusRecorder) ObserveRequest(r Request) {
	status := statusSuccess
	if !r.Success {
		status = statusError
	}
	p.requestsTotal.WithLabelValues(r.Kind, r.Model, status, r.ErrorType, r.StopReason).Inc()
	p.requestDuration.WithLabelValues(r.Kind, r.Model).Observe(r.Duration.Seconds())
	p.streamEvents.WithLabelValues(r.Kind, r.Model).Add(float64(r.Events))
	if r.OutTokens > 0 {
		p.outputTokens.WithLabelValues(r.Kind, r.Model).Add(float64(r.OutTokens))
	}
}

// IncCircuitOpen counts a request rejected by an open breaker.
func (p *PrometheusRecorder) IncCircuitOpen(kind, model string) {
	p.circuitOpen.WithLabelValues(kind, model).Inc()
}

// ObserveRun records the terminal outcome of a run.
func (p *PrometheusRecorder) ObserveRun(mode, outcome string, duration time.Duration) {
	p.runsTotal.WithLabelValues(mode, outcome).Inc()
	p.runDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// IncNodeFailure counts a consensus node failure.
func (p *PrometheusRecorder) IncNodeFailure(critical bool) {
	p.nodeFailures.WithLabelValues(strconv.FormatBool(critical)).Inc()
}
