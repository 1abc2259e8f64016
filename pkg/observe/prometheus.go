package observe

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/petrijr/ticketflow/pkg/api"
)

const namespace = "ticketflow"

// Step outcomes used as the "outcome" label of ticketflow_steps_total.
const (
	OutcomeSuccess  = "success"
	OutcomeError    = "error"
	OutcomeMemoized = "memoized"
)

// PrometheusObserver exports engine activity as Prometheus metrics:
//
//	ticketflow_runs_created_total{workflow}
//	ticketflow_runs_finished_total{workflow,status}
//	ticketflow_attempts_total{workflow}
//	ticketflow_retries_total{workflow}
//	ticketflow_retry_delay_seconds{workflow}
//	ticketflow_steps_total{workflow,step,outcome}
//	ticketflow_step_duration_seconds{workflow,step}
//
// Labels are bounded by the registered workflows and their step labels;
// run IDs are never used as labels.
type PrometheusObserver struct {
	runsCreated  *prometheus.CounterVec
	runsFinished *prometheus.CounterVec
	attempts     *prometheus.CounterVec
	retries      *prometheus.CounterVec
	retryDelay   *prometheus.HistogramVec
	steps        *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
}

var _ api.Observer = (*PrometheusObserver)(nil)

// NewPrometheusObserver registers the metrics with reg. A nil reg means
// prometheus.DefaultRegisterer.
func NewPrometheusObserver(reg prometheus.Registerer) *PrometheusObserver {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusObserver{
		runsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_created_total",
			Help:      "Runs created from published events.",
		}, []string{"workflow"}),
		runsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_finished_total",
			Help:      "Runs that reached a terminal status.",
		}, []string{"workflow", "status"}),
		attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Run attempts started, including the first.",
		}, []string{"workflow"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Retriable failures scheduled for another attempt.",
		}, []string{"workflow"}),
		retryDelay: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retry_delay_seconds",
			Help:      "Backoff delay before a retry.",
			Buckets:   []float64{0, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"workflow"}),
		steps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Step executions by outcome.",
		}, []string{"workflow", "step", "outcome"}),
		stepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of step bodies that ran, successful or not.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"workflow", "step"}),
	}
}

func (p *PrometheusObserver) OnRunCreated(ctx context.Context, run *api.Run) {
	p.runsCreated.WithLabelValues(run.WorkflowID).Inc()
}

func (p *PrometheusObserver) OnAttemptStart(ctx context.Context, run *api.Run) {
	p.attempts.WithLabelValues(run.WorkflowID).Inc()
}

func (p *PrometheusObserver) OnRetryScheduled(ctx context.Context, run *api.Run, err error, delay time.Duration) {
	p.retries.WithLabelValues(run.WorkflowID).Inc()
	p.retryDelay.WithLabelValues(run.WorkflowID).Observe(delay.Seconds())
}

func (p *PrometheusObserver) OnRunSucceeded(ctx context.Context, run *api.Run) {
	p.runsFinished.WithLabelValues(run.WorkflowID, string(api.StatusSucceeded)).Inc()
}

func (p *PrometheusObserver) OnRunFailed(ctx context.Context, run *api.Run, err error) {
	p.runsFinished.WithLabelValues(run.WorkflowID, string(api.StatusFailed)).Inc()
}

func (p *PrometheusObserver) OnStepStart(ctx context.Context, run *api.Run, label string) {}

func (p *PrometheusObserver) OnStepMemoized(ctx context.Context, run *api.Run, label string) {
	p.steps.WithLabelValues(run.WorkflowID, label, OutcomeMemoized).Inc()
}

func (p *PrometheusObserver) OnStepCompleted(ctx context.Context, run *api.Run, label string, err error, d time.Duration) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	p.steps.WithLabelValues(run.WorkflowID, label, outcome).Inc()
	p.stepDuration.WithLabelValues(run.WorkflowID, label).Observe(d.Seconds())
}
