package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "picturebook"

// Metrics holds the collectors shared by the workflow and the poller.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	WorkflowSteps *prometheus.CounterVec
	Compensations *prometheus.CounterVec
	KickFailures  prometheus.Counter
	PollFetches   *prometheus.CounterVec
	PollTerminals *prometheus.CounterVec
	ActivePollers prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		WorkflowSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "steps_total",
			Help:      "Workflow steps executed, by step and outcome.",
		}, []string{"step", "outcome"}),
		Compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "compensations_total",
			Help:      "Compensation hooks invoked after a failed workflow, by outcome.",
		}, []string{"outcome"}),
		KickFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "image_kick_failures_total",
			Help:      "Fire-and-forget image generation kicks that returned an error.",
		}),
		PollFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "fetches_total",
			Help:      "Progress fetches, by outcome.",
		}, []string{"outcome"}),
		PollTerminals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "terminal_total",
			Help:      "Poll loops that observed a terminal job status.",
		}, []string{"status"}),
		ActivePollers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "active",
			Help:      "Poll loops currently running.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.WorkflowSteps,
			m.Compensations,
			m.KickFailures,
			m.PollFetches,
			m.PollTerminals,
			m.ActivePollers,
		)
	}
	return m
}

func (m *Metrics) StepDone(step string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.WorkflowSteps.WithLabelValues(step, outcome).Inc()
}

func (m *Metrics) CompensationDone(err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.Compensations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) KickFailed() {
	if m == nil {
		return
	}
	m.KickFailures.Inc()
}

func (m *Metrics) Fetch(err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.PollFetches.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Terminal(status string) {
	if m == nil {
		return
	}
	m.PollTerminals.WithLabelValues(status).Inc()
}

func (m *Metrics) PollerStarted() {
	if m == nil {
		return
	}
	m.ActivePollers.Inc()
}

func (m *Metrics) PollerStopped() {
	if m == nil {
		return
	}
	m.ActivePollers.Dec()
}
