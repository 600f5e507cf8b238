package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "conductor"

// Metrics holds the workflow counters.
type Metrics struct {
	SubtasksDispatched metric.Int64Counter
	SubtasksCompleted  metric.Int64Counter
	SubtasksFailed     metric.Int64Counter
	Clarifications     metric.Int64Counter
	PlansCreated       metric.Int64Counter
	PlansCompleted     metric.Int64Counter
	WatchdogTimeouts   metric.Int64Counter
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.SubtasksDispatched, "conductor.subtasks.dispatched", "Subtasks sent to an agent"},
		{&m.SubtasksCompleted, "conductor.subtasks.completed", "Subtasks reported successful"},
		{&m.SubtasksFailed, "conductor.subtasks.failed", "Subtasks reported failed or timed out"},
		{&m.Clarifications, "conductor.clarifications", "Clarification requests from agents"},
		{&m.PlansCreated, "conductor.plans.created", "Plans created from user requests"},
		{&m.PlansCompleted, "conductor.plans.completed", "Plans whose subtasks all finished"},
		{&m.WatchdogTimeouts, "conductor.watchdog.timeouts", "Subtasks failed by the watchdog"},
	}
	for _, c := range counters {
		ctr, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
		*c.dst = ctr
	}
	return m, nil
}
