package engine

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Trigger outcomes recorded on spans and the trigger counter.
const (
	outcomeStepCompleted  = "step_completed"
	outcomePlanDone       = "plan_done"
	outcomeNotFound       = "plan_not_found"
	outcomeAlreadyDone    = "already_done"
	outcomeExecutorFailed = "executor_failed"
	outcomeLeaseHeld      = "lease_held"
	outcomeError          = "error"
)

// engineMetrics holds the OpenTelemetry metric instruments for the engine.
// These are created once in WithMeter and reused for every trigger.
type engineMetrics struct {
	// triggers counts processed trigger deliveries, tagged by outcome.
	triggers metric.Int64Counter

	// stepsCompleted counts steps committed as completed.
	stepsCompleted metric.Int64Counter

	// stepDuration records step executor latency in milliseconds.
	stepDuration metric.Float64Histogram
}

// initMetrics creates the engine's metric instruments from the given meter.
func initMetrics(meter metric.Meter) (*engineMetrics, error) {
	if meter == nil {
		return nil, nil
	}

	m := &engineMetrics{}
	var err error

	m.triggers, err = meter.Int64Counter(
		"plan.triggers",
		metric.WithDescription("Number of trigger deliveries processed"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create triggers counter: %w", err)
	}

	m.stepsCompleted, err = meter.Int64Counter(
		"plan.steps.completed",
		metric.WithDescription("Number of plan steps committed as completed"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create steps counter: %w", err)
	}

	m.stepDuration, err = meter.Float64Histogram(
		"plan.step.duration",
		metric.WithDescription("Step executor latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("create step duration histogram: %w", err)
	}

	return m, nil
}
