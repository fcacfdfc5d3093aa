// Package fidelity implements the FidelityMetricsTracker: a bus subscriber
// that maintains rolling per-category success rates and gates them against
// configured floor thresholds.
package fidelity

import (
	"context"
	"sync"

	"github.com/pairdev/orchestrator-core/bus"
	"github.com/pairdev/orchestrator-core/telemetry"
)

// Category is one of the five fidelity categories tracked from bus events.
type Category string

const (
	CategoryEventProcessing            Category = "eventProcessing"
	CategoryAgentToolExecution         Category = "agentToolExecution"
	CategoryCrossLanguageCommunication Category = "crossLanguageCommunication"
	CategoryModeSwitching              Category = "modeSwitching"
	CategoryContextPreservation        Category = "contextPreservation"
)

// DefaultThresholds returns the default floor rate for every category:
// 0.99, except crossLanguageCommunication at 0.97.
func DefaultThresholds() map[Category]float64 {
	return map[Category]float64{
		CategoryEventProcessing:            0.99,
		CategoryAgentToolExecution:         0.99,
		CategoryCrossLanguageCommunication: 0.97,
		CategoryModeSwitching:              0.99,
		CategoryContextPreservation:        0.99,
	}
}

type outcome struct {
	category Category
	success  bool
}

// eventOutcomes maps bus event types to the category/outcome pair they
// contribute to fidelity counting (spec §4.7's table).
var eventOutcomes = map[string]outcome{
	"event.processed":             {CategoryEventProcessing, true},
	"event.processing.failed":     {CategoryEventProcessing, false},
	"tool.execution.completed":    {CategoryAgentToolExecution, true},
	"tool.execution.failed":       {CategoryAgentToolExecution, false},
	"cross.language.received":     {CategoryCrossLanguageCommunication, true},
	"cross.language.failed":       {CategoryCrossLanguageCommunication, false},
	"mode.changed":                {CategoryModeSwitching, true},
	"mode.change.failed":          {CategoryModeSwitching, false},
	"context.preserved":           {CategoryContextPreservation, true},
	"context.preservation.failed": {CategoryContextPreservation, false},
}

type (
	// Counter is the (successes, failures) pair for one category.
	Counter struct {
		Successes int64
		Failures  int64
	}

	// CategoryResult is one category's rate compared against its threshold.
	CategoryResult struct {
		Rate      float64
		Threshold float64
		OK        bool
	}

	// Report is the result of ValidateFidelity: per-category results plus
	// an overall weighted score and pass/fail flag.
	Report struct {
		PerCategory             map[Category]CategoryResult
		OverallFidelity         float64
		AllOperationsMeetThreshold bool
	}

	// Options configures a Tracker.
	Options struct {
		Bus        *bus.Bus
		Thresholds map[Category]float64
		Logger     telemetry.Logger
		Metrics    telemetry.Metrics
	}

	// Tracker is the FidelityMetricsTracker. It subscribes to the bus on
	// construction and updates its counters for the lifetime of the bus
	// subscription.
	Tracker struct {
		thresholds map[Category]float64
		logger     telemetry.Logger
		metrics    telemetry.Metrics

		mu       sync.Mutex
		counters map[Category]*Counter
	}
)

// New constructs a Tracker and, if opts.Bus is non-nil, subscribes it to
// the bus wildcard; events whose type is not in the fidelity table are
// ignored.
func New(opts Options) *Tracker {
	thresholds := opts.Thresholds
	if thresholds == nil {
		thresholds = DefaultThresholds()
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}

	t := &Tracker{
		thresholds: thresholds,
		logger:     logger,
		metrics:    metrics,
		counters:   make(map[Category]*Counter),
	}

	if opts.Bus != nil {
		opts.Bus.Subscribe(bus.Wildcard, t.observe)
	}
	return t
}

// observe is the bus handler: it records an outcome for any event type
// present in the fidelity table and ignores everything else.
func (t *Tracker) observe(ctx context.Context, ev bus.Event) error {
	oc, ok := eventOutcomes[ev.Type]
	if !ok {
		return nil
	}

	t.mu.Lock()
	c, ok := t.counters[oc.category]
	if !ok {
		c = &Counter{}
		t.counters[oc.category] = c
	}
	if oc.success {
		c.Successes++
	} else {
		c.Failures++
	}
	t.mu.Unlock()

	t.metrics.IncCounter("fidelity.observation", 1, "category", string(oc.category))
	return nil
}

// GetFidelityRates returns the current success rate per category. A
// category with zero observations reports a rate of 1.0 (no observations
// is treated as satisfied).
func (t *Tracker) GetFidelityRates() map[Category]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	rates := make(map[Category]float64, len(t.thresholds))
	for category := range t.thresholds {
		rate := rateFor(t.counters[category])
		rates[category] = rate
		t.metrics.RecordGauge("fidelity.rate", rate, "category", string(category))
	}
	return rates
}

// ValidateFidelity compares each category's rate against its configured
// threshold and computes an overall weighted mean across categories with
// at least one observation (see DESIGN.md for the weighting decision).
func (t *Tracker) ValidateFidelity() Report {
	t.mu.Lock()
	snapshot := make(map[Category]*Counter, len(t.counters))
	for k, v := range t.counters {
		c := *v
		snapshot[k] = &c
	}
	t.mu.Unlock()

	perCategory := make(map[Category]CategoryResult, len(t.thresholds))
	allOK := true
	var weightedSum float64
	var totalObservations int64

	for category, threshold := range t.thresholds {
		counter := snapshot[category]
		rate := rateFor(counter)
		ok := rate >= threshold
		perCategory[category] = CategoryResult{Rate: rate, Threshold: threshold, OK: ok}
		if !ok {
			allOK = false
		}

		observations := int64(0)
		if counter != nil {
			observations = counter.Successes + counter.Failures
		}
		if observations > 0 {
			weightedSum += rate * float64(observations)
			totalObservations += observations
		}
	}

	overall := 1.0
	if totalObservations > 0 {
		overall = weightedSum / float64(totalObservations)
	}

	return Report{
		PerCategory:                perCategory,
		OverallFidelity:            overall,
		AllOperationsMeetThreshold: allOK,
	}
}

func rateFor(c *Counter) float64 {
	if c == nil || (c.Successes+c.Failures) == 0 {
		return 1.0
	}
	return float64(c.Successes) / float64(c.Successes+c.Failures)
}
