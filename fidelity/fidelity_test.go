package fidelity_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pairdev/orchestrator-core/bus"
	"github.com/pairdev/orchestrator-core/fidelity"
)

func TestGetFidelityRatesNoObservations(t *testing.T) {
	tr := fidelity.New(fidelity.Options{})
	rates := tr.GetFidelityRates()
	for _, rate := range rates {
		assert.Equal(t, 1.0, rate)
	}
}

func TestFidelityTrackerCountsEvents(t *testing.T) {
	b := bus.New()
	tr := fidelity.New(fidelity.Options{Bus: b})
	ctx := context.Background()

	b.Publish(ctx, bus.Event{Type: "tool.execution.completed"})
	b.Publish(ctx, bus.Event{Type: "tool.execution.completed"})
	b.Publish(ctx, bus.Event{Type: "tool.execution.failed"})
	b.Publish(ctx, bus.Event{Type: "unrelated.event"})

	rates := tr.GetFidelityRates()
	assert.InDelta(t, 2.0/3.0, rates[fidelity.CategoryAgentToolExecution], 1e-9)
}

func TestValidateFidelityThresholds(t *testing.T) {
	b := bus.New()
	tr := fidelity.New(fidelity.Options{Bus: b})
	ctx := context.Background()

	for i := 0; i < 99; i++ {
		b.Publish(ctx, bus.Event{Type: "event.processed"})
	}
	b.Publish(ctx, bus.Event{Type: "event.processing.failed"})

	report := tr.ValidateFidelity()
	result := report.PerCategory[fidelity.CategoryEventProcessing]
	assert.InDelta(t, 0.99, result.Rate, 1e-9)
	assert.True(t, result.OK)
}

func TestValidateFidelityCrossLanguageLowerThreshold(t *testing.T) {
	b := bus.New()
	tr := fidelity.New(fidelity.Options{Bus: b})
	ctx := context.Background()

	for i := 0; i < 97; i++ {
		b.Publish(ctx, bus.Event{Type: "cross.language.received"})
	}
	for i := 0; i < 3; i++ {
		b.Publish(ctx, bus.Event{Type: "cross.language.failed"})
	}

	report := tr.ValidateFidelity()
	result := report.PerCategory[fidelity.CategoryCrossLanguageCommunication]
	assert.True(t, result.OK, "0.97 rate must clear the 0.97 threshold for this category")
}

func TestValidateFidelityOverallWeightedByObservationCount(t *testing.T) {
	thresholds := fidelity.DefaultThresholds()
	b := bus.New()
	tr := fidelity.New(fidelity.Options{Bus: b, Thresholds: thresholds})
	ctx := context.Background()

	// agentToolExecution: 100 observations, all success.
	for i := 0; i < 100; i++ {
		b.Publish(ctx, bus.Event{Type: "tool.execution.completed"})
	}
	// modeSwitching: 1 observation, failure.
	b.Publish(ctx, bus.Event{Type: "mode.change.failed"})

	report := tr.ValidateFidelity()
	// Weighted by observation count: (100*1.0 + 1*0.0) / 101, not a plain
	// average across the five categories.
	assert.InDelta(t, 100.0/101.0, report.OverallFidelity, 1e-9)
	assert.False(t, report.AllOperationsMeetThreshold)
}
