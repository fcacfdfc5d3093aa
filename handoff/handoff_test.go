package handoff_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pairdev/orchestrator-core/contextstore"
	"github.com/pairdev/orchestrator-core/errs"
	"github.com/pairdev/orchestrator-core/fallback"
	"github.com/pairdev/orchestrator-core/handoff"
	"github.com/pairdev/orchestrator-core/recovery"
	"github.com/pairdev/orchestrator-core/validator"
)

func newCoordinator(t *testing.T, fb *fallback.Registry) *handoff.Coordinator {
	t.Helper()
	return handoff.New(handoff.Options{
		Validator:    validator.New(validator.Options{}),
		ContextStore: contextstore.New(contextstore.Options{}),
		Recovery:     recovery.New(recovery.Options{MaxRetries: 1}),
		Fallback:     fb,
	})
}

func validRequest() handoff.Request {
	return handoff.Request{
		SourceAgentID: "agent-a",
		TargetAgentID: "agent-b",
		TaskID:        "task-1",
		Context:       map[string]any{"step": 1},
	}
}

// TestHandoffPrimarySucceeds mirrors scenario S1: a valid handoff whose
// primary tool succeeds reaches SUCCEEDED without ever consulting the
// fallback registry.
func TestHandoffPrimarySucceeds(t *testing.T) {
	c := newCoordinator(t, fallback.New(fallback.Options{}))

	outcome, err := c.Handoff(context.Background(), validRequest(), func(ctx context.Context) (any, error) {
		return "primary-result", nil
	})
	require.NoError(t, err)
	assert.Equal(t, handoff.StateSucceeded, outcome.FinalState)
	assert.Equal(t, "primary-result", outcome.Result)
	assert.NotEmpty(t, outcome.HandoffID)
}

func TestHandoffRejectsInvalidRequest(t *testing.T) {
	c := newCoordinator(t, fallback.New(fallback.Options{}))

	req := validRequest()
	req.TaskID = ""
	outcome, err := c.Handoff(context.Background(), req, func(ctx context.Context) (any, error) {
		t.Fatal("execute must not be called for an invalid request")
		return nil, nil
	})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindValidation))
	assert.Equal(t, handoff.StateFailed, outcome.FinalState)
}

// TestHandoffFallsBackOnPrimaryFailure exercises the default
// handoff-simplified fallback provider, which always succeeds.
func TestHandoffFallsBackOnPrimaryFailure(t *testing.T) {
	c := newCoordinator(t, fallback.New(fallback.Options{}))

	outcome, err := c.Handoff(context.Background(), validRequest(), func(ctx context.Context) (any, error) {
		return nil, errs.New(errs.KindTransient, "primary tool unavailable")
	})
	require.NoError(t, err)
	assert.Equal(t, handoff.StateFallbackSucceeded, outcome.FinalState)
}

// TestHandoffRollsBackWhenNoFallbackMatches mirrors the rolled-back path:
// primary fails, and no provider is registered to handle "handoff", so the
// coordinator rolls back the preserved context and returns a terminal error.
func TestHandoffRollsBackWhenNoFallbackMatches(t *testing.T) {
	c := newCoordinator(t, fallback.New(fallback.Options{SkipDefaultProviders: true}))

	outcome, err := c.Handoff(context.Background(), validRequest(), func(ctx context.Context) (any, error) {
		return nil, errs.New(errs.KindTransient, "primary tool unavailable")
	})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindTerminal))
	assert.Equal(t, handoff.StateRolledBack, outcome.FinalState)
}

func TestHandoffGeneratesIDWhenAbsent(t *testing.T) {
	c := newCoordinator(t, fallback.New(fallback.Options{}))

	req := validRequest()
	req.HandoffID = ""
	outcome, err := c.Handoff(context.Background(), req, func(ctx context.Context) (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.NotEmpty(t, outcome.HandoffID)
}

func TestHandoffPreservesSuppliedID(t *testing.T) {
	c := newCoordinator(t, fallback.New(fallback.Options{}))

	req := validRequest()
	req.HandoffID = "fixed-id"
	outcome, err := c.Handoff(context.Background(), req, func(ctx context.Context) (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", outcome.HandoffID)
}
