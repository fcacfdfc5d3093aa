package recovery_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pairdev/orchestrator-core/bus"
	"github.com/pairdev/orchestrator-core/errs"
	"github.com/pairdev/orchestrator-core/recovery"
)

// TestRetrySucceedsAfterOneFailure mirrors scenario S2.
func TestRetrySucceedsAfterOneFailure(t *testing.T) {
	b := bus.New()
	m := recovery.New(recovery.Options{Bus: b, BaseDelay: time.Millisecond})

	var events []string
	b.Subscribe(bus.Wildcard, func(_ context.Context, ev bus.Event) error {
		events = append(events, ev.Type)
		return nil
	})

	calls := 0
	result, err := m.ExecuteToolWithRetry(context.Background(), func(ctx context.Context) (any, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("ETIMEDOUT")
		}
		return "ok", nil
	}, recovery.RetryOptions{MaxRetries: 2})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []string{recovery.EventToolExecutionFailed, recovery.EventToolExecutionCompleted}, events)
}

// TestRetryBound mirrors invariant #7: execute is invoked at most
// maxRetries+1 times.
func TestRetryBound(t *testing.T) {
	m := recovery.New(recovery.Options{BaseDelay: time.Millisecond})

	calls := 0
	_, err := m.ExecuteToolWithRetry(context.Background(), func(ctx context.Context) (any, error) {
		calls++
		return nil, errors.New("always fails")
	}, recovery.RetryOptions{MaxRetries: 2})

	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindTerminal))
	assert.Equal(t, 3, calls)
}

func TestExecuteToolWithRetryRespectsCancellation(t *testing.T) {
	m := recovery.New(recovery.Options{BaseDelay: 50 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.ExecuteToolWithRetry(ctx, func(ctx context.Context) (any, error) {
		t.Fatal("execute must not be called once context is already cancelled")
		return nil, nil
	})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindCancelled))
}

// TestExecuteHandoffWithFallback mirrors scenario S3.
func TestExecuteHandoffWithFallback(t *testing.T) {
	b := bus.New()
	m := recovery.New(recovery.Options{Bus: b, BaseDelay: time.Millisecond})

	result, err := m.ExecuteHandoffWithFallback(
		context.Background(),
		func(ctx context.Context) (any, error) { return nil, errors.New("Mode transition failed") },
		func(ctx context.Context) (any, error) { return "Degraded mode switch result", nil },
		recovery.RetryOptions{MaxRetries: 0},
	)

	require.NoError(t, err)
	assert.Equal(t, "Degraded mode switch result", result)
}

func TestExecuteHandoffWithFallbackBothFail(t *testing.T) {
	b := bus.New()
	m := recovery.New(recovery.Options{Bus: b, BaseDelay: time.Millisecond})

	var sawFailed bool
	b.Subscribe(recovery.EventCrossLanguageFailed, func(_ context.Context, _ bus.Event) error {
		sawFailed = true
		return nil
	})

	_, err := m.ExecuteHandoffWithFallback(
		context.Background(),
		func(ctx context.Context) (any, error) { return nil, errors.New("primary down") },
		func(ctx context.Context) (any, error) { return nil, errors.New("fallback down") },
		recovery.RetryOptions{MaxRetries: 0},
	)

	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindTerminal))
	assert.True(t, sawFailed)
}
