// Package recovery implements the ErrorRecoveryManager: retry with
// exponential backoff and jitter, and primary-then-fallback composition.
// Both operations are cancellation-aware and emit bus events on every
// outcome so the fidelity tracker can observe them.
package recovery

import (
	"context"
	"math/rand"
	"time"

	"github.com/pairdev/orchestrator-core/bus"
	"github.com/pairdev/orchestrator-core/errs"
	"github.com/pairdev/orchestrator-core/telemetry"
)

const (
	// DefaultMaxRetries is the number of retries attempted after the first
	// failure (so up to DefaultMaxRetries+1 total calls).
	DefaultMaxRetries = 2
	// DefaultBaseDelay is the base of the exponential backoff schedule.
	DefaultBaseDelay = 100 * time.Millisecond

	// EventToolExecutionFailed is emitted on each failed attempt.
	EventToolExecutionFailed = "tool.execution.failed"
	// EventToolExecutionCompleted is emitted once on success.
	EventToolExecutionCompleted = "tool.execution.completed"
	// EventCrossLanguageReceived is emitted when executeHandoffWithFallback
	// succeeds, whether on the primary path or the fallback path.
	EventCrossLanguageReceived = "cross.language.received"
	// EventCrossLanguageFailed is emitted when both primary and fallback
	// are exhausted.
	EventCrossLanguageFailed = "cross.language.failed"
)

type (
	// Executor performs one attempt and returns its result.
	Executor func(ctx context.Context) (any, error)

	// RetryOptions overrides the manager's defaults for a single call.
	RetryOptions struct {
		MaxRetries int
		BaseDelay  time.Duration
	}

	// Options configures a Manager.
	Options struct {
		MaxRetries int
		BaseDelay  time.Duration
		Bus        *bus.Bus
		Logger     telemetry.Logger
		Metrics    telemetry.Metrics
	}

	// Manager is the ErrorRecoveryManager.
	Manager struct {
		maxRetries int
		baseDelay  time.Duration
		bus        *bus.Bus
		logger     telemetry.Logger
		metrics    telemetry.Metrics
	}
)

// New constructs a Manager per opts.
func New(opts Options) *Manager {
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Manager{
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		bus:        opts.Bus,
		logger:     logger,
		metrics:    metrics,
	}
}

// ExecuteToolWithRetry invokes execute, retrying up to opts.MaxRetries (or
// the manager default) times with exponential backoff and ±20% jitter. It
// emits EventToolExecutionFailed on each failed attempt and
// EventToolExecutionCompleted once on eventual success. On exhaustion it
// returns an errs.KindTerminal error wrapping the last failure and carrying
// the attempt count.
func (m *Manager) ExecuteToolWithRetry(ctx context.Context, execute Executor, opts ...RetryOptions) (any, error) {
	maxRetries, baseDelay := m.resolve(opts)

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, errs.Wrap(errs.KindCancelled, "execution cancelled", err)
		}

		result, err := execute(ctx)
		if err == nil {
			m.publish(ctx, EventToolExecutionCompleted, map[string]any{"attempt": attempt})
			m.metrics.IncCounter("recovery.tool.completed", 1)
			return result, nil
		}
		lastErr = err

		if cancelled, cerr := asCancelled(ctx, err); cancelled {
			return nil, cerr
		}

		m.publish(ctx, EventToolExecutionFailed, map[string]any{"attempt": attempt, "error": err.Error()})
		m.metrics.IncCounter("recovery.tool.failed", 1)

		if attempt == maxRetries {
			break
		}
		if err := m.sleepBackoff(ctx, attempt, baseDelay); err != nil {
			return nil, err
		}
	}

	return nil, errs.Wrap(errs.KindTerminal, "tool execution failed", lastErr).WithAttempts(maxRetries + 1)
}

// ExecuteHandoffWithFallback runs primary under the same retry policy as
// ExecuteToolWithRetry; on exhaustion it runs fallback exactly once (never
// retried). Any success emits EventCrossLanguageReceived; total failure
// emits EventCrossLanguageFailed and returns an errs.KindTerminal error.
func (m *Manager) ExecuteHandoffWithFallback(ctx context.Context, primary, fallback Executor, opts ...RetryOptions) (any, error) {
	result, err := m.ExecuteToolWithRetry(ctx, primary, opts...)
	if err == nil {
		m.publish(ctx, EventCrossLanguageReceived, map[string]any{"path": "primary"})
		return result, nil
	}
	if errs.Is(err, errs.KindCancelled) {
		return nil, err
	}

	fallbackResult, fallbackErr := fallback(ctx)
	if fallbackErr == nil {
		m.publish(ctx, EventCrossLanguageReceived, map[string]any{"path": "fallback"})
		m.metrics.IncCounter("recovery.handoff.fallback_succeeded", 1)
		return fallbackResult, nil
	}

	m.publish(ctx, EventCrossLanguageFailed, map[string]any{"primaryError": err.Error(), "fallbackError": fallbackErr.Error()})
	m.metrics.IncCounter("recovery.handoff.failed", 1)
	return nil, errs.Wrap(errs.KindTerminal, "handoff primary and fallback both failed", fallbackErr)
}

func (m *Manager) resolve(opts []RetryOptions) (int, time.Duration) {
	maxRetries, baseDelay := m.maxRetries, m.baseDelay
	if len(opts) > 0 {
		if opts[0].MaxRetries > 0 {
			maxRetries = opts[0].MaxRetries
		}
		if opts[0].BaseDelay > 0 {
			baseDelay = opts[0].BaseDelay
		}
	}
	return maxRetries, baseDelay
}

// sleepBackoff waits baseDelay*2^attempt, jittered by ±20%, or returns a
// errs.KindCancelled error if ctx is done first.
func (m *Manager) sleepBackoff(ctx context.Context, attempt int, baseDelay time.Duration) error {
	delay := backoffDelay(attempt, baseDelay)
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return errs.Wrap(errs.KindCancelled, "retry cancelled during backoff", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func backoffDelay(attempt int, baseDelay time.Duration) time.Duration {
	raw := float64(baseDelay) * float64(uint64(1)<<uint(attempt))
	jitter := 1 + (rand.Float64()*0.4 - 0.2) // +/-20%
	return time.Duration(raw * jitter)
}

func asCancelled(ctx context.Context, err error) (bool, error) {
	if ctx.Err() == nil {
		return false, nil
	}
	return true, errs.Wrap(errs.KindCancelled, "execution cancelled", ctx.Err())
}

func (m *Manager) publish(ctx context.Context, eventType string, payload any) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(ctx, bus.Event{
		ID:        eventType + "." + time.Now().UTC().Format(time.RFC3339Nano),
		Type:      eventType,
		Timestamp: time.Now().UnixMilli(),
		Source:    "recovery.Manager",
		Payload:   payload,
	})
}
