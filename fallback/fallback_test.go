package fallback_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pairdev/orchestrator-core/bus"
	"github.com/pairdev/orchestrator-core/errs"
	"github.com/pairdev/orchestrator-core/fallback"
)

type stubProvider struct {
	handles string
	result  fallback.Result
}

func (s stubProvider) CanHandle(label string) bool { return label == s.handles }
func (s stubProvider) Execute(ctx context.Context, label string, params any) fallback.Result {
	return s.result
}

func TestExecuteWithFallbackPrimarySuccess(t *testing.T) {
	r := fallback.New(fallback.Options{SkipDefaultProviders: true})

	result, err := r.ExecuteWithFallback(context.Background(), "op", func(ctx context.Context) (any, error) {
		return 42, nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 42, result)
}

// TestExecuteWithFallbackProviderSucceeds mirrors scenario S3.
func TestExecuteWithFallbackProviderSucceeds(t *testing.T) {
	b := bus.New()
	r := fallback.New(fallback.Options{Bus: b, SkipDefaultProviders: true})
	r.RegisterFallbackProvider("custom", stubProvider{
		handles: "mode-switch",
		result:  fallback.Result{Success: true, Result: "Degraded mode switch result"},
	})

	var events []string
	b.Subscribe(bus.Wildcard, func(_ context.Context, ev bus.Event) error {
		events = append(events, ev.Type)
		return nil
	})

	result, err := r.ExecuteWithFallback(context.Background(), "mode-switch", func(ctx context.Context) (any, error) {
		return nil, errors.New("Mode transition failed")
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, "Degraded mode switch result", result)
	assert.Equal(t, []string{fallback.EventFallbackInitiated, fallback.EventFallbackSucceeded}, events)
}

func TestExecuteWithFallbackNoProviderMatches(t *testing.T) {
	r := fallback.New(fallback.Options{SkipDefaultProviders: true})

	_, err := r.ExecuteWithFallback(context.Background(), "unregistered-op", func(ctx context.Context) (any, error) {
		return nil, errors.New("primary failed")
	}, nil)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindTerminal))
}

func TestExecuteWithFallbackProviderFails(t *testing.T) {
	r := fallback.New(fallback.Options{SkipDefaultProviders: true})
	r.RegisterFallbackProvider("custom", stubProvider{handles: "op", result: fallback.Result{Success: false, Error: "nope"}})

	_, err := r.ExecuteWithFallback(context.Background(), "op", func(ctx context.Context) (any, error) {
		return nil, errors.New("primary failed")
	}, nil)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindTerminal))
}

// TestFallbackDeterminism mirrors invariant #8: a fixed registration order
// always selects the same provider for the same label.
func TestFallbackDeterminism(t *testing.T) {
	r := fallback.New(fallback.Options{SkipDefaultProviders: true})
	r.RegisterFallbackProvider("first", stubProvider{handles: "op", result: fallback.Result{Success: true, Result: "first"}})
	r.RegisterFallbackProvider("second", stubProvider{handles: "op", result: fallback.Result{Success: true, Result: "second"}})

	for i := 0; i < 5; i++ {
		result, err := r.ExecuteWithFallback(context.Background(), "op", func(ctx context.Context) (any, error) {
			return nil, errors.New("fail")
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, "first", result)
	}
}

func TestDefaultProvidersRegisteredAtConstruction(t *testing.T) {
	r := fallback.New(fallback.Options{})
	names := r.GetRegisteredProviders()
	assert.Equal(t, []string{
		fallback.DefaultAgentToolLocalProvider,
		fallback.DefaultHandoffSimplifiedProvider,
		fallback.DefaultModeSwitchCacheProvider,
	}, names)
}

func TestRemoveFallbackProvider(t *testing.T) {
	r := fallback.New(fallback.Options{SkipDefaultProviders: true})
	r.RegisterFallbackProvider("a", stubProvider{})
	r.RegisterFallbackProvider("b", stubProvider{})
	r.RemoveFallbackProvider("a")
	assert.Equal(t, []string{"b"}, r.GetRegisteredProviders())
}

func TestDegrade(t *testing.T) {
	b := bus.New()
	r := fallback.New(fallback.Options{Bus: b, SkipDefaultProviders: true})

	var sawDegraded bool
	b.Subscribe("sandbox.degraded", func(_ context.Context, _ bus.Event) error {
		sawDegraded = true
		return nil
	})

	result := r.Degrade(context.Background(), "sandbox", "executeCode")
	assert.True(t, result.Success)
	assert.True(t, sawDegraded)
}
