// Package fallback implements the FallbackRegistry: pluggable fallback
// providers selected by operation label, plus graceful-degradation helpers
// for named subsystems. The registration set is copy-on-write so lookups
// never contend with registration.
package fallback

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pairdev/orchestrator-core/bus"
	"github.com/pairdev/orchestrator-core/errs"
	"github.com/pairdev/orchestrator-core/telemetry"
)

const (
	// EventOperationExecuted is emitted when the primary executor succeeds.
	EventOperationExecuted = "operation.executed"
	// EventFallbackInitiated is emitted when the primary has failed and a
	// fallback attempt is about to begin.
	EventFallbackInitiated = "operation.fallback.initiated"
	// EventFallbackSucceeded is emitted when the selected provider reports success.
	EventFallbackSucceeded = "operation.fallback.succeeded"
	// EventFallbackFailed is emitted when the selected provider reports failure.
	EventFallbackFailed = "operation.fallback.failed"
	// EventFailedPermanently is emitted when no provider matches the operation label.
	EventFailedPermanently = "operation.failed.permanently"

	// DefaultAgentToolLocalProvider is registered at construction.
	DefaultAgentToolLocalProvider = "agent-tool-local"
	// DefaultHandoffSimplifiedProvider is registered at construction.
	DefaultHandoffSimplifiedProvider = "handoff-simplified"
	// DefaultModeSwitchCacheProvider is registered at construction.
	DefaultModeSwitchCacheProvider = "mode-switch-cache"
)

type (
	// Result is the outcome of a fallback provider's Execute call.
	Result struct {
		Success bool
		Result  any
		Error   string
	}

	// Provider is a pluggable fallback strategy selected by operation label.
	Provider interface {
		CanHandle(operationLabel string) bool
		Execute(ctx context.Context, operationLabel string, params any) Result
	}

	// PrimaryExecutor performs the primary attempt for executeWithFallback.
	PrimaryExecutor func(ctx context.Context) (any, error)

	namedProvider struct {
		name     string
		provider Provider
	}

	// Options configures a Registry.
	Options struct {
		Bus     *bus.Bus
		Logger  telemetry.Logger
		Metrics telemetry.Metrics
		// SkipDefaultProviders omits the three default providers (mainly
		// for tests that want an empty registry).
		SkipDefaultProviders bool
	}

	// Registry is the FallbackRegistry.
	Registry struct {
		bus     *bus.Bus
		logger  telemetry.Logger
		metrics telemetry.Metrics

		mu        sync.Mutex
		providers atomic.Pointer[[]namedProvider]
	}
)

// New constructs a Registry. Unless opts.SkipDefaultProviders is set, it
// registers the three default providers named in the domain stack:
// agent-tool-local, handoff-simplified, mode-switch-cache.
func New(opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	r := &Registry{bus: opts.Bus, logger: logger, metrics: metrics}
	empty := []namedProvider{}
	r.providers.Store(&empty)

	if !opts.SkipDefaultProviders {
		r.RegisterFallbackProvider(DefaultAgentToolLocalProvider, degradedProvider{subsystem: "agent-tool", labels: []string{"agent-tool", "tool-execution"}})
		r.RegisterFallbackProvider(DefaultHandoffSimplifiedProvider, degradedProvider{subsystem: "handoff", labels: []string{"handoff"}})
		r.RegisterFallbackProvider(DefaultModeSwitchCacheProvider, degradedProvider{subsystem: "mode-switch", labels: []string{"mode-switch"}})
	}
	return r
}

// RegisterFallbackProvider adds (or replaces, if name is already in use)
// a provider under name, appended after all currently-registered providers.
func (r *Registry) RegisterFallbackProvider(name string, provider Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := *r.providers.Load()
	next := make([]namedProvider, 0, len(current)+1)
	for _, np := range current {
		if np.name == name {
			continue
		}
		next = append(next, np)
	}
	next = append(next, namedProvider{name: name, provider: provider})
	r.providers.Store(&next)
}

// RemoveFallbackProvider removes the provider registered under name, if any.
func (r *Registry) RemoveFallbackProvider(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := *r.providers.Load()
	next := make([]namedProvider, 0, len(current))
	for _, np := range current {
		if np.name != name {
			next = append(next, np)
		}
	}
	r.providers.Store(&next)
}

// GetRegisteredProviders returns provider names in registration order.
func (r *Registry) GetRegisteredProviders() []string {
	current := *r.providers.Load()
	names := make([]string, len(current))
	for i, np := range current {
		names[i] = np.name
	}
	return names
}

// ExecuteWithFallback calls primary; on failure, iterates registered
// providers in registration order and invokes the first whose CanHandle
// returns true. On that provider reporting success, its result is
// returned. On it reporting failure, errs.KindTerminal (FallbackFailed) is
// raised. If no provider matches the operation label, errs.KindTerminal
// (NoFallback) is raised.
func (r *Registry) ExecuteWithFallback(ctx context.Context, operationLabel string, primary PrimaryExecutor, params any) (any, error) {
	result, err := primary(ctx)
	if err == nil {
		r.publish(ctx, EventOperationExecuted, map[string]any{"operationLabel": operationLabel})
		return result, nil
	}

	r.publish(ctx, EventFallbackInitiated, map[string]any{"operationLabel": operationLabel, "primaryError": err.Error()})

	current := *r.providers.Load()
	for _, np := range current {
		if !np.provider.CanHandle(operationLabel) {
			continue
		}
		fr := np.provider.Execute(ctx, operationLabel, params)
		if fr.Success {
			r.publish(ctx, EventFallbackSucceeded, map[string]any{"operationLabel": operationLabel, "provider": np.name})
			r.metrics.IncCounter("fallback.succeeded", 1, "operation", operationLabel, "provider", np.name)
			return fr.Result, nil
		}
		r.publish(ctx, EventFallbackFailed, map[string]any{"operationLabel": operationLabel, "provider": np.name, "error": fr.Error})
		r.metrics.IncCounter("fallback.failed", 1, "operation", operationLabel, "provider", np.name)
		return nil, errs.Errorf(errs.KindTerminal, "fallback provider %q failed for %q: %s", np.name, operationLabel, fr.Error)
	}

	r.publish(ctx, EventFailedPermanently, map[string]any{"operationLabel": operationLabel})
	r.metrics.IncCounter("fallback.no_provider", 1, "operation", operationLabel)
	return nil, errs.Errorf(errs.KindTerminal, "no fallback provider registered for %q", operationLabel)
}

// Degrade returns a canned degraded outcome for subsystem and emits
// "<subsystem>.degraded". Graceful degradation is distinct from fallback:
// it never consults the registry.
func (r *Registry) Degrade(ctx context.Context, subsystem, label string) Result {
	result := Result{Success: true, Result: "Degraded result for " + label}
	r.publish(ctx, subsystem+".degraded", map[string]any{"subsystem": subsystem, "label": label})
	return result
}

func (r *Registry) publish(ctx context.Context, eventType string, payload any) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(ctx, bus.Event{
		ID:        eventType + "." + time.Now().UTC().Format(time.RFC3339Nano),
		Type:      eventType,
		Timestamp: time.Now().UnixMilli(),
		Source:    "fallback.Registry",
		Payload:   payload,
	})
}

// degradedProvider is the shape shared by the three default providers: it
// handles a fixed set of operation labels and always succeeds with a
// canned, explicitly degraded result.
type degradedProvider struct {
	subsystem string
	labels    []string
}

func (d degradedProvider) CanHandle(operationLabel string) bool {
	for _, l := range d.labels {
		if l == operationLabel {
			return true
		}
	}
	return false
}

func (d degradedProvider) Execute(ctx context.Context, operationLabel string, params any) Result {
	return Result{Success: true, Result: "Degraded result for " + operationLabel}
}
