package sandbox

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/pairdev/orchestrator-core/bus"
	"github.com/pairdev/orchestrator-core/errs"
	"github.com/pairdev/orchestrator-core/telemetry"
)

const (
	// DefaultMaxConcurrency bounds simultaneous sandboxes when Options
	// does not override it.
	DefaultMaxConcurrency = 10
	// DefaultTimeout bounds a single executeCodeInSandbox call when
	// neither Options nor the call itself overrides it.
	DefaultTimeout = 30 * time.Second
	// closeGrace bounds how long a forced close waits for the provider to
	// observe cancellation before the manager considers the sandbox
	// reaped regardless.
	closeGrace = 2 * time.Second

	// EventExecutionCompleted is emitted for a successful code execution.
	EventExecutionCompleted = "sandbox.execution.completed"
	// EventExecutionFailed is emitted for a failed code execution.
	EventExecutionFailed = "sandbox.execution.failed"
)

// SupportedLanguages is the closed set accepted by ExecuteCodeInSandbox.
var SupportedLanguages = map[string]string{
	"javascript": "node -e %s",
	"python":     "python3 -c %s",
	"bash":       "bash -c %s",
}

// SupportedPackageManagers is the closed set accepted by
// InstallPackagesInSandbox.
var SupportedPackageManagers = map[string]string{
	"npm": "npm install %s",
	"pip": "pip install %s",
	"apt": "apt-get install -y %s",
}

type (
	// ExecutionResult is the outcome of ExecuteCodeInSandbox.
	ExecutionResult struct {
		Stdout        string
		Stderr        string
		ExitCode      int
		ExecutionTime time.Duration
	}

	// ConcurrencyStatus reports the manager's admission state.
	ConcurrencyStatus struct {
		Current   int
		Max       int
		Available int
	}

	// Options configures a Manager.
	Options struct {
		MaxConcurrency  int
		DefaultTemplate string
		Timeout         time.Duration
		Provider        Provider
		Bus             *bus.Bus
		Logger          telemetry.Logger
		Metrics         telemetry.Metrics
		Tracer          telemetry.Tracer
		// Throttle, if set, is a soft admission pacer consulted before the
		// hard maxConcurrency ceiling: callers wait for a token instead of
		// being admitted purely on the concurrency counter. It smooths
		// bursts of admission requests without changing the hard-ceiling
		// semantics spec §4.8 requires (no queuing past the ceiling itself).
		Throttle *rate.Limiter
	}

	// Manager is the SandboxManager.
	Manager struct {
		maxConcurrency  int
		defaultTemplate string
		timeout         time.Duration
		provider        Provider
		bus             *bus.Bus
		logger          telemetry.Logger
		metrics         telemetry.Metrics
		tracer          telemetry.Tracer
		throttle        *rate.Limiter

		mu     sync.Mutex
		active map[string]Handle
	}
)

// New constructs a Manager per opts. opts.Provider is required.
func New(opts Options) (*Manager, error) {
	if opts.Provider == nil {
		return nil, errs.New(errs.KindValidation, "sandbox provider is required")
	}
	maxConcurrency := opts.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	return &Manager{
		maxConcurrency:  maxConcurrency,
		defaultTemplate: opts.DefaultTemplate,
		timeout:         timeout,
		provider:        opts.Provider,
		bus:             opts.Bus,
		logger:          logger,
		metrics:         metrics,
		tracer:          tracer,
		throttle:        opts.Throttle,
		active:          make(map[string]Handle),
	}, nil
}

// ExecuteCodeInSandbox admits, runs, and reaps one ephemeral sandbox.
// Admission fails immediately (no queuing) with errs.KindAdmission if the
// manager is already at maxConcurrency. language must be one of
// SupportedLanguages or the call fails with errs.KindUnsupported. The
// admission slot is released and the sandbox closed on every exit path.
func (m *Manager) ExecuteCodeInSandbox(ctx context.Context, code, language string, timeoutMs int) (result ExecutionResult, err error) {
	ctx, span := m.tracer.Start(ctx, "sandbox.ExecuteCodeInSandbox")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := ctx.Err(); err != nil {
		return ExecutionResult{}, errs.Wrap(errs.KindCancelled, "execution cancelled before admission", err)
	}

	cmdTemplate, ok := SupportedLanguages[language]
	if !ok {
		return ExecutionResult{}, errs.Errorf(errs.KindUnsupported, "unsupported language %q", language)
	}

	id, release, err := m.admit(ctx)
	if err != nil {
		return ExecutionResult{}, err
	}
	defer release()

	timeout := m.timeout
	if timeoutMs > 0 {
		timeout = time.Duration(timeoutMs) * time.Millisecond
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	handle, err := m.provider.CreateSandbox(runCtx, m.defaultTemplate, nil)
	if err != nil {
		return ExecutionResult{}, errs.Wrap(errs.KindTransient, "create sandbox", err)
	}
	m.track(id, handle)
	defer m.untrackAndClose(id, handle)

	start := time.Now()
	result, runErr := handle.RunCommand(runCtx, fmt.Sprintf(cmdTemplate, quoteShell(code)))
	elapsed := time.Since(start)

	if runErr != nil {
		m.forceCloseOnTimeout(handle, runCtx)
		m.publish(ctx, EventExecutionFailed, map[string]any{"language": language, "error": runErr.Error()})
		if runCtx.Err() != nil {
			return ExecutionResult{}, errs.Wrap(errs.KindCancelled, "execution timed out", runCtx.Err())
		}
		return ExecutionResult{}, errs.Wrap(errs.KindTransient, "run command", runErr)
	}

	execResult := ExecutionResult{
		Stdout:        result.Stdout,
		Stderr:        result.Stderr,
		ExitCode:      result.ExitCode,
		ExecutionTime: elapsed,
	}
	m.publish(ctx, EventExecutionCompleted, map[string]any{"language": language, "exitCode": result.ExitCode})
	m.metrics.RecordTimer("sandbox.execution_time", elapsed, "language", language)
	return execResult, nil
}

// CreateFileInSandbox runs a single write-file operation in a fresh,
// admitted sandbox.
func (m *Manager) CreateFileInSandbox(ctx context.Context, path, content string) error {
	return m.withSandbox(ctx, func(runCtx context.Context, h Handle) error {
		if err := h.WriteFile(runCtx, path, content); err != nil {
			return errs.Wrap(errs.KindTransient, "FailedToCreateFile", err)
		}
		return nil
	})
}

// ReadFileFromSandbox runs a single read-file operation in a fresh,
// admitted sandbox.
func (m *Manager) ReadFileFromSandbox(ctx context.Context, path string) (string, error) {
	var content string
	err := m.withSandbox(ctx, func(runCtx context.Context, h Handle) error {
		c, err := h.ReadFile(runCtx, path)
		if err != nil {
			return errs.Wrap(errs.KindTransient, "FailedToReadFile", err)
		}
		content = c
		return nil
	})
	return content, err
}

// ListFilesInSandbox is built entirely on RunCommand (the provider
// contract has no dedicated list operation): it runs "ls -1 <path>" and
// splits stdout into lines.
func (m *Manager) ListFilesInSandbox(ctx context.Context, path string) ([]string, error) {
	var files []string
	err := m.withSandbox(ctx, func(runCtx context.Context, h Handle) error {
		result, err := h.RunCommand(runCtx, fmt.Sprintf("ls -1 %s", quoteShell(path)))
		if err != nil {
			return errs.Wrap(errs.KindTransient, "FailedToListFiles", err)
		}
		for _, line := range strings.Split(result.Stdout, "\n") {
			if line != "" {
				files = append(files, line)
			}
		}
		return nil
	})
	return files, err
}

// InstallPackagesInSandbox runs a package-manager install command in a
// fresh, admitted sandbox. pkgManager must be one of
// SupportedPackageManagers or the call fails with errs.KindUnsupported.
func (m *Manager) InstallPackagesInSandbox(ctx context.Context, pkgs []string, pkgManager string) error {
	cmdTemplate, ok := SupportedPackageManagers[pkgManager]
	if !ok {
		return errs.Errorf(errs.KindUnsupported, "unsupported package manager %q", pkgManager)
	}
	return m.withSandbox(ctx, func(runCtx context.Context, h Handle) error {
		_, err := h.RunCommand(runCtx, fmt.Sprintf(cmdTemplate, strings.Join(pkgs, " ")))
		if err != nil {
			return errs.Wrap(errs.KindTransient, "FailedToInstallPackages", err)
		}
		return nil
	})
}

// GetConcurrencyStatus reports the manager's current admission state.
func (m *Manager) GetConcurrencyStatus() ConcurrencyStatus {
	m.mu.Lock()
	current := len(m.active)
	m.mu.Unlock()
	status := ConcurrencyStatus{Current: current, Max: m.maxConcurrency, Available: m.maxConcurrency - current}
	m.metrics.RecordGauge("sandbox.concurrency.current", float64(status.Current))
	m.metrics.RecordGauge("sandbox.concurrency.available", float64(status.Available))
	return status
}

// Shutdown closes every active sandbox and resets the admission counter.
// It is idempotent.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	active := m.active
	m.active = make(map[string]Handle)
	m.mu.Unlock()

	for _, h := range active {
		_ = h.Close(ctx)
	}
}

// admit waits for the optional soft throttle, then reserves one
// concurrency slot, failing immediately (no queuing past the hard
// ceiling) if the manager is already at maxConcurrency.
func (m *Manager) admit(ctx context.Context) (string, func(), error) {
	if m.throttle != nil {
		if err := m.throttle.Wait(ctx); err != nil {
			return "", nil, errs.Wrap(errs.KindCancelled, "admission throttle wait", err)
		}
	}

	m.mu.Lock()
	if len(m.active) >= m.maxConcurrency {
		m.mu.Unlock()
		return "", nil, errs.Errorf(errs.KindAdmission, "concurrency limit reached (%d)", m.maxConcurrency)
	}
	id := uuid.NewString()
	m.active[id] = nil // reserve the slot before the sandbox exists
	m.mu.Unlock()

	return id, func() {
		m.mu.Lock()
		delete(m.active, id)
		m.mu.Unlock()
	}, nil
}

func (m *Manager) track(id string, h Handle) {
	m.mu.Lock()
	m.active[id] = h
	m.mu.Unlock()
}

func (m *Manager) untrackAndClose(id string, h Handle) {
	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()
	_ = h.Close(context.Background())
}

// forceCloseOnTimeout closes h with a bounded grace context if the
// triggering context has already expired, matching the cancellation
// semantics in spec §5: the provider is signaled and awaited briefly, then
// the sandbox is forcibly reaped regardless.
func (m *Manager) forceCloseOnTimeout(h Handle, runCtx context.Context) {
	if runCtx.Err() == nil {
		return
	}
	closeCtx, cancel := context.WithTimeout(context.Background(), closeGrace)
	defer cancel()
	_ = h.Close(closeCtx)
}

func (m *Manager) withSandbox(ctx context.Context, fn func(runCtx context.Context, h Handle) error) error {
	if err := ctx.Err(); err != nil {
		return errs.Wrap(errs.KindCancelled, "operation cancelled before admission", err)
	}

	id, release, err := m.admit(ctx)
	if err != nil {
		return err
	}
	defer release()

	runCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	handle, err := m.provider.CreateSandbox(runCtx, m.defaultTemplate, nil)
	if err != nil {
		return errs.Wrap(errs.KindTransient, "create sandbox", err)
	}
	m.track(id, handle)
	defer m.untrackAndClose(id, handle)

	return fn(runCtx, handle)
}

func (m *Manager) publish(ctx context.Context, eventType string, payload any) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(ctx, bus.Event{
		ID:        eventType + "." + time.Now().UTC().Format(time.RFC3339Nano),
		Type:      eventType,
		Timestamp: time.Now().UnixMilli(),
		Source:    "sandbox.Manager",
		Payload:   payload,
	})
}

func quoteShell(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
