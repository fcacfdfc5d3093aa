package sandbox_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/pairdev/orchestrator-core/errs"
	"github.com/pairdev/orchestrator-core/sandbox"
	"github.com/pairdev/orchestrator-core/sandbox/inmem"
)

func TestExecuteCodeInSandboxSuccess(t *testing.T) {
	provider := inmem.New()
	m, err := sandbox.New(sandbox.Options{Provider: provider, MaxConcurrency: 2})
	require.NoError(t, err)

	result, err := m.ExecuteCodeInSandbox(context.Background(), "print(1)", "python", 0)
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, 1, provider.CreatedCount())
}

func TestExecuteCodeInSandboxUnsupportedLanguage(t *testing.T) {
	m, err := sandbox.New(sandbox.Options{Provider: inmem.New()})
	require.NoError(t, err)

	_, err = m.ExecuteCodeInSandbox(context.Background(), "code", "ruby", 0)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindUnsupported))
}

// TestConcurrencyCeiling mirrors scenario S4: a second concurrent call
// beyond maxConcurrency fails immediately, and the provider is invoked
// exactly once during the episode.
func TestConcurrencyCeiling(t *testing.T) {
	provider := inmem.New()
	m, err := sandbox.New(sandbox.Options{Provider: provider, MaxConcurrency: 1})
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	started := make(chan struct{})
	release := make(chan struct{})

	// blockingHandle simulates an in-flight execution by blocking
	// RunCommand until the test releases it.
	blocking := &blockingProvider{inner: provider, started: started, release: release}
	m2, err := sandbox.New(sandbox.Options{Provider: blocking, MaxConcurrency: 1})
	require.NoError(t, err)

	go func() {
		defer wg.Done()
		_, _ = m2.ExecuteCodeInSandbox(context.Background(), "code", "bash", 0)
	}()

	<-started
	_, err = m2.ExecuteCodeInSandbox(context.Background(), "code", "bash", 0)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindAdmission))

	close(release)
	wg.Wait()

	status := m.GetConcurrencyStatus()
	assert.Equal(t, 0, status.Current)
	assert.Equal(t, 0, m2.GetConcurrencyStatus().Current)
	assert.Equal(t, 1, provider.CreatedCount())
}

func TestInstallPackagesUnsupportedManager(t *testing.T) {
	m, err := sandbox.New(sandbox.Options{Provider: inmem.New()})
	require.NoError(t, err)

	err = m.InstallPackagesInSandbox(context.Background(), []string{"left-pad"}, "yarn")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindUnsupported))
}

func TestCreateAndReadFileInSandbox(t *testing.T) {
	m, err := sandbox.New(sandbox.Options{Provider: inmem.New()})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, m.CreateFileInSandbox(ctx, "/tmp/a.txt", "hello"))
	// Each file operation gets its own fresh sandbox (no cross-operation
	// reuse is required), so a read in a new sandbox will not see it.
	_, err = m.ReadFileFromSandbox(ctx, "/tmp/a.txt")
	assert.Error(t, err)
}

// TestThrottleDelaysAdmission verifies the optional soft throttle is
// consulted before the hard concurrency ceiling: a limiter with no burst
// allowance can never grant a token, so Wait fails at once and the failed
// admission surfaces as a cancellation rather than bypassing the throttle.
func TestThrottleDelaysAdmission(t *testing.T) {
	limiter := rate.NewLimiter(rate.Limit(0), 0) // never refills, zero burst
	m, err := sandbox.New(sandbox.Options{Provider: inmem.New(), Throttle: limiter})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = m.ExecuteCodeInSandbox(ctx, "print(1)", "python", 0)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindCancelled))
}

func TestShutdownIsIdempotent(t *testing.T) {
	m, err := sandbox.New(sandbox.Options{Provider: inmem.New()})
	require.NoError(t, err)
	ctx := context.Background()

	m.Shutdown(ctx)
	m.Shutdown(ctx)
	assert.Equal(t, 0, m.GetConcurrencyStatus().Current)
}

type blockingProvider struct {
	inner   *inmem.Provider
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (p *blockingProvider) CreateSandbox(ctx context.Context, template string, opts map[string]any) (sandbox.Handle, error) {
	h, err := p.inner.CreateSandbox(ctx, template, opts)
	if err != nil {
		return nil, err
	}
	return &blockingHandle{Handle: h, started: p.started, release: p.release, once: &p.once}, nil
}

type blockingHandle struct {
	sandbox.Handle
	started chan struct{}
	release chan struct{}
	once    *sync.Once
}

func (h *blockingHandle) RunCommand(ctx context.Context, cmd string) (sandbox.CommandResult, error) {
	h.once.Do(func() { close(h.started) })
	<-h.release
	return h.Handle.RunCommand(ctx, cmd)
}
