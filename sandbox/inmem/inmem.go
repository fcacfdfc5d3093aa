// Package inmem provides an in-memory fake satisfying sandbox.Provider,
// for tests and for CLI dry-runs where no real sandbox runtime is
// configured. It executes no code; RunCommand returns a canned result
// based on the command string so callers can assert on behavior without a
// real execution backend.
package inmem

import (
	"context"
	"fmt"
	"sync"

	"github.com/pairdev/orchestrator-core/sandbox"
)

type (
	// Provider is an in-memory sandbox.Provider fake.
	Provider struct {
		mu      sync.Mutex
		created int
	}

	handle struct {
		mu     sync.Mutex
		closed bool
		files  map[string]string
	}
)

// New constructs an in-memory Provider.
func New() *Provider {
	return &Provider{}
}

// CreatedCount returns how many sandboxes this provider has created, for
// test assertions (e.g. "the provider is invoked exactly once").
func (p *Provider) CreatedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.created
}

// CreateSandbox returns a fresh in-memory handle.
func (p *Provider) CreateSandbox(ctx context.Context, template string, opts map[string]any) (sandbox.Handle, error) {
	p.mu.Lock()
	p.created++
	p.mu.Unlock()
	return &handle{files: make(map[string]string)}, nil
}

// RunCommand never executes anything; it returns a canned success result
// stamped with the command it was given, unless the context is already
// done.
func (h *handle) RunCommand(ctx context.Context, cmd string) (sandbox.CommandResult, error) {
	if err := ctx.Err(); err != nil {
		return sandbox.CommandResult{}, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return sandbox.CommandResult{}, fmt.Errorf("sandbox is closed")
	}
	return sandbox.CommandResult{Stdout: "ok: " + cmd, ExitCode: 0}, nil
}

func (h *handle) WriteFile(ctx context.Context, path, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return fmt.Errorf("sandbox is closed")
	}
	h.files[path] = content
	return nil
}

func (h *handle) ReadFile(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return "", fmt.Errorf("sandbox is closed")
	}
	content, ok := h.files[path]
	if !ok {
		return "", fmt.Errorf("file %q not found", path)
	}
	return content, nil
}

func (h *handle) Close(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}
