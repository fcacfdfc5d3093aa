// Package persona loads and resolves the read-only persona configuration
// documents named in spec §6: named role/expertise/prompt-template bundles
// that OrchestratorCore resolves case-insensitively and deploys as agents.
package persona

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/pairdev/orchestrator-core/errs"
)

// TokenOptimization is the closed set of optimization strategies a hybrid
// persona may request.
type TokenOptimization string

const (
	TokenOptimizationNone     TokenOptimization = "none"
	TokenOptimizationStandard TokenOptimization = "standard"
	TokenOptimizationMaximum  TokenOptimization = "maximum"
)

// Config is one persona document as persisted (spec §6). Name is matched
// case-insensitively by Loader.Resolve.
type Config struct {
	Name              string            `yaml:"name"`
	Description       string            `yaml:"description"`
	ExpertiseAreas    []string          `yaml:"expertiseAreas"`
	PromptTemplate    string            `yaml:"promptTemplate"`
	Weights           []float64         `yaml:"weights,omitempty"`
	TokenOptimization TokenOptimization `yaml:"tokenOptimization,omitempty"`
}

// IsHybrid reports whether cfg carries per-expertise-area weights, the
// marker of a hybrid persona per spec §6.
func (c Config) IsHybrid() bool {
	return len(c.Weights) > 0
}

// Loader holds the set of personas known to this process, keyed
// case-insensitively. It is read-heavy after construction, guarded by an
// RWMutex rather than copy-on-write since persona sets are small and loaded
// once at startup.
type Loader struct {
	mu     sync.RWMutex
	byName map[string]Config
}

// NewLoader constructs an empty Loader.
func NewLoader() *Loader {
	return &Loader{byName: make(map[string]Config)}
}

// Register adds or replaces cfg under its own name. Fails with
// errs.KindValidation if cfg.Name is empty.
func (l *Loader) Register(cfg Config) error {
	if cfg.Name == "" {
		return errs.New(errs.KindValidation, "persona name must be non-empty")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byName[strings.ToLower(cfg.Name)] = cfg
	return nil
}

// LoadFile parses a single persona YAML document and registers it.
func (l *Loader) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read persona file %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse persona file %s: %w", path, err)
	}
	return l.Register(cfg)
}

// LoadDir registers every *.yaml/*.yml file directly under dir. It is not
// recursive: persona documents are expected to live flat in a single
// directory, one file per persona.
func (l *Loader) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read persona dir %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		if err := l.LoadFile(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

// Resolve looks up a persona by name, case-insensitively.
func (l *Loader) Resolve(name string) (Config, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cfg, ok := l.byName[strings.ToLower(name)]
	return cfg, ok
}

// Names returns every registered persona name, in no particular order.
func (l *Loader) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.byName))
	for _, cfg := range l.byName {
		names = append(names, cfg.Name)
	}
	return names
}
