// Package app owns the invocation-scoped state of one engine run. A Session
// is constructed per invocation and thrown away with it; there are no
// package-level globals, so embedding the engine or running sessions side by
// side in tests needs no coordination.
package app

import (
	"io"
	"log/slog"
	"path/filepath"

	"github.com/anvil-build/anvil/internal/executor"
	"github.com/anvil-build/anvil/internal/graph"
	"github.com/anvil-build/anvil/internal/loader"
	"github.com/anvil-build/anvil/internal/registry"
	"github.com/anvil-build/anvil/internal/report"
)

// Config holds everything a Session needs to run.
type Config struct {
	// Root is the workspace root directory, holding src/ and anvil.hcl.
	Root string

	// Jobs bounds the worker pool; <= 0 selects one worker per CPU.
	Jobs int

	LogLevel  string
	LogFormat string
}

// Session is one invocation of the engine: its configurations, artifact
// store, rule graph, loader, registry and memory store, all constructed
// together and discarded together.
type Session struct {
	logger  *slog.Logger
	printer *report.Printer

	root     string
	configs  *graph.ConfigSet
	store    *graph.Store
	graph    *graph.Graph
	registry *registry.Registry
	loader   *loader.Loader
	mem      *executor.MemStore
	exec     *executor.Executor
}

// NewSession constructs a fully initialized session. out receives the
// human-facing result lines, logOut the structured log. An empty modules
// list selects the built-in rule libraries.
func NewSession(cfg *Config, out, logOut io.Writer, modules ...registry.Module) (*Session, error) {
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, logOut)

	configs := graph.NewConfigSet()
	if err := loader.LoadWorkspace(root, configs); err != nil {
		return nil, err
	}

	store := graph.NewStore()
	g := graph.New(store, configs)

	reg := registry.New()
	if len(modules) == 0 {
		modules = coreModules
	}
	for _, mod := range modules {
		mod.Register(reg)
	}

	mem := executor.NewMemStore()
	return &Session{
		logger:   logger,
		printer:  report.NewPrinter(out),
		root:     root,
		configs:  configs,
		store:    store,
		graph:    g,
		registry: reg,
		loader:   loader.New(g, reg, root),
		mem:      mem,
		exec:     executor.New(root, mem, cfg.Jobs),
	}, nil
}

// Root returns the absolute workspace root.
func (s *Session) Root() string { return s.root }
