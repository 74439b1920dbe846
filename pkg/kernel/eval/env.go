// Package eval binds sequence documents to the engine: it owns the variable
// scope, turns check expressions into probes and action specs into actions.
//
// Checks, assignments and outcomes are expr-lang expressions evaluated
// against a snapshot of the scope. Log lines are text/template strings.
package eval

import (
	"maps"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ormasoftchile/stepseq/pkg/logging"
)

// Env is the variable scope shared by the probes and actions of one run.
// It is safe for concurrent use; abandoned callbacks may still touch it
// after a run was cancelled.
type Env struct {
	mu     sync.RWMutex
	vars   map[string]any
	logger zerolog.Logger
}

// NewEnv creates a scope holding a copy of vars.
func NewEnv(vars map[string]any) *Env {
	e := &Env{
		vars:   make(map[string]any, len(vars)),
		logger: logging.Component("eval"),
	}
	maps.Copy(e.vars, vars)
	return e
}

// SetLogger replaces the logger used by probes and actions bound to e.
func (e *Env) SetLogger(l zerolog.Logger) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logger = l
}

// Logger returns the scope's logger.
func (e *Env) Logger() zerolog.Logger {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.logger
}

// Get returns a single variable.
func (e *Env) Get(name string) (any, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.vars[name]
	return v, ok
}

// Set assigns a variable.
func (e *Env) Set(name string, value any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vars[name] = value
}

// Snapshot returns a shallow copy of the scope.
func (e *Env) Snapshot() map[string]any {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return maps.Clone(e.vars)
}

// Names returns the variable names in sorted order.
func (e *Env) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Sorted(maps.Keys(e.vars))
}
