package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// RunnerFunc is a type-erased job function that accepts the raw data
// payload. The typed Definition[T] is converted to a RunnerFunc at
// registration time by closing over JSON unmarshal + the typed handler.
type RunnerFunc func(ctx context.Context, run Run, data []byte) (*Outcome, error)

// Registry maps job names to type-erased functions and their options.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]RunnerFunc
	opts     map[string]Options
}

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]RunnerFunc),
		opts:     make(map[string]Options),
	}
}

// paramsEnvelope is the wire shape of the job data payload at creation:
// results are merged in next to parameters as the job progresses.
type paramsEnvelope[T any] struct {
	Parameters T `json:"parameters"`
}

// RegisterDefinition registers a typed job definition. The generic handler
// is wrapped in a closure that JSON-unmarshals the payload's "parameters"
// member into T before calling the typed handler.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	handler := func(ctx context.Context, run Run, data []byte) (*Outcome, error) {
		var env paramsEnvelope[T]
		if len(data) > 0 {
			if err := json.Unmarshal(data, &env); err != nil {
				return nil, fmt.Errorf("unmarshal parameters for job %q: %w", def.Name, err)
			}
		}
		return def.Handler(ctx, run, env.Parameters)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[def.Name] = handler
	r.opts[def.Name] = def.Opts
}

// Get returns the function registered for the given job name.
// Returns false if no function is registered.
func (r *Registry) Get(name string) (RunnerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Opts returns the options the definition was registered with.
func (r *Registry) Opts(name string) Options {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if o, ok := r.opts[name]; ok {
		return o
	}
	return DefaultOptions()
}

// Names returns all registered job names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}
