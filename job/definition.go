package job

import (
	"context"
	"encoding/json"
)

// Outcome is what a domain function hands back on success: the results to
// merge into the job's data payload, resource handles created as a side
// effect, and non-fatal messages.
type Outcome struct {
	// Results is merged into the job data as its "results" member.
	Results json.RawMessage
	// Resources names external handles (file paths) the job created and
	// now owns. They are deleted with the job record.
	Resources map[string]string
	// Warnings and Infos are appended to the job's status messages.
	Warnings []string
	Infos    []string
}

// Definition is a typed job definition with a handler function.
// T is the parameter type (must be JSON-serializable); it is decoded from
// the "parameters" member of the job's data payload.
type Definition[T any] struct {
	// Name is the unique identifier for this job type.
	Name string

	// Handler executes the job. It must honor the safe-point contract
	// documented on Run.
	Handler func(ctx context.Context, run Run, params T) (*Outcome, error)

	// Opts configures the safe-point poll cadence.
	Opts Options
}

// NewDefinition creates a typed job definition.
func NewDefinition[T any](
	name string,
	handler func(ctx context.Context, run Run, params T) (*Outcome, error),
	opts ...Option,
) *Definition[T] {
	def := &Definition[T]{
		Name:    name,
		Handler: handler,
		Opts:    DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	return def
}
