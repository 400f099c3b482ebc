// Package longhaul provides a durable execution framework for long-running,
// resumable background jobs. It runs computation-heavy operations
// (minutes to hours) outside the request/response cycle, with durable job
// records, cooperative pause/resume, cancellation, checkpointed restart,
// and a typed event protocol decoupling workers from consumers.
//
// Longhaul is designed as a library, not a service. Import it, configure a
// store, register job functions as ordinary Go functions, and submit work.
//
// # Quick Start
//
//	e, err := engine.New(memory.New(),
//	    engine.WithConfig(longhaul.Config{MaxConcurrentJobs: 2}),
//	)
//
// # Architecture
//
// The job store is the single shared mutable resource: all coordination
// between coordinators, runners, and operator controls reduces to its
// compare-and-swap status update. A coordinator claims pending jobs into a
// bounded set of execution slots; each slot's runner polls the store at
// domain-defined safe points to observe external cancel/pause requests and
// periodically persists a checkpoint so interrupted work resumes from its
// last saved position rather than from scratch.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package longhaul
