// Package job defines the durable job record, its status state machine,
// the persistence contract, and the registry of domain job functions.
//
// A Job is pure data: identity, owner, a name selecting the registered
// function, a status mutated only through the transitions in Next, an
// opaque domain payload, a framework-private checkpoint, and named external
// resource handles. All behavior lives in the worker and engine packages.
//
// # The safe-point contract
//
// Domain functions registered here run inside an isolated execution slot
// that cannot be signaled from the outside: the only channel from the
// coordinator to a running job is the job's own store row. A function MUST
// therefore define safe points — for example once per batch of records —
// and at each one call Run.Interrupted to observe external cancel/pause
// requests, and Run.SaveCheckpoint to persist its resume position. A
// function that never reaches a safe point cannot be stopped by this
// framework. On (re)start with a checkpoint present, the function must
// resume from it rather than from the beginning.
package job
