package job

import (
	"fmt"

	"github.com/xraph/longhaul"
)

// Transition is an event applied to a job status.
type Transition string

const (
	// TransitionRun claims a pending job for execution.
	TransitionRun Transition = "run"
	// TransitionComplete finishes a running job successfully.
	TransitionComplete Transition = "complete"
	// TransitionError fails a running job.
	TransitionError Transition = "error"
	// TransitionCancel cancels a pending, running, or paused job.
	TransitionCancel Transition = "cancel"
	// TransitionPause suspends a running job at its next safe point.
	TransitionPause Transition = "pause"
	// TransitionResume returns a paused job to the pending queue.
	TransitionResume Transition = "resume"
)

// transitions is the full table of legal status transitions. Terminal
// statuses have no outgoing edges, so re-applying a terminal-reaching
// event to an already-terminal job is rejected.
var transitions = map[Status]map[Transition]Status{
	StatusPending: {
		TransitionRun:    StatusInProgress,
		TransitionCancel: StatusCancelled,
	},
	StatusInProgress: {
		TransitionComplete: StatusCompleted,
		TransitionError:    StatusFailed,
		TransitionCancel:   StatusCancelled,
		TransitionPause:    StatusPaused,
	},
	StatusPaused: {
		TransitionResume: StatusPending,
		TransitionCancel: StatusCancelled,
	},
}

// Next validates and applies a status transition. It is pure: it never
// touches a job record. Callers must persist the returned status through
// the store — that persistence, not this function, is the point of truth.
// A crash between computing a transition and persisting it leaves the
// prior, still-valid status in the store.
func Next(current Status, ev Transition) (Status, error) {
	next, ok := transitions[current][ev]
	if !ok {
		return "", fmt.Errorf("%w: %q on status %q", longhaul.ErrInvalidTransition, ev, current)
	}
	return next, nil
}
