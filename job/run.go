package job

import (
	"context"

	"github.com/xraph/longhaul/id"
)

// Run is the execution context handed to a domain job function. The worker
// package implements it; this package only defines the contract so that
// job definitions do not import the worker machinery.
//
// Interrupted and SaveCheckpoint are the two halves of the safe-point
// contract described in the package documentation.
type Run interface {
	// JobID identifies the job being executed.
	JobID() id.JobID

	// Checkpoint returns the resume position persisted by a previous
	// execution of this job, if any. A function seeing ok=true must
	// resume from that position rather than from the beginning.
	Checkpoint() (ckpt int, ok bool)

	// SaveCheckpoint synchronously persists the current resume position.
	// Checkpoints must be non-decreasing within one execution. The write
	// completes before SaveCheckpoint returns, so a terminal status is
	// always persisted strictly after the last checkpoint.
	SaveCheckpoint(ctx context.Context, checkpoint int) error

	// Progress reports fractional progress in [0, 1]. Reported values are
	// clamped to be non-decreasing within one execution; a resumed
	// execution starts over from zero.
	Progress(customText string, progress float64)

	// ProgressCount reports count-based progress. Pass -1 for completed.
	ProgressCount(customText string, count int)

	// Interrupted is the cooperative safe-point poll. It re-reads the
	// job's stored status (at most once per configured poll interval) and
	// reports whether an external actor requested that execution stop:
	// stop=true with the externally persisted status (cancelled or
	// paused), or stop=true with an empty status if the record was
	// deleted. The function must return promptly once stop is observed.
	Interrupted(ctx context.Context) (external Status, stop bool)

	// Warn and Info append a status message to be persisted with the
	// job's terminal result.
	Warn(msg string)
	Info(msg string)
}
