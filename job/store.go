package job

import (
	"context"
	"encoding/json"

	"github.com/xraph/longhaul/id"
)

// ResultUpdate carries the payload fields a runner persists when a job
// finishes or checkpoints its enrichment. It deliberately excludes the
// status: status moves only through UpdateStatus.
type ResultUpdate struct {
	// Data replaces the job's data payload (parameters plus results).
	// Nil leaves the stored payload untouched.
	Data json.RawMessage
	// Resources replaces the job's named resource handles. Nil leaves
	// the stored handles untouched.
	Resources map[string]string
	// StatusMessages replaces the job's status messages. Nil leaves the
	// stored messages untouched.
	StatusMessages *StatusMessages
}

// Store defines the persistence contract for jobs. It is the single shared
// mutable resource of the framework: all coordination between coordinators,
// runners, and operator controls reduces to UpdateStatus's compare-and-swap.
type Store interface {
	// Create inserts a new job with status pending, empty internal data,
	// and store-assigned timestamps.
	Create(ctx context.Context, name, owner string, data json.RawMessage) (*Job, error)

	// Get retrieves a job by ID. Returns longhaul.ErrJobNotFound if the
	// record does not exist.
	Get(ctx context.Context, jobID id.JobID) (*Job, error)

	// List returns jobs for the given owner matching any of the given
	// statuses, ordered by creation time ascending. An empty owner matches
	// all owners; no statuses matches all statuses.
	List(ctx context.Context, owner string, statuses ...Status) ([]*Job, error)

	// UpdateStatus is a compare-and-swap: it persists next only if the
	// stored status still equals expected, returning the updated record.
	// Returns longhaul.ErrConflict if the stored status no longer matches
	// (someone else already acted — callers must move on, never retry
	// blindly), or longhaul.ErrJobNotFound if the record is gone.
	UpdateStatus(ctx context.Context, jobID id.JobID, expected, next Status) (*Job, error)

	// UpdateCheckpoint persists the runner's resume position. Best-effort,
	// not compare-and-swapped: only the runner holding inProgress for this
	// job writes it, so the last write is always the latest snapshot.
	UpdateCheckpoint(ctx context.Context, jobID id.JobID, checkpoint int) error

	// SaveResult persists the payload enrichment of a finished or
	// checkpointed job (data, resources, status messages). Never touches
	// the status.
	SaveResult(ctx context.Context, jobID id.JobID, upd ResultUpdate) error

	// Delete removes the record. Callers are responsible for requesting
	// cancellation first if the job may still be running, and for cleaning
	// up the job's resources.
	Delete(ctx context.Context, jobID id.JobID) error
}
