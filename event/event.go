// Package event defines the typed publish/subscribe channel carrying
// progress, lifecycle, and error events between workers and consumers.
//
// Events fall into two disjoint sets. Consumer events (progress, lifecycle,
// error) are what UIs and other jobs subscribe to instead of polling the
// store. Internal events (checkpoint) are framework-private and are never
// relayed onto the shared bus.
//
// Delivery is fire-and-forget, at-most-once per subscriber per emission,
// with no replay: a consumer that subscribes after an event fired will not
// see it, and must fall back to the job store for last-known state.
package event

import (
	"github.com/xraph/longhaul/id"
	"github.com/xraph/longhaul/job"
)

// Consumer-facing event names.
const (
	// Progress is a fractional progress update from task execution.
	Progress = "progress"
	// ProgressCount is a count-based progress update from task execution.
	ProgressCount = "progressCount"

	// JobCreated fires when a job record is created.
	JobCreated = "executableJob.created"
	// JobUpdated fires on generic record updates (result saves, deletes).
	JobUpdated = "executableJob.updated"
	// JobStatusChanged fires when a job's status changes.
	JobStatusChanged = "executableJob.statusChanged"
	// JobCancelled fires when a job is cancelled.
	JobCancelled = "executableJob.cancelled"
	// JobCompleted fires when a job completes successfully.
	JobCompleted = "executableJob.completed"
	// JobFailed fires when a job fails.
	JobFailed = "executableJob.failed"
	// JobDeleted fires when a job record is deleted.
	JobDeleted = "executableJob.deleted"

	// Error reports an execution-time error not tied to a specific job
	// lifecycle event (e.g. a resource cleanup failure).
	Error = "error"
)

// Framework-internal event names, never relayed to consumers.
const (
	// Checkpoint reports that a runner persisted a resume position.
	Checkpoint = "checkpoint"
)

// ConsumerEvents lists the events external consumers may subscribe to.
var ConsumerEvents = []string{
	Progress, ProgressCount,
	JobCreated, JobUpdated, JobStatusChanged,
	JobCancelled, JobCompleted, JobFailed, JobDeleted,
	Error,
}

// InternalEvents lists the framework-private events.
var InternalEvents = []string{Checkpoint}

// Internal reports whether name is a framework-private event that must not
// cross the worker relay onto the shared bus.
func Internal(name string) bool {
	return name == Checkpoint
}

// ProgressData is the payload of a Progress event. Progress is a fraction
// in [0, 1]; 1 means completed. Within one execution a later emission never
// reports less progress than an earlier one; a resumed execution restarts
// from zero.
type ProgressData struct {
	Name       string  `json:"name"`
	CustomText string  `json:"customText,omitempty"`
	Progress   float64 `json:"progress"`
}

// ProgressCountData is the payload of a ProgressCount event for tasks that
// track progress by count rather than fraction. -1 means completed.
type ProgressCountData struct {
	Name       string `json:"name"`
	CustomText string `json:"customText,omitempty"`
	Progress   int    `json:"progress"`
}

// CheckpointData is the payload of the internal Checkpoint event.
type CheckpointData struct {
	Checkpoint int `json:"checkpoint"`
}

// JobPayload is the minimum payload every job lifecycle event carries.
type JobPayload struct {
	ID   id.JobID `json:"id"`
	Name string   `json:"name"`
}

// CreatedData is the payload of JobCreated.
type CreatedData struct {
	JobPayload
	Owner string `json:"owner,omitempty"`
}

// UpdatedData is the payload of JobUpdated.
type UpdatedData struct {
	JobPayload
}

// StatusChangedData is the payload of JobStatusChanged.
type StatusChangedData struct {
	JobPayload
	Status job.Status `json:"status"`
}

// CancelledData is the payload of JobCancelled.
type CancelledData struct {
	JobPayload
}

// CompletedData is the payload of JobCompleted.
type CompletedData struct {
	JobPayload
}

// FailedData is the payload of JobFailed.
type FailedData struct {
	JobPayload
	Error string `json:"error,omitempty"`
}

// DeletedData is the payload of JobDeleted.
type DeletedData struct {
	JobPayload
}

// ErrorData is the payload of Error.
type ErrorData struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}
