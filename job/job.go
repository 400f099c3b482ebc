package job

import (
	"encoding/json"

	"github.com/xraph/longhaul"
	"github.com/xraph/longhaul/id"
)

// Status represents the lifecycle status of a job.
type Status string

const (
	// StatusPending means the job is waiting to be claimed by a coordinator.
	StatusPending Status = "pending"
	// StatusInProgress means a runner is currently executing the job.
	StatusInProgress Status = "inProgress"
	// StatusPaused means the job was suspended and can later be resumed
	// from its last persisted checkpoint.
	StatusPaused Status = "paused"
	// StatusCompleted means the job finished successfully. Terminal.
	StatusCompleted Status = "completed"
	// StatusFailed means the job failed and will not run again. Terminal.
	StatusFailed Status = "failed"
	// StatusCancelled means the job was explicitly cancelled. Terminal.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions are permitted from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Valid reports whether s is one of the defined statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusPaused,
		StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// StatusMessages collects human-readable execution messages, append-only
// until the job reaches a terminal status.
type StatusMessages struct {
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	Infos    []string `json:"infos,omitempty"`
}

// Empty reports whether no messages have been recorded.
func (m *StatusMessages) Empty() bool {
	return m == nil || (len(m.Errors) == 0 && len(m.Warnings) == 0 && len(m.Infos) == 0)
}

// InternalData is the framework-private mutable bag on a job record.
// Only the runner currently holding inProgress for the job writes it.
type InternalData struct {
	// Checkpoint is the resume position last persisted by the runner.
	// Monotonically non-decreasing while the job is inProgress.
	Checkpoint *int `json:"checkpoint,omitempty"`
}

// Job represents one durable, resumable unit of long-running work.
type Job struct {
	longhaul.Entity

	ID             id.JobID          `json:"id"`
	Owner          string            `json:"owner,omitempty"`
	Name           string            `json:"name"`
	Status         Status            `json:"status"`
	StatusMessages *StatusMessages   `json:"status_messages,omitempty"`
	InternalData   InternalData      `json:"internal_data"`
	Data           json.RawMessage   `json:"data,omitempty"`
	Resources      map[string]string `json:"resources,omitempty"`
}

// Checkpoint returns the last persisted checkpoint, if any.
func (j *Job) Checkpoint() (int, bool) {
	if j.InternalData.Checkpoint == nil {
		return 0, false
	}
	return *j.InternalData.Checkpoint, true
}

// Clone returns a deep copy of the job, so callers can mutate it without
// racing with whoever handed it out.
func (j *Job) Clone() *Job {
	cp := *j
	if j.StatusMessages != nil {
		m := StatusMessages{
			Errors:   append([]string(nil), j.StatusMessages.Errors...),
			Warnings: append([]string(nil), j.StatusMessages.Warnings...),
			Infos:    append([]string(nil), j.StatusMessages.Infos...),
		}
		cp.StatusMessages = &m
	}
	if j.InternalData.Checkpoint != nil {
		ckpt := *j.InternalData.Checkpoint
		cp.InternalData.Checkpoint = &ckpt
	}
	if j.Data != nil {
		cp.Data = append(json.RawMessage(nil), j.Data...)
	}
	if j.Resources != nil {
		cp.Resources = make(map[string]string, len(j.Resources))
		for k, v := range j.Resources {
			cp.Resources[k] = v
		}
	}
	return &cp
}

// Payload wraps a domain parameter value in the data envelope a job record
// carries: {"parameters": …}. Results are merged in next to it when the job
// completes.
func Payload(parameters any) (json.RawMessage, error) {
	return json.Marshal(map[string]any{"parameters": parameters})
}

// MergeResults returns data with its "results" member set, preserving the
// other members ("parameters" in particular).
func MergeResults(data json.RawMessage, results json.RawMessage) (json.RawMessage, error) {
	doc := map[string]json.RawMessage{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
	}
	doc["results"] = results
	return json.Marshal(doc)
}
