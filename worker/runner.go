// Package worker provides the job execution engine — a Runner that drives
// one claimed job through middleware and its registered function, and a
// Coordinator that manages the bounded pool of execution slots.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/longhaul"
	"github.com/xraph/longhaul/event"
	"github.com/xraph/longhaul/id"
	"github.com/xraph/longhaul/job"
	"github.com/xraph/longhaul/middleware"
)

// EmitFunc delivers an event envelope from a runner. The coordinator wires
// it to the bus relay, which drops framework-internal events.
type EmitFunc func(env event.Envelope)

// Runner executes a single job that has already been claimed (its stored
// status is inProgress). It owns the safe-point contract: the job function
// polls Interrupted at safe points and persists resume positions through
// SaveCheckpoint, and the runner resolves the terminal status when the
// function returns.
type Runner struct {
	store    job.Store
	registry *job.Registry
	emit     EmitFunc
	mw       middleware.Middleware
	logger   *slog.Logger

	// defaultPollInterval caps how often Interrupted re-reads the job row
	// when the definition does not override it.
	defaultPollInterval time.Duration
}

// NewRunner creates a Runner.
func NewRunner(
	store job.Store,
	registry *job.Registry,
	emit EmitFunc,
	logger *slog.Logger,
	defaultPollInterval time.Duration,
	mws ...middleware.Middleware,
) *Runner {
	if defaultPollInterval <= 0 {
		defaultPollInterval = longhaul.DefaultConfig().StatusPollInterval
	}
	return &Runner{
		store:               store,
		registry:            registry,
		emit:                emit,
		mw:                  middleware.Chain(mws...),
		logger:              logger,
		defaultPollInterval: defaultPollInterval,
	}
}

// Execute runs a claimed job to a terminal state. It returns an error only
// for persistence problems the caller may want to back off on; a domain
// failure is resolved into the failed status and is not an error here.
func (r *Runner) Execute(ctx context.Context, j *job.Job) error {
	fn, ok := r.registry.Get(j.Name)
	if !ok {
		// Unknown names fail at dispatch time, not at submission: a record
		// created by an older deployment may name a function this build no
		// longer registers.
		return r.resolveFailure(ctx, j, nil, fmt.Errorf("%w: %q", longhaul.ErrUnknownJobName, j.Name))
	}

	pollInterval := r.defaultPollInterval
	if opts := r.registry.Opts(j.Name); opts.StatusPollInterval > 0 {
		pollInterval = opts.StatusPollInterval
	}

	run := &jobRun{
		job:          j,
		store:        r.store,
		emit:         r.emit,
		pollInterval: pollInterval,
		lastStatus:   job.StatusInProgress,
	}
	if ckpt, has := j.Checkpoint(); has {
		run.lastCheckpoint = ckpt
		run.hasCheckpoint = true
	}

	var outcome *job.Outcome
	terminal := func(ctx context.Context) error {
		var err error
		outcome, err = fn(ctx, run, j.Data)
		return err
	}

	execErr := r.mw(ctx, j, terminal)

	// An externally requested stop takes precedence over whatever the
	// function returned: the external actor already persisted the status,
	// so the runner only acknowledges.
	if external, stopped := run.observedStop(); stopped {
		return r.resolveExternalStop(j, external)
	}

	if execErr != nil {
		return r.resolveFailure(ctx, j, run, execErr)
	}
	return r.resolveSuccess(ctx, j, run, outcome)
}

// resolveSuccess persists the outcome strictly before the completed status,
// so a crash between the two leaves a resumable inProgress record rather
// than a completed record without results.
func (r *Runner) resolveSuccess(ctx context.Context, j *job.Job, run *jobRun, outcome *job.Outcome) error {
	upd := job.ResultUpdate{}
	if outcome != nil {
		if outcome.Results != nil {
			merged, err := job.MergeResults(j.Data, outcome.Results)
			if err != nil {
				return r.resolveFailure(ctx, j, run, fmt.Errorf("merge results: %w", err))
			}
			upd.Data = merged
		}
		upd.Resources = outcome.Resources
	}
	if msgs := buildMessages(j, run, outcome, nil); !msgs.Empty() {
		upd.StatusMessages = msgs
	}

	if err := r.store.SaveResult(ctx, j.ID, upd); err != nil {
		if errors.Is(err, longhaul.ErrJobNotFound) {
			// Deleted out from under us after the last safe point.
			return nil
		}
		return fmt.Errorf("save result for job %s: %w", j.ID, err)
	}

	updated, err := r.store.UpdateStatus(ctx, j.ID, job.StatusInProgress, job.StatusCompleted)
	if err != nil {
		return r.resolveLostRace(j, err)
	}

	r.emit(event.NewEnvelope(event.JobStatusChanged, event.StatusChangedData{
		JobPayload: payload(j),
		Status:     updated.Status,
	}))
	r.emit(event.NewEnvelope(event.JobCompleted, event.CompletedData{JobPayload: payload(j)}))
	r.logger.Info("job completed",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
	)
	return nil
}

// resolveFailure records the error in the job's status messages and moves
// it to failed. run may be nil when the function never started.
func (r *Runner) resolveFailure(ctx context.Context, j *job.Job, run *jobRun, execErr error) error {
	msgs := buildMessages(j, run, nil, execErr)
	if err := r.store.SaveResult(ctx, j.ID, job.ResultUpdate{StatusMessages: msgs}); err != nil {
		if errors.Is(err, longhaul.ErrJobNotFound) {
			return nil
		}
		return fmt.Errorf("save failure messages for job %s: %w", j.ID, err)
	}

	updated, err := r.store.UpdateStatus(ctx, j.ID, job.StatusInProgress, job.StatusFailed)
	if err != nil {
		return r.resolveLostRace(j, err)
	}

	r.emit(event.NewEnvelope(event.JobStatusChanged, event.StatusChangedData{
		JobPayload: payload(j),
		Status:     updated.Status,
	}))
	r.emit(event.NewEnvelope(event.JobFailed, event.FailedData{
		JobPayload: payload(j),
		Error:      execErr.Error(),
	}))
	r.logger.Warn("job failed",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.String("error", execErr.Error()),
	)
	return nil
}

// resolveExternalStop acknowledges a stop the function observed through
// Interrupted. The external actor already persisted the status; the runner
// emits the event that tells consumers execution actually wound down.
func (r *Runner) resolveExternalStop(j *job.Job, external job.Status) error {
	switch external {
	case job.StatusCancelled:
		r.emit(event.NewEnvelope(event.JobCancelled, event.CancelledData{JobPayload: payload(j)}))
		r.logger.Info("job cancelled at safe point",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
		)
	case job.StatusPaused:
		r.emit(event.NewEnvelope(event.JobUpdated, event.UpdatedData{JobPayload: payload(j)}))
		r.logger.Info("job paused at safe point",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
		)
	default:
		// Deleted: the record is gone, nothing to acknowledge.
		r.logger.Info("job deleted during execution",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
		)
	}
	return nil
}

// resolveLostRace handles a terminal compare-and-swap that did not land:
// an external actor cancelled, paused, or deleted the job after the last
// safe point. Their persisted status wins; the runner stands down.
func (r *Runner) resolveLostRace(j *job.Job, err error) error {
	if errors.Is(err, longhaul.ErrConflict) || errors.Is(err, longhaul.ErrJobNotFound) {
		r.logger.Info("terminal status lost race with external update",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
		)
		return nil
	}
	return fmt.Errorf("update status for job %s: %w", j.ID, err)
}

func payload(j *job.Job) event.JobPayload {
	return event.JobPayload{ID: j.ID, Name: j.Name}
}

// jobRun implements job.Run for one execution.
type jobRun struct {
	job          *job.Job
	store        job.Store
	emit         EmitFunc
	pollInterval time.Duration

	mu             sync.Mutex
	lastCheckpoint int
	hasCheckpoint  bool
	lastProgress   float64
	warnings       []string
	infos          []string

	lastPoll   time.Time
	lastStatus job.Status
	external   job.Status
	stopped    bool
	deleted    bool
}

var _ job.Run = (*jobRun)(nil)

func (r *jobRun) JobID() id.JobID { return r.job.ID }

func (r *jobRun) Checkpoint() (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastCheckpoint, r.hasCheckpoint
}

// SaveCheckpoint persists the resume position before returning, so a
// terminal status written later is always ordered after it.
func (r *jobRun) SaveCheckpoint(ctx context.Context, checkpoint int) error {
	r.mu.Lock()
	if r.hasCheckpoint && checkpoint < r.lastCheckpoint {
		last := r.lastCheckpoint
		r.mu.Unlock()
		return fmt.Errorf("checkpoint %d is behind previously saved %d", checkpoint, last)
	}
	r.mu.Unlock()

	if err := r.store.UpdateCheckpoint(ctx, r.job.ID, checkpoint); err != nil {
		return fmt.Errorf("save checkpoint for job %s: %w", r.job.ID, err)
	}

	r.mu.Lock()
	r.lastCheckpoint = checkpoint
	r.hasCheckpoint = true
	r.mu.Unlock()

	r.emit(event.NewEnvelope(event.Checkpoint, event.CheckpointData{Checkpoint: checkpoint}))
	return nil
}

// Progress clamps reported progress to [0, 1] and keeps it non-decreasing
// within this execution.
func (r *jobRun) Progress(customText string, progress float64) {
	r.mu.Lock()
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	if progress < r.lastProgress {
		progress = r.lastProgress
	}
	r.lastProgress = progress
	r.mu.Unlock()

	r.emit(event.NewEnvelope(event.Progress, event.ProgressData{
		Name:       r.job.Name,
		CustomText: customText,
		Progress:   progress,
	}))
}

func (r *jobRun) ProgressCount(customText string, count int) {
	r.emit(event.NewEnvelope(event.ProgressCount, event.ProgressCountData{
		Name:       r.job.Name,
		CustomText: customText,
		Progress:   count,
	}))
}

// Interrupted re-reads the stored status at most once per poll interval.
// Once a stop is observed it is cached: the answer never reverts within
// one execution.
func (r *jobRun) Interrupted(ctx context.Context) (job.Status, bool) {
	r.mu.Lock()
	if r.stopped {
		external, deleted := r.external, r.deleted
		r.mu.Unlock()
		if deleted {
			return "", true
		}
		return external, true
	}
	if !r.lastPoll.IsZero() && time.Since(r.lastPoll) < r.pollInterval {
		r.mu.Unlock()
		return "", false
	}
	r.mu.Unlock()

	current, err := r.store.Get(ctx, r.job.ID)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastPoll = time.Now()

	if err != nil {
		if errors.Is(err, longhaul.ErrJobNotFound) {
			r.stopped = true
			r.deleted = true
			return "", true
		}
		// A flapping store is not a stop request; keep running and let the
		// next poll retry.
		return "", false
	}

	r.lastStatus = current.Status
	if current.Status != job.StatusInProgress {
		r.stopped = true
		r.external = current.Status
		return current.Status, true
	}
	return "", false
}

func (r *jobRun) Warn(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warnings = append(r.warnings, msg)
}

func (r *jobRun) Info(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.infos = append(r.infos, msg)
}

// observedStop reports whether Interrupted saw an external stop request.
func (r *jobRun) observedStop() (job.Status, bool) {
	if r == nil {
		return "", false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.stopped {
		return "", false
	}
	if r.deleted {
		return "", true
	}
	return r.external, true
}

// buildMessages folds the record's existing messages, the messages
// collected through Warn/Info, the outcome's messages, and an optional
// failure into one StatusMessages value. Returns an empty value, never nil.
// run may be nil when the function never started.
func buildMessages(j *job.Job, run *jobRun, outcome *job.Outcome, execErr error) *job.StatusMessages {
	msgs := &job.StatusMessages{}
	if j.StatusMessages != nil {
		msgs.Errors = append(msgs.Errors, j.StatusMessages.Errors...)
		msgs.Warnings = append(msgs.Warnings, j.StatusMessages.Warnings...)
		msgs.Infos = append(msgs.Infos, j.StatusMessages.Infos...)
	}
	if run != nil {
		run.mu.Lock()
		msgs.Warnings = append(msgs.Warnings, run.warnings...)
		msgs.Infos = append(msgs.Infos, run.infos...)
		run.mu.Unlock()
	}
	if outcome != nil {
		msgs.Warnings = append(msgs.Warnings, outcome.Warnings...)
		msgs.Infos = append(msgs.Infos, outcome.Infos...)
	}
	if execErr != nil {
		msgs.Errors = append(msgs.Errors, execErr.Error())
	}
	return msgs
}
