package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/xraph/longhaul"
	"github.com/xraph/longhaul/admission"
	"github.com/xraph/longhaul/backoff"
	"github.com/xraph/longhaul/event"
	"github.com/xraph/longhaul/id"
	"github.com/xraph/longhaul/job"
	"github.com/xraph/longhaul/middleware"
)

// Coordinator owns the bounded pool of execution slots. It scans the store
// for pending jobs, claims them through the status compare-and-swap, and
// runs each claimed job on a free slot. Claiming is the only admission
// gate: two coordinators scanning the same store race at the row, and the
// loser simply moves on.
type Coordinator struct {
	store     job.Store
	registry  *job.Registry
	bus       *event.Bus
	runner    *Runner
	admission *admission.Manager
	backoff   backoff.Strategy
	config    longhaul.Config
	workerID  id.WorkerID
	logger    *slog.Logger
	mws       []middleware.Middleware

	slots   chan struct{}
	trigger chan struct{}
	stopCh  chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	running bool
	stopped bool

	activeMu sync.Mutex
	active   map[string]context.CancelFunc
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithConfig sets the coordinator configuration.
func WithConfig(cfg longhaul.Config) CoordinatorOption {
	return func(c *Coordinator) { c.config = cfg }
}

// WithAdmission sets the per-owner admission manager. Without one, every
// pending job is admitted whenever a slot is free.
func WithAdmission(m *admission.Manager) CoordinatorOption {
	return func(c *Coordinator) { c.admission = m }
}

// WithBackoff sets the delay strategy applied after store scan errors.
func WithBackoff(s backoff.Strategy) CoordinatorOption {
	return func(c *Coordinator) { c.backoff = s }
}

// WithMiddleware sets the middleware chain jobs execute through.
func WithMiddleware(mws ...middleware.Middleware) CoordinatorOption {
	return func(c *Coordinator) { c.mws = mws }
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(
	store job.Store,
	registry *job.Registry,
	bus *event.Bus,
	logger *slog.Logger,
	opts ...CoordinatorOption,
) *Coordinator {
	c := &Coordinator{
		store:    store,
		registry: registry,
		bus:      bus,
		backoff:  backoff.DefaultStrategy(),
		config:   longhaul.DefaultConfig(),
		workerID: id.NewWorkerID(),
		logger:   logger,
		trigger:  make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		active:   make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.config.MaxConcurrentJobs <= 0 {
		c.config.MaxConcurrentJobs = longhaul.DefaultConfig().MaxConcurrentJobs
	}
	c.slots = make(chan struct{}, c.config.MaxConcurrentJobs)
	for range c.config.MaxConcurrentJobs {
		c.slots <- struct{}{}
	}
	c.runner = NewRunner(store, registry, c.relay, logger, c.config.StatusPollInterval, c.mws...)
	return c
}

// WorkerID returns the coordinator's unique worker identifier.
func (c *Coordinator) WorkerID() id.WorkerID { return c.workerID }

// Start launches the dispatch loop. It returns immediately. A Coordinator
// is one-shot: after Stop it cannot be started again and Start returns
// ErrCoordinatorStopped.
func (c *Coordinator) Start(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return longhaul.ErrCoordinatorStopped
	}
	if c.running {
		return nil
	}
	c.running = true

	c.logger.Info("coordinator starting",
		slog.String("worker_id", c.workerID.String()),
		slog.Int("slots", c.config.MaxConcurrentJobs),
		slog.Duration("poll_interval", c.config.PollInterval),
	)

	c.wg.Add(1)
	go c.dispatchLoop()
	return nil
}

// Stop signals the dispatch loop to stop and waits for in-flight jobs up
// to the configured shutdown timeout, then cancels their contexts. Jobs
// interrupted this way stay inProgress in the store and are picked up by
// RequeueInterrupted on the next start. Stop is final: the Coordinator
// cannot be restarted afterwards.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.stopped = true
	c.mu.Unlock()

	c.logger.Info("coordinator stopping", slog.String("worker_id", c.workerID.String()))
	close(c.stopCh)

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	timeout := c.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = longhaul.DefaultConfig().ShutdownTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		c.logger.Info("coordinator stopped gracefully")
	case <-timer.C:
		c.logger.Warn("coordinator shutdown timed out, cancelling in-flight jobs")
		c.cancelActive()
		c.wg.Wait()
	case <-ctx.Done():
		c.logger.Warn("coordinator shutdown context done, cancelling in-flight jobs")
		c.cancelActive()
		c.wg.Wait()
	}
	return nil
}

// Kick asks the dispatch loop to scan for pending work now instead of
// waiting for the next poll tick. Non-blocking; a pending kick coalesces.
func (c *Coordinator) Kick() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// ActiveJobs returns the number of jobs currently executing.
func (c *Coordinator) ActiveJobs() int {
	c.activeMu.Lock()
	defer c.activeMu.Unlock()
	return len(c.active)
}

// RequeueInterrupted re-dispatches jobs left inProgress by a process that
// died: their claim is still held (nobody else claims inProgress), so they
// are handed straight to execution slots to resume from their checkpoints.
// Jobs this coordinator is already executing are skipped — a job the
// dispatch loop claimed is also inProgress, and handing it to a second
// slot would run two runners against one record. To close that race
// completely, take the listing before Start and hand it to
// DispatchInterrupted.
func (c *Coordinator) RequeueInterrupted(ctx context.Context) error {
	interrupted, err := c.store.List(ctx, "", job.StatusInProgress)
	if err != nil {
		return fmt.Errorf("list interrupted jobs: %w", err)
	}
	return c.DispatchInterrupted(ctx, interrupted)
}

// DispatchInterrupted hands a snapshot of interrupted (inProgress) jobs to
// execution slots. Blocks until every job has a slot or the coordinator
// stops.
func (c *Coordinator) DispatchInterrupted(ctx context.Context, interrupted []*job.Job) error {
	if len(interrupted) == 0 {
		return nil
	}

	c.logger.Info("re-dispatching interrupted jobs", slog.Int("count", len(interrupted)))
	for _, j := range interrupted {
		if c.isActive(j.ID.String()) {
			continue
		}
		select {
		case <-c.stopCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-c.slots:
		}
		if c.admission != nil && !c.admission.Acquire(j.Owner) {
			// Denied admission: release the slot and return the job to
			// pending so a later scan retries it.
			c.slots <- struct{}{}
			if _, updErr := c.store.UpdateStatus(ctx, j.ID, job.StatusInProgress, job.StatusPending); updErr != nil {
				c.logger.Warn("failed to return interrupted job to pending",
					slog.String("job_id", j.ID.String()),
					slog.String("error", updErr.Error()),
				)
			}
			continue
		}
		c.wg.Add(1)
		go c.runSlot(j)
	}
	return nil
}

// dispatchLoop scans for pending jobs on every poll tick and on every Kick.
func (c *Coordinator) dispatchLoop() {
	defer c.wg.Done()

	interval := c.config.PollInterval
	if interval <= 0 {
		interval = longhaul.DefaultConfig().PollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	attempt := 0
	for {
		select {
		case <-c.stopCh:
			return
		case <-c.trigger:
		case <-ticker.C:
		}

		if err := c.dispatchPending(); err != nil {
			attempt++
			delay := c.backoff.Delay(attempt)
			c.logger.Error("dispatch scan failed",
				slog.String("error", err.Error()),
				slog.Int("attempt", attempt),
				slog.Duration("retry_in", delay),
			)
			select {
			case <-time.After(delay):
			case <-c.stopCh:
				return
			}
			continue
		}
		attempt = 0
	}
}

// dispatchPending claims pending jobs while free slots remain. Oldest
// first: the scan is ordered by creation time.
func (c *Coordinator) dispatchPending() error {
	ctx := context.Background()

	pending, err := c.store.List(ctx, "", job.StatusPending)
	if err != nil {
		return err
	}

	for _, j := range pending {
		select {
		case <-c.stopCh:
			return nil
		default:
		}

		// Take a slot first so a successful claim always has somewhere to
		// run. No slot free means nothing more to do this scan.
		select {
		case <-c.slots:
		default:
			return nil
		}

		if c.admission != nil && !c.admission.Acquire(j.Owner) {
			c.slots <- struct{}{}
			continue
		}

		claimed, claimErr := c.store.UpdateStatus(ctx, j.ID, job.StatusPending, job.StatusInProgress)
		if claimErr != nil {
			c.slots <- struct{}{}
			if c.admission != nil {
				c.admission.Release(j.Owner)
			}
			if errors.Is(claimErr, longhaul.ErrConflict) || errors.Is(claimErr, longhaul.ErrJobNotFound) {
				// Another coordinator won the claim, or the record is gone.
				continue
			}
			return claimErr
		}

		c.bus.Publish(event.JobStatusChanged, event.StatusChangedData{
			JobPayload: event.JobPayload{ID: claimed.ID, Name: claimed.Name},
			Status:     claimed.Status,
		})

		c.wg.Add(1)
		go c.runSlot(claimed)
	}
	return nil
}

// runSlot executes one claimed job and returns the slot when done. A panic
// escaping the runner marks the slot dead and resolves the job per the
// crash policy instead of taking down the process.
func (c *Coordinator) runSlot(j *job.Job) {
	defer c.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	c.track(j.ID.String(), cancel)

	func() {
		defer func() {
			if r := recover(); r != nil {
				c.resolveCrash(j, r)
			}
		}()
		if err := c.runner.Execute(ctx, j); err != nil {
			c.logger.Error("job execution error",
				slog.String("job_id", j.ID.String()),
				slog.String("job_name", j.Name),
				slog.String("error", err.Error()),
			)
		}
	}()

	c.untrack(j.ID.String())
	cancel()
	if c.admission != nil {
		c.admission.Release(j.Owner)
	}
	c.slots <- struct{}{}
	// A freed slot may unblock the oldest pending job.
	c.Kick()
}

// resolveCrash applies the crash policy to a job whose slot died.
func (c *Coordinator) resolveCrash(j *job.Job, panicked any) {
	c.logger.Error("execution slot crashed",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.Any("panic", panicked),
		slog.String("stack", string(debug.Stack())),
	)

	ctx := context.Background()
	switch c.config.CrashPolicy {
	case longhaul.CrashRequeue:
		// The checkpoint survives, so a free slot resumes from it.
		if _, err := c.store.UpdateStatus(ctx, j.ID, job.StatusInProgress, job.StatusPending); err != nil {
			c.logger.Error("failed to requeue crashed job",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
			return
		}
		c.bus.Publish(event.JobStatusChanged, event.StatusChangedData{
			JobPayload: event.JobPayload{ID: j.ID, Name: j.Name},
			Status:     job.StatusPending,
		})
	default: // CrashFail
		msg := fmt.Sprintf("execution crashed: %v", panicked)
		msgs := &job.StatusMessages{Errors: []string{msg}}
		if current, err := c.store.Get(ctx, j.ID); err == nil && current.StatusMessages != nil {
			msgs.Errors = append(current.StatusMessages.Errors, msg)
			msgs.Warnings = current.StatusMessages.Warnings
			msgs.Infos = current.StatusMessages.Infos
		}
		if err := c.store.SaveResult(ctx, j.ID, job.ResultUpdate{StatusMessages: msgs}); err != nil {
			c.logger.Error("failed to record crash message",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
		}
		if _, err := c.store.UpdateStatus(ctx, j.ID, job.StatusInProgress, job.StatusFailed); err != nil {
			c.logger.Error("failed to fail crashed job",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
			return
		}
		c.bus.Publish(event.JobStatusChanged, event.StatusChangedData{
			JobPayload: event.JobPayload{ID: j.ID, Name: j.Name},
			Status:     job.StatusFailed,
		})
		c.bus.Publish(event.JobFailed, event.FailedData{
			JobPayload: event.JobPayload{ID: j.ID, Name: j.Name},
			Error:      msg,
		})
	}
}

// relay publishes runner envelopes onto the shared bus, dropping
// framework-internal events so checkpoint plumbing never reaches
// consumers.
func (c *Coordinator) relay(env event.Envelope) {
	if event.Internal(env.Event) {
		return
	}
	c.bus.Publish(env.Event, env.Data)
}

func (c *Coordinator) track(jobID string, cancel context.CancelFunc) {
	c.activeMu.Lock()
	c.active[jobID] = cancel
	c.activeMu.Unlock()
}

func (c *Coordinator) untrack(jobID string) {
	c.activeMu.Lock()
	delete(c.active, jobID)
	c.activeMu.Unlock()
}

func (c *Coordinator) isActive(jobID string) bool {
	c.activeMu.Lock()
	defer c.activeMu.Unlock()
	_, ok := c.active[jobID]
	return ok
}

func (c *Coordinator) cancelActive() {
	c.activeMu.Lock()
	defer c.activeMu.Unlock()
	for jobID, cancel := range c.active {
		c.logger.Warn("cancelling in-flight job", slog.String("job_id", jobID))
		cancel()
	}
}
