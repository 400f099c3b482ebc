// Package engine wires the longhaul subsystems together: the job store,
// the event bus, the registry of job functions, the resource manager, and
// the worker pool coordinator. It is the surface applications program
// against — submit, inspect, and control jobs here.
//
// This package exists to sit above all subsystem packages: the root
// longhaul package defines Entity and the shared errors (imported by job,
// event, and the stores) and so cannot import those packages back.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/longhaul"
	"github.com/xraph/longhaul/admission"
	"github.com/xraph/longhaul/backoff"
	"github.com/xraph/longhaul/event"
	"github.com/xraph/longhaul/id"
	"github.com/xraph/longhaul/job"
	mw "github.com/xraph/longhaul/middleware"
	"github.com/xraph/longhaul/resource"
	"github.com/xraph/longhaul/store"
	"github.com/xraph/longhaul/worker"
)

// Engine owns the lifecycle of the job framework inside one process.
type Engine struct {
	store     store.Store
	registry  *job.Registry
	bus       *event.Bus
	resources *resource.Manager
	coord     *worker.Coordinator
	config    longhaul.Config
	logger    *slog.Logger

	mws            []mw.Middleware
	adm            *admission.Manager
	bo             backoff.Strategy
	requeueOnStart bool

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	observeCancel func()
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithConfig sets the coordinator configuration.
func WithConfig(cfg longhaul.Config) Option {
	return func(e *Engine) { e.config = cfg }
}

// WithBus sets a shared event bus. Use this when several engines (or other
// producers) should publish onto one channel.
func WithBus(b *event.Bus) Option {
	return func(e *Engine) { e.bus = b }
}

// WithResourceManager sets the per-job file resource manager. Without one,
// Delete removes only the record.
func WithResourceManager(m *resource.Manager) Option {
	return func(e *Engine) { e.resources = m }
}

// WithAdmission sets per-owner admission control for dispatch.
func WithAdmission(m *admission.Manager) Option {
	return func(e *Engine) { e.adm = m }
}

// WithBackoff sets the delay strategy applied after store scan errors.
// If not set, backoff.DefaultStrategy() (exponential with jitter) is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(e *Engine) { e.bo = b }
}

// WithMiddleware appends middleware to the execution chain, inside the
// default recover/tracing/metrics/logging stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(e *Engine) { e.mws = append(e.mws, m) }
}

// WithRequeueOnStart makes Start re-dispatch jobs left inProgress or
// pending by a previous process, so checkpointed work survives restarts.
func WithRequeueOnStart() Option {
	return func(e *Engine) { e.requeueOnStart = true }
}

// WithTracerProvider sets a custom OTel TracerProvider for the tracing
// middleware. If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider for the metrics
// middleware and the bus lifecycle counter. If not set, the global
// otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Engine) { e.meterProvider = mp }
}

const otelScope = "github.com/xraph/longhaul"

// New creates an Engine over the given store.
func New(st store.Store, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, longhaul.ErrNoStore
	}

	e := &Engine{
		store:    st,
		registry: job.NewRegistry(),
		config:   longhaul.DefaultConfig(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.bus == nil {
		e.bus = event.NewBus(event.WithBusLogger(e.logger))
	}
	if e.bo == nil {
		e.bo = backoff.DefaultStrategy()
	}

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if e.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(e.tracerProvider.Tracer(otelScope))
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if e.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(e.meterProvider.Meter(otelScope))
	} else {
		metricsMw = mw.Metrics()
	}

	allMws := make([]mw.Middleware, 0, 4+len(e.mws))
	if e.config.CrashPolicy != longhaul.CrashRequeue {
		// Under CrashRequeue a panic must escape to the slot boundary so
		// the crashed job returns to pending; Recover would turn it into a
		// plain failure first.
		allMws = append(allMws, mw.Recover(e.logger))
	}
	allMws = append(allMws,
		tracingMw,
		metricsMw,
		mw.Logging(e.logger),
	)
	allMws = append(allMws, e.mws...)

	coordOpts := []worker.CoordinatorOption{
		worker.WithConfig(e.config),
		worker.WithBackoff(e.bo),
		worker.WithMiddleware(allMws...),
	}
	if e.adm != nil {
		coordOpts = append(coordOpts, worker.WithAdmission(e.adm))
	}
	e.coord = worker.NewCoordinator(e.store, e.registry, e.bus, e.logger, coordOpts...)

	return e, nil
}

// Register registers a typed job definition with the engine.
func Register[T any](e *Engine, def *job.Definition[T]) {
	job.RegisterDefinition(e.registry, def)
}

// Submit creates a job for the named function with typed parameters and
// nudges the coordinator. The job starts in pending; registration is not
// checked here — a name nothing registers fails at dispatch time.
func Submit[T any](ctx context.Context, e *Engine, name, owner string, params T) (*job.Job, error) {
	data, err := job.Payload(params)
	if err != nil {
		return nil, fmt.Errorf("marshal parameters for job %q: %w", name, err)
	}
	return e.SubmitRaw(ctx, name, owner, data)
}

// SubmitRaw creates a job with a pre-serialized data payload. The payload
// must already carry the {"parameters": …} envelope.
func (e *Engine) SubmitRaw(ctx context.Context, name, owner string, data json.RawMessage) (*job.Job, error) {
	j, err := e.store.Create(ctx, name, owner, data)
	if err != nil {
		return nil, err
	}

	e.bus.Publish(event.JobCreated, event.CreatedData{
		JobPayload: event.JobPayload{ID: j.ID, Name: j.Name},
		Owner:      j.Owner,
	})
	e.logger.Info("job submitted",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.String("owner", j.Owner),
	)

	e.coord.Kick()
	return j, nil
}

// Get retrieves a job by ID.
func (e *Engine) Get(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return e.store.Get(ctx, jobID)
}

// List returns jobs for the given owner matching any of the given
// statuses, oldest first. An empty owner matches all owners; no statuses
// matches all statuses.
func (e *Engine) List(ctx context.Context, owner string, statuses ...job.Status) ([]*job.Job, error) {
	return e.store.List(ctx, owner, statuses...)
}

// Cancel requests cancellation of a job. For pending and paused jobs the
// cancellation is immediate. For an inProgress job the status is persisted
// now and the runner winds down at its next safe point — consumers learn
// that execution actually stopped from the executableJob.cancelled event
// the runner emits then.
//
// Returns longhaul.ErrInvalidTransition for terminal jobs and
// longhaul.ErrConflict when the status changed concurrently; a conflicted
// caller should re-read the job rather than retry blindly.
func (e *Engine) Cancel(ctx context.Context, jobID id.JobID) error {
	j, err := e.store.Get(ctx, jobID)
	if err != nil {
		return err
	}

	next, err := job.Next(j.Status, job.TransitionCancel)
	if err != nil {
		return err
	}

	updated, err := e.store.UpdateStatus(ctx, jobID, j.Status, next)
	if err != nil {
		return err
	}

	e.bus.Publish(event.JobStatusChanged, event.StatusChangedData{
		JobPayload: event.JobPayload{ID: updated.ID, Name: updated.Name},
		Status:     updated.Status,
	})
	if j.Status != job.StatusInProgress {
		// No runner holds this job, so nobody else will acknowledge.
		e.bus.Publish(event.JobCancelled, event.CancelledData{
			JobPayload: event.JobPayload{ID: updated.ID, Name: updated.Name},
		})
	}
	e.logger.Info("job cancelled",
		slog.String("job_id", jobID.String()),
		slog.String("was", string(j.Status)),
	)
	return nil
}

// Pause suspends an inProgress job. The status is persisted now; the
// runner stops at its next safe point with the checkpoint it last saved.
func (e *Engine) Pause(ctx context.Context, jobID id.JobID) error {
	j, err := e.store.Get(ctx, jobID)
	if err != nil {
		return err
	}

	next, err := job.Next(j.Status, job.TransitionPause)
	if err != nil {
		return err
	}

	updated, err := e.store.UpdateStatus(ctx, jobID, j.Status, next)
	if err != nil {
		return err
	}

	e.bus.Publish(event.JobStatusChanged, event.StatusChangedData{
		JobPayload: event.JobPayload{ID: updated.ID, Name: updated.Name},
		Status:     updated.Status,
	})
	e.logger.Info("job paused", slog.String("job_id", jobID.String()))
	return nil
}

// Resume returns a paused job to the pending queue. The next free slot
// re-runs it; the function sees the persisted checkpoint and continues
// from there.
func (e *Engine) Resume(ctx context.Context, jobID id.JobID) error {
	j, err := e.store.Get(ctx, jobID)
	if err != nil {
		return err
	}

	next, err := job.Next(j.Status, job.TransitionResume)
	if err != nil {
		return err
	}

	updated, err := e.store.UpdateStatus(ctx, jobID, j.Status, next)
	if err != nil {
		return err
	}

	e.bus.Publish(event.JobStatusChanged, event.StatusChangedData{
		JobPayload: event.JobPayload{ID: updated.ID, Name: updated.Name},
		Status:     updated.Status,
	})
	e.logger.Info("job resumed", slog.String("job_id", jobID.String()))

	e.coord.Kick()
	return nil
}

// Delete removes a job record and its file resources. A non-terminal job
// is cancelled first so any runner winds down. Resource cleanup is
// best-effort: a failure is reported on the bus as an error event but
// never blocks removal of the record.
func (e *Engine) Delete(ctx context.Context, jobID id.JobID) error {
	j, err := e.store.Get(ctx, jobID)
	if err != nil {
		return err
	}

	if !j.Status.Terminal() {
		if cancelErr := e.Cancel(ctx, jobID); cancelErr != nil && !errors.Is(cancelErr, longhaul.ErrConflict) {
			e.logger.Warn("cancel before delete failed",
				slog.String("job_id", jobID.String()),
				slog.String("error", cancelErr.Error()),
			)
		}
	}

	if e.resources != nil {
		if cleanErr := e.resources.Cleanup(j); cleanErr != nil {
			e.bus.Publish(event.Error, event.ErrorData{
				Name:  j.Name,
				Error: fmt.Sprintf("cleanup resources for job %s: %v", j.ID, cleanErr),
			})
		}
	}

	if err := e.store.Delete(ctx, jobID); err != nil {
		return err
	}

	payload := event.JobPayload{ID: j.ID, Name: j.Name}
	e.bus.Publish(event.JobDeleted, event.DeletedData{JobPayload: payload})
	e.bus.Publish(event.JobUpdated, event.UpdatedData{JobPayload: payload})
	e.logger.Info("job deleted", slog.String("job_id", jobID.String()))
	return nil
}

// Start checks store connectivity, wires bus observability, and starts the
// coordinator. With WithRequeueOnStart, interrupted jobs from a previous
// process are re-dispatched in the background.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.store.Ping(ctx); err != nil {
		return fmt.Errorf("ping store: %w", err)
	}

	if e.meterProvider != nil {
		e.observeCancel = event.ObserveWithMeter(e.bus, e.logger, e.meterProvider.Meter(otelScope))
	} else {
		e.observeCancel = event.Observe(e.bus, e.logger)
	}

	// The interrupted snapshot is taken before the dispatch loop starts:
	// a job the first scan claims is also inProgress, and re-dispatching it
	// from the snapshot would run it on two slots at once.
	var interrupted []*job.Job
	if e.requeueOnStart {
		var err error
		interrupted, err = e.store.List(ctx, "", job.StatusInProgress)
		if err != nil {
			return fmt.Errorf("list interrupted jobs: %w", err)
		}
	}

	if err := e.coord.Start(ctx); err != nil {
		return err
	}

	if e.requeueOnStart {
		go func() {
			if err := e.coord.DispatchInterrupted(context.Background(), interrupted); err != nil {
				e.logger.Error("requeue interrupted jobs failed", slog.String("error", err.Error()))
			}
			// Pending leftovers are picked up by the first scan.
			e.coord.Kick()
		}()
	}
	return nil
}

// Stop drains the coordinator and closes the store.
func (e *Engine) Stop(ctx context.Context) error {
	if err := e.coord.Stop(ctx); err != nil {
		return err
	}
	if e.observeCancel != nil {
		e.observeCancel()
		e.observeCancel = nil
	}
	return e.store.Close()
}

// Registry returns the job registry.
func (e *Engine) Registry() *job.Registry { return e.registry }

// Bus returns the event bus.
func (e *Engine) Bus() *event.Bus { return e.bus }

// Coordinator returns the worker pool coordinator.
func (e *Engine) Coordinator() *worker.Coordinator { return e.coord }

// Store returns the underlying store.
func (e *Engine) Store() store.Store { return e.store }

// Resources returns the resource manager, or nil if none was configured.
func (e *Engine) Resources() *resource.Manager { return e.resources }
