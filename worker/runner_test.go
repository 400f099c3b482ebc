package worker_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xraph/longhaul/event"
	"github.com/xraph/longhaul/id"
	"github.com/xraph/longhaul/job"
	"github.com/xraph/longhaul/store/memory"
	"github.com/xraph/longhaul/worker"
)

// capture records runner emissions, internal events included.
type capture struct {
	mu     sync.Mutex
	events []event.Envelope
}

func (c *capture) emit(env event.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, env)
}

func (c *capture) names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, len(c.events))
	for i, e := range c.events {
		names[i] = e.Event
	}
	return names
}

func (c *capture) has(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.events {
		if e.Event == name {
			return true
		}
	}
	return false
}

func (c *capture) payloads(name string) []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []any
	for _, e := range c.events {
		if e.Event == name {
			out = append(out, e.Data)
		}
	}
	return out
}

type routeParams struct {
	Demand string `json:"demand"`
}

// claim creates a job and claims it the way a coordinator would.
func claim(t *testing.T, s *memory.Store, name string, data json.RawMessage) *job.Job {
	t.Helper()
	ctx := context.Background()
	j, err := s.Create(ctx, name, "u1", data)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	claimed, err := s.UpdateStatus(ctx, j.ID, job.StatusPending, job.StatusInProgress)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	return claimed
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestExecute_Success(t *testing.T) {
	s := memory.New()
	reg := job.NewRegistry()
	cap := &capture{}

	job.RegisterDefinition(reg, job.NewDefinition("odRouting",
		func(_ context.Context, run job.Run, params routeParams) (*job.Outcome, error) {
			if params.Demand != "d1" {
				t.Errorf("params.Demand = %q, want d1", params.Demand)
			}
			run.Info("routing started")
			return &job.Outcome{
				Results:   json.RawMessage(`{"routed":10}`),
				Resources: map[string]string{"output": "paths.geojson"},
				Warnings:  []string{"2 trips unroutable"},
			}, nil
		}))

	r := worker.NewRunner(s, reg, cap.emit, testLogger(), time.Second)
	j := claim(t, s, "odRouting", json.RawMessage(`{"parameters":{"demand":"d1"}}`))

	if err := r.Execute(context.Background(), j); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got, _ := s.Get(context.Background(), j.ID)
	if got.Status != job.StatusCompleted {
		t.Errorf("status = %q, want completed", got.Status)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(got.Data, &doc); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if string(doc["results"]) != `{"routed":10}` {
		t.Errorf("results = %s", doc["results"])
	}
	if string(doc["parameters"]) != `{"demand":"d1"}` {
		t.Errorf("parameters lost: %s", doc["parameters"])
	}
	if got.Resources["output"] != "paths.geojson" {
		t.Errorf("resources = %v", got.Resources)
	}
	if got.StatusMessages == nil ||
		len(got.StatusMessages.Warnings) != 1 || len(got.StatusMessages.Infos) != 1 {
		t.Errorf("status messages = %+v", got.StatusMessages)
	}

	if !cap.has(event.JobCompleted) {
		t.Errorf("JobCompleted not emitted; got %v", cap.names())
	}
	if !cap.has(event.JobStatusChanged) {
		t.Errorf("JobStatusChanged not emitted; got %v", cap.names())
	}
	if cap.has(event.JobFailed) {
		t.Error("JobFailed emitted on success")
	}
}

func TestExecute_DomainFailure(t *testing.T) {
	s := memory.New()
	reg := job.NewRegistry()
	cap := &capture{}

	job.RegisterDefinition(reg, job.NewDefinition("brittle",
		func(_ context.Context, _ job.Run, _ struct{}) (*job.Outcome, error) {
			return nil, context.DeadlineExceeded
		}))

	r := worker.NewRunner(s, reg, cap.emit, testLogger(), time.Second)
	j := claim(t, s, "brittle", nil)

	if err := r.Execute(context.Background(), j); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got, _ := s.Get(context.Background(), j.ID)
	if got.Status != job.StatusFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
	if got.StatusMessages == nil || len(got.StatusMessages.Errors) == 0 {
		t.Fatal("failure not recorded in status messages")
	}
	if !cap.has(event.JobFailed) {
		t.Errorf("JobFailed not emitted; got %v", cap.names())
	}
	if cap.has(event.JobCompleted) {
		t.Error("JobCompleted emitted on failure")
	}
}

func TestExecute_UnregisteredName(t *testing.T) {
	s := memory.New()
	cap := &capture{}
	r := worker.NewRunner(s, job.NewRegistry(), cap.emit, testLogger(), time.Second)
	j := claim(t, s, "ghost", nil)

	if err := r.Execute(context.Background(), j); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got, _ := s.Get(context.Background(), j.ID)
	if got.Status != job.StatusFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
	if got.StatusMessages == nil || len(got.StatusMessages.Errors) == 0 ||
		!strings.Contains(got.StatusMessages.Errors[0], "ghost") {
		t.Errorf("status messages = %+v, want unknown-name error", got.StatusMessages)
	}
	if !cap.has(event.JobFailed) {
		t.Error("JobFailed not emitted for unregistered name")
	}
}

func TestExecute_ExternalCancelAtSafePoint(t *testing.T) {
	s := memory.New()
	reg := job.NewRegistry()
	cap := &capture{}

	steps := 0
	job.RegisterDefinition(reg, job.NewDefinition("loop",
		func(ctx context.Context, run job.Run, _ struct{}) (*job.Outcome, error) {
			for i := range 100 {
				if _, stop := run.Interrupted(ctx); stop {
					return nil, nil
				}
				steps = i + 1
			}
			return &job.Outcome{}, nil
		},
		job.WithStatusPollInterval(time.Nanosecond)))

	r := worker.NewRunner(s, reg, cap.emit, testLogger(), time.Second)
	j := claim(t, s, "loop", nil)

	// An operator cancels before the first safe point.
	if _, err := s.UpdateStatus(context.Background(), j.ID, job.StatusInProgress, job.StatusCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if err := r.Execute(context.Background(), j); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if steps != 0 {
		t.Errorf("function ran %d steps past the first safe point", steps)
	}
	got, _ := s.Get(context.Background(), j.ID)
	if got.Status != job.StatusCancelled {
		t.Errorf("status = %q, want cancelled (external status wins)", got.Status)
	}
	if !cap.has(event.JobCancelled) {
		t.Errorf("JobCancelled not emitted; got %v", cap.names())
	}
	if cap.has(event.JobCompleted) || cap.has(event.JobFailed) {
		t.Error("terminal event emitted despite external cancel")
	}
}

func TestExecute_ExternalPauseKeepsCheckpoint(t *testing.T) {
	s := memory.New()
	reg := job.NewRegistry()
	cap := &capture{}

	job.RegisterDefinition(reg, job.NewDefinition("resumable",
		func(ctx context.Context, run job.Run, _ struct{}) (*job.Outcome, error) {
			for i := 1; i <= 10; i++ {
				if err := run.SaveCheckpoint(ctx, i); err != nil {
					return nil, err
				}
				if i == 3 {
					// Pause lands here, between safe points.
					if _, err := s.UpdateStatus(ctx, run.JobID(), job.StatusInProgress, job.StatusPaused); err != nil {
						t.Errorf("pause: %v", err)
					}
				}
				if _, stop := run.Interrupted(ctx); stop {
					return nil, nil
				}
			}
			return &job.Outcome{}, nil
		},
		job.WithStatusPollInterval(time.Nanosecond)))

	r := worker.NewRunner(s, reg, cap.emit, testLogger(), time.Second)
	j := claim(t, s, "resumable", nil)

	if err := r.Execute(context.Background(), j); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got, _ := s.Get(context.Background(), j.ID)
	if got.Status != job.StatusPaused {
		t.Errorf("status = %q, want paused", got.Status)
	}
	if ckpt, ok := got.Checkpoint(); !ok || ckpt != 3 {
		t.Errorf("checkpoint = %d/%v, want 3/true", ckpt, ok)
	}
	if !cap.has(event.JobUpdated) {
		t.Errorf("JobUpdated not emitted on pause stop; got %v", cap.names())
	}
	// Checkpoint events stay on the runner's side of the relay; they are
	// emitted here because the capture sits before the relay.
	if !cap.has(event.Checkpoint) {
		t.Error("internal checkpoint event not emitted")
	}
}

func TestExecute_DeletedRecordStopsSilently(t *testing.T) {
	s := memory.New()
	reg := job.NewRegistry()
	cap := &capture{}

	job.RegisterDefinition(reg, job.NewDefinition("doomed",
		func(ctx context.Context, run job.Run, _ struct{}) (*job.Outcome, error) {
			if err := s.Delete(ctx, run.JobID()); err != nil {
				t.Errorf("delete: %v", err)
			}
			if external, stop := run.Interrupted(ctx); !stop || external != "" {
				t.Errorf("Interrupted = %q/%v, want \"\"/true after delete", external, stop)
			}
			return nil, nil
		},
		job.WithStatusPollInterval(time.Nanosecond)))

	r := worker.NewRunner(s, reg, cap.emit, testLogger(), time.Second)
	j := claim(t, s, "doomed", nil)

	if err := r.Execute(context.Background(), j); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	for _, name := range []string{event.JobCompleted, event.JobFailed, event.JobCancelled, event.JobUpdated} {
		if cap.has(name) {
			t.Errorf("%s emitted for a deleted record", name)
		}
	}
}

func TestExecute_ResumeFromCheckpoint(t *testing.T) {
	s := memory.New()
	reg := job.NewRegistry()
	cap := &capture{}

	var resumedFrom int
	job.RegisterDefinition(reg, job.NewDefinition("resumable",
		func(_ context.Context, run job.Run, _ struct{}) (*job.Outcome, error) {
			if ckpt, ok := run.Checkpoint(); ok {
				resumedFrom = ckpt
			}
			return &job.Outcome{}, nil
		}))

	r := worker.NewRunner(s, reg, cap.emit, testLogger(), time.Second)
	j := claim(t, s, "resumable", nil)

	// A previous execution persisted position 7 before being interrupted.
	if err := s.UpdateCheckpoint(context.Background(), j.ID, 7); err != nil {
		t.Fatalf("UpdateCheckpoint: %v", err)
	}
	fresh, _ := s.Get(context.Background(), j.ID)

	if err := r.Execute(context.Background(), fresh); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if resumedFrom != 7 {
		t.Errorf("resumed from %d, want 7", resumedFrom)
	}
}

func TestSaveCheckpoint_Monotonic(t *testing.T) {
	s := memory.New()
	reg := job.NewRegistry()
	cap := &capture{}

	job.RegisterDefinition(reg, job.NewDefinition("ordered",
		func(ctx context.Context, run job.Run, _ struct{}) (*job.Outcome, error) {
			if err := run.SaveCheckpoint(ctx, 5); err != nil {
				t.Errorf("SaveCheckpoint(5): %v", err)
			}
			if err := run.SaveCheckpoint(ctx, 3); err == nil {
				t.Error("SaveCheckpoint(3) after 5 did not error")
			}
			if err := run.SaveCheckpoint(ctx, 5); err != nil {
				t.Errorf("SaveCheckpoint(5) repeat: %v", err)
			}
			if err := run.SaveCheckpoint(ctx, 9); err != nil {
				t.Errorf("SaveCheckpoint(9): %v", err)
			}
			return &job.Outcome{}, nil
		}))

	r := worker.NewRunner(s, reg, cap.emit, testLogger(), time.Second)
	j := claim(t, s, "ordered", nil)

	if err := r.Execute(context.Background(), j); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	got, _ := s.Get(context.Background(), j.ID)
	if ckpt, ok := got.Checkpoint(); !ok || ckpt != 9 {
		t.Errorf("final checkpoint = %d/%v, want 9/true", ckpt, ok)
	}
}

func TestProgress_ClampedNonDecreasing(t *testing.T) {
	s := memory.New()
	reg := job.NewRegistry()
	cap := &capture{}

	job.RegisterDefinition(reg, job.NewDefinition("noisy",
		func(_ context.Context, run job.Run, _ struct{}) (*job.Outcome, error) {
			run.Progress("", 0.5)
			run.Progress("", 0.3) // stale report, must not regress
			run.Progress("", 1.5) // out of range, must clamp
			return &job.Outcome{}, nil
		}))

	r := worker.NewRunner(s, reg, cap.emit, testLogger(), time.Second)
	j := claim(t, s, "noisy", nil)

	if err := r.Execute(context.Background(), j); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var got []float64
	for _, p := range cap.payloads(event.Progress) {
		got = append(got, p.(event.ProgressData).Progress)
	}
	want := []float64{0.5, 0.5, 1.0}
	if len(got) != len(want) {
		t.Fatalf("progress emissions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("progress[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestExecute_TerminalCASLosesRace(t *testing.T) {
	s := memory.New()
	reg := job.NewRegistry()
	cap := &capture{}

	job.RegisterDefinition(reg, job.NewDefinition("racer",
		func(ctx context.Context, run job.Run, _ struct{}) (*job.Outcome, error) {
			// Cancelled after the function's last safe point: the runner
			// only discovers it when its terminal compare-and-swap fails.
			if _, err := s.UpdateStatus(ctx, run.JobID(), job.StatusInProgress, job.StatusCancelled); err != nil {
				t.Errorf("cancel: %v", err)
			}
			return &job.Outcome{Results: json.RawMessage(`{}`)}, nil
		}))

	r := worker.NewRunner(s, reg, cap.emit, testLogger(), time.Second)
	j := claim(t, s, "racer", nil)

	if err := r.Execute(context.Background(), j); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got, _ := s.Get(context.Background(), j.ID)
	if got.Status != job.StatusCancelled {
		t.Errorf("status = %q, want cancelled (external update wins)", got.Status)
	}
	if cap.has(event.JobCompleted) {
		t.Error("JobCompleted emitted although the terminal update lost the race")
	}
}

func TestExecute_StatusPollCaching(t *testing.T) {
	s := memory.New()
	reg := job.NewRegistry()
	cap := &capture{}

	var id0 id.JobID
	job.RegisterDefinition(reg, job.NewDefinition("cached",
		func(ctx context.Context, run job.Run, _ struct{}) (*job.Outcome, error) {
			id0 = run.JobID()
			// First poll reads the store; the cancel lands after it, and
			// the long poll interval keeps the cached answer until the end.
			if _, stop := run.Interrupted(ctx); stop {
				t.Error("stopped before any external request")
			}
			if _, err := s.UpdateStatus(ctx, run.JobID(), job.StatusInProgress, job.StatusCancelled); err != nil {
				t.Errorf("cancel: %v", err)
			}
			if _, stop := run.Interrupted(ctx); stop {
				t.Error("cancel observed within the poll interval; caching broken")
			}
			return &job.Outcome{}, nil
		},
		job.WithStatusPollInterval(time.Hour)))

	r := worker.NewRunner(s, reg, cap.emit, testLogger(), time.Second)
	j := claim(t, s, "cached", nil)

	if err := r.Execute(context.Background(), j); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	got, _ := s.Get(context.Background(), id0)
	if got.Status != job.StatusCancelled {
		t.Errorf("status = %q, want cancelled", got.Status)
	}
}
