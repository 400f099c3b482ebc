package sqlite_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/xraph/longhaul"
	"github.com/xraph/longhaul/id"
	"github.com/xraph/longhaul/job"
	"github.com/xraph/longhaul/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

func TestCreateGetRoundtrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, "odRouting", "u1", json.RawMessage(`{"parameters":{"demand":"d1"}}`))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.Status != job.StatusPending {
		t.Errorf("new job status = %q, want pending", created.Status)
	}
	if created.CreatedAt.IsZero() {
		t.Error("created_at not set")
	}

	got, err := s.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "odRouting" || got.Owner != "u1" {
		t.Errorf("roundtrip lost fields: %q/%q", got.Name, got.Owner)
	}
	if string(got.Data) != `{"parameters":{"demand":"d1"}}` {
		t.Errorf("data = %s", got.Data)
	}

	if _, err := s.Get(ctx, id.NewJobID()); !errors.Is(err, longhaul.ErrJobNotFound) {
		t.Errorf("Get missing: err = %v, want ErrJobNotFound", err)
	}
}

func TestUpdateStatus_CAS(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	j, _ := s.Create(ctx, "work", "u1", nil)

	updated, err := s.UpdateStatus(ctx, j.ID, job.StatusPending, job.StatusInProgress)
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if updated.Status != job.StatusInProgress {
		t.Errorf("status = %q, want inProgress", updated.Status)
	}

	if _, err := s.UpdateStatus(ctx, j.ID, job.StatusPending, job.StatusInProgress); !errors.Is(err, longhaul.ErrConflict) {
		t.Errorf("stale CAS: err = %v, want ErrConflict", err)
	}
	if _, err := s.UpdateStatus(ctx, id.NewJobID(), job.StatusPending, job.StatusInProgress); !errors.Is(err, longhaul.ErrJobNotFound) {
		t.Errorf("missing CAS: err = %v, want ErrJobNotFound", err)
	}
}

func TestCheckpointRoundtrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	j, _ := s.Create(ctx, "work", "u1", nil)

	if err := s.UpdateCheckpoint(ctx, j.ID, 17); err != nil {
		t.Fatalf("UpdateCheckpoint: %v", err)
	}
	got, _ := s.Get(ctx, j.ID)
	if ckpt, ok := got.Checkpoint(); !ok || ckpt != 17 {
		t.Errorf("checkpoint = %d/%v, want 17/true", ckpt, ok)
	}
}

func TestSaveResult(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	j, _ := s.Create(ctx, "work", "u1", json.RawMessage(`{"parameters":{}}`))

	upd := job.ResultUpdate{
		Data:           json.RawMessage(`{"parameters":{},"results":{"count":7}}`),
		Resources:      map[string]string{"output": "result.json"},
		StatusMessages: &job.StatusMessages{Infos: []string{"done"}},
	}
	if err := s.SaveResult(ctx, j.ID, upd); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}

	got, _ := s.Get(ctx, j.ID)
	if string(got.Data) != string(upd.Data) {
		t.Errorf("data = %s", got.Data)
	}
	if got.Resources["output"] != "result.json" {
		t.Errorf("resources = %v", got.Resources)
	}
	if got.StatusMessages == nil || len(got.StatusMessages.Infos) != 1 {
		t.Errorf("status messages = %+v", got.StatusMessages)
	}
	if got.Status != job.StatusPending {
		t.Errorf("SaveResult touched the status: %q", got.Status)
	}
}

func TestListOrderAndFilter(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	a, _ := s.Create(ctx, "a", "u1", nil)
	b, _ := s.Create(ctx, "b", "u2", nil)
	if _, err := s.UpdateStatus(ctx, b.ID, job.StatusPending, job.StatusInProgress); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	all, err := s.List(ctx, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("List all = %d jobs, want 2", len(all))
	}
	if all[0].CreatedAt.After(all[1].CreatedAt) {
		t.Error("List not ordered by creation time")
	}

	pending, _ := s.List(ctx, "", job.StatusPending)
	if len(pending) != 1 || pending[0].ID != a.ID {
		t.Error("status filter wrong")
	}
	u2, _ := s.List(ctx, "u2")
	if len(u2) != 1 || u2[0].ID != b.ID {
		t.Error("owner filter wrong")
	}
}

func TestDelete(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	j, _ := s.Create(ctx, "work", "u1", nil)

	if err := s.Delete(ctx, j.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, j.ID); !errors.Is(err, longhaul.ErrJobNotFound) {
		t.Errorf("double delete: err = %v, want ErrJobNotFound", err)
	}
}
