// Package memory provides a fully in-memory store. Safe for concurrent
// access. Intended for unit testing and development.
package memory

import (
	"context"
	"encoding/json"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/xraph/longhaul"
	"github.com/xraph/longhaul/id"
	"github.com/xraph/longhaul/job"
)

// Ensure Store implements job.Store at compile time.
// We can't import store here (import cycle), so we verify the subsystem.
var _ job.Store = (*Store)(nil)

// Store is an in-memory implementation of store.Store.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*job.Job
}

// New returns a new empty Store.
func New() *Store {
	return &Store{jobs: make(map[string]*job.Job)}
}

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// Create inserts a new job in pending status.
func (m *Store) Create(_ context.Context, name, owner string, data json.RawMessage) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	j := &job.Job{
		ID:     id.NewJobID(),
		Name:   name,
		Owner:  owner,
		Status: job.StatusPending,
		Data:   append(json.RawMessage(nil), data...),
	}
	j.CreatedAt = now
	j.UpdatedAt = now

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return nil, longhaul.ErrJobAlreadyExists
	}
	m.jobs[key] = j
	return j.Clone(), nil
}

// Get retrieves a job by ID.
func (m *Store) Get(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, longhaul.ErrJobNotFound
	}
	return j.Clone(), nil
}

// List returns jobs for the given owner matching any of the given statuses,
// ordered by creation time ascending.
func (m *Store) List(_ context.Context, owner string, statuses ...job.Status) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if owner != "" && j.Owner != owner {
			continue
		}
		if len(statuses) > 0 && !slices.Contains(statuses, j.Status) {
			continue
		}
		result = append(result, j.Clone())
	}

	// Creation order, with the ID as a stable tie-break for equal timestamps.
	slices.SortFunc(result, func(a, b *job.Job) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return result, nil
}

// UpdateStatus persists next only if the stored status still equals
// expected.
func (m *Store) UpdateStatus(_ context.Context, jobID id.JobID, expected, next job.Status) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, longhaul.ErrJobNotFound
	}
	if j.Status != expected {
		return nil, longhaul.ErrConflict
	}
	j.Status = next
	j.UpdatedAt = time.Now().UTC()
	return j.Clone(), nil
}

// UpdateCheckpoint persists the runner's resume position.
func (m *Store) UpdateCheckpoint(_ context.Context, jobID id.JobID, checkpoint int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return longhaul.ErrJobNotFound
	}
	ckpt := checkpoint
	j.InternalData.Checkpoint = &ckpt
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// SaveResult persists the payload fields of a finished or checkpointed job.
func (m *Store) SaveResult(_ context.Context, jobID id.JobID, upd job.ResultUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return longhaul.ErrJobNotFound
	}
	if upd.Data != nil {
		j.Data = append(json.RawMessage(nil), upd.Data...)
	}
	if upd.Resources != nil {
		j.Resources = make(map[string]string, len(upd.Resources))
		for k, v := range upd.Resources {
			j.Resources[k] = v
		}
	}
	if upd.StatusMessages != nil {
		msgs := *upd.StatusMessages
		j.StatusMessages = &msgs
	}
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// Delete removes a job by ID.
func (m *Store) Delete(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	if _, ok := m.jobs[key]; !ok {
		return longhaul.ErrJobNotFound
	}
	delete(m.jobs, key)
	return nil
}
