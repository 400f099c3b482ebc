// Package resource manages the external file resources a job owns: a
// per-job directory for inputs and outputs, and the cleanup that runs when
// the job record is deleted. Record deletion and resource cleanup are one
// logical operation, but cleanup is best-effort — a failure to remove a
// file is reported, never allowed to block removal of the record.
package resource

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/xraph/longhaul/id"
	"github.com/xraph/longhaul/job"
)

// noOwnerDir holds job directories for jobs submitted without an owner.
const noOwnerDir = "no_owner"

// Manager resolves and cleans per-job resource directories under a base
// directory: <base>/<owner>/<jobID>/.
type Manager struct {
	base   string
	logger *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger for cleanup reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates a Manager rooted at base.
func NewManager(base string, opts ...Option) *Manager {
	m := &Manager{
		base:   base,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// JobDir returns the directory that holds the given job's files. It does
// not create the directory.
func (m *Manager) JobDir(owner string, jobID id.JobID) string {
	if owner == "" {
		owner = noOwnerDir
	}
	return filepath.Join(m.base, owner, jobID.String())
}

// EnsureJobDir creates the job's directory if needed and returns its path.
func (m *Manager) EnsureJobDir(owner string, jobID id.JobID) (string, error) {
	dir := m.JobDir(owner, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("resource: create job dir: %w", err)
	}
	return dir, nil
}

// FilePath resolves a named resource handle on the job to an existing
// file path. Relative handles resolve inside the job directory; absolute
// handles are taken as-is. Returns false if the handle is absent or the
// file does not exist.
func (m *Manager) FilePath(j *job.Job, key string) (string, bool) {
	name, ok := j.Resources[key]
	if !ok || name == "" {
		return "", false
	}
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(m.JobDir(j.Owner, j.ID), name)
	}
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	return path, true
}

// Cleanup removes the job's directory and any absolute-path resource
// handles outside it. Best-effort: every failure is collected and returned
// joined, but cleanup continues past individual failures. A nil return
// means every resource is gone (including the already-gone case).
func (m *Manager) Cleanup(j *job.Job) error {
	var errs []error

	dir := m.JobDir(j.Owner, j.ID)
	if err := os.RemoveAll(dir); err != nil {
		errs = append(errs, fmt.Errorf("remove job dir %s: %w", dir, err))
	}

	for key, name := range j.Resources {
		if !filepath.IsAbs(name) {
			continue // lived inside the job dir, already handled
		}
		if !strings.HasPrefix(name, m.base) {
			// A handle pointing outside the managed tree is suspicious;
			// report it rather than deleting arbitrary paths.
			errs = append(errs, fmt.Errorf("resource %q outside base dir: %s", key, name))
			continue
		}
		if err := os.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove resource %q: %w", key, err))
		}
	}

	if len(errs) > 0 {
		err := errors.Join(errs...)
		m.logger.Warn("job resource cleanup incomplete",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}
