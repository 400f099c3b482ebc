package resource_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/xraph/longhaul/id"
	"github.com/xraph/longhaul/job"
	"github.com/xraph/longhaul/resource"
)

func TestEnsureJobDir(t *testing.T) {
	m := resource.NewManager(t.TempDir())
	jobID := id.NewJobID()

	dir, err := m.EnsureJobDir("u1", jobID)
	if err != nil {
		t.Fatalf("EnsureJobDir: %v", err)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Fatalf("job dir not created: %v", err)
	}
	if got := m.JobDir("u1", jobID); got != dir {
		t.Errorf("JobDir = %q, want %q", got, dir)
	}
}

func TestJobDir_NoOwner(t *testing.T) {
	base := t.TempDir()
	m := resource.NewManager(base)
	jobID := id.NewJobID()

	want := filepath.Join(base, "no_owner", jobID.String())
	if got := m.JobDir("", jobID); got != want {
		t.Errorf("JobDir = %q, want %q", got, want)
	}
}

func TestFilePath(t *testing.T) {
	m := resource.NewManager(t.TempDir())
	j := &job.Job{ID: id.NewJobID(), Owner: "u1", Resources: map[string]string{"input": "odTrips.csv"}}

	if _, ok := m.FilePath(j, "input"); ok {
		t.Error("FilePath resolved a file that does not exist")
	}

	dir, err := m.EnsureJobDir(j.Owner, j.ID)
	if err != nil {
		t.Fatalf("EnsureJobDir: %v", err)
	}
	path := filepath.Join(dir, "odTrips.csv")
	if err := os.WriteFile(path, []byte("origin,destination\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, ok := m.FilePath(j, "input")
	if !ok {
		t.Fatal("FilePath did not resolve existing file")
	}
	if got != path {
		t.Errorf("FilePath = %q, want %q", got, path)
	}
	if _, ok := m.FilePath(j, "missing"); ok {
		t.Error("FilePath resolved an absent handle")
	}
}

func TestCleanup_RemovesJobDir(t *testing.T) {
	m := resource.NewManager(t.TempDir())
	j := &job.Job{ID: id.NewJobID(), Owner: "u1"}

	dir, err := m.EnsureJobDir(j.Owner, j.ID)
	if err != nil {
		t.Fatalf("EnsureJobDir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "result.geojson"), []byte("{}"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := m.Cleanup(j); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("job dir still exists after cleanup")
	}
}

func TestCleanup_AlreadyGone(t *testing.T) {
	m := resource.NewManager(t.TempDir())
	j := &job.Job{ID: id.NewJobID(), Owner: "u1"}

	// Nothing was ever created; cleanup of a missing dir is not an error.
	if err := m.Cleanup(j); err != nil {
		t.Errorf("Cleanup of absent dir: %v", err)
	}
}

func TestCleanup_ReportsEscapedHandle(t *testing.T) {
	m := resource.NewManager(t.TempDir())
	j := &job.Job{
		ID:        id.NewJobID(),
		Owner:     "u1",
		Resources: map[string]string{"rogue": "/etc/passwd"},
	}

	if err := m.Cleanup(j); err == nil {
		t.Error("Cleanup did not report a handle outside the base dir")
	}
	// And it must not have deleted it.
	if _, err := os.Stat("/etc/passwd"); err != nil {
		t.Fatalf("outside file was touched: %v", err)
	}
}
