package job_test

import (
	"errors"
	"testing"

	"github.com/xraph/longhaul"
	"github.com/xraph/longhaul/job"
)

var allStatuses = []job.Status{
	job.StatusPending, job.StatusInProgress, job.StatusPaused,
	job.StatusCompleted, job.StatusFailed, job.StatusCancelled,
}

var allTransitions = []job.Transition{
	job.TransitionRun, job.TransitionComplete, job.TransitionError,
	job.TransitionCancel, job.TransitionPause, job.TransitionResume,
}

func TestNext_LegalEdges(t *testing.T) {
	cases := []struct {
		from job.Status
		ev   job.Transition
		want job.Status
	}{
		{job.StatusPending, job.TransitionRun, job.StatusInProgress},
		{job.StatusPending, job.TransitionCancel, job.StatusCancelled},
		{job.StatusInProgress, job.TransitionComplete, job.StatusCompleted},
		{job.StatusInProgress, job.TransitionError, job.StatusFailed},
		{job.StatusInProgress, job.TransitionCancel, job.StatusCancelled},
		{job.StatusInProgress, job.TransitionPause, job.StatusPaused},
		{job.StatusPaused, job.TransitionResume, job.StatusPending},
		{job.StatusPaused, job.TransitionCancel, job.StatusCancelled},
	}

	for _, tc := range cases {
		got, err := job.Next(tc.from, tc.ev)
		if err != nil {
			t.Errorf("Next(%s, %s): unexpected error %v", tc.from, tc.ev, err)
			continue
		}
		if got != tc.want {
			t.Errorf("Next(%s, %s) = %s, want %s", tc.from, tc.ev, got, tc.want)
		}
	}
}

// Every (status, transition) pair outside the legal table must be rejected,
// including terminal-reaching events re-applied to already-terminal statuses.
func TestNext_RejectsEverythingElse(t *testing.T) {
	legal := map[job.Status]map[job.Transition]bool{
		job.StatusPending:    {job.TransitionRun: true, job.TransitionCancel: true},
		job.StatusInProgress: {job.TransitionComplete: true, job.TransitionError: true, job.TransitionCancel: true, job.TransitionPause: true},
		job.StatusPaused:     {job.TransitionResume: true, job.TransitionCancel: true},
	}

	for _, from := range allStatuses {
		for _, ev := range allTransitions {
			if legal[from][ev] {
				continue
			}
			next, err := job.Next(from, ev)
			if err == nil {
				t.Errorf("Next(%s, %s) = %s, want ErrInvalidTransition", from, ev, next)
				continue
			}
			if !errors.Is(err, longhaul.ErrInvalidTransition) {
				t.Errorf("Next(%s, %s): error %v is not ErrInvalidTransition", from, ev, err)
			}
		}
	}
}

func TestStatus_Terminal(t *testing.T) {
	terminal := map[job.Status]bool{
		job.StatusCompleted: true,
		job.StatusFailed:    true,
		job.StatusCancelled: true,
	}
	for _, s := range allStatuses {
		if got := s.Terminal(); got != terminal[s] {
			t.Errorf("%s.Terminal() = %v, want %v", s, got, terminal[s])
		}
	}
}

func TestStatus_Valid(t *testing.T) {
	for _, s := range allStatuses {
		if !s.Valid() {
			t.Errorf("%s.Valid() = false", s)
		}
	}
	if job.Status("running").Valid() {
		t.Error(`Status("running").Valid() = true`)
	}
}
