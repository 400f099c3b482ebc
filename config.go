package longhaul

import "time"

// CrashPolicy selects how the coordinator resolves a job whose execution
// slot died (a panic escaping the runner, an OOM-killed process observed at
// restart) rather than failing at the domain level.
type CrashPolicy string

const (
	// CrashFail marks the job failed with the crash recorded in its
	// status messages. The default: heavy half-done work is surfaced to
	// the operator instead of silently re-executed.
	CrashFail CrashPolicy = "fail"

	// CrashRequeue returns the job to pending with its checkpoint intact,
	// so a free slot re-runs it from the last persisted position.
	CrashRequeue CrashPolicy = "requeue"
)

// Config holds configuration for the worker pool coordinator.
type Config struct {
	// MaxConcurrentJobs is the number of execution slots. At most this
	// many jobs run at once on this coordinator.
	MaxConcurrentJobs int

	// PollInterval is how often the coordinator scans the store for
	// dispatchable pending jobs, in addition to submit/slot-free triggers.
	PollInterval time.Duration

	// StatusPollInterval is the default cadence at which a runner's
	// safe-point check re-reads its job row to observe external
	// cancel/pause requests. Job definitions may override it.
	StatusPollInterval time.Duration

	// ShutdownTimeout is the maximum time Stop waits for in-flight jobs
	// before cancelling their contexts.
	ShutdownTimeout time.Duration

	// CrashPolicy resolves jobs whose slot crashed mid-execution.
	CrashPolicy CrashPolicy
}

// DefaultConfig returns a Config with sensible defaults for minutes-to-hours
// jobs: few slots, relaxed polling.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentJobs:  2,
		PollInterval:       5 * time.Second,
		StatusPollInterval: 5 * time.Second,
		ShutdownTimeout:    30 * time.Second,
		CrashPolicy:        CrashFail,
	}
}
