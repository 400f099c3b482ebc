package job

import "time"

// Options configures per-definition execution behavior.
type Options struct {
	// StatusPollInterval is how long a runner caches the last observed
	// stored status between Interrupted calls. Zero means use the
	// coordinator's default. External cancel/pause latency is bounded by
	// this cadence plus the function's distance between safe points.
	StatusPollInterval time.Duration
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		StatusPollInterval: 5 * time.Second,
	}
}

// Option is a functional option for configuring a job definition.
type Option func(*Options)

// WithStatusPollInterval sets the safe-point status poll cadence.
func WithStatusPollInterval(d time.Duration) Option {
	return func(o *Options) {
		o.StatusPollInterval = d
	}
}
