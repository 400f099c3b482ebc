// Package admission controls which owners' pending jobs the coordinator
// may dispatch at a given moment: a token-bucket rate limit and an
// in-flight cap per owner. A denied job simply stays pending and is
// reconsidered on the next dispatch trigger.
package admission

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config defines per-owner admission behaviour.
type Config struct {
	// MaxInFlight limits how many of one owner's jobs may run
	// simultaneously on the local coordinator. Zero means no owner-level
	// limit (pool-wide slot count still applies).
	MaxInFlight int

	// RateLimit is the maximum sustained dispatches per second for one
	// owner. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// ownerState tracks runtime state for a single owner.
type ownerState struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

// Manager applies admission control per owner. It is safe for
// concurrent use.
type Manager struct {
	mu       sync.Mutex
	defaults Config
	owners   map[string]*ownerState
}

// NewManager creates a Manager applying the given defaults to every owner.
// A zero-value Config admits everything.
func NewManager(defaults Config) *Manager {
	return &Manager{
		defaults: defaults,
		owners:   make(map[string]*ownerState),
	}
}

func newOwnerState(cfg Config) *ownerState {
	os := &ownerState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		os.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return os
}

func (m *Manager) state(owner string) *ownerState {
	os := m.owners[owner]
	if os == nil {
		os = newOwnerState(m.defaults)
		m.owners[owner] = os
	}
	return os
}

// Acquire checks rate limits and in-flight caps for the given owner. If
// the job is allowed to proceed it increments the active counter and
// returns true. The caller MUST call Release when the job completes.
func (m *Manager) Acquire(owner string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	os := m.state(owner)
	if os.limiter != nil && !os.limiter.Allow() {
		return false
	}
	if os.config.MaxInFlight > 0 && os.active >= os.config.MaxInFlight {
		return false
	}
	os.active++
	return true
}

// Release decrements the active job count for the owner.
func (m *Manager) Release(owner string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if os := m.owners[owner]; os != nil && os.active > 0 {
		os.active--
	}
}

// SetOwnerConfig overrides the admission configuration for one owner.
// Calling this multiple times for the same owner replaces the previous
// configuration; the current active count is preserved.
func (m *Manager) SetOwnerConfig(owner string, cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.owners[owner]
	os := newOwnerState(cfg)
	if existing != nil {
		os.active = existing.active
	}
	m.owners[owner] = os
}

// InFlight returns the current number of active jobs for an owner.
func (m *Manager) InFlight(owner string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if os := m.owners[owner]; os != nil {
		return os.active
	}
	return 0
}
