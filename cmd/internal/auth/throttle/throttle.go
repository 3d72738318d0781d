// Package throttle tracks consecutive failed login attempts per key and
// enforces a fixed lockout once the failure budget is spent.
//
// State is in-process only. A restart forgets the counters, which is an
// accepted trade: the throttle defends against online guessing, not against
// an attacker who can restart the server.
package throttle

import (
	"sync"
	"time"
)

const (
	// DefaultMaxFailures is the number of consecutive failures allowed
	// before a key locks out.
	DefaultMaxFailures = 5
	// DefaultLockout is how long a locked key stays blocked, and also how
	// long stale failure counters are remembered.
	DefaultLockout = 15 * time.Minute
)

// Config tunes a Tracker.
type Config struct {
	MaxFailures int
	Lockout     time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxFailures <= 0 {
		c.MaxFailures = DefaultMaxFailures
	}
	if c.Lockout <= 0 {
		c.Lockout = DefaultLockout
	}
	return c
}

type entry struct {
	failures int
	// lockedUntil is zero while the key is under the failure budget.
	lockedUntil time.Time
	// lastFailure lets stale entries expire instead of keeping every key
	// that ever failed once.
	lastFailure time.Time
}

// Tracker is a mutex-guarded failure counter. Safe for concurrent use.
type Tracker struct {
	cfg Config

	mu      sync.Mutex
	entries map[string]*entry
}

// New returns a Tracker with cfg (zero fields get defaults).
func New(cfg Config) *Tracker {
	return &Tracker{
		cfg:     cfg.withDefaults(),
		entries: make(map[string]*entry),
	}
}

// CheckAllowed reports whether key is currently locked out and, if so, how
// long until the lockout lifts. It never mutates the counter: an attempt
// during a lockout neither extends nor shortens it.
func (t *Tracker) CheckAllowed(key string, now time.Time) (blocked bool, retryAfter time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok {
		return false, 0
	}
	if t.expired(e, now) {
		delete(t.entries, key)
		return false, 0
	}
	if e.lockedUntil.After(now) {
		return true, e.lockedUntil.Sub(now)
	}
	return false, 0
}

// RecordFailure counts one failed attempt. The attempt that exhausts the
// budget starts the lockout clock.
func (t *Tracker) RecordFailure(key string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok || t.expired(e, now) {
		e = &entry{}
		t.entries[key] = e
	}

	e.failures++
	e.lastFailure = now
	if e.failures >= t.cfg.MaxFailures {
		e.lockedUntil = now.Add(t.cfg.Lockout)
	}
}

// RecordSuccess clears the counter for key. A successful login always
// resets the budget to zero.
func (t *Tracker) RecordSuccess(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, key)
}

// Len reports how many keys currently hold state. Intended for metrics.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Sweep drops expired entries so an attacker cannot grow the map without
// bound by failing once per random email. Call it periodically.
func (t *Tracker) Sweep(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for key, e := range t.entries {
		if t.expired(e, now) {
			delete(t.entries, key)
			removed++
		}
	}
	return removed
}

// expired: a lockout is over once lockedUntil passes; a sub-budget counter
// goes stale one lockout period after its last failure.
func (t *Tracker) expired(e *entry, now time.Time) bool {
	if !e.lockedUntil.IsZero() {
		return !e.lockedUntil.After(now)
	}
	return now.Sub(e.lastFailure) >= t.cfg.Lockout
}
