package throttle

import (
	"fmt"
	"sync"
	"time"
)

const (
	MinIntervalSeconds = 1
	MaxIntervalSeconds = 3600
)

// InvalidIntervalError rejects intervals outside [1s, 1h]. Caller-correctable.
type InvalidIntervalError struct {
	Seconds int
}

func (e *InvalidIntervalError) Error() string {
	return fmt.Sprintf("invalid refresh interval %ds: must be between %d and %d seconds",
		e.Seconds, MinIntervalSeconds, MaxIntervalSeconds)
}

// ValidateInterval is shared by the gate and the scheduler's tick interval.
func ValidateInterval(seconds int) error {
	if seconds < MinIntervalSeconds || seconds > MaxIntervalSeconds {
		return &InvalidIntervalError{Seconds: seconds}
	}
	return nil
}

type entry struct {
	minInterval time.Duration
	lastUpdate  time.Time // zero means never updated: immediately eligible
}

// Gate tracks, per key, whether enough wall-clock time has elapsed since the
// last recorded update. Pure bookkeeping, no I/O. Keys with no configuration
// are "not gated": CanProceed returns true and callers that need throttle
// semantics check IsConfigured first.
type Gate struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

func NewGate() *Gate {
	return &Gate{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Configure stores or overwrites the minimum interval for a key and resets its
// last-update time to "never", so the next CanProceed is eligible.
func (g *Gate) Configure(key string, minIntervalSeconds int) error {
	if err := ValidateInterval(minIntervalSeconds); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entries[key] = &entry{minInterval: time.Duration(minIntervalSeconds) * time.Second}
	return nil
}

func (g *Gate) IsConfigured(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.entries[key]
	return ok
}

func (g *Gate) CanProceed(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entries[key]
	if !ok {
		return true
	}
	if e.lastUpdate.IsZero() {
		return true
	}
	return g.now().Sub(e.lastUpdate) >= e.minInterval
}

// RecordUpdate marks now as the last permitted refresh. No-op for
// unconfigured keys.
func (g *Gate) RecordUpdate(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if e, ok := g.entries[key]; ok {
		e.lastUpdate = g.now()
	}
}

// Remove deletes all state for a key. Used on unsubscribe so a later
// resubscription starts fresh.
func (g *Gate) Remove(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.entries, key)
}

// RemainingSeconds returns how long until the key is eligible again, zero when
// eligible now or unconfigured.
func (g *Gate) RemainingSeconds(key string) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entries[key]
	if !ok || e.lastUpdate.IsZero() {
		return 0
	}
	remaining := e.minInterval - g.now().Sub(e.lastUpdate)
	if remaining <= 0 {
		return 0
	}
	return remaining.Seconds()
}

// KeyStatus is the introspection view of one gate entry.
type KeyStatus struct {
	MinIntervalSeconds float64 `json:"min_interval_seconds"`
	RemainingSeconds   float64 `json:"remaining_seconds"`
	Eligible           bool    `json:"eligible"`
}

// Snapshot reports every configured key for the status API.
func (g *Gate) Snapshot() map[string]KeyStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]KeyStatus, len(g.entries))
	now := g.now()
	for key, e := range g.entries {
		remaining := 0.0
		if !e.lastUpdate.IsZero() {
			if r := e.minInterval - now.Sub(e.lastUpdate); r > 0 {
				remaining = r.Seconds()
			}
		}
		out[key] = KeyStatus{
			MinIntervalSeconds: e.minInterval.Seconds(),
			RemainingSeconds:   remaining,
			Eligible:           remaining == 0,
		}
	}
	return out
}

// SetClock injects a clock for tests.
func (g *Gate) SetClock(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
}
