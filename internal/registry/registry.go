package registry

import (
	"sync"
	"time"

	"github.com/LeonAdeoye/market-service/internal/quotes"
)

// Subscription is one instrument's registration. An instrument has at most
// one active subscription; a later subscribe overwrites the metadata but
// stays a single logical entry.
type Subscription struct {
	Instrument      string             `json:"instrument"`
	GroupID         string             `json:"group_id"`
	Source          quotes.SourceType  `json:"source"` // explicit provider, empty means auto-routed
	IntervalSeconds int                `json:"interval_seconds"`
	Granularities   []string           `json:"granularities"`
	CreatedAt       time.Time          `json:"created_at"`
}

// Granularity returns the subscription's primary granularity label.
func (s Subscription) Granularity() string {
	if len(s.Granularities) > 0 {
		return s.Granularities[0]
	}
	return "1min"
}

// Registry is the authoritative in-memory map of active subscriptions. All
// access goes through the lock; Snapshot copies so scheduler reads never race
// API-layer writes.
type Registry struct {
	mu   sync.RWMutex
	subs map[string]Subscription
}

func New() *Registry {
	return &Registry{subs: make(map[string]Subscription)}
}

// Upsert stores or overwrites the subscription for its instrument.
func (r *Registry) Upsert(sub Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[sub.Instrument] = sub
}

// Remove deletes an instrument's subscription, reporting whether it existed.
func (r *Registry) Remove(instrument string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.subs[instrument]
	delete(r.subs, instrument)
	return ok
}

func (r *Registry) Get(instrument string) (Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.subs[instrument]
	return sub, ok
}

// Snapshot returns a copy of every active subscription.
func (r *Registry) Snapshot() []Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		out = append(out, sub)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}
