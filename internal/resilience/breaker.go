package resilience

import (
	"fmt"
	"sync"
	"time"

	"github.com/LeonAdeoye/market-service/internal/observ"
)

// State is the circuit breaker state.
type State string

const (
	StateClosed   State = "closed"    // normal operation
	StateOpen     State = "open"      // failing, reject requests
	StateHalfOpen State = "half-open" // probing for recovery
)

// CircuitOpenError is returned when the breaker rejects a call without
// invoking the operation.
type CircuitOpenError struct {
	Service string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for service %q", e.Service)
}

// Breaker implements the Closed/Open/Half-Open state machine for one named
// service. Open flips to Half-Open lazily on the first Allow after the open
// duration elapses; check-on-access makes a separate recovery timer
// unnecessary and a concurrent one harmless.
type Breaker struct {
	mu sync.Mutex

	service      string
	threshold    int
	openDuration time.Duration
	now          func() time.Time

	state         State
	failures      int
	successes     int
	lastFailure   time.Time
	openedAt      time.Time
	probeInFlight bool
}

func NewBreaker(service string, threshold int, openDuration time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if openDuration <= 0 {
		openDuration = time.Minute
	}
	return &Breaker{
		service:      service,
		threshold:    threshold,
		openDuration: openDuration,
		now:          time.Now,
		state:        StateClosed,
	}
}

// Allow reports whether a call may proceed. In Half-Open exactly one probe is
// admitted at a time; everything else is rejected with CircuitOpenError.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.openDuration {
			b.transition(StateHalfOpen, "open_duration_elapsed")
			b.probeInFlight = true
			return nil
		}
		return &CircuitOpenError{Service: b.service}
	case StateHalfOpen:
		if b.probeInFlight {
			return &CircuitOpenError{Service: b.service}
		}
		b.probeInFlight = true
		return nil
	default:
		return &CircuitOpenError{Service: b.service}
	}
}

// RecordSuccess reports a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probeInFlight = false
	b.failures = 0
	b.successes++
	if b.state == StateHalfOpen {
		b.successes = 1
		b.transition(StateClosed, "probe_succeeded")
	}
}

// RecordFailure reports a failed call.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probeInFlight = false
	b.successes = 0
	b.failures++
	b.lastFailure = b.now()

	switch b.state {
	case StateHalfOpen:
		// probe failed: back to Open, timer restarts
		b.openedAt = b.now()
		b.transition(StateOpen, "probe_failed")
	case StateClosed:
		if b.failures >= b.threshold {
			b.openedAt = b.now()
			b.transition(StateOpen, "failure_threshold_reached")
		}
	}
}

// transition logs a state change. Callers hold b.mu.
func (b *Breaker) transition(to State, reason string) {
	from := b.state
	b.state = to
	observ.Log("circuit_breaker_transition", map[string]any{
		"service":  b.service,
		"from":     string(from),
		"to":       string(to),
		"reason":   reason,
		"failures": b.failures,
	})
	observ.IncCounter("circuit_breaker_transitions_total", map[string]string{
		"service": b.service,
		"to":      string(to),
	})
}

// Status is the introspection view of one breaker.
type Status struct {
	Service              string    `json:"service"`
	State                State     `json:"state"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	ConsecutiveSuccesses int       `json:"consecutive_successes"`
	LastFailure          time.Time `json:"last_failure,omitempty"`
	Healthy              bool      `json:"healthy"`
}

func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{
		Service:              b.service,
		State:                b.state,
		ConsecutiveFailures:  b.failures,
		ConsecutiveSuccesses: b.successes,
		LastFailure:          b.lastFailure,
		Healthy:              b.state == StateClosed,
	}
}

// SetClock injects a clock for tests.
func (b *Breaker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// BreakerSet owns one breaker per service name, created on first use with
// shared thresholds.
type BreakerSet struct {
	mu           sync.Mutex
	breakers     map[string]*Breaker
	threshold    int
	openDuration time.Duration
}

func NewBreakerSet(threshold int, openDuration time.Duration) *BreakerSet {
	return &BreakerSet{
		breakers:     make(map[string]*Breaker),
		threshold:    threshold,
		openDuration: openDuration,
	}
}

func (s *BreakerSet) Get(service string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[service]
	if !ok {
		b = NewBreaker(service, s.threshold, s.openDuration)
		s.breakers[service] = b
	}
	return b
}

// Summary is the aggregate view across all tracked services.
func (s *BreakerSet) Summary() map[string]Status {
	s.mu.Lock()
	names := make([]*Breaker, 0, len(s.breakers))
	for _, b := range s.breakers {
		names = append(names, b)
	}
	s.mu.Unlock()

	out := make(map[string]Status, len(names))
	for _, b := range names {
		st := b.Status()
		out[st.Service] = st
	}
	return out
}
