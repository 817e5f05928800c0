package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/LeonAdeoye/market-service/internal/observ"
	"github.com/LeonAdeoye/market-service/internal/publisher"
	"github.com/LeonAdeoye/market-service/internal/quotes"
	"github.com/LeonAdeoye/market-service/internal/registry"
	"github.com/LeonAdeoye/market-service/internal/resilience"
	"github.com/LeonAdeoye/market-service/internal/routing"
	"github.com/LeonAdeoye/market-service/internal/throttle"
)

// ZeroPricePolicy decides what happens to a structurally valid response whose
// price is missing or zero.
type ZeroPricePolicy string

const (
	ZeroPricePublishWarn ZeroPricePolicy = "publish_warn" // publish it, loudly
	ZeroPriceSuppress    ZeroPricePolicy = "suppress"     // drop it, loudly
	ZeroPriceFallback    ZeroPricePolicy = "fallback"     // failure-equivalent: synthesize if enabled
)

// Policy configures how the cycle treats one provider.
type Policy struct {
	// Resilient wraps fetches in retry + circuit breaker.
	Resilient bool
	// Fallback synthesizes a substitute quote when the fetch fails.
	Fallback bool
	// RateLimited applies the rotating batch cursor instead of fetching every
	// due instrument each tick.
	RateLimited bool
}

type Config struct {
	TickIntervalSeconds int
	BatchSize           int
	MaxConcurrentFetch  int
	ZeroPricePolicy     ZeroPricePolicy
}

// Scheduler drives the fetch-and-publish cycle: once per tick it snapshots
// the registry, partitions due instruments by provider, slices rate-limited
// providers through the batch cursor, and dispatches fetches onto a bounded
// pool. All per-instrument failures are isolated inside the cycle.
type Scheduler struct {
	reg      *registry.Registry
	gate     *throttle.Gate
	rules    routing.Rules
	adapters map[quotes.SourceType]quotes.Adapter
	policies map[quotes.SourceType]Policy
	fallback *quotes.SyntheticAdapter
	retryer  *resilience.Retryer
	pub      *publisher.Publisher

	batchSize int
	zeroPrice ZeroPricePolicy

	intervalSecs atomic.Int64
	intervalCh   chan struct{}

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]struct{}
	cursors  map[quotes.SourceType]int

	// guards the dispatch phase: a tick must never start while the previous
	// tick is still partitioning/dispatching
	dispatching atomic.Bool
}

type Deps struct {
	Registry  *registry.Registry
	Gate      *throttle.Gate
	Rules     routing.Rules
	Adapters  map[quotes.SourceType]quotes.Adapter
	Policies  map[quotes.SourceType]Policy
	Fallback  *quotes.SyntheticAdapter
	Retryer   *resilience.Retryer
	Publisher *publisher.Publisher
}

func New(deps Deps, cfg Config) *Scheduler {
	if cfg.TickIntervalSeconds <= 0 {
		cfg.TickIntervalSeconds = 20
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.MaxConcurrentFetch <= 0 {
		cfg.MaxConcurrentFetch = 16
	}
	if cfg.ZeroPricePolicy == "" {
		cfg.ZeroPricePolicy = ZeroPricePublishWarn
	}
	s := &Scheduler{
		reg:        deps.Registry,
		gate:       deps.Gate,
		rules:      deps.Rules,
		adapters:   deps.Adapters,
		policies:   deps.Policies,
		fallback:   deps.Fallback,
		retryer:    deps.Retryer,
		pub:        deps.Publisher,
		batchSize:  cfg.BatchSize,
		zeroPrice:  cfg.ZeroPricePolicy,
		intervalCh: make(chan struct{}, 1),
		sem:        semaphore.NewWeighted(int64(cfg.MaxConcurrentFetch)),
		inflight:   make(map[string]struct{}),
		cursors:    make(map[quotes.SourceType]int),
	}
	s.intervalSecs.Store(int64(cfg.TickIntervalSeconds))
	return s
}

// Run blocks until ctx is done, firing one cycle per tick. On shutdown it
// waits for in-flight fetches to finish.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval())
	defer ticker.Stop()

	observ.Log("scheduler_started", map[string]any{
		"interval_seconds": s.intervalSecs.Load(),
		"batch_size":       s.batchSize,
	})

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			observ.Log("scheduler_stopped", nil)
			return
		case <-s.intervalCh:
			ticker.Reset(s.Interval())
		case <-ticker.C:
			s.RunCycle(ctx)
		}
	}
}

// Interval returns the current tick interval.
func (s *Scheduler) Interval() time.Duration {
	return time.Duration(s.intervalSecs.Load()) * time.Second
}

// UpdateInterval changes the tick interval, taking effect immediately.
func (s *Scheduler) UpdateInterval(seconds int) error {
	if err := throttle.ValidateInterval(seconds); err != nil {
		return err
	}
	s.intervalSecs.Store(int64(seconds))
	select {
	case s.intervalCh <- struct{}{}:
	default:
	}
	observ.Log("fetch_interval_updated", map[string]any{"seconds": seconds})
	return nil
}

// RunCycle executes one fetch cycle. The cycle itself is stateless and
// restartable; the only carry-over is the batch cursors plus the gate and
// breaker state owned elsewhere.
func (s *Scheduler) RunCycle(ctx context.Context) {
	if !s.dispatching.CompareAndSwap(false, true) {
		observ.Warn("tick_skipped_reentrant", nil)
		observ.IncCounter("ticks_skipped_total", nil)
		return
	}
	defer s.dispatching.Store(false)
	defer func() {
		if r := recover(); r != nil {
			observ.Error("tick_panic", map[string]any{"panic": r})
		}
	}()

	subs := s.reg.Snapshot()
	if len(subs) == 0 {
		observ.Debug("tick_empty_registry", nil)
		return
	}
	observ.IncCounter("ticks_total", nil)

	due := s.partition(subs)
	dispatched := 0
	for src, list := range due {
		if s.policies[src].RateLimited {
			list = s.nextBatch(src, list)
		}
		for _, sub := range list {
			if s.dispatch(ctx, src, sub) {
				dispatched++
			}
		}
	}

	observ.Debug("tick_dispatched", map[string]any{
		"subscriptions": len(subs),
		"dispatched":    dispatched,
	})
}

// partition resolves each subscription to a provider and keeps only the due
// ones. Instruments with a configured throttle are due when the gate permits;
// everything else is due every tick. Lists are sorted so the batch cursor
// walks a stable order.
func (s *Scheduler) partition(subs []registry.Subscription) map[quotes.SourceType][]registry.Subscription {
	due := make(map[quotes.SourceType][]registry.Subscription)
	for _, sub := range subs {
		src := sub.Source
		if src == "" {
			resolved, err := routing.DetermineProvider(sub.Instrument, s.rules)
			if err != nil {
				observ.Warn("tick_unroutable_instrument", map[string]any{
					"instrument": sub.Instrument,
					"error":      err.Error(),
				})
				observ.IncCounter("unroutable_instruments_total", nil)
				continue
			}
			src = resolved
		}
		if _, ok := s.adapters[src]; !ok {
			observ.Warn("tick_no_adapter", map[string]any{
				"instrument": sub.Instrument,
				"source":     string(src),
			})
			continue
		}
		if s.gate.IsConfigured(sub.Instrument) && !s.gate.CanProceed(sub.Instrument) {
			continue
		}
		due[src] = append(due[src], sub)
	}
	for _, list := range due {
		sort.Slice(list, func(i, j int) bool { return list[i].Instrument < list[j].Instrument })
	}
	return due
}

// nextBatch slices out up to batchSize due instruments for a rate-limited
// provider, advancing the rotating cursor so every instrument is refreshed
// within ceil(N/B) ticks even when the population outgrows one tick's budget.
func (s *Scheduler) nextBatch(src quotes.SourceType, list []registry.Subscription) []registry.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(list)
	cur := s.cursors[src]
	if cur >= n {
		cur = 0
	}
	end := cur + s.batchSize
	if end > n {
		end = n
	}
	s.cursors[src] = end % n
	return list[cur:end]
}

// dispatch hands one instrument's fetch to the worker pool, enforcing the
// per-instrument single-flight invariant: if a prior cycle's fetch is still
// outstanding, this tick skips the instrument.
func (s *Scheduler) dispatch(ctx context.Context, src quotes.SourceType, sub registry.Subscription) bool {
	id := sub.Instrument
	s.mu.Lock()
	if _, busy := s.inflight[id]; busy {
		s.mu.Unlock()
		observ.IncCounter("fetch_skipped_inflight_total", nil)
		return false
	}
	s.inflight[id] = struct{}{}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.inflight, id)
			s.mu.Unlock()
		}()
		defer func() {
			if r := recover(); r != nil {
				observ.Error("fetch_panic", map[string]any{"instrument": id, "panic": r})
			}
		}()
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer s.sem.Release(1)
		s.fetchAndPublish(ctx, src, sub)
	}()
	return true
}

func (s *Scheduler) fetchAndPublish(ctx context.Context, src quotes.SourceType, sub registry.Subscription) {
	adapter := s.adapters[src]
	pol := s.policies[src]
	gran := sub.Granularity()
	labels := map[string]string{"source": string(src)}
	observ.IncCounter("fetch_attempts_total", labels)

	var q *quotes.Quote
	op := func() error {
		got, err := adapter.FetchOne(ctx, sub.Instrument, gran)
		if err != nil {
			return err
		}
		q = got
		return nil
	}

	var err error
	if pol.Resilient {
		err = s.retryer.Do(ctx, string(src), op)
	} else {
		err = op()
	}

	if err != nil {
		observ.IncCounter("fetch_failures_total", labels)
		observ.Error("fetch_failed", map[string]any{
			"instrument": sub.Instrument,
			"source":     string(src),
			"error":      err.Error(),
		})
		// An attempt that reached the upstream consumes throttle budget; a
		// breaker fast-fail never issued a request and must not.
		var open *resilience.CircuitOpenError
		if errors.As(err, &open) {
			observ.IncCounter("fetch_breaker_rejections_total", labels)
		} else {
			s.recordGate(sub.Instrument)
		}
		if pol.Fallback && s.fallback != nil {
			s.publishFallback(ctx, sub, gran)
		}
		return
	}

	s.recordGate(sub.Instrument)

	if q.Price <= 0 {
		observ.IncCounter("fetch_zero_price_total", labels)
		observ.Warn("fetch_zero_price", map[string]any{
			"instrument": sub.Instrument,
			"source":     string(src),
			"policy":     string(s.zeroPrice),
		})
		switch s.zeroPrice {
		case ZeroPriceSuppress:
			return
		case ZeroPriceFallback:
			if pol.Fallback && s.fallback != nil {
				s.publishFallback(ctx, sub, gran)
				return
			}
			// no fallback configured: publish something rather than nothing
		}
	}

	observ.IncCounter("fetch_successes_total", labels)
	s.pub.Publish(ctx, q)
}

func (s *Scheduler) publishFallback(ctx context.Context, sub registry.Subscription, gran string) {
	q, err := s.fallback.FetchOne(ctx, sub.Instrument, gran)
	if err != nil {
		return
	}
	observ.IncCounter("fallback_synthesized_total", nil)
	s.pub.Publish(ctx, q)
}

func (s *Scheduler) recordGate(instrument string) {
	if s.gate.IsConfigured(instrument) {
		s.gate.RecordUpdate(instrument)
	}
}

// Status is the scheduler introspection view.
type Status struct {
	IntervalSeconds int                       `json:"interval_seconds"`
	BatchSize       int                       `json:"batch_size"`
	InflightFetches int                       `json:"inflight_fetches"`
	BatchCursors    map[quotes.SourceType]int `json:"batch_cursors"`
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	cursors := make(map[quotes.SourceType]int, len(s.cursors))
	for k, v := range s.cursors {
		cursors[k] = v
	}
	return Status{
		IntervalSeconds: int(s.intervalSecs.Load()),
		BatchSize:       s.batchSize,
		InflightFetches: len(s.inflight),
		BatchCursors:    cursors,
	}
}

// Wait blocks until every dispatched fetch has completed. Test helper and
// shutdown aid.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
