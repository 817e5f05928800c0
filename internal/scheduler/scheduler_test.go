package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonAdeoye/market-service/internal/publisher"
	"github.com/LeonAdeoye/market-service/internal/quotes"
	"github.com/LeonAdeoye/market-service/internal/registry"
	"github.com/LeonAdeoye/market-service/internal/resilience"
	"github.com/LeonAdeoye/market-service/internal/routing"
	"github.com/LeonAdeoye/market-service/internal/throttle"
)

// stubAdapter is a controllable in-memory provider.
type stubAdapter struct {
	mu      sync.Mutex
	name    string
	price   float64
	err     error
	block   chan struct{} // when set, FetchOne waits on it
	fetched []string
}

func (a *stubAdapter) Name() string { return a.name }

func (a *stubAdapter) FetchOne(_ context.Context, instrument, granularity string) (*quotes.Quote, error) {
	if a.block != nil {
		<-a.block
	}
	a.mu.Lock()
	a.fetched = append(a.fetched, instrument)
	err := a.err
	price := a.price
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &quotes.Quote{
		Instrument:  instrument,
		Symbol:      instrument,
		Price:       price,
		Timestamp:   time.Now(),
		Source:      quotes.SourceType(a.name),
		Granularity: granularity,
	}, nil
}

func (a *stubAdapter) FetchMany(ctx context.Context, instruments []string, granularity string) map[string]*quotes.Quote {
	out := make(map[string]*quotes.Quote, len(instruments))
	for _, id := range instruments {
		if q, err := a.FetchOne(ctx, id, granularity); err == nil {
			out[id] = q
		}
	}
	return out
}

func (a *stubAdapter) fetchCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.fetched)
}

func (a *stubAdapter) fetchedIDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.fetched...)
}

// captureSink records everything published during a cycle.
type captureSink struct {
	mu       sync.Mutex
	payloads []quotes.Quote
}

func (c *captureSink) Name() string                  { return "capture" }
func (c *captureSink) Connect(context.Context) error { return nil }
func (c *captureSink) Close() error                  { return nil }

func (c *captureSink) Publish(_ context.Context, _ string, payload []byte) error {
	var q quotes.Quote
	if err := json.Unmarshal(payload, &q); err != nil {
		return err
	}
	c.mu.Lock()
	c.payloads = append(c.payloads, q)
	c.mu.Unlock()
	return nil
}

func (c *captureSink) published() []quotes.Quote {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]quotes.Quote(nil), c.payloads...)
}

type fixture struct {
	reg    *registry.Registry
	gate   *throttle.Gate
	sink   *captureSink
	sched  *Scheduler
	synth  *quotes.SyntheticAdapter
}

func newFixture(t *testing.T, adapters map[quotes.SourceType]quotes.Adapter, policies map[quotes.SourceType]Policy, cfg Config) *fixture {
	t.Helper()
	reg := registry.New()
	gate := throttle.NewGate()
	sink := &captureSink{}
	synth := quotes.NewSyntheticAdapter(quotes.SyntheticConfig{BasePrice: 100, Seed: 1})
	retryer := resilience.NewRetryer(resilience.NewBreakerSet(5, time.Minute), resilience.RetryConfig{MaxRetries: 1})
	sched := New(Deps{
		Registry: reg,
		Gate:     gate,
		Rules: routing.Rules{
			RealtimeSuffixes: []string{".HK"},
			DelayedSuffixes:  []string{".T", ".KS"},
			CryptoSuffixes:   []string{"-USD"},
		},
		Adapters:  adapters,
		Policies:  policies,
		Fallback:  synth,
		Retryer:   retryer,
		Publisher: publisher.New(sink, "quotes"),
	}, cfg)
	return &fixture{reg: reg, gate: gate, sink: sink, sched: sched, synth: synth}
}

func (f *fixture) cycle() {
	f.sched.RunCycle(context.Background())
	f.sched.Wait()
}

func TestCycleFetchesAndPublishesPerProvider(t *testing.T) {
	delayed := &stubAdapter{name: "delayed", price: 101.25}
	realtime := &stubAdapter{name: "realtime", price: 350.00}
	f := newFixture(t,
		map[quotes.SourceType]quotes.Adapter{
			quotes.SourceDelayed:  delayed,
			quotes.SourceRealtime: realtime,
		},
		map[quotes.SourceType]Policy{},
		Config{},
	)
	f.reg.Upsert(registry.Subscription{Instrument: "AAPL", Source: quotes.SourceDelayed})
	f.reg.Upsert(registry.Subscription{Instrument: "0700.HK"})

	f.cycle()

	got := f.sink.published()
	require.Len(t, got, 2)
	sort.Slice(got, func(i, j int) bool { return got[i].Instrument < got[j].Instrument })

	assert.Equal(t, "0700.HK", got[0].Instrument)
	assert.Equal(t, 350.00, got[0].Price)
	assert.Equal(t, quotes.SourceRealtime, got[0].Source)

	assert.Equal(t, "AAPL", got[1].Instrument)
	assert.Equal(t, 101.25, got[1].Price)
	assert.Equal(t, quotes.SourceDelayed, got[1].Source)
	assert.False(t, got[1].Fallback)
}

func TestCycleEmptyRegistryIsNoop(t *testing.T) {
	delayed := &stubAdapter{name: "delayed", price: 1}
	f := newFixture(t,
		map[quotes.SourceType]quotes.Adapter{quotes.SourceDelayed: delayed},
		map[quotes.SourceType]Policy{},
		Config{},
	)
	f.cycle()
	assert.Zero(t, delayed.fetchCount())
	assert.Empty(t, f.sink.published())
}

func TestCycleSkipsUnroutableAndAdapterless(t *testing.T) {
	delayed := &stubAdapter{name: "delayed", price: 1}
	f := newFixture(t,
		map[quotes.SourceType]quotes.Adapter{quotes.SourceDelayed: delayed},
		map[quotes.SourceType]Policy{},
		Config{},
	)
	f.reg.Upsert(registry.Subscription{Instrument: "NOSUFFIX"})  // unroutable
	f.reg.Upsert(registry.Subscription{Instrument: "BTC-USD"})   // routes to crypto, no adapter
	f.reg.Upsert(registry.Subscription{Instrument: "7203.T"})

	f.cycle()

	assert.Equal(t, []string{"7203.T"}, delayed.fetchedIDs())
	require.Len(t, f.sink.published(), 1)
}

func TestBatchCursorCoversEveryInstrumentOnce(t *testing.T) {
	delayed := &stubAdapter{name: "delayed", price: 1}
	f := newFixture(t,
		map[quotes.SourceType]quotes.Adapter{quotes.SourceDelayed: delayed},
		map[quotes.SourceType]Policy{quotes.SourceDelayed: {RateLimited: true}},
		Config{BatchSize: 3},
	)
	ids := []string{"1301.T", "2502.T", "4063.T", "6758.T", "7203.T", "8306.T", "9984.T"}
	for _, id := range ids {
		f.reg.Upsert(registry.Subscription{Instrument: id})
	}

	// 7 instruments at batch size 3 need ceil(7/3) = 3 ticks for full coverage.
	var perTick [][]string
	for i := 0; i < 3; i++ {
		before := delayed.fetchCount()
		f.cycle()
		perTick = append(perTick, delayed.fetchedIDs()[before:])
	}

	assert.Len(t, perTick[0], 3)
	assert.Len(t, perTick[1], 3)
	assert.Len(t, perTick[2], 1)

	seen := delayed.fetchedIDs()
	sort.Strings(seen)
	assert.Equal(t, ids, seen, "each instrument fetched exactly once across the rotation")

	// Cursor wrapped: the next tick starts over from the beginning.
	f.cycle()
	assert.Equal(t, 10, delayed.fetchCount())
}

func TestBatchCursorAdaptsWhenPopulationShrinks(t *testing.T) {
	delayed := &stubAdapter{name: "delayed", price: 1}
	f := newFixture(t,
		map[quotes.SourceType]quotes.Adapter{quotes.SourceDelayed: delayed},
		map[quotes.SourceType]Policy{quotes.SourceDelayed: {RateLimited: true}},
		Config{BatchSize: 2},
	)
	for _, id := range []string{"1301.T", "2502.T", "4063.T", "6758.T"} {
		f.reg.Upsert(registry.Subscription{Instrument: id})
	}
	f.cycle() // cursor now at 2

	// Unsubscribing most of the population leaves the cursor past the end;
	// the next tick must reset rather than skip everything.
	f.reg.Remove("2502.T")
	f.reg.Remove("4063.T")
	f.reg.Remove("6758.T")

	before := delayed.fetchCount()
	f.cycle()
	assert.Equal(t, []string{"1301.T"}, delayed.fetchedIDs()[before:])
}

func TestSingleFlightSkipsBusyInstrument(t *testing.T) {
	block := make(chan struct{})
	realtime := &stubAdapter{name: "realtime", price: 1, block: block}
	f := newFixture(t,
		map[quotes.SourceType]quotes.Adapter{quotes.SourceRealtime: realtime},
		map[quotes.SourceType]Policy{},
		Config{},
	)
	f.reg.Upsert(registry.Subscription{Instrument: "0700.HK"})

	f.sched.RunCycle(context.Background())
	// The first fetch is parked inside the adapter; a second tick must not
	// start another fetch for the same instrument.
	f.sched.RunCycle(context.Background())

	close(block)
	f.sched.Wait()

	assert.Equal(t, 1, realtime.fetchCount())
	require.Len(t, f.sink.published(), 1)

	// With the slow fetch finished the instrument is dispatchable again.
	f.cycle()
	assert.Equal(t, 2, realtime.fetchCount())
}

func TestThrottledInstrumentSkippedUntilEligible(t *testing.T) {
	realtime := &stubAdapter{name: "realtime", price: 1}
	f := newFixture(t,
		map[quotes.SourceType]quotes.Adapter{quotes.SourceRealtime: realtime},
		map[quotes.SourceType]Policy{},
		Config{},
	)
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	f.gate.SetClock(func() time.Time { return clock })

	f.reg.Upsert(registry.Subscription{Instrument: "0700.HK", IntervalSeconds: 60})
	require.NoError(t, f.gate.Configure("0700.HK", 60))

	f.cycle()
	assert.Equal(t, 1, realtime.fetchCount(), "first fetch is immediately eligible")

	// The successful fetch recorded an update, so the next tick is gated.
	f.cycle()
	assert.Equal(t, 1, realtime.fetchCount())

	clock = clock.Add(60 * time.Second)
	f.cycle()
	assert.Equal(t, 2, realtime.fetchCount())
}

func TestFailedFetchStillConsumesThrottleBudget(t *testing.T) {
	realtime := &stubAdapter{name: "realtime", err: errors.New("upstream 500")}
	f := newFixture(t,
		map[quotes.SourceType]quotes.Adapter{quotes.SourceRealtime: realtime},
		map[quotes.SourceType]Policy{},
		Config{},
	)
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	f.gate.SetClock(func() time.Time { return clock })

	f.reg.Upsert(registry.Subscription{Instrument: "0700.HK", IntervalSeconds: 60})
	require.NoError(t, f.gate.Configure("0700.HK", 60))

	f.cycle()
	f.cycle()
	assert.Equal(t, 1, realtime.fetchCount(), "the failed attempt reached the upstream and counts")
}

func TestFallbackSynthesizedOnFetchFailure(t *testing.T) {
	delayed := &stubAdapter{name: "delayed", err: errors.New("upstream down")}
	f := newFixture(t,
		map[quotes.SourceType]quotes.Adapter{quotes.SourceDelayed: delayed},
		map[quotes.SourceType]Policy{quotes.SourceDelayed: {Fallback: true}},
		Config{},
	)
	f.reg.Upsert(registry.Subscription{Instrument: "7203.T"})

	f.cycle()

	got := f.sink.published()
	require.Len(t, got, 1)
	assert.Equal(t, "7203.T", got[0].Instrument)
	assert.Equal(t, quotes.SourceSynthetic, got[0].Source)
	assert.True(t, got[0].Fallback)
	assert.Positive(t, got[0].Price)
}

func TestNoFallbackWithoutPolicy(t *testing.T) {
	delayed := &stubAdapter{name: "delayed", err: errors.New("upstream down")}
	f := newFixture(t,
		map[quotes.SourceType]quotes.Adapter{quotes.SourceDelayed: delayed},
		map[quotes.SourceType]Policy{},
		Config{},
	)
	f.reg.Upsert(registry.Subscription{Instrument: "7203.T"})

	f.cycle()
	assert.Empty(t, f.sink.published())
}

func TestZeroPricePolicies(t *testing.T) {
	tests := []struct {
		name        string
		policy      ZeroPricePolicy
		fallback    bool
		wantPublish int
		wantSynth   bool
	}{
		{"publish_warn ships the zero", ZeroPricePublishWarn, false, 1, false},
		{"suppress drops it", ZeroPriceSuppress, false, 0, false},
		{"fallback synthesizes", ZeroPriceFallback, true, 1, true},
		{"fallback without synth policy publishes", ZeroPriceFallback, false, 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delayed := &stubAdapter{name: "delayed", price: 0}
			f := newFixture(t,
				map[quotes.SourceType]quotes.Adapter{quotes.SourceDelayed: delayed},
				map[quotes.SourceType]Policy{quotes.SourceDelayed: {Fallback: tt.fallback}},
				Config{ZeroPricePolicy: tt.policy},
			)
			f.reg.Upsert(registry.Subscription{Instrument: "7203.T"})

			f.cycle()

			got := f.sink.published()
			require.Len(t, got, tt.wantPublish)
			if tt.wantPublish == 1 {
				if tt.wantSynth {
					assert.Equal(t, quotes.SourceSynthetic, got[0].Source)
				} else {
					assert.Equal(t, quotes.SourceDelayed, got[0].Source)
					assert.Zero(t, got[0].Price)
				}
			}
		})
	}
}

func TestResilientProviderFailsFastOnOpenBreaker(t *testing.T) {
	realtime := &stubAdapter{name: "realtime", err: errors.New("down")}
	f := newFixture(t,
		map[quotes.SourceType]quotes.Adapter{quotes.SourceRealtime: realtime},
		map[quotes.SourceType]Policy{quotes.SourceRealtime: {Resilient: true}},
		Config{},
	)
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	f.gate.SetClock(func() time.Time { return clock })
	f.reg.Upsert(registry.Subscription{Instrument: "0700.HK", IntervalSeconds: 1})
	require.NoError(t, f.gate.Configure("0700.HK", 1))

	// Trip the realtime breaker: threshold 5 failures, one attempt per cycle.
	for i := 0; i < 5; i++ {
		f.cycle()
		clock = clock.Add(time.Second)
	}
	require.Equal(t, 5, realtime.fetchCount())

	// Breaker open: the next cycle rejects before the adapter runs, and the
	// fast-fail must not consume throttle budget.
	f.cycle()
	assert.Equal(t, 5, realtime.fetchCount())
	assert.True(t, f.gate.CanProceed("0700.HK"), "breaker rejection leaves the gate untouched")
}

func TestUpdateInterval(t *testing.T) {
	f := newFixture(t, map[quotes.SourceType]quotes.Adapter{}, map[quotes.SourceType]Policy{}, Config{TickIntervalSeconds: 20})

	require.NoError(t, f.sched.UpdateInterval(5))
	assert.Equal(t, 5*time.Second, f.sched.Interval())

	var invalid *throttle.InvalidIntervalError
	err := f.sched.UpdateInterval(0)
	require.Error(t, err)
	assert.True(t, errors.As(err, &invalid))
	assert.Equal(t, 5*time.Second, f.sched.Interval(), "rejected update leaves the interval alone")
}

func TestSchedulerStatus(t *testing.T) {
	delayed := &stubAdapter{name: "delayed", price: 1}
	f := newFixture(t,
		map[quotes.SourceType]quotes.Adapter{quotes.SourceDelayed: delayed},
		map[quotes.SourceType]Policy{quotes.SourceDelayed: {RateLimited: true}},
		Config{TickIntervalSeconds: 20, BatchSize: 2},
	)
	for _, id := range []string{"1301.T", "2502.T", "4063.T"} {
		f.reg.Upsert(registry.Subscription{Instrument: id})
	}
	f.cycle()

	st := f.sched.Status()
	assert.Equal(t, 20, st.IntervalSeconds)
	assert.Equal(t, 2, st.BatchSize)
	assert.Zero(t, st.InflightFetches)
	assert.Equal(t, 2, st.BatchCursors[quotes.SourceDelayed])
}
