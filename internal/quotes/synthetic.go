package quotes

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

// SyntheticAdapter generates substitute quotes with a Gaussian random walk:
//
//	next = max(previous * (1 + drift + volatility*g), floor)
//
// where g is a standard normal sample. The walk remembers the previous price
// per instrument; unsubscribing an instrument must clear that memory via
// ResetPrice so a later resubscription starts from the configured base again.
type SyntheticAdapter struct {
	mu     sync.Mutex
	cfg    SyntheticConfig
	prices map[string]float64
	rng    *rand.Rand
	now    func() time.Time

	// Box-Muller produces samples in pairs; the second is cached and served
	// on the next call. Replacing this 2-for-1 scheme would change the
	// generator's variance sequence, so it stays.
	spare    float64
	hasSpare bool
}

type SyntheticConfig struct {
	BasePrice  float64
	Volatility float64
	Drift      float64
	FloorPrice float64
	Seed       int64 // 0 means time-seeded
}

func NewSyntheticAdapter(cfg SyntheticConfig) *SyntheticAdapter {
	if cfg.BasePrice <= 0 {
		cfg.BasePrice = 100.0
	}
	if cfg.Volatility <= 0 {
		cfg.Volatility = 0.02
	}
	if cfg.FloorPrice <= 0 {
		cfg.FloorPrice = 0.01
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &SyntheticAdapter{
		cfg:    cfg,
		prices: make(map[string]float64),
		rng:    rand.New(rand.NewSource(seed)),
		now:    time.Now,
	}
}

func (s *SyntheticAdapter) Name() string { return string(SourceSynthetic) }

func (s *SyntheticAdapter) FetchOne(_ context.Context, instrument, granularity string) (*Quote, error) {
	price := s.Generate(instrument)
	return &Quote{
		Instrument:  instrument,
		Symbol:      delayedSymbol(instrument),
		Price:       price,
		Timestamp:   s.now(),
		Source:      SourceSynthetic,
		Granularity: granularity,
		Fallback:    true,
	}, nil
}

func (s *SyntheticAdapter) FetchMany(ctx context.Context, instruments []string, granularity string) map[string]*Quote {
	return fetchEach(ctx, s, instruments, granularity)
}

// Generate advances the walk for one instrument and returns the new price.
func (s *SyntheticAdapter) Generate(instrument string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.prices[instrument]
	if !ok {
		prev = s.cfg.BasePrice
	}
	next := prev * (1 + s.cfg.Drift + s.cfg.Volatility*s.gaussian())
	if next < s.cfg.FloorPrice {
		next = s.cfg.FloorPrice
	}
	s.prices[instrument] = next
	return next
}

// ResetPrice clears the walk memory for one instrument.
func (s *SyntheticAdapter) ResetPrice(instrument string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.prices, instrument)
}

// ResetAll clears the walk memory for every instrument.
func (s *SyntheticAdapter) ResetAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices = make(map[string]float64)
}

// gaussian returns a standard normal sample via the Box-Muller transform,
// generating two per transform and caching the second. Callers hold s.mu.
func (s *SyntheticAdapter) gaussian() float64 {
	if s.hasSpare {
		s.hasSpare = false
		return s.spare
	}
	var u1 float64
	for u1 == 0 {
		u1 = s.rng.Float64()
	}
	u2 := s.rng.Float64()
	r := math.Sqrt(-2 * math.Log(u1))
	theta := 2 * math.Pi * u2
	s.spare = r * math.Sin(theta)
	s.hasSpare = true
	return r * math.Cos(theta)
}
