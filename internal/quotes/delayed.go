package quotes

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// DelayedAdapter fetches 15-minute-delayed quotes from a free-tier REST API.
// The free tier has a global calls-per-window budget, so every fetch waits on
// a shared rate.Limiter; the scheduler additionally slices this provider's
// due-list into rotating batches so one tick never burns the whole budget.
type DelayedAdapter struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	now        func() time.Time
}

type DelayedConfig struct {
	BaseURL            string
	APIKey             string
	TimeoutSeconds     int
	RateLimitPerMinute int
}

func NewDelayedAdapter(cfg DelayedConfig) (*DelayedAdapter, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("delayed adapter: base URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("delayed adapter: API key is required")
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 10
	}
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = 5
	}
	return &DelayedAdapter{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(float64(cfg.RateLimitPerMinute)/60), 1),
		now:        time.Now,
	}, nil
}

func (d *DelayedAdapter) Name() string { return string(SourceDelayed) }

func (d *DelayedAdapter) FetchOne(ctx context.Context, instrument, granularity string) (*Quote, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, &UpstreamError{Source: SourceDelayed, Err: err}
	}

	params := url.Values{
		"symbol":   {delayedSymbol(instrument)},
		"interval": {granularity},
		"apikey":   {d.apiKey},
	}
	body, err := doGet(ctx, d.httpClient, SourceDelayed, d.baseURL+"/quote?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	q, err := normalizeResponse(body, instrument, granularity, SourceDelayed, d.now())
	if err != nil {
		return nil, err
	}
	return q, nil
}

func (d *DelayedAdapter) FetchMany(ctx context.Context, instruments []string, granularity string) map[string]*Quote {
	return fetchEach(ctx, d, instruments, granularity)
}
