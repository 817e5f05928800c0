package quotes

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// RealtimeAdapter fetches live ticks from a bearer-token-authenticated REST
// API. No rate ceiling is modeled; the provider's paid tier is effectively
// unmetered at our call volumes.
type RealtimeAdapter struct {
	baseURL    string
	token      string
	httpClient *http.Client
	now        func() time.Time
}

type RealtimeConfig struct {
	BaseURL        string
	Token          string
	TimeoutSeconds int
}

func NewRealtimeAdapter(cfg RealtimeConfig) (*RealtimeAdapter, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("realtime adapter: base URL is required")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("realtime adapter: bearer token is required")
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 5
	}
	return &RealtimeAdapter{
		baseURL:    cfg.BaseURL,
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		now:        time.Now,
	}, nil
}

func (r *RealtimeAdapter) Name() string { return string(SourceRealtime) }

func (r *RealtimeAdapter) FetchOne(ctx context.Context, instrument, granularity string) (*Quote, error) {
	params := url.Values{
		"symbol":   {realtimeSymbol(instrument)},
		"interval": {granularity},
	}
	if ex := realtimeExchange(instrument); ex != "" {
		params.Set("exchange", ex)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+r.token)

	body, err := doGet(ctx, r.httpClient, SourceRealtime, r.baseURL+"/ticks/latest?"+params.Encode(), header)
	if err != nil {
		return nil, err
	}

	q, err := normalizeResponse(body, instrument, granularity, SourceRealtime, r.now())
	if err != nil {
		return nil, err
	}
	return q, nil
}

func (r *RealtimeAdapter) FetchMany(ctx context.Context, instruments []string, granularity string) map[string]*Quote {
	return fetchEach(ctx, r, instruments, granularity)
}
