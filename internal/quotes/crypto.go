package quotes

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// CryptoAdapter fetches crypto pair quotes from an API-key-header
// authenticated REST API, billed per call.
type CryptoAdapter struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	now        func() time.Time
}

type CryptoConfig struct {
	BaseURL        string
	APIKey         string
	TimeoutSeconds int
}

func NewCryptoAdapter(cfg CryptoConfig) (*CryptoAdapter, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("crypto adapter: base URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("crypto adapter: API key is required")
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 5
	}
	return &CryptoAdapter{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		now:        time.Now,
	}, nil
}

func (c *CryptoAdapter) Name() string { return string(SourceCrypto) }

func (c *CryptoAdapter) FetchOne(ctx context.Context, instrument, granularity string) (*Quote, error) {
	params := url.Values{
		"pair":     {cryptoSymbol(instrument)},
		"interval": {granularity},
	}
	header := http.Header{}
	header.Set("X-API-Key", c.apiKey)

	body, err := doGet(ctx, c.httpClient, SourceCrypto, c.baseURL+"/ticker?"+params.Encode(), header)
	if err != nil {
		return nil, err
	}

	q, err := normalizeResponse(body, instrument, granularity, SourceCrypto, c.now())
	if err != nil {
		return nil, err
	}
	return q, nil
}

func (c *CryptoAdapter) FetchMany(ctx context.Context, instruments []string, granularity string) map[string]*Quote {
	return fetchEach(ctx, c, instruments, granularity)
}
