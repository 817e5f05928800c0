package quotes

import (
	"context"
	"io"
	"net/http"

	"github.com/LeonAdeoye/market-service/internal/observ"
)

// doGet issues one upstream GET and returns the body on HTTP 200. Transport
// failures and non-200 statuses both come back as UpstreamError so the
// retry/breaker layer treats them uniformly.
func doGet(ctx context.Context, client *http.Client, src SourceType, url string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &UpstreamError{Source: src, Err: err}
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &UpstreamError{Source: src, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UpstreamError{Source: src, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &UpstreamError{Source: src, Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// fetchEach is the shared FetchMany loop: one pass, per-id isolation, failed
// ids logged and omitted.
func fetchEach(ctx context.Context, a Adapter, instruments []string, granularity string) map[string]*Quote {
	results := make(map[string]*Quote, len(instruments))
	for _, id := range instruments {
		q, err := a.FetchOne(ctx, id, granularity)
		if err != nil {
			observ.Warn("fetch_many_item_failed", map[string]any{
				"adapter":    a.Name(),
				"instrument": id,
				"error":      err.Error(),
			})
			continue
		}
		results[id] = q
	}
	return results
}
