package quotes

import "fmt"

// UpstreamError is a transport or HTTP-level failure from a provider. Retryable.
type UpstreamError struct {
	Source SourceType
	Status int
	Body   string
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s upstream error: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("%s upstream error: HTTP %d: %s", e.Source, e.Status, snippet(e.Body))
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// ResponseFormatError means no known payload shape matched. Not retryable:
// it indicates a contract change upstream.
type ResponseFormatError struct {
	Source SourceType
	Body   string
}

func (e *ResponseFormatError) Error() string {
	return fmt.Sprintf("%s response format unrecognized: %s", e.Source, snippet(e.Body))
}

func snippet(s string) string {
	const max = 200
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
