package quotes

import (
	"context"
	"time"
)

// SourceType identifies an upstream quote provider.
type SourceType string

const (
	SourceDelayed   SourceType = "delayed"
	SourceRealtime  SourceType = "realtime"
	SourceCrypto    SourceType = "crypto"
	SourceSynthetic SourceType = "synthetic"
)

// Quote is the normalized record produced by every adapter. Price is the only
// mandatory numeric field; a price of zero means "no data obtained" and is
// never a legitimate value on the wire without a warning.
type Quote struct {
	Instrument  string     `json:"instrument"`
	Symbol      string     `json:"symbol"` // provider display symbol
	Price       float64    `json:"price"`
	Open        float64    `json:"open,omitempty"`
	High        float64    `json:"high,omitempty"`
	Low         float64    `json:"low,omitempty"`
	Volume      int64      `json:"volume,omitempty"`
	Timestamp   time.Time  `json:"timestamp"`
	Source      SourceType `json:"source"`
	Granularity string     `json:"granularity,omitempty"`
	Fallback    bool       `json:"fallback,omitempty"` // synthesized substitute, not authoritative
}

// Adapter is the fetch surface every upstream provider exposes.
//
// FetchMany is one pass over ids with per-id isolation: a failed id is logged
// and omitted from the result, it never aborts the rest.
type Adapter interface {
	Name() string
	FetchOne(ctx context.Context, instrument, granularity string) (*Quote, error)
	FetchMany(ctx context.Context, instruments []string, granularity string) map[string]*Quote
}
