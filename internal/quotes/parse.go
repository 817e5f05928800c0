package quotes

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Upstream payloads come in a handful of shapes depending on provider and
// endpoint version. Normalization tries each known shape in a fixed priority
// order and fails with ResponseFormatError only when none match:
//
//  1. single-quote wrapper: {"quote": {...}}
//  2. list-of-quotes wrapper: {"quotes": [{...}, ...]}
//  3. nested data wrapper: {"data": {...}}
//  4. direct top-level fields: {"price": ..., "symbol": ...}
func normalizeResponse(body []byte, instrument, granularity string, src SourceType, now time.Time) (*Quote, error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(body, &root); err != nil {
		return nil, &ResponseFormatError{Source: src, Body: string(body)}
	}

	if raw, ok := root["quote"]; ok {
		if fields := decodeFields(raw); fields != nil {
			if q := quoteFromFields(fields, instrument, granularity, src, now); q != nil {
				return q, nil
			}
		}
	}

	if raw, ok := root["quotes"]; ok {
		var list []map[string]any
		if err := json.Unmarshal(raw, &list); err == nil {
			if q := quoteFromList(list, instrument, granularity, src, now); q != nil {
				return q, nil
			}
		}
	}

	if raw, ok := root["data"]; ok {
		if fields := decodeFields(raw); fields != nil {
			if q := quoteFromFields(fields, instrument, granularity, src, now); q != nil {
				return q, nil
			}
		}
	}

	if fields := decodeFields(body); fields != nil {
		if q := quoteFromFields(fields, instrument, granularity, src, now); q != nil {
			return q, nil
		}
	}

	return nil, &ResponseFormatError{Source: src, Body: string(body)}
}

func decodeFields(raw []byte) map[string]any {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

// quoteFromList picks the entry matching the instrument's symbol, falling back
// to the first entry when none is labeled.
func quoteFromList(list []map[string]any, instrument, granularity string, src SourceType, now time.Time) *Quote {
	want := strings.ToUpper(instrument)
	for _, fields := range list {
		if sym, ok := stringField(fields, "symbol"); ok && strings.ToUpper(sym) == want {
			if q := quoteFromFields(fields, instrument, granularity, src, now); q != nil {
				return q
			}
		}
	}
	if len(list) > 0 {
		return quoteFromFields(list[0], instrument, granularity, src, now)
	}
	return nil
}

// quoteFromFields builds a Quote when the field set carries at least one price
// candidate key; returns nil so the caller can try the next shape otherwise.
// Price candidates in priority order: price, last, close.
func quoteFromFields(fields map[string]any, instrument, granularity string, src SourceType, now time.Time) *Quote {
	price, ok := numberField(fields, "price", "last", "close")
	if !ok {
		// Shape still counts as a quote when a price key is present but
		// malformed; the zero sentinel is flagged downstream.
		if !hasAnyKey(fields, "price", "last", "close") {
			return nil
		}
		price = 0
	}

	q := &Quote{
		Instrument:  instrument,
		Symbol:      instrument,
		Price:       price,
		Timestamp:   now,
		Source:      src,
		Granularity: granularity,
	}
	if sym, ok := stringField(fields, "symbol"); ok {
		q.Symbol = sym
	}
	if v, ok := numberField(fields, "open"); ok {
		q.Open = v
	}
	if v, ok := numberField(fields, "high"); ok {
		q.High = v
	}
	if v, ok := numberField(fields, "low"); ok {
		q.Low = v
	}
	if v, ok := numberField(fields, "volume"); ok {
		q.Volume = int64(v)
	}
	if ts, ok := timeField(fields, "timestamp"); ok {
		q.Timestamp = ts
	}
	return q
}

func hasAnyKey(fields map[string]any, keys ...string) bool {
	for _, k := range keys {
		if _, ok := fields[k]; ok {
			return true
		}
	}
	return false
}

func stringField(fields map[string]any, key string) (string, bool) {
	v, ok := fields[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

// numberField reads the first present key as a number. Upstreams send numerics
// both as JSON numbers and as strings; malformed values parse as "absent",
// never as an error.
func numberField(fields map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		v, ok := fields[k]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			return n, true
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
			if err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

func timeField(fields map[string]any, key string) (time.Time, bool) {
	v, ok := fields[key]
	if !ok {
		return time.Time{}, false
	}
	switch t := v.(type) {
	case float64:
		// unix seconds or milliseconds, disambiguated by magnitude
		if t > 1e12 {
			return time.UnixMilli(int64(t)), true
		}
		if t > 0 {
			return time.Unix(int64(t), 0), true
		}
	case string:
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}
