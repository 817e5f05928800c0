package quotes

import "strings"

// Instrument ids are exchange-qualified codes ("0700.HK", "7203.T", "BTC-USD").
// Each provider wants them in its own shape; conversion is a pure string
// transform done at the adapter boundary, never persisted.

// delayedSymbol keeps the exchange suffix; the delayed provider understands
// exchange-qualified codes directly. Only whitespace and case are normalized.
func delayedSymbol(instrument string) string {
	return strings.ToUpper(strings.TrimSpace(instrument))
}

// realtimeSymbol strips the exchange qualifier: the real-time provider indexes
// by bare ticker plus an exchange query parameter derived from the suffix.
func realtimeSymbol(instrument string) string {
	s := strings.ToUpper(strings.TrimSpace(instrument))
	if i := strings.LastIndex(s, "."); i > 0 {
		return s[:i]
	}
	return s
}

// realtimeExchange returns the exchange qualifier for the real-time provider,
// empty when the instrument carries none.
func realtimeExchange(instrument string) string {
	s := strings.ToUpper(strings.TrimSpace(instrument))
	if i := strings.LastIndex(s, "."); i > 0 && i < len(s)-1 {
		return s[i+1:]
	}
	return ""
}

// cryptoSymbol folds pair separators: "BTC-USD" and "BTC/USD" both become
// "BTCUSD", the shape the crypto provider's ticker endpoint takes.
func cryptoSymbol(instrument string) string {
	s := strings.ToUpper(strings.TrimSpace(instrument))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, "/", "")
	return s
}
