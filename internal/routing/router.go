package routing

import (
	"fmt"
	"strings"

	"github.com/LeonAdeoye/market-service/internal/quotes"
)

// Rules holds the configured suffix lists, one per provider. A provider is
// enabled iff its list is non-empty.
type Rules struct {
	RealtimeSuffixes []string
	DelayedSuffixes  []string
	CryptoSuffixes   []string
}

// UnroutableInstrumentError names the instrument and every configured suffix
// so a bad routing config is diagnosable from the error alone.
type UnroutableInstrumentError struct {
	Instrument         string
	ConfiguredSuffixes []string
}

func (e *UnroutableInstrumentError) Error() string {
	return fmt.Sprintf("no provider matches instrument %q (configured suffixes: %s)",
		e.Instrument, strings.Join(e.ConfiguredSuffixes, ", "))
}

// DetermineProvider maps an instrument id to a provider by literal
// case-sensitive suffix match. Precedence is fixed: real-time suffixes are
// checked first, then delayed, then crypto; the first matching suffix wins.
// Evaluated fresh on every call since rules can change between calls.
func DetermineProvider(instrument string, rules Rules) (quotes.SourceType, error) {
	for _, suffix := range rules.RealtimeSuffixes {
		if strings.HasSuffix(instrument, suffix) {
			return quotes.SourceRealtime, nil
		}
	}
	for _, suffix := range rules.DelayedSuffixes {
		if strings.HasSuffix(instrument, suffix) {
			return quotes.SourceDelayed, nil
		}
	}
	for _, suffix := range rules.CryptoSuffixes {
		if strings.HasSuffix(instrument, suffix) {
			return quotes.SourceCrypto, nil
		}
	}

	all := make([]string, 0,
		len(rules.RealtimeSuffixes)+len(rules.DelayedSuffixes)+len(rules.CryptoSuffixes))
	all = append(all, rules.RealtimeSuffixes...)
	all = append(all, rules.DelayedSuffixes...)
	all = append(all, rules.CryptoSuffixes...)
	return "", &UnroutableInstrumentError{Instrument: instrument, ConfiguredSuffixes: all}
}
