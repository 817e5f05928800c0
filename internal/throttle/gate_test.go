package throttle

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateInterval(t *testing.T) {
	tests := []struct {
		name    string
		seconds int
		wantErr bool
	}{
		{"below minimum", 0, true},
		{"negative", -5, true},
		{"minimum", 1, false},
		{"typical", 30, false},
		{"maximum", 3600, false},
		{"above maximum", 3601, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateInterval(tt.seconds)
			if tt.wantErr {
				require.Error(t, err)
				var invalid *InvalidIntervalError
				require.True(t, errors.As(err, &invalid))
				assert.Equal(t, tt.seconds, invalid.Seconds)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGateUnconfiguredKeyIsNotGated(t *testing.T) {
	g := NewGate()

	assert.False(t, g.IsConfigured("AAPL"))
	assert.True(t, g.CanProceed("AAPL"))
	assert.Zero(t, g.RemainingSeconds("AAPL"))

	// RecordUpdate for an unconfigured key must not create an entry.
	g.RecordUpdate("AAPL")
	assert.False(t, g.IsConfigured("AAPL"))
}

func TestGateThrottleCycle(t *testing.T) {
	g := NewGate()
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	g.SetClock(func() time.Time { return clock })

	require.NoError(t, g.Configure("7203.T", 30))
	require.True(t, g.IsConfigured("7203.T"))

	// Never updated: immediately eligible.
	assert.True(t, g.CanProceed("7203.T"))
	assert.Zero(t, g.RemainingSeconds("7203.T"))

	g.RecordUpdate("7203.T")
	assert.False(t, g.CanProceed("7203.T"))
	assert.InDelta(t, 30.0, g.RemainingSeconds("7203.T"), 0.001)

	clock = clock.Add(29 * time.Second)
	assert.False(t, g.CanProceed("7203.T"))
	assert.InDelta(t, 1.0, g.RemainingSeconds("7203.T"), 0.001)

	clock = clock.Add(1 * time.Second)
	assert.True(t, g.CanProceed("7203.T"))
	assert.Zero(t, g.RemainingSeconds("7203.T"))
}

func TestGateReconfigureResetsLastUpdate(t *testing.T) {
	g := NewGate()
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	g.SetClock(func() time.Time { return clock })

	require.NoError(t, g.Configure("BTC-USD", 60))
	g.RecordUpdate("BTC-USD")
	require.False(t, g.CanProceed("BTC-USD"))

	// Reconfiguring wipes the last-update time, so the key is eligible again.
	require.NoError(t, g.Configure("BTC-USD", 10))
	assert.True(t, g.CanProceed("BTC-USD"))
}

func TestGateConfigureRejectsInvalidInterval(t *testing.T) {
	g := NewGate()
	require.Error(t, g.Configure("AAPL", 0))
	require.Error(t, g.Configure("AAPL", 4000))
	assert.False(t, g.IsConfigured("AAPL"))
}

func TestGateRemove(t *testing.T) {
	g := NewGate()
	require.NoError(t, g.Configure("0700.HK", 15))
	g.RecordUpdate("0700.HK")

	g.Remove("0700.HK")
	assert.False(t, g.IsConfigured("0700.HK"))
	assert.True(t, g.CanProceed("0700.HK"))

	// Removing an absent key is a no-op.
	g.Remove("0700.HK")
}

func TestGateSnapshot(t *testing.T) {
	g := NewGate()
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	g.SetClock(func() time.Time { return clock })

	require.NoError(t, g.Configure("AAPL", 30))
	require.NoError(t, g.Configure("7203.T", 60))
	g.RecordUpdate("7203.T")
	clock = clock.Add(45 * time.Second)

	snap := g.Snapshot()
	require.Len(t, snap, 2)

	assert.Equal(t, 30.0, snap["AAPL"].MinIntervalSeconds)
	assert.Zero(t, snap["AAPL"].RemainingSeconds)
	assert.True(t, snap["AAPL"].Eligible)

	assert.Equal(t, 60.0, snap["7203.T"].MinIntervalSeconds)
	assert.InDelta(t, 15.0, snap["7203.T"].RemainingSeconds, 0.001)
	assert.False(t, snap["7203.T"].Eligible)
}
