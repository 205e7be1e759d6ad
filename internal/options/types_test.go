package options

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSymbol(t *testing.T) {
	tests := []struct {
		name       string
		symbol     string
		wantUnder  string
		wantExpiry time.Time
		wantStrike float64
		wantSide   Side
		wantErr    bool
	}{
		{
			name:       "btc call",
			symbol:     "BTC-260529-100000-C",
			wantUnder:  "BTC",
			wantExpiry: time.Date(2026, time.May, 29, 8, 0, 0, 0, time.UTC),
			wantStrike: 100000,
			wantSide:   SideCall,
		},
		{
			name:       "eth put",
			symbol:     "ETH-250606-2400-P",
			wantUnder:  "ETH",
			wantExpiry: time.Date(2025, time.June, 6, 8, 0, 0, 0, time.UTC),
			wantStrike: 2400,
			wantSide:   SidePut,
		},
		{
			name:       "fractional strike",
			symbol:     "SOL-260926-87.5-C",
			wantUnder:  "SOL",
			wantExpiry: time.Date(2026, time.September, 26, 8, 0, 0, 0, time.UTC),
			wantStrike: 87.5,
			wantSide:   SideCall,
		},
		{name: "too few segments", symbol: "BTC-260529-100000", wantErr: true},
		{name: "bad date", symbol: "BTC-26AB29-100000-C", wantErr: true},
		{name: "bad strike", symbol: "BTC-260529-1e5x-C", wantErr: true},
		{name: "negative strike", symbol: "BTC-260529--5-C", wantErr: true},
		{name: "bad side", symbol: "BTC-260529-100000-X", wantErr: true},
		{name: "empty", symbol: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			under, expiry, strike, side, err := ParseSymbol(tt.symbol)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantUnder, under)
			assert.True(t, expiry.Equal(tt.wantExpiry), "expiry %s != %s", expiry, tt.wantExpiry)
			assert.Equal(t, tt.wantStrike, strike)
			assert.Equal(t, tt.wantSide, side)
		})
	}
}

func TestFormatSymbolRoundTrip(t *testing.T) {
	expiry := time.Date(2026, time.May, 29, 8, 0, 0, 0, time.UTC)

	sym := FormatSymbol("btc", expiry, 100000, SideCall)
	assert.Equal(t, "BTC-260529-100000-C", sym)

	under, gotExpiry, strike, side, err := ParseSymbol(sym)
	require.NoError(t, err)
	assert.Equal(t, "BTC", under)
	assert.True(t, gotExpiry.Equal(expiry))
	assert.Equal(t, 100000.0, strike)
	assert.Equal(t, SideCall, side)

	frac := FormatSymbol("SOL", expiry, 87.5, SidePut)
	assert.Equal(t, "SOL-260529-87.5-P", frac)
}

func TestSideSign(t *testing.T) {
	assert.Equal(t, 1.0, SideCall.Sign())
	assert.Equal(t, -1.0, SidePut.Sign())
}

func TestOptionDTE(t *testing.T) {
	now := time.Date(2026, time.May, 1, 12, 0, 0, 0, time.UTC)

	opt := &Option{Expiry: time.Date(2026, time.May, 29, 8, 0, 0, 0, time.UTC)}
	assert.Equal(t, 28, opt.DTE(now)) // 27d20h rounds up to 28

	sameDay := &Option{Expiry: now.Add(6 * time.Hour)}
	assert.Equal(t, 1, sameDay.DTE(now))

	expired := &Option{Expiry: now.Add(-time.Hour)}
	assert.Equal(t, 0, expired.DTE(now))
	assert.True(t, expired.Expired(now))
}

func TestMidIVFallback(t *testing.T) {
	both := &Option{BidIV: 0.60, AskIV: 0.70, MarkIV: 0.64}
	assert.InDelta(t, 0.65, both.MidIV(), 1e-12)

	oneSided := &Option{AskIV: 0.70, MarkIV: 0.64}
	assert.Equal(t, 0.64, oneSided.MidIV())
}
