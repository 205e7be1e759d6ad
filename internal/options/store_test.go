package options

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, now time.Time) *Store {
	t.Helper()
	s := NewStore(DefaultStaleTTL)
	s.nowFn = func() time.Time { return now }
	return s
}

func TestStoreApplyAndGet(t *testing.T) {
	now := time.Date(2026, time.May, 1, 12, 0, 0, 0, time.UTC)
	s := newTestStore(t, now)

	sym := "BTC-260529-100000-C"
	require.NoError(t, s.ApplyGreeks(sym, Greeks{Delta: 0.45, Gamma: 2.1e-5}, now))
	require.NoError(t, s.ApplyMark(sym, 0.042, 0.65, 0.63, 0.67, now))
	require.NoError(t, s.ApplyOpenInterest(sym, 1500, now))
	require.NoError(t, s.ApplyTicker(sym, 320, 0.041, 0.043, 0.042, now))

	opt, ok := s.Get(sym)
	require.True(t, ok)
	assert.Equal(t, "BTC", opt.Underlying)
	assert.Equal(t, 100000.0, opt.Strike)
	assert.Equal(t, SideCall, opt.Side)
	assert.Equal(t, 0.45, opt.Greeks.Delta)
	assert.Equal(t, 0.65, opt.MarkIV)
	assert.Equal(t, 1500.0, opt.OpenInterest)
	assert.Equal(t, 320.0, opt.Volume24h)
	assert.Equal(t, 0.042, opt.LastPrice)
	assert.Equal(t, now, opt.UpdatedAt)

	// Returned copies must not alias store state.
	opt.OpenInterest = 0
	again, _ := s.Get(sym)
	assert.Equal(t, 1500.0, again.OpenInterest)
}

func TestStoreRejectsMalformedSymbols(t *testing.T) {
	s := newTestStore(t, time.Now())

	assert.Error(t, s.ApplyGreeks("BTC-GARBAGE", Greeks{}, time.Time{}))
	_, err := s.UpsertContract(ContractMeta{Symbol: "not-a-symbol"})
	assert.Error(t, err)
	assert.Equal(t, 0, s.Count())
}

func TestUpsertContractChecksMetadata(t *testing.T) {
	s := newTestStore(t, time.Now())
	sym := "BTC-260529-100000-C"

	_, err := s.UpsertContract(ContractMeta{Symbol: sym, Strike: 95000})
	assert.Error(t, err)
	_, err = s.UpsertContract(ContractMeta{Symbol: sym, Side: SidePut})
	assert.Error(t, err)
	_, err = s.UpsertContract(ContractMeta{Symbol: sym, Underlying: "ETH"})
	assert.Error(t, err)
	_, err = s.UpsertContract(ContractMeta{Symbol: sym, Expiry: time.Date(2026, time.May, 30, 8, 0, 0, 0, time.UTC)})
	assert.Error(t, err)
	assert.Equal(t, 0, s.Count())

	opt, err := s.UpsertContract(ContractMeta{
		Symbol:     sym,
		Underlying: "BTC",
		Strike:     100000,
		Side:       SideCall,
		Expiry:     time.Date(2026, time.May, 29, 8, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, opt.ContractSize)
	assert.Equal(t, 1, s.Count())

	// Refreshing metadata updates the contract unit in place.
	opt, err = s.UpsertContract(ContractMeta{Symbol: sym, ContractSize: 0.1})
	require.NoError(t, err)
	assert.Equal(t, 0.1, opt.ContractSize)
	assert.Equal(t, 1, s.Count())
}

func TestStoreStaleness(t *testing.T) {
	now := time.Date(2026, time.May, 1, 12, 0, 0, 0, time.UTC)
	s := newTestStore(t, now)

	fresh := "BTC-260529-100000-C"
	stale := "BTC-260529-95000-P"
	require.NoError(t, s.ApplyOpenInterest(fresh, 100, now.Add(-2*time.Second)))
	require.NoError(t, s.ApplyOpenInterest(stale, 100, now.Add(-15*time.Second)))

	all := s.All()
	require.Len(t, all, 1)
	assert.Equal(t, fresh, all[0].Symbol)

	assert.Equal(t, 2, s.Count())
	assert.Equal(t, 1, s.FreshCount())

	// Stale contracts are still retrievable directly.
	_, ok := s.Get(stale)
	assert.True(t, ok)
}

func TestStoreExcludesExpired(t *testing.T) {
	now := time.Date(2026, time.May, 30, 12, 0, 0, 0, time.UTC)
	s := newTestStore(t, now)

	// Expired yesterday but recently ticked.
	require.NoError(t, s.ApplyOpenInterest("BTC-260529-100000-C", 100, now))
	require.NoError(t, s.ApplyOpenInterest("BTC-260626-100000-C", 100, now))

	all := s.All()
	require.Len(t, all, 1)
	assert.Equal(t, "BTC-260626-100000-C", all[0].Symbol)

	removed := s.PruneExpired()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, s.Count())
}

func TestStoreSelectorsAndOrdering(t *testing.T) {
	now := time.Date(2026, time.May, 1, 12, 0, 0, 0, time.UTC)
	s := newTestStore(t, now)

	for _, sym := range []string{
		"BTC-260626-110000-C",
		"BTC-260529-100000-P",
		"BTC-260529-100000-C",
		"BTC-260529-95000-C",
		"BTC-260626-100000-P",
	} {
		require.NoError(t, s.ApplyOpenInterest(sym, 10, now))
	}

	all := s.All()
	require.Len(t, all, 5)
	// Expiry asc, then strike asc, then CALL before PUT.
	assert.Equal(t, "BTC-260529-95000-C", all[0].Symbol)
	assert.Equal(t, "BTC-260529-100000-C", all[1].Symbol)
	assert.Equal(t, "BTC-260529-100000-P", all[2].Symbol)
	assert.Equal(t, "BTC-260626-100000-P", all[3].Symbol)
	assert.Equal(t, "BTC-260626-110000-C", all[4].Symbol)

	atStrike := s.ByStrike(100000)
	require.Len(t, atStrike, 3)

	may := s.ByExpiry(time.Date(2026, time.May, 29, 0, 0, 0, 0, time.UTC))
	require.Len(t, may, 3)

	assert.Equal(t, []float64{95000, 100000, 110000}, s.Strikes())

	exps := s.Expiries()
	require.Len(t, exps, 2)
	assert.True(t, exps[0].Before(exps[1]))
}
