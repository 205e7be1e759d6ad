package options

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// DefaultStaleTTL is how long an option stays eligible for analytics after
// its last market-data update.
const DefaultStaleTTL = 10 * time.Second

// Store holds the live options chain for one underlying. A single ingest
// goroutine writes, analytics goroutines read concurrently.
type Store struct {
	mu       sync.RWMutex
	bySymbol map[string]*Option
	staleTTL time.Duration
	nowFn    func() time.Time
}

// NewStore creates an empty chain store. A non-positive TTL falls back to
// DefaultStaleTTL.
func NewStore(staleTTL time.Duration) *Store {
	if staleTTL <= 0 {
		staleTTL = DefaultStaleTTL
	}
	return &Store{
		bySymbol: make(map[string]*Option),
		staleTTL: staleTTL,
		nowFn:    time.Now,
	}
}

// UpsertContract registers a listed contract (or refreshes its metadata)
// without touching market state. Populated metadata fields must agree with
// what the symbol decodes to; mismatched rows are rejected.
func (s *Store) UpsertContract(meta ContractMeta) (*Option, error) {
	underlying, expiry, strike, side, err := ParseSymbol(meta.Symbol)
	if err != nil {
		return nil, err
	}
	if meta.Underlying != "" && meta.Underlying != underlying {
		return nil, fmt.Errorf("%s: metadata underlying %s disagrees with symbol", meta.Symbol, meta.Underlying)
	}
	if meta.Strike > 0 && meta.Strike != strike {
		return nil, fmt.Errorf("%s: metadata strike %v disagrees with symbol", meta.Symbol, meta.Strike)
	}
	if meta.Side != "" && meta.Side != side {
		return nil, fmt.Errorf("%s: metadata side %s disagrees with symbol", meta.Symbol, meta.Side)
	}
	if !meta.Expiry.IsZero() && !sameUTCDate(meta.Expiry, expiry) {
		return nil, fmt.Errorf("%s: metadata expiry %s disagrees with symbol", meta.Symbol, meta.Expiry.UTC().Format("2006-01-02"))
	}
	size := meta.ContractSize
	if size <= 0 {
		size = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	opt, ok := s.bySymbol[meta.Symbol]
	if !ok {
		opt = &Option{
			Symbol:     meta.Symbol,
			Underlying: underlying,
			Strike:     strike,
			Expiry:     expiry,
			Side:       side,
		}
		s.bySymbol[meta.Symbol] = opt
	}
	opt.ContractSize = size
	return cloneOption(opt), nil
}

func sameUTCDate(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// ApplyGreeks updates the sensitivities for symbol, creating the contract
// if it has not been seen yet.
func (s *Store) ApplyGreeks(symbol string, g Greeks, ts time.Time) error {
	return s.apply(symbol, ts, func(o *Option) {
		o.Greeks = g
	})
}

// ApplyMarkPrice updates the mark price alone, leaving IVs untouched.
// The mark-price stream carries no vols.
func (s *Store) ApplyMarkPrice(symbol string, px float64, ts time.Time) error {
	return s.apply(symbol, ts, func(o *Option) {
		o.MarkPrice = px
	})
}

// ApplyMark updates mark price and the mark/bid/ask IVs.
func (s *Store) ApplyMark(symbol string, markPrice, markIV, bidIV, askIV float64, ts time.Time) error {
	return s.apply(symbol, ts, func(o *Option) {
		o.MarkPrice = markPrice
		o.MarkIV = markIV
		o.BidIV = bidIV
		o.AskIV = askIV
	})
}

// ApplyQuote updates the top-of-book quote and the underlying index price
// carried on the ticker.
func (s *Store) ApplyQuote(symbol string, bidPx, bidSz, askPx, askSz, underlyingPx float64, ts time.Time) error {
	return s.apply(symbol, ts, func(o *Option) {
		o.BestBidPrice = bidPx
		o.BestBidSize = bidSz
		o.BestAskPrice = askPx
		o.BestAskSize = askSz
		if underlyingPx > 0 {
			o.UnderlyingPrice = underlyingPx
		}
	})
}

// ApplyTicker updates the 24h volume, bid/ask prices and last trade price.
func (s *Store) ApplyTicker(symbol string, volume, bidPx, askPx, lastPx float64, ts time.Time) error {
	return s.apply(symbol, ts, func(o *Option) {
		o.Volume24h = volume
		o.BestBidPrice = bidPx
		o.BestAskPrice = askPx
		o.LastPrice = lastPx
	})
}

// ApplyOpenInterest updates open interest alone; volume rides the ticker.
func (s *Store) ApplyOpenInterest(symbol string, oi float64, ts time.Time) error {
	return s.apply(symbol, ts, func(o *Option) {
		o.OpenInterest = oi
	})
}

func (s *Store) apply(symbol string, ts time.Time, mut func(*Option)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	opt, ok := s.bySymbol[symbol]
	if !ok {
		underlying, expiry, strike, side, err := ParseSymbol(symbol)
		if err != nil {
			return err
		}
		opt = &Option{
			Symbol:       symbol,
			Underlying:   underlying,
			Strike:       strike,
			Expiry:       expiry,
			Side:         side,
			ContractSize: 1,
		}
		s.bySymbol[symbol] = opt
	}

	mut(opt)
	if ts.IsZero() {
		ts = s.nowFn()
	}
	if ts.After(opt.UpdatedAt) {
		opt.UpdatedAt = ts
	}
	return nil
}

// Get returns a copy of one contract, fresh or not.
func (s *Store) Get(symbol string) (*Option, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	opt, ok := s.bySymbol[symbol]
	if !ok {
		return nil, false
	}
	return cloneOption(opt), true
}

// All returns copies of every contract that is fresh (updated within the
// stale TTL) and not expired, sorted by expiry then strike then side.
func (s *Store) All() []*Option {
	now := s.nowFn()
	cutoff := now.Add(-s.staleTTL)

	s.mu.RLock()
	out := make([]*Option, 0, len(s.bySymbol))
	for _, opt := range s.bySymbol {
		if opt.UpdatedAt.Before(cutoff) || opt.Expired(now) {
			continue
		}
		out = append(out, cloneOption(opt))
	}
	s.mu.RUnlock()

	sortOptions(out)
	return out
}

// ByStrike returns fresh contracts at one strike across all expiries.
func (s *Store) ByStrike(strike float64) []*Option {
	all := s.All()
	out := all[:0]
	for _, opt := range all {
		if opt.Strike == strike {
			out = append(out, opt)
		}
	}
	return out
}

// ByExpiry returns fresh contracts for one expiry date (UTC day match).
func (s *Store) ByExpiry(expiry time.Time) []*Option {
	y, m, d := expiry.UTC().Date()
	all := s.All()
	out := all[:0]
	for _, opt := range all {
		oy, om, od := opt.Expiry.UTC().Date()
		if oy == y && om == m && od == d {
			out = append(out, opt)
		}
	}
	return out
}

// Strikes returns the sorted distinct strikes among fresh contracts.
func (s *Store) Strikes() []float64 {
	seen := make(map[float64]struct{})
	for _, opt := range s.All() {
		seen[opt.Strike] = struct{}{}
	}

	out := make([]float64, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Float64s(out)
	return out
}

// Expiries returns the sorted distinct expiry timestamps among fresh
// contracts.
func (s *Store) Expiries() []time.Time {
	seen := make(map[time.Time]struct{})
	for _, opt := range s.All() {
		seen[opt.Expiry] = struct{}{}
	}

	out := make([]time.Time, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// Count returns the total number of contracts held, stale ones included.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bySymbol)
}

// FreshCount returns the number of contracts the analytics layer can see.
func (s *Store) FreshCount() int {
	return len(s.All())
}

// PruneExpired drops contracts whose expiry has passed and returns how many
// were removed.
func (s *Store) PruneExpired() int {
	now := s.nowFn()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for sym, opt := range s.bySymbol {
		if opt.Expired(now) {
			delete(s.bySymbol, sym)
			removed++
		}
	}
	return removed
}

func cloneOption(o *Option) *Option {
	cp := *o
	return &cp
}

func sortOptions(opts []*Option) {
	sort.Slice(opts, func(i, j int) bool {
		if !opts[i].Expiry.Equal(opts[j].Expiry) {
			return opts[i].Expiry.Before(opts[j].Expiry)
		}
		if opts[i].Strike != opts[j].Strike {
			return opts[i].Strike < opts[j].Strike
		}
		return opts[i].Side < opts[j].Side
	})
}
