package options

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Side identifies the option side of a contract.
type Side string

const (
	SideCall Side = "CALL"
	SidePut  Side = "PUT"
)

// ParseSide maps the single-letter wire suffix ("C"/"P") or a full word
// onto a Side.
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "C", "CALL":
		return SideCall, nil
	case "P", "PUT":
		return SidePut, nil
	default:
		return "", fmt.Errorf("unknown option side %q", s)
	}
}

// Sign returns +1 for calls and -1 for puts, the dealer-positioning
// convention used by the gamma exposure calculator.
func (s Side) Sign() float64 {
	if s == SidePut {
		return -1.0
	}
	return 1.0
}

// Greeks carries the option sensitivities delivered by the venue.
type Greeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Vega  float64 `json:"vega"`
	Theta float64 `json:"theta"`
}

// ContractMeta is the venue's description of one listed contract. Zero
// fields are taken from the symbol; populated fields must agree with it.
type ContractMeta struct {
	Symbol       string    `json:"symbol"`
	Underlying   string    `json:"underlying"`
	Strike       float64   `json:"strike"`
	Expiry       time.Time `json:"expiry"`
	Side         Side      `json:"side"`
	ContractSize float64   `json:"contract_size"`
}

// Option is one listed contract plus the latest market state applied to it.
// All monetary fields are quoted in the underlying's quote currency (USD).
type Option struct {
	Symbol       string    `json:"symbol"`
	Underlying   string    `json:"underlying"`
	Strike       float64   `json:"strike"`
	Expiry       time.Time `json:"expiry"`
	Side         Side      `json:"side"`
	ContractSize float64   `json:"contract_size"` // underlying units, default 1

	Greeks Greeks `json:"greeks"`

	MarkPrice float64 `json:"mark_price"`
	MarkIV    float64 `json:"mark_iv"` // decimal, 0.65 == 65%
	BidIV     float64 `json:"bid_iv"`
	AskIV     float64 `json:"ask_iv"`

	BestBidPrice float64 `json:"best_bid_price"`
	BestBidSize  float64 `json:"best_bid_size"`
	BestAskPrice float64 `json:"best_ask_price"`
	BestAskSize  float64 `json:"best_ask_size"`
	LastPrice    float64 `json:"last_price"`

	OpenInterest    float64 `json:"open_interest"` // contracts
	Volume24h       float64 `json:"volume_24h"`    // contracts
	UnderlyingPrice float64 `json:"underlying_price"`

	UpdatedAt time.Time `json:"updated_at"`
}

// DTE returns days-to-expiry relative to now, rounded up to whole days and
// never negative. Expired contracts report 0.
func (o *Option) DTE(now time.Time) int {
	h := o.Expiry.Sub(now).Hours()
	if h <= 0 {
		return 0
	}
	return int(math.Ceil(h / 24.0))
}

// Moneyness returns strike/spot. Zero when spot is unusable.
func (o *Option) Moneyness(spot float64) float64 {
	if spot <= 0 {
		return 0
	}
	return o.Strike / spot
}

// Expired reports whether the contract's expiry has passed.
func (o *Option) Expired(now time.Time) bool {
	return !o.Expiry.After(now)
}

// MidIV prefers the bid/ask IV midpoint and falls back to mark IV when a
// quote side is missing.
func (o *Option) MidIV() float64 {
	if o.BidIV > 0 && o.AskIV > 0 {
		return (o.BidIV + o.AskIV) / 2.0
	}
	return o.MarkIV
}

// expiryLayout matches the symbol's date segment, e.g. "260529" for
// 2026-05-29.
const expiryLayout = "060102"

// expiryHourUTC is the settlement hour for dated contracts.
const expiryHourUTC = 8

// FormatSymbol renders the canonical instrument name, e.g.
// "BTC-260529-100000-C". Fractional strikes keep their decimals.
func FormatSymbol(underlying string, expiry time.Time, strike float64, side Side) string {
	var strikeStr string
	if strike == math.Trunc(strike) {
		strikeStr = strconv.FormatFloat(strike, 'f', 0, 64)
	} else {
		strikeStr = strconv.FormatFloat(strike, 'f', -1, 64)
	}

	return fmt.Sprintf("%s-%s-%s-%s",
		strings.ToUpper(underlying),
		expiry.UTC().Format(expiryLayout),
		strikeStr,
		string(side)[:1])
}

// ParseSymbol splits a canonical instrument name into its components.
// The expiry is normalized to the venue settlement time (08:00 UTC).
func ParseSymbol(symbol string) (underlying string, expiry time.Time, strike float64, side Side, err error) {
	parts := strings.Split(strings.TrimSpace(symbol), "-")
	if len(parts) != 4 {
		return "", time.Time{}, 0, "", fmt.Errorf("malformed option symbol %q: want 4 segments, got %d", symbol, len(parts))
	}

	underlying = strings.ToUpper(parts[0])
	if underlying == "" {
		return "", time.Time{}, 0, "", fmt.Errorf("malformed option symbol %q: empty underlying", symbol)
	}

	expiry, err = parseExpiry(parts[1])
	if err != nil {
		return "", time.Time{}, 0, "", fmt.Errorf("malformed option symbol %q: %w", symbol, err)
	}

	strike, err = strconv.ParseFloat(parts[2], 64)
	if err != nil || strike <= 0 {
		return "", time.Time{}, 0, "", fmt.Errorf("malformed option symbol %q: bad strike %q", symbol, parts[2])
	}

	side, err = ParseSide(parts[3])
	if err != nil {
		return "", time.Time{}, 0, "", fmt.Errorf("malformed option symbol %q: %w", symbol, err)
	}

	return underlying, expiry, strike, side, nil
}

// parseExpiry decodes YYMMDD segments like "260529".
func parseExpiry(seg string) (time.Time, error) {
	seg = strings.TrimSpace(seg)
	t, err := time.Parse(expiryLayout, seg)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad expiry segment %q: %w", seg, err)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), expiryHourUTC, 0, 0, 0, time.UTC), nil
}
