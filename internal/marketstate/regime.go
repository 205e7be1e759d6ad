// Package marketstate derives the dealer-positioning regime, open-interest
// distribution, max-pain and sentiment readings from the current gamma
// profile and options chain. Everything here is a pure function over
// inputs owned by other components.
package marketstate

import (
	"github.com/quantarc/halfpipe/internal/gex"
)

// Regime combines the net dealer gamma sign with spot's position relative
// to the gamma flip.
type Regime string

const (
	PositiveGammaAboveFlip Regime = "POSITIVE_GAMMA_ABOVE_FLIP"
	PositiveGammaBelowFlip Regime = "POSITIVE_GAMMA_BELOW_FLIP"
	NegativeGammaBelowFlip Regime = "NEGATIVE_GAMMA_BELOW_FLIP"
	NegativeGammaAboveFlip Regime = "NEGATIVE_GAMMA_ABOVE_FLIP"
)

// GammaLabel is the sign half of the regime, short enough for the
// snapshot table's regime column.
func (r Regime) GammaLabel() string {
	switch r {
	case PositiveGammaAboveFlip, PositiveGammaBelowFlip:
		return "POSITIVE_GAMMA"
	case NegativeGammaBelowFlip, NegativeGammaAboveFlip:
		return "NEGATIVE_GAMMA"
	default:
		return "UNKNOWN"
	}
}

// RegimeAnalysis is the classified regime with its fixed interpretation.
type RegimeAnalysis struct {
	Regime                Regime   `json:"regime"`
	Description           string   `json:"description"`
	Implications          []string `json:"implications"`
	VolatilityExpectation string   `json:"volatility_expectation"`
	PositiveGamma         bool     `json:"positive_gamma"`
	AboveFlip             bool     `json:"above_flip"`
	Spot                  float64  `json:"spot"`
	FlipLevel             float64  `json:"flip_level,omitempty"`
	TotalGEX              float64  `json:"total_gex"`
}

// ClassifyRegime maps (spot, net GEX, flip level) onto one of the four
// regimes. A missing flip (zero price) leaves spot counted as above.
func ClassifyRegime(spot float64, totals gex.Totals, flip gex.GammaFlip) RegimeAnalysis {
	positive := totals.Total >= 0
	above := spot >= flip.Price

	ra := RegimeAnalysis{
		PositiveGamma: positive,
		AboveFlip:     above,
		Spot:          spot,
		FlipLevel:     flip.Price,
		TotalGEX:      totals.Total,
	}

	switch {
	case positive && above:
		ra.Regime = PositiveGammaAboveFlip
		ra.Description = "Dealers are long gamma with spot above the flip; hedging flow leans against price moves."
		ra.Implications = []string{
			"Dealers sell rallies and buy dips",
			"Price tends to pin near high-OI strikes",
			"Breakouts need outsized flow to hold",
		}
		ra.VolatilityExpectation = "SUPPRESSED"
	case positive && !above:
		ra.Regime = PositiveGammaBelowFlip
		ra.Description = "Net gamma is still positive but spot trades below the flip; the stabilizing cushion thins as price falls."
		ra.Implications = []string{
			"Support weakens approaching the flip",
			"A close below the flip hands control to short-gamma flows",
			"Watch put wall strikes for defense",
		}
		ra.VolatilityExpectation = "CONTAINED"
	case !positive && !above:
		ra.Regime = NegativeGammaBelowFlip
		ra.Description = "Dealers are short gamma with spot below the flip; hedging flow chases price."
		ra.Implications = []string{
			"Dealers sell weakness and buy strength",
			"Moves extend and accelerate",
			"Liquidation cascades carry further than usual",
		}
		ra.VolatilityExpectation = "ELEVATED"
	default:
		ra.Regime = NegativeGammaAboveFlip
		ra.Description = "Net gamma is negative even with spot above the flip; positioning is unstable on both sides."
		ra.Implications = []string{
			"Rallies can squeeze, dips can cascade",
			"Two-sided hedging amplifies intraday swings",
			"Range signals are unreliable",
		}
		ra.VolatilityExpectation = "UNSTABLE"
	}
	return ra
}
