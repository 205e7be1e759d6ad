package volatility

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// AnomalyKind tags the two detector families.
type AnomalyKind string

const (
	KindIVOutlier   AnomalyKind = "IV_OUTLIER"
	KindSkewAnomaly AnomalyKind = "SKEW_ANOMALY"
)

// Severity grades an anomaly for downstream consumers.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// PriceType says which side of the expected value an IV outlier sits on.
type PriceType string

const (
	Overpriced  PriceType = "OVERPRICED"
	Underpriced PriceType = "UNDERPRICED"
)

// SkewType says which leg carries the premium in a skew anomaly.
type SkewType string

const (
	PutPremium  SkewType = "PUT_PREMIUM"
	CallPremium SkewType = "CALL_PREMIUM"
)

// Anomaly is one flagged surface point. IV outliers populate the
// observed/expected IV fields; skew anomalies the spread fields.
type Anomaly struct {
	Kind      AnomalyKind `json:"kind"`
	DTE       int         `json:"dte"`
	Strike    float64     `json:"strike"`
	Moneyness float64     `json:"moneyness"`

	ObservedIV float64 `json:"observed_iv,omitempty"`
	ExpectedIV float64 `json:"expected_iv,omitempty"`

	CallIV         float64 `json:"call_iv,omitempty"`
	PutIV          float64 `json:"put_iv,omitempty"`
	ObservedSpread float64 `json:"observed_spread,omitempty"`
	ExpectedSpread float64 `json:"expected_spread,omitempty"`

	Deviation float64   `json:"deviation"`
	ZScore    float64   `json:"z_score"`
	Severity  Severity  `json:"severity"`
	PriceType PriceType `json:"price_type,omitempty"`
	SkewType  SkewType  `json:"skew_type,omitempty"`

	Relevance    float64 `json:"relevance"`
	Volume       float64 `json:"volume"`
	OpenInterest float64 `json:"open_interest"`
	IsWing       bool    `json:"is_wing"`
}

// Priority orders anomalies for reporting: |z| amplified by liquidity.
func (a *Anomaly) Priority() float64 {
	return math.Abs(a.ZScore) * (1 + math.Log10(1+a.Relevance))
}

// DetectorConfig tunes the anomaly scan.
type DetectorConfig struct {
	ZThreshold      float64 `yaml:"z_threshold"`
	MinPointsPerDTE int     `yaml:"min_points_per_dte"`
}

// DefaultDetectorConfig returns the production defaults.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{ZThreshold: 2.0, MinPointsPerDTE: 5}
}

func (c DetectorConfig) withDefaults() DetectorConfig {
	d := DefaultDetectorConfig()
	if c.ZThreshold <= 0 {
		c.ZThreshold = d.ZThreshold
	}
	if c.MinPointsPerDTE <= 0 {
		c.MinPointsPerDTE = d.MinPointsPerDTE
	}
	return c
}

// Detector scans a surface for statistical outliers. Stateless.
type Detector struct {
	cfg DetectorConfig
}

// NewDetector creates a detector with the given config.
func NewDetector(cfg DetectorConfig) *Detector {
	return &Detector{cfg: cfg.withDefaults()}
}

// Detect runs both scans at the configured threshold.
func (d *Detector) Detect(s *Surface) []Anomaly {
	return d.DetectWithThreshold(s, d.cfg.ZThreshold)
}

// DetectWithThreshold runs both scans at an explicit z threshold, returning
// anomalies sorted by descending priority. Deterministic for a fixed
// surface and threshold.
func (d *Detector) DetectWithThreshold(s *Surface, threshold float64) []Anomaly {
	if s == nil || len(s.Points) == 0 {
		return nil
	}
	if threshold <= 0 {
		threshold = d.cfg.ZThreshold
	}

	var out []Anomaly
	for _, dte := range s.DTEs {
		curve := s.PointsForDTE(dte)
		out = append(out, d.ivOutliers(curve, threshold)...)
		out = append(out, d.skewAnomalies(curve, threshold)...)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority() > out[j].Priority()
	})
	return out
}

// ivOutliers flags points whose pooled IV strays from the per-expiry mean.
func (d *Detector) ivOutliers(curve []SurfacePoint, threshold float64) []Anomaly {
	valid := make([]SurfacePoint, 0, len(curve))
	for _, p := range curve {
		if p.AvgIV > 0 {
			valid = append(valid, p)
		}
	}
	if len(valid) < d.cfg.MinPointsPerDTE {
		return nil
	}

	ivs := make([]float64, len(valid))
	for i, p := range valid {
		ivs[i] = p.AvgIV
	}
	mean := stat.Mean(ivs, nil)
	sigma := stat.PopStdDev(ivs, nil)
	if sigma == 0 {
		return nil
	}

	var out []Anomaly
	for i, p := range valid {
		z := (p.AvgIV - mean) / sigma
		if math.Abs(z) <= threshold {
			continue
		}

		expected := expectedIV(valid, i, mean)
		isWing := i <= 1 || i >= len(valid)-2

		a := Anomaly{
			Kind:         KindIVOutlier,
			DTE:          p.DTE,
			Strike:       p.Strike,
			Moneyness:    p.Moneyness,
			ObservedIV:   p.AvgIV,
			ExpectedIV:   expected,
			Deviation:    p.AvgIV - expected,
			ZScore:       z,
			Relevance:    relevance(p.Volume, p.OpenInterest),
			Volume:       p.Volume,
			OpenInterest: p.OpenInterest,
			IsWing:       isWing,
		}
		if z > 0 {
			a.PriceType = Overpriced
		} else {
			a.PriceType = Underpriced
		}
		a.Severity = severityFor(math.Abs(z), a.Relevance, isWing)
		out = append(out, a)
	}
	return out
}

// skewAnomalies flags put/call IV spreads that stray from the per-expiry
// mean spread. Only points quoting both sides participate.
func (d *Detector) skewAnomalies(curve []SurfacePoint, threshold float64) []Anomaly {
	pairs := make([]SurfacePoint, 0, len(curve))
	for _, p := range curve {
		if p.HasCall && p.HasPut {
			pairs = append(pairs, p)
		}
	}
	if len(pairs) < d.cfg.MinPointsPerDTE {
		return nil
	}

	spreads := make([]float64, len(pairs))
	for i, p := range pairs {
		spreads[i] = p.PutIV - p.CallIV
	}
	mean := stat.Mean(spreads, nil)
	sigma := stat.PopStdDev(spreads, nil)
	if sigma == 0 {
		return nil
	}

	var out []Anomaly
	for i, p := range pairs {
		spread := spreads[i]
		z := (spread - mean) / sigma
		if math.Abs(z) <= threshold {
			continue
		}

		isWing := i <= 1 || i >= len(pairs)-2
		a := Anomaly{
			Kind:           KindSkewAnomaly,
			DTE:            p.DTE,
			Strike:         p.Strike,
			Moneyness:      p.Moneyness,
			CallIV:         p.CallIV,
			PutIV:          p.PutIV,
			ObservedSpread: spread,
			ExpectedSpread: mean,
			Deviation:      spread - mean,
			ZScore:         z,
			Relevance:      relevance(p.Volume, p.OpenInterest),
			Volume:         p.Volume,
			OpenInterest:   p.OpenInterest,
			IsWing:         isWing,
		}
		if spread > mean {
			a.SkewType = PutPremium
		} else {
			a.SkewType = CallPremium
		}
		a.Severity = severityFor(math.Abs(z), a.Relevance, isWing)
		out = append(out, a)
	}
	return out
}

// expectedIV interpolates between the nearest valid neighbors on the curve,
// weighted by moneyness distance. One-sided neighbors degrade to the
// neighbor mean; none at all to the curve mean.
func expectedIV(curve []SurfacePoint, i int, curveMean float64) float64 {
	var lower, upper *SurfacePoint
	if i > 0 {
		lower = &curve[i-1]
	}
	if i < len(curve)-1 {
		upper = &curve[i+1]
	}

	switch {
	case lower != nil && upper != nil:
		span := upper.Moneyness - lower.Moneyness
		if span <= 0 {
			return (lower.AvgIV + upper.AvgIV) / 2
		}
		w := (curve[i].Moneyness - lower.Moneyness) / span
		return lower.AvgIV*(1-w) + upper.AvgIV*w
	case lower != nil:
		return lower.AvgIV
	case upper != nil:
		return upper.AvgIV
	default:
		return curveMean
	}
}

// relevance blends 24h volume and open interest into a 0-100 liquidity
// score on a log scale.
func relevance(volume, oi float64) float64 {
	r := 0.3*math.Log10(1+volume)*10 + 0.7*math.Log10(1+oi)*10
	return math.Min(r, 100)
}

// severityFor applies the grading ladder. Natural wings stay LOW unless
// the dislocation is extreme.
func severityFor(absZ, relevance float64, isWing bool) Severity {
	switch {
	case isWing && absZ < 3.5:
		return SeverityLow
	case absZ > 3 && relevance > 30:
		return SeverityCritical
	case absZ > 3:
		return SeverityHigh
	case absZ > 2.5 || (absZ > 2 && relevance > 20):
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Stats summarizes a detection run for query responses.
type Stats struct {
	Total      int                 `json:"total"`
	BySeverity map[Severity]int    `json:"by_severity"`
	ByKind     map[AnomalyKind]int `json:"by_kind"`
	MaxAbsZ    float64             `json:"max_abs_z"`
}

// Summarize counts anomalies by severity and kind.
func Summarize(anoms []Anomaly) Stats {
	st := Stats{
		Total:      len(anoms),
		BySeverity: make(map[Severity]int),
		ByKind:     make(map[AnomalyKind]int),
	}
	for i := range anoms {
		st.BySeverity[anoms[i].Severity]++
		st.ByKind[anoms[i].Kind]++
		if z := math.Abs(anoms[i].ZScore); z > st.MaxAbsZ {
			st.MaxAbsZ = z
		}
	}
	return st
}

// Filter narrows a detection run by kind and severity; empty values match
// everything.
func Filter(anoms []Anomaly, kind AnomalyKind, severity Severity) []Anomaly {
	out := make([]Anomaly, 0, len(anoms))
	for _, a := range anoms {
		if kind != "" && a.Kind != kind {
			continue
		}
		if severity != "" && a.Severity != severity {
			continue
		}
		out = append(out, a)
	}
	return out
}
