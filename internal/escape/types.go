package escape

import (
	"time"
)

// HypothesisType tags a detection.
type HypothesisType string

const (
	TypeNone HypothesisType = "NONE"
	TypeH1   HypothesisType = "H1" // genuine escape: sustained flow through a level
	TypeH2   HypothesisType = "H2" // false escape: weak flow into a strong wall
	TypeH3   HypothesisType = "H3" // liquidity collapse: cascade with book failure
)

// Direction of the prospective move.
type Direction string

const (
	DirectionUp      Direction = "UP"
	DirectionDown    Direction = "DOWN"
	DirectionNeutral Direction = "NEUTRAL"
)

// RegimeTag is the options-activity regime steering the potential weights.
type RegimeTag string

const (
	RegimeOptionsActive   RegimeTag = "OPTIONS_ACTIVE"
	RegimeTransition      RegimeTag = "TRANSITION"
	RegimeOptionsInactive RegimeTag = "OPTIONS_INACTIVE"
)

// Weights is the per-regime blend of the potential components.
type Weights struct {
	GEX       float64 `json:"gex"`
	Iceberg   float64 `json:"iceberg"`
	Liquidity float64 `json:"liquidity"`
}

// Potential is the adaptive energy barrier the market must overcome.
type Potential struct {
	Total     float64   `json:"total"`
	GEX       float64   `json:"gex"`
	Iceberg   float64   `json:"iceberg"`
	Liquidity float64   `json:"liquidity"`
	Regime    RegimeTag `json:"regime"`
	Weights   Weights   `json:"weights"`
	Floor     float64   `json:"floor"`
}

// FusedMetrics is the energy picture computed each tick.
type FusedMetrics struct {
	SustainedEnergy float64   `json:"sustained_energy"`
	InjectedEnergy  float64   `json:"injected_energy"`
	TotalEnergy     float64   `json:"total_energy"`
	Potential       Potential `json:"potential"`
	PEscape         float64   `json:"p_escape"`
}

// WallInfo is the nearest gamma wall in the detected direction.
type WallInfo struct {
	Side     string  `json:"side"` // CALL or PUT
	Strike   float64 `json:"strike"`
	GEX      float64 `json:"gex"`
	Strength float64 `json:"strength"` // min(1, |gex|/1e9)
	Distance float64 `json:"distance"` // |strike-spot|/spot
}

// Check is one hypothesis condition evaluated against its threshold.
type Check struct {
	Met       bool    `json:"met"`
	Value     float64 `json:"value"`
	Threshold string  `json:"threshold"`
	Weight    float64 `json:"weight"`
}

// HypothesisResult is the full evaluation of one hypothesis.
type HypothesisResult struct {
	Type       HypothesisType   `json:"type"`
	Candidate  bool             `json:"candidate"`
	Confidence float64          `json:"confidence"` // sum of met-check weights
	MetRatio   float64          `json:"met_ratio"`  // met / total checks
	Checks     map[string]Check `json:"checks"`
}

// Detection is the 1 Hz fusion output.
type Detection struct {
	Timestamp      time.Time                           `json:"timestamp"`
	Type           HypothesisType                      `json:"type"`
	Confidence     float64                             `json:"confidence"`
	Direction      Direction                           `json:"direction"`
	Metrics        FusedMetrics                        `json:"metrics"`
	Wall           *WallInfo                           `json:"wall,omitempty"`
	Hypotheses     map[HypothesisType]HypothesisResult `json:"hypotheses,omitempty"`
	Reason         string                              `json:"reason,omitempty"`
	Interpretation string                              `json:"interpretation,omitempty"`
}

// HistoryPoint is the compact per-tick record kept in the history ring.
type HistoryPoint struct {
	Timestamp  time.Time      `json:"timestamp"`
	Type       HypothesisType `json:"type"`
	Confidence float64        `json:"confidence"`
	PEscape    float64        `json:"p_escape"`
	Direction  Direction      `json:"direction"`
}

// Severity grades an alert.
type Severity string

const (
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Alert kinds.
const (
	AlertH1          = "H1_DETECTED"
	AlertH2          = "H2_DETECTED"
	AlertH3          = "H3_DETECTED"
	AlertHighPEscape = "HIGH_P_ESCAPE"
)

// Alert is one bounded-ring alert record.
type Alert struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	Kind       string         `json:"kind"`
	Severity   Severity       `json:"severity"`
	Type       HypothesisType `json:"type"`
	Confidence float64        `json:"confidence"`
	PEscape    float64        `json:"p_escape"`
	Direction  Direction      `json:"direction"`
	Message    string         `json:"message"`
}

// Probability is the P_escape view for the probability endpoint.
type Probability struct {
	PEscape        float64   `json:"p_escape"`
	TotalEnergy    float64   `json:"total_energy"`
	Potential      Potential `json:"potential"`
	Classification string    `json:"classification"` // LOW / MEDIUM / HIGH
}

// HistoryStats aggregates the retained detection history.
type HistoryStats struct {
	Count      int                    `json:"count"`
	ByType     map[HypothesisType]int `json:"by_type"`
	AvgPEscape float64                `json:"avg_p_escape"`
	MaxPEscape float64                `json:"max_p_escape"`
}

// Summary bundles the current detection with history and alerts.
type Summary struct {
	Detection Detection      `json:"detection"`
	History   []HistoryPoint `json:"history"`
	Stats     HistoryStats   `json:"stats"`
	Alerts    []Alert        `json:"alerts"`
}
