package iceberg

import "time"

// Trade is one executed futures trade fed into the detector's tape history.
type Trade struct {
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
	Quantity  float64   `json:"quantity"`
}

// Confidence grades the composite score.
type Confidence string

const (
	ConfidenceVeryHigh Confidence = "VERY_HIGH" // >= 0.7
	ConfidenceHigh     Confidence = "HIGH"      // >= 0.5
	ConfidenceMedium   Confidence = "MEDIUM"    // >= 0.3
	ConfidenceLow      Confidence = "LOW"       // >= 0.15
	ConfidenceVeryLow  Confidence = "VERY_LOW"
)

// Signal names used as keys of Detection.Signals.
const (
	SignalRefilling      = "refilling_pattern"
	SignalVolumeAnomaly  = "volume_anomaly"
	SignalPriceRejection = "price_rejection"
	SignalDepthRegen     = "depth_regeneration"
	SignalConsistentSize = "consistent_size"
)

// Signal is one pattern check: whether it fired, its normalized sub-score
// and the raw measurement behind it (count, ratio or sequence count).
type Signal struct {
	Detected bool    `json:"detected"`
	Score    float64 `json:"score"`
	Metric   float64 `json:"metric"`
}

// Detection is the result of one iceberg evaluation pass.
type Detection struct {
	Timestamp           time.Time         `json:"timestamp"`
	Score               float64           `json:"score"`
	Confidence          Confidence        `json:"confidence"`
	Signals             map[string]Signal `json:"signals"`
	VisibleTop5         float64           `json:"visible_top5"`
	EstimatedHiddenSize float64           `json:"estimated_hidden_size"`
}

// Detected reports whether any signal fired.
func (d Detection) Detected() bool {
	for _, s := range d.Signals {
		if s.Detected {
			return true
		}
	}
	return false
}
