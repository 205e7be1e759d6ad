package iceberg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantarc/halfpipe/internal/orderbook"
)

var detNow = time.Date(2026, time.May, 1, 14, 0, 0, 0, time.UTC)

func newTestDetector() *Detector {
	d := NewDetector(DefaultConfig())
	d.nowFn = func() time.Time { return detNow }
	return d
}

// bookAround builds a valid snapshot with mid price m. Level sizes are
// chosen >= 5 so they stay out of the small-size refilling counter.
func bookAround(m float64) orderbook.Snapshot {
	return orderbook.Snapshot{
		Timestamp: detNow,
		Bids:      []orderbook.PriceLevel{{Price: m - 10, Size: 8}, {Price: m - 20, Size: 9}},
		Asks:      []orderbook.PriceLevel{{Price: m + 10, Size: 8}, {Price: m + 20, Size: 9}},
	}
}

func TestDetectInvalidBook(t *testing.T) {
	d := newTestDetector()
	det := d.Detect(orderbook.Snapshot{})

	assert.Equal(t, ConfidenceVeryLow, det.Confidence)
	assert.Zero(t, det.Score)
	assert.Empty(t, det.Signals)
	assert.Empty(t, d.snapshots)
}

func TestDetectQuietBook(t *testing.T) {
	d := newTestDetector()
	det := d.Detect(bookAround(100000))

	assert.False(t, det.Detected())
	assert.Zero(t, det.Score)
	assert.Equal(t, ConfidenceVeryLow, det.Confidence)
	assert.Zero(t, det.EstimatedHiddenSize)
	require.Len(t, det.Signals, 5)
}

func TestRefillingPattern(t *testing.T) {
	d := newTestDetector()

	book := bookAround(100000)
	// Three small levels refilling to the same display size every snapshot.
	book.Bids = append(book.Bids, orderbook.PriceLevel{Price: 99900, Size: 2.5})
	book.Bids = append(book.Bids, orderbook.PriceLevel{Price: 99850, Size: 1.2})
	book.Asks = append(book.Asks, orderbook.PriceLevel{Price: 100100, Size: 3.0})

	var det Detection
	for i := 0; i < 5; i++ {
		det = d.Detect(book)
	}

	sig := det.Signals[SignalRefilling]
	assert.True(t, sig.Detected)
	assert.Equal(t, 3.0, sig.Metric)
	assert.InDelta(t, 0.5, sig.Score, 1e-9)
	assert.Positive(t, det.Score)
}

func TestRefillingIgnoresLargeSizes(t *testing.T) {
	d := newTestDetector()
	book := bookAround(100000) // all sizes >= 5 BTC

	var det Detection
	for i := 0; i < 8; i++ {
		det = d.Detect(book)
	}
	assert.False(t, det.Signals[SignalRefilling].Detected)
}

func TestVolumeAnomaly(t *testing.T) {
	d := newTestDetector()
	book := bookAround(100000) // visible top-10: 34 BTC across both sides

	// 85 BTC executed against 34 visible: ratio 2.5.
	for i := 0; i < 17; i++ {
		d.AddTrade(Trade{Timestamp: detNow.Add(-time.Minute), Price: 100000, Quantity: 5})
	}
	det := d.Detect(book)

	sig := det.Signals[SignalVolumeAnomaly]
	assert.True(t, sig.Detected)
	assert.InDelta(t, 2.5, sig.Metric, 1e-9)
	assert.InDelta(t, 0.625, sig.Score, 1e-9)

	// Composite counts only the fired signal: 0.25 * 0.625.
	assert.InDelta(t, 0.15625, det.Score, 1e-9)
	assert.Equal(t, ConfidenceLow, det.Confidence)
}

func TestVolumeAnomalyIgnoresStaleTrades(t *testing.T) {
	d := newTestDetector()
	for i := 0; i < 17; i++ {
		d.AddTrade(Trade{Timestamp: detNow.Add(-10 * time.Minute), Price: 100000, Quantity: 5})
	}
	det := d.Detect(bookAround(100000))
	assert.False(t, det.Signals[SignalVolumeAnomaly].Detected)
}

func TestPriceRejection(t *testing.T) {
	d := newTestDetector()

	// Mid oscillates; three local maxima land in the same $100 bucket.
	var det Detection
	for _, m := range []float64{99800, 100040, 99800, 100030, 99800, 100020, 99800} {
		det = d.Detect(bookAround(m))
	}

	sig := det.Signals[SignalPriceRejection]
	assert.True(t, sig.Detected)
	assert.GreaterOrEqual(t, sig.Metric, 3.0)
	assert.GreaterOrEqual(t, sig.Score, 0.5)
}

func TestDepthRegeneration(t *testing.T) {
	d := newTestDetector()

	// Total sizes: 100 -> 75 (25% drop) -> 90 (20% recovery) -> 70 -> 85.
	var det Detection
	for _, depth := range []float64{100, 75, 90, 70, 85} {
		book := orderbook.Snapshot{
			Timestamp: detNow,
			Bids:      []orderbook.PriceLevel{{Price: 99990, Size: depth / 2}},
			Asks:      []orderbook.PriceLevel{{Price: 100010, Size: depth / 2}},
		}
		det = d.Detect(book)
	}

	sig := det.Signals[SignalDepthRegen]
	assert.True(t, sig.Detected)
	assert.Equal(t, 2.0, sig.Metric)
	assert.InDelta(t, 0.5, sig.Score, 1e-9)
}

func TestConsistentAskSizes(t *testing.T) {
	d := newTestDetector()
	book := orderbook.Snapshot{
		Timestamp: detNow,
		Bids:      []orderbook.PriceLevel{{Price: 99990, Size: 7}},
		Asks: []orderbook.PriceLevel{
			{Price: 100010, Size: 2.0},
			{Price: 100020, Size: 2.04},
			{Price: 100030, Size: 1.96},
			{Price: 100040, Size: 2.01},
			{Price: 100050, Size: 1.99},
		},
	}
	det := d.Detect(book)

	sig := det.Signals[SignalConsistentSize]
	assert.True(t, sig.Detected)
	assert.Equal(t, 5.0, sig.Metric)
	assert.InDelta(t, 0.5, sig.Score, 1e-9)
}

func TestHiddenSizeEstimate(t *testing.T) {
	d := newTestDetector()
	book := bookAround(100000)
	for i := 0; i < 17; i++ {
		d.AddTrade(Trade{Timestamp: detNow.Add(-time.Minute), Price: 100000, Quantity: 5})
	}
	det := d.Detect(book)

	require.Positive(t, det.Score)
	assert.Equal(t, 34.0, det.VisibleTop5)
	assert.InDelta(t, 34.0*10*det.Score, det.EstimatedHiddenSize, 1e-9)
}

func TestSnapshotHistoryBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSnapshots = 3
	cfg.MaxPoints = 4
	d := NewDetector(cfg)
	d.nowFn = func() time.Time { return detNow }

	for i := 0; i < 10; i++ {
		d.Detect(bookAround(100000 + float64(i)))
	}
	assert.Len(t, d.snapshots, 3)
	assert.Len(t, d.mids, 4)
	assert.Len(t, d.depths, 4)
}

func TestConfidenceBuckets(t *testing.T) {
	cases := []struct {
		score float64
		want  Confidence
	}{
		{0.75, ConfidenceVeryHigh},
		{0.55, ConfidenceHigh},
		{0.35, ConfidenceMedium},
		{0.20, ConfidenceLow},
		{0.05, ConfidenceVeryLow},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, confidenceFor(tc.score))
	}
}

func TestLastReturnsMostRecent(t *testing.T) {
	d := newTestDetector()
	assert.Zero(t, d.Last().Timestamp)

	det := d.Detect(bookAround(100000))
	assert.Equal(t, det.Timestamp, d.Last().Timestamp)
	assert.Equal(t, det.Score, d.Last().Score)
}
