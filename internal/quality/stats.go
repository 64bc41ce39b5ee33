package quality

import (
	"sort"

	"marketfetcher/internal/candle"
)

// MedianVolume returns the median of the positive volumes in candles.
// Zero-volume candles are ignored. ok is false when no candle has volume.
func MedianVolume(candles []candle.Candle) (median float64, ok bool) {
	vols := make([]int64, 0, len(candles))
	for _, c := range candles {
		if c.Volume > 0 {
			vols = append(vols, c.Volume)
		}
	}
	if len(vols) == 0 {
		return 0, false
	}

	sort.Slice(vols, func(i, j int) bool { return vols[i] < vols[j] })

	mid := len(vols) / 2
	if len(vols)%2 == 1 {
		return float64(vols[mid]), true
	}
	return (float64(vols[mid-1]) + float64(vols[mid])) / 2, true
}

// Aggregate is the mean score of results, or 0 for an empty slice.
func Aggregate(results []Result) float64 {
	if len(results) == 0 {
		return 0
	}
	var sum float64
	for _, r := range results {
		sum += r.Score
	}
	return sum / float64(len(results))
}

// Summary counts how many results fell into each anomaly bucket.
type Summary struct {
	Total         int
	Validated     int
	Gaps          int
	VolumeAnomaly int
	MeanScore     float64
}

// Summarize reduces a scored series to counts for logging.
func Summarize(results []Result) Summary {
	s := Summary{Total: len(results), MeanScore: Aggregate(results)}
	for _, r := range results {
		if r.Validated {
			s.Validated++
		}
		if r.GapDetected {
			s.Gaps++
		}
		if r.VolumeAnomaly {
			s.VolumeAnomaly++
		}
	}
	return s
}
