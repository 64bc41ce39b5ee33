// Package quality scores individual OHLCV candles for trustworthiness.
//
// A candle starts at a perfect score of 1.0 and loses a fixed amount for each
// anomaly found. The resulting score is clamped to [0, 1] and a candle whose
// score reaches the validated floor is considered usable as-is. Scoring never
// fails: malformed input is reported as a zero score with an explanatory note
// so one bad candle cannot abort a batch.
package quality

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"marketfetcher/internal/candle"
)

// Note tags attached to a Result.
const (
	NoteFailedConstraints = "failed_ohlcv_constraints"
	NoteExtremeMove       = "extreme_price_move"
	noteExceptionPrefix   = "validation_exception:"
)

// Thresholds holds every tunable number used while scoring. The volume
// penalties are deliberately asymmetric: a collapse in volume (possible
// halt or delisting) costs more than a spike. Treat both as heuristics.
type Thresholds struct {
	ValidatedFloor float64

	StructuralPenalty float64

	MaxMovePct  float64
	MovePenalty float64

	MaxGapPct  float64
	GapPenalty float64

	HighVolumeRatio   float64
	HighVolumePenalty float64
	LowVolumeRatio    float64
	LowVolumePenalty  float64
}

// DefaultThresholds returns the production scoring thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ValidatedFloor:    0.85,
		StructuralPenalty: 0.5,
		MaxMovePct:        500,
		MovePenalty:       0.3,
		MaxGapPct:         10,
		GapPenalty:        0.2,
		HighVolumeRatio:   10,
		HighVolumePenalty: 0.1,
		LowVolumeRatio:    0.1,
		LowVolumePenalty:  0.15,
	}
}

// Result is the outcome of scoring a single candle.
type Result struct {
	Score         float64  `json:"quality_score"`
	Validated     bool     `json:"validated"`
	Notes         []string `json:"notes"`
	GapDetected   bool     `json:"gap_detected"`
	VolumeAnomaly bool     `json:"volume_anomaly"`
}

// Validator scores candles. It holds no mutable state and is safe for
// concurrent use.
type Validator struct {
	th Thresholds
}

// NewValidator creates a validator with the given thresholds.
func NewValidator(th Thresholds) *Validator {
	return &Validator{th: th}
}

// Thresholds returns the thresholds the validator scores with.
func (v *Validator) Thresholds() Thresholds {
	return v.th
}

// Score rates one candle. prevClose and medianVolume are optional context;
// pass nil when unknown and the gap or volume check is skipped.
func (v *Validator) Score(symbol string, c candle.Candle, prevClose *decimal.Decimal, medianVolume *float64) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = exceptionResult(fmt.Errorf("%v", r))
		}
	}()

	res, err := v.score(c, prevClose, medianVolume)
	if err != nil {
		return exceptionResult(err)
	}
	return res
}

// ScoreRaw parses a string-typed candle and scores it. Parse failures become
// a zero score instead of an error.
func (v *Validator) ScoreRaw(symbol string, raw candle.Raw, prevClose *decimal.Decimal, medianVolume *float64) Result {
	c, err := candle.Parse(raw)
	if err != nil {
		return exceptionResult(err)
	}
	return v.Score(symbol, c, prevClose, medianVolume)
}

// ScoreSeries scores an ordered run of candles, chaining each candle's
// previous close and using the series median volume as volume context.
func (v *Validator) ScoreSeries(symbol string, candles []candle.Candle) []Result {
	results := make([]Result, len(candles))
	if len(candles) == 0 {
		return results
	}

	var median *float64
	if m, ok := MedianVolume(candles); ok {
		median = &m
	}

	for i, c := range candles {
		var prev *decimal.Decimal
		if i > 0 {
			p := candles[i-1].Close
			prev = &p
		}
		results[i] = v.Score(symbol, c, prev, median)
	}
	return results
}

func (v *Validator) score(c candle.Candle, prevClose *decimal.Decimal, medianVolume *float64) (Result, error) {
	th := v.th
	score := 1.0
	res := Result{Notes: []string{}}

	// Structural OHLC constraints.
	maxOC := decimal.Max(c.Open, c.Close)
	minOC := decimal.Min(c.Open, c.Close)
	if c.High.LessThan(maxOC) ||
		c.Low.GreaterThan(minOC) ||
		!c.Open.IsPositive() ||
		!c.Close.IsPositive() ||
		c.High.LessThan(c.Low) ||
		c.Volume < 0 {
		score -= th.StructuralPenalty
		res.Notes = append(res.Notes, NoteFailedConstraints)
	}

	open := c.Open.InexactFloat64()
	high := c.High.InexactFloat64()
	low := c.Low.InexactFloat64()
	closePx := c.Close.InexactFloat64()

	// Single-bar move.
	var bodyPct, rangePct float64
	if open > 0 {
		bodyPct = math.Abs(closePx-open) / open * 100
	}
	if low > 0 {
		rangePct = (high - low) / low * 100
	}
	if err := finite("price move", bodyPct, rangePct); err != nil {
		return Result{}, err
	}
	if bodyPct > th.MaxMovePct || rangePct > th.MaxMovePct {
		score -= th.MovePenalty
		res.Notes = append(res.Notes, NoteExtremeMove)
	}

	// Gap against the previous close. A Monday candle follows a weekend
	// and is expected to gap.
	if prevClose != nil && prevClose.IsPositive() {
		prev := prevClose.InexactFloat64()
		gapPct := math.Abs(open-prev) / prev * 100
		if err := finite("gap", gapPct); err != nil {
			return Result{}, err
		}
		if gapPct > th.MaxGapPct && !IsWeekendGap(c.OpenTime) {
			score -= th.GapPenalty
			res.Notes = append(res.Notes, fmt.Sprintf("large_gap_%.1fpct", gapPct))
			res.GapDetected = true
		}
	}

	// Volume against the historical median.
	if medianVolume != nil && *medianVolume > 0 {
		ratio := float64(c.Volume) / *medianVolume
		if err := finite("volume ratio", ratio); err != nil {
			return Result{}, err
		}
		switch {
		case ratio > th.HighVolumeRatio:
			score -= th.HighVolumePenalty
			res.Notes = append(res.Notes, fmt.Sprintf("volume_anomaly_high_%.1fx", ratio))
			res.VolumeAnomaly = true
		case ratio < th.LowVolumeRatio:
			score -= th.LowVolumePenalty
			res.Notes = append(res.Notes, fmt.Sprintf("volume_anomaly_low_%.2fx", ratio))
			res.VolumeAnomaly = true
		}
	}

	res.Score = clamp(score)
	res.Validated = res.Score >= th.ValidatedFloor
	return res, nil
}

// IsWeekendGap reports whether a candle opening at t is the first session
// after a weekend.
func IsWeekendGap(t time.Time) bool {
	return t.UTC().Weekday() == time.Monday
}

var errNonFinite = errors.New("non-finite value")

func finite(what string, vals ...float64) error {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s: %w", what, errNonFinite)
		}
	}
	return nil
}

func exceptionResult(err error) Result {
	return Result{
		Score:     0,
		Validated: false,
		Notes:     []string{noteExceptionPrefix + err.Error()},
	}
}

func clamp(s float64) float64 {
	if math.IsNaN(s) || s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
