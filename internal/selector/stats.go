package selector

import "sync/atomic"

// Stats counts selection outcomes since the selector was created.
// PrimaryUsed + FallbackUsed + BothFailed equals the number of completed
// FetchRange calls. The three comparison counters are only incremented
// when both providers returned scored candles.
type Stats struct {
	PrimaryUsed       int64 `json:"primary_used"`
	FallbackUsed      int64 `json:"fallback_used"`
	BothFailed        int64 `json:"both_failed"`
	FallbackWasBetter int64 `json:"fallback_was_better"`
	PrimaryWasBetter  int64 `json:"primary_was_better"`
	Tie               int64 `json:"tie"`
}

// Total is the number of completed selections.
func (s Stats) Total() int64 {
	return s.PrimaryUsed + s.FallbackUsed + s.BothFailed
}

type counters struct {
	primaryUsed       atomic.Int64
	fallbackUsed      atomic.Int64
	bothFailed        atomic.Int64
	fallbackWasBetter atomic.Int64
	primaryWasBetter  atomic.Int64
	tie               atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		PrimaryUsed:       c.primaryUsed.Load(),
		FallbackUsed:      c.fallbackUsed.Load(),
		BothFailed:        c.bothFailed.Load(),
		FallbackWasBetter: c.fallbackWasBetter.Load(),
		PrimaryWasBetter:  c.primaryWasBetter.Load(),
		Tie:               c.tie.Load(),
	}
}
