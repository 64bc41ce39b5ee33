package fetcher

import "marketfetcher/internal/candle"

// Outcome records what happened when one provider was asked for candles.
// One Outcome is produced per attempted (or skipped) provider call.
type Outcome struct {
	// Provider is the name of the provider that was asked.
	Provider string

	// Candles holds the provider's response in open-time order.
	Candles []candle.Candle

	// AggregateQuality is the mean validator score over Candles.
	// It is only meaningful when Scored is true.
	AggregateQuality float64

	// Scored reports whether the candles were run through the validator.
	Scored bool

	// Succeeded is true when the provider returned at least one candle.
	Succeeded bool

	// Attempted reports whether an upstream call was made. It is false when
	// the circuit breaker rejected the call or the response came from cache.
	Attempted bool

	// Cached is true when Candles were served from the response cache.
	Cached bool

	// Err contains the transport error, if any. It never leaves the selector.
	Err error
}
