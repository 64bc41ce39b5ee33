package fetcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"marketfetcher/internal/candle"
)

// Request describes a range of candles to fetch for one symbol.
type Request struct {
	Symbol    string
	Timeframe candle.Timeframe
	Start     time.Time
	End       time.Time
}

// Fetcher is the contract every upstream market-data provider implements.
// Each provider knows how to turn a Request into its own API call and map
// the response onto candles ordered by open time.
type Fetcher interface {
	// Fetch retrieves candles for the request. A provider with no data for
	// the range returns an empty slice and a nil error; transport problems
	// are returned as *FetchError.
	Fetch(ctx context.Context, req Request) ([]candle.Candle, error)

	// Name identifies the provider, e.g. "polygon-api". It doubles as the
	// circuit breaker and rate limiter key.
	Name() string
}

// Key returns a Redis-compatible hierarchical key for a provider response.
// Format: fetcher:{source}:{symbol}:{timeframe}:{start}:{end}
// Examples:
//   - fetcher:polygon-api:AAPL:1d:20240101:20240131
//   - fetcher:yahoo-api:MSFT:1h:20240115:20240116
func Key(source string, req Request) string {
	return fmt.Sprintf("fetcher:%s:%s:%s:%s:%s",
		source,
		strings.ToUpper(req.Symbol),
		req.Timeframe,
		req.Start.UTC().Format("20060102"),
		req.End.UTC().Format("20060102"),
	)
}
