// Package polygon fetches OHLCV aggregates from the Polygon.io REST API.
package polygon

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"resty.dev/v3"

	"marketfetcher/internal/candle"
	"marketfetcher/internal/fetcher"
)

// Name is the provider name used for breakers, rate limits and provenance.
const Name = "polygon-api"

// AggregatesResponse represents the Polygon aggregates (bars) response
type AggregatesResponse struct {
	Ticker       string `json:"ticker"`
	Status       string `json:"status"`
	Error        string `json:"error"`
	Message      string `json:"message"`
	ResultsCount int    `json:"resultsCount"`
	Results      []struct {
		Timestamp int64   `json:"t"`
		Open      float64 `json:"o"`
		High      float64 `json:"h"`
		Low       float64 `json:"l"`
		Close     float64 `json:"c"`
		Volume    float64 `json:"v"`
	} `json:"results"`
}

// AggregatesFetcher fetches candles from Polygon's /v2/aggs endpoint
type AggregatesFetcher struct {
	apiKey string
	client *resty.Client
}

var _ fetcher.Fetcher = (*AggregatesFetcher)(nil)

// NewAggregatesFetcher creates a new Polygon aggregates fetcher
func NewAggregatesFetcher(apiKey, baseURL string, opts fetcher.ClientOptions) *AggregatesFetcher {
	return &AggregatesFetcher{
		apiKey: apiKey,
		client: fetcher.NewHTTPClient(baseURL, opts),
	}
}

// Name implements fetcher.Fetcher
func (f *AggregatesFetcher) Name() string {
	return Name
}

// Fetch retrieves the aggregates for the requested range
func (f *AggregatesFetcher) Fetch(ctx context.Context, req fetcher.Request) ([]candle.Candle, error) {
	multiplier, timespan, err := span(req.Timeframe)
	if err != nil {
		return nil, fetcher.NewClientError(0, err.Error())
	}

	path := fmt.Sprintf("/v2/aggs/ticker/%s/range/%d/%s/%s/%s",
		strings.ToUpper(req.Symbol),
		multiplier,
		timespan,
		req.Start.UTC().Format(time.DateOnly),
		req.End.UTC().Format(time.DateOnly),
	)

	var result AggregatesResponse
	resp, err := f.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"adjusted": "true",
			"sort":     "asc",
			"limit":    "50000",
			"apiKey":   f.apiKey,
		}).
		SetResult(&result).
		Get(path)

	if err != nil {
		return nil, fetcher.ClassifyTransportError(err)
	}

	if !resp.IsSuccess() {
		return nil, fetcher.ClassifyHTTPError(resp.StatusCode())
	}

	if result.Status == "ERROR" {
		msg := result.Error
		if msg == "" {
			msg = result.Message
		}
		return nil, fetcher.NewValidationError(fmt.Sprintf("polygon error for %s: %s", req.Symbol, msg))
	}

	candles := make([]candle.Candle, 0, len(result.Results))
	for _, r := range result.Results {
		candles = append(candles, candle.New(
			time.UnixMilli(r.Timestamp),
			r.Open,
			r.High,
			r.Low,
			r.Close,
			int64(r.Volume),
		))
	}
	sort.Slice(candles, func(i, j int) bool { return candles[i].OpenTime.Before(candles[j].OpenTime) })

	return candles, nil
}

func span(tf candle.Timeframe) (int, string, error) {
	switch tf {
	case candle.Timeframe1m:
		return 1, "minute", nil
	case candle.Timeframe5m:
		return 5, "minute", nil
	case candle.Timeframe15m:
		return 15, "minute", nil
	case candle.Timeframe1h:
		return 1, "hour", nil
	case candle.Timeframe1d:
		return 1, "day", nil
	case candle.Timeframe1w:
		return 1, "week", nil
	default:
		return 0, "", fmt.Errorf("unsupported timeframe %q", tf)
	}
}
