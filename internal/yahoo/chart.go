// Package yahoo fetches OHLCV history from the Yahoo Finance chart API.
package yahoo

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"resty.dev/v3"

	"marketfetcher/internal/candle"
	"marketfetcher/internal/fetcher"
)

// Name is the provider name used for breakers, rate limits and provenance.
const Name = "yahoo-api"

// ChartResponse is the top-level container of the /v8/finance/chart endpoint
type ChartResponse struct {
	Chart struct {
		Result []ChartResult `json:"result"`
		Error  *ChartError   `json:"error"`
	} `json:"chart"`
}

// ChartError is reported by Yahoo in place of results
type ChartError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// ChartResult holds parallel arrays of timestamps and quotes.
// Yahoo uses null for buckets without trades, hence the pointers.
type ChartResult struct {
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Open   []*float64 `json:"open"`
			High   []*float64 `json:"high"`
			Low    []*float64 `json:"low"`
			Close  []*float64 `json:"close"`
			Volume []*int64   `json:"volume"`
		} `json:"quote"`
	} `json:"indicators"`
}

// ChartFetcher fetches candles from Yahoo's chart endpoint
type ChartFetcher struct {
	client *resty.Client
}

var _ fetcher.Fetcher = (*ChartFetcher)(nil)

// NewChartFetcher creates a new Yahoo chart fetcher
func NewChartFetcher(baseURL string, opts fetcher.ClientOptions) *ChartFetcher {
	client := fetcher.NewHTTPClient(baseURL, opts).
		SetHeader("User-Agent", "Mozilla/5.0 (compatible; marketfetcher/1.0)")

	return &ChartFetcher{client: client}
}

// Name implements fetcher.Fetcher
func (f *ChartFetcher) Name() string {
	return Name
}

// Fetch retrieves the chart series for the requested range
func (f *ChartFetcher) Fetch(ctx context.Context, req fetcher.Request) ([]candle.Candle, error) {
	iv, err := interval(req.Timeframe)
	if err != nil {
		return nil, fetcher.NewClientError(0, err.Error())
	}

	var result ChartResponse
	resp, err := f.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"period1":  strconv.FormatInt(req.Start.Unix(), 10),
			"period2":  strconv.FormatInt(req.End.Unix(), 10),
			"interval": iv,
			"events":   "history",
		}).
		SetResult(&result).
		Get("/v8/finance/chart/" + strings.ToUpper(req.Symbol))

	if err != nil {
		return nil, fetcher.ClassifyTransportError(err)
	}

	if !resp.IsSuccess() {
		return nil, fetcher.ClassifyHTTPError(resp.StatusCode())
	}

	if e := result.Chart.Error; e != nil {
		// Yahoo reports unknown or delisted symbols as "Not Found".
		if e.Code == "Not Found" {
			return []candle.Candle{}, nil
		}
		return nil, fetcher.NewValidationError(fmt.Sprintf("yahoo error for %s: %s", req.Symbol, e.Description))
	}

	if len(result.Chart.Result) == 0 {
		return []candle.Candle{}, nil
	}

	return toCandles(result.Chart.Result[0])
}

func toCandles(r ChartResult) ([]candle.Candle, error) {
	if len(r.Indicators.Quote) == 0 {
		return []candle.Candle{}, nil
	}
	q := r.Indicators.Quote[0]

	n := len(r.Timestamp)
	if len(q.Open) != n || len(q.High) != n || len(q.Low) != n || len(q.Close) != n {
		return nil, fetcher.NewMalformedResponseError(Name,
			fmt.Errorf("quote arrays do not match %d timestamps", n))
	}

	candles := make([]candle.Candle, 0, n)
	for i, ts := range r.Timestamp {
		if q.Open[i] == nil || q.High[i] == nil || q.Low[i] == nil || q.Close[i] == nil {
			continue
		}
		var vol int64
		if i < len(q.Volume) && q.Volume[i] != nil {
			vol = *q.Volume[i]
		}
		candles = append(candles, candle.New(
			time.Unix(ts, 0),
			*q.Open[i],
			*q.High[i],
			*q.Low[i],
			*q.Close[i],
			vol,
		))
	}
	sort.Slice(candles, func(i, j int) bool { return candles[i].OpenTime.Before(candles[j].OpenTime) })

	return candles, nil
}

func interval(tf candle.Timeframe) (string, error) {
	switch tf {
	case candle.Timeframe1m, candle.Timeframe5m, candle.Timeframe15m, candle.Timeframe1d:
		return string(tf), nil
	case candle.Timeframe1h:
		return "60m", nil
	case candle.Timeframe1w:
		return "1wk", nil
	default:
		return "", fmt.Errorf("unsupported timeframe %q", tf)
	}
}
