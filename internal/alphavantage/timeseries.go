package alphavantage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"resty.dev/v3"

	"marketfetcher/internal/candle"
	"marketfetcher/internal/fetcher"
)

// Name is the provider name used for breakers, rate limits and provenance.
const Name = "alphavantage-api"

// Bar is one entry of an AlphaVantage time series. All values are strings.
type Bar struct {
	Open   string `json:"1. open"`
	High   string `json:"2. high"`
	Low    string `json:"3. low"`
	Close  string `json:"4. close"`
	Volume string `json:"5. volume"`
}

// TimeSeriesResponse represents the AlphaVantage TIME_SERIES_* responses.
// The series key depends on the function ("Time Series (Daily)",
// "Weekly Time Series", "Time Series (60min)", ...), so the body is decoded
// generically and the series picked out by decode.
type TimeSeriesResponse struct {
	ErrorMessage string
	Note         string
	Information  string
	Series       map[string]Bar
}

// TimeSeriesFetcher fetches candles from AlphaVantage
type TimeSeriesFetcher struct {
	apiKey string
	client *resty.Client
}

var _ fetcher.Fetcher = (*TimeSeriesFetcher)(nil)

// NewTimeSeriesFetcher creates a new AlphaVantage time series fetcher
func NewTimeSeriesFetcher(apiKey, baseURL string, opts fetcher.ClientOptions) *TimeSeriesFetcher {
	return &TimeSeriesFetcher{
		apiKey: apiKey,
		client: fetcher.NewHTTPClient(baseURL, opts),
	}
}

// Name implements fetcher.Fetcher
func (f *TimeSeriesFetcher) Name() string {
	return Name
}

// Fetch retrieves the time series and keeps the bars inside the requested range
func (f *TimeSeriesFetcher) Fetch(ctx context.Context, req fetcher.Request) ([]candle.Candle, error) {
	params, seriesKey, err := queryFor(req.Timeframe)
	if err != nil {
		return nil, fetcher.NewClientError(0, err.Error())
	}
	params["apikey"] = f.apiKey
	params["symbol"] = strings.ToUpper(req.Symbol)
	params["outputsize"] = "full"

	var raw map[string]json.RawMessage
	resp, err := f.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(&raw).
		Get("")

	if err != nil {
		return nil, fetcher.ClassifyTransportError(err)
	}

	if !resp.IsSuccess() {
		return nil, fetcher.ClassifyHTTPError(resp.StatusCode())
	}

	result, err := decode(raw, seriesKey)
	if err != nil {
		return nil, fetcher.NewMalformedResponseError(Name, err)
	}

	// AlphaVantage answers throttled calls with HTTP 200 and a note.
	if result.Note != "" || result.Information != "" {
		return nil, fetcher.NewRateLimitError(0)
	}

	if result.ErrorMessage != "" {
		return nil, fetcher.NewValidationError(fmt.Sprintf("alphavantage error for %s: %s", req.Symbol, result.ErrorMessage))
	}

	return toCandles(result.Series, req)
}

func decode(raw map[string]json.RawMessage, seriesKey string) (TimeSeriesResponse, error) {
	var out TimeSeriesResponse
	fields := map[string]*string{
		"Error Message": &out.ErrorMessage,
		"Note":          &out.Note,
		"Information":   &out.Information,
	}
	for key, dst := range fields {
		if v, ok := raw[key]; ok {
			if err := json.Unmarshal(v, dst); err != nil {
				return out, fmt.Errorf("decode %q: %w", key, err)
			}
		}
	}
	if v, ok := raw[seriesKey]; ok {
		if err := json.Unmarshal(v, &out.Series); err != nil {
			return out, fmt.Errorf("decode %q: %w", seriesKey, err)
		}
	}
	return out, nil
}

func toCandles(series map[string]Bar, req fetcher.Request) ([]candle.Candle, error) {
	candles := make([]candle.Candle, 0, len(series))
	for stamp, bar := range series {
		ts, err := parseStamp(stamp)
		if err != nil {
			return nil, fetcher.NewMalformedResponseError(Name, err)
		}
		if ts.Before(req.Start) || ts.After(req.End) {
			continue
		}

		c, err := candle.Parse(candle.Raw{
			OpenTime: ts,
			Open:     bar.Open,
			High:     bar.High,
			Low:      bar.Low,
			Close:    bar.Close,
			Volume:   bar.Volume,
		})
		if err != nil {
			return nil, fetcher.NewMalformedResponseError(Name, err)
		}
		candles = append(candles, c)
	}
	sort.Slice(candles, func(i, j int) bool { return candles[i].OpenTime.Before(candles[j].OpenTime) })

	return candles, nil
}

// queryFor returns the query parameters for a timeframe and the JSON key
// under which AlphaVantage returns that series.
func queryFor(tf candle.Timeframe) (map[string]string, string, error) {
	switch tf {
	case candle.Timeframe1d:
		return map[string]string{"function": "TIME_SERIES_DAILY"}, "Time Series (Daily)", nil
	case candle.Timeframe1w:
		return map[string]string{"function": "TIME_SERIES_WEEKLY"}, "Weekly Time Series", nil
	case candle.Timeframe1m, candle.Timeframe5m, candle.Timeframe15m, candle.Timeframe1h:
		iv := map[candle.Timeframe]string{
			candle.Timeframe1m:  "1min",
			candle.Timeframe5m:  "5min",
			candle.Timeframe15m: "15min",
			candle.Timeframe1h:  "60min",
		}[tf]
		return map[string]string{"function": "TIME_SERIES_INTRADAY", "interval": iv},
			fmt.Sprintf("Time Series (%s)", iv), nil
	default:
		return nil, "", fmt.Errorf("unsupported timeframe %q", tf)
	}
}

// parseStamp accepts both daily ("2024-01-15") and intraday
// ("2024-01-15 19:55:00") keys. Timestamps are taken as UTC.
func parseStamp(s string) (time.Time, error) {
	if ts, err := time.Parse(time.DateTime, s); err == nil {
		return ts, nil
	}
	ts, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return ts, nil
}
