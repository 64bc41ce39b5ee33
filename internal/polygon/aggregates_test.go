package polygon

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"marketfetcher/internal/candle"
	"marketfetcher/internal/fetcher"
)

var noRetry = fetcher.ClientOptions{RetryCount: -1, Timeout: 2 * time.Second}

func testRequest() fetcher.Request {
	return fetcher.Request{
		Symbol:    "aapl",
		Timeframe: candle.Timeframe1d,
		Start:     time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		End:       time.Date(2024, 1, 17, 0, 0, 0, 0, time.UTC),
	}
}

func TestAggregatesFetcher_Name(t *testing.T) {
	f := NewAggregatesFetcher("key", "http://localhost", noRetry)
	if got := f.Name(); got != "polygon-api" {
		t.Errorf("Name() = %q, want polygon-api", got)
	}
}

func TestAggregatesFetcher_Fetch_Success(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wantPath := "/v2/aggs/ticker/AAPL/range/1/day/2024-01-15/2024-01-17"
		if r.URL.Path != wantPath {
			t.Errorf("path = %q, want %q", r.URL.Path, wantPath)
		}
		if got := r.URL.Query().Get("apiKey"); got != "test_key" {
			t.Errorf("apiKey = %q, want test_key", got)
		}
		if got := r.URL.Query().Get("sort"); got != "asc" {
			t.Errorf("sort = %q, want asc", got)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{
			"ticker": "AAPL",
			"status": "OK",
			"resultsCount": 2,
			"results": [
				{"t": 1705381200000, "o": 182.16, "h": 184.26, "l": 180.93, "c": 183.63, "v": 65603000},
				{"t": 1705294800000, "o": 181.27, "h": 182.93, "l": 180.3, "c": 182.68, "v": 47317433}
			]
		}`))
	})

	server := httptest.NewServer(handler)
	defer server.Close()

	f := NewAggregatesFetcher("test_key", server.URL, noRetry)
	candles, err := f.Fetch(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Fetch() returned unexpected error: %v", err)
	}

	if len(candles) != 2 {
		t.Fatalf("len(candles) = %d, want 2", len(candles))
	}
	if !candles[0].OpenTime.Before(candles[1].OpenTime) {
		t.Error("candles are not sorted by open time")
	}
	if got := candles[0].Open.String(); got != "181.27" {
		t.Errorf("first Open = %s, want 181.27", got)
	}
	if candles[1].Volume != 65603000 {
		t.Errorf("second Volume = %d, want 65603000", candles[1].Volume)
	}
}

func TestAggregatesFetcher_Fetch_NoResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ticker": "AAPL", "status": "OK", "resultsCount": 0}`))
	}))
	defer server.Close()

	f := NewAggregatesFetcher("test_key", server.URL, noRetry)
	candles, err := f.Fetch(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Fetch() returned unexpected error: %v", err)
	}
	if len(candles) != 0 {
		t.Errorf("len(candles) = %d, want 0", len(candles))
	}
}

func TestAggregatesFetcher_Fetch_HTTPErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantType fetcher.ErrorType
	}{
		{"rate limited", http.StatusTooManyRequests, fetcher.ErrorTypeRateLimit},
		{"server error", http.StatusInternalServerError, fetcher.ErrorTypeServer},
		{"unauthorized", http.StatusUnauthorized, fetcher.ErrorTypeClient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			f := NewAggregatesFetcher("test_key", server.URL, noRetry)
			_, err := f.Fetch(context.Background(), testRequest())

			var fe *fetcher.FetchError
			if !errors.As(err, &fe) {
				t.Fatalf("Fetch() error = %v, want *fetcher.FetchError", err)
			}
			if fe.Type != tt.wantType {
				t.Errorf("error type = %q, want %q", fe.Type, tt.wantType)
			}
		})
	}
}

func TestAggregatesFetcher_Fetch_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "ERROR", "error": "Unknown API Key"}`))
	}))
	defer server.Close()

	f := NewAggregatesFetcher("bad", server.URL, noRetry)
	_, err := f.Fetch(context.Background(), testRequest())
	if err == nil {
		t.Fatal("Fetch() expected error, got nil")
	}

	want := "validation error: polygon error for aapl: Unknown API Key"
	if err.Error() != want {
		t.Errorf("Fetch() error = %q, want %q", err.Error(), want)
	}
}

func TestAggregatesFetcher_Fetch_UnsupportedTimeframe(t *testing.T) {
	f := NewAggregatesFetcher("test_key", "http://localhost", noRetry)
	req := testRequest()
	req.Timeframe = "3d"

	_, err := f.Fetch(context.Background(), req)
	var fe *fetcher.FetchError
	if !errors.As(err, &fe) || fe.Type != fetcher.ErrorTypeClient {
		t.Errorf("Fetch() error = %v, want client FetchError", err)
	}
}

func TestAggregatesFetcher_Fetch_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	f := NewAggregatesFetcher("test_key", server.URL, noRetry)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := f.Fetch(ctx, testRequest()); err == nil {
		t.Error("Fetch() expected error for cancelled context, got nil")
	}
}

func TestSpan(t *testing.T) {
	tests := []struct {
		tf       candle.Timeframe
		mult     int
		timespan string
	}{
		{candle.Timeframe1m, 1, "minute"},
		{candle.Timeframe5m, 5, "minute"},
		{candle.Timeframe15m, 15, "minute"},
		{candle.Timeframe1h, 1, "hour"},
		{candle.Timeframe1d, 1, "day"},
		{candle.Timeframe1w, 1, "week"},
	}

	for _, tt := range tests {
		t.Run(string(tt.tf), func(t *testing.T) {
			m, ts, err := span(tt.tf)
			if err != nil {
				t.Fatalf("span() returned unexpected error: %v", err)
			}
			if m != tt.mult || ts != tt.timespan {
				t.Errorf("span() = %d/%s, want %d/%s", m, ts, tt.mult, tt.timespan)
			}
		})
	}
}
