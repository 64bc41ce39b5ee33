package coordinator

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"marketfetcher/internal/breaker"
	"marketfetcher/internal/candle"
	"marketfetcher/internal/fetcher"
	"marketfetcher/internal/quality"
	"marketfetcher/internal/selector"
	"marketfetcher/internal/testutil"
)

var start = time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

func template() selector.Request {
	return selector.Request{
		Timeframe: candle.Timeframe1d,
		Start:     start,
		End:       start.AddDate(0, 0, 10),
		Validate:  true,
	}
}

// rangeFunc adapts a function to RangeFetcher.
type rangeFunc func(ctx context.Context, req selector.Request) (selector.Selection, error)

func (f rangeFunc) FetchRange(ctx context.Context, req selector.Request) (selector.Selection, error) {
	return f(ctx, req)
}

func newSelector(primary, secondary fetcher.Fetcher) *selector.Selector {
	return selector.New(primary, secondary,
		breaker.NewRegistry(breaker.DefaultSettings()),
		quality.NewValidator(quality.DefaultThresholds()),
		selector.DefaultConfig())
}

func TestNew(t *testing.T) {
	coord := New(newSelector(testutil.NewMockFetcher("p", nil, nil), nil), 0)
	if coord == nil {
		t.Fatal("New() returned nil")
	}
	if coord.concurrency != 1 {
		t.Errorf("concurrency = %d, want 1", coord.concurrency)
	}
}

func TestFetch_Success(t *testing.T) {
	primary := testutil.NewMockFetcher("polygon-api", testutil.Series(start, 5), nil)
	coord := New(newSelector(primary, nil), 4)

	results, err := coord.Fetch(context.Background(), []string{"msft", "aapl", "goog"}, template())
	if err != nil {
		t.Fatalf("Fetch() returned unexpected error: %v", err)
	}

	want := []string{"AAPL", "GOOG", "MSFT"}
	if len(results) != len(want) {
		t.Fatalf("len(results) = %d, want %d", len(results), len(want))
	}
	for i, r := range results {
		if r.Symbol != want[i] {
			t.Errorf("results[%d].Symbol = %q, want %q", i, r.Symbol, want[i])
		}
		if r.Err != nil {
			t.Errorf("results[%d].Err = %v, want nil", i, r.Err)
		}
		if r.Selection.Provider != "polygon-api" {
			t.Errorf("results[%d].Provider = %q, want polygon-api", i, r.Selection.Provider)
		}
	}
}

func TestFetch_MixedOutcomes(t *testing.T) {
	primary := &testutil.MockFetcher{
		FetchFunc: func(ctx context.Context, req fetcher.Request) ([]candle.Candle, error) {
			switch req.Symbol {
			case "AAPL":
				return testutil.Series(start, 5), nil
			case "BAD":
				return nil, fetcher.NewServerError(500)
			default:
				return []candle.Candle{}, nil
			}
		},
		NameFunc: func() string { return "polygon-api" },
	}
	secondary := &testutil.MockFetcher{
		FetchFunc: func(ctx context.Context, req fetcher.Request) ([]candle.Candle, error) {
			if req.Symbol == "BAD" {
				return testutil.Series(start, 3), nil
			}
			return nil, errors.New("unavailable")
		},
		NameFunc: func() string { return "yahoo-api" },
	}

	coord := New(newSelector(primary, secondary), 2)
	results, err := coord.Fetch(context.Background(), []string{"AAPL", "BAD", "ZZZ"}, template())
	if err != nil {
		t.Fatalf("Fetch() returned unexpected error: %v", err)
	}

	if results[0].Selection.Provider != "polygon-api" {
		t.Errorf("AAPL provider = %q, want polygon-api", results[0].Selection.Provider)
	}
	if results[1].Selection.Provider != "yahoo-api" {
		t.Errorf("BAD provider = %q, want yahoo-api", results[1].Selection.Provider)
	}
	if !errors.Is(results[2].Err, ErrNoData) {
		t.Errorf("ZZZ error = %v, want ErrNoData", results[2].Err)
	}
}

func TestFetch_NoSymbols(t *testing.T) {
	coord := New(newSelector(testutil.NewMockFetcher("p", nil, nil), nil), 1)

	_, err := coord.Fetch(context.Background(), nil, template())
	if err == nil {
		t.Fatal("Fetch() expected error for no symbols, got nil")
	}

	expectedErrMsg := "no symbols configured"
	if err.Error() != expectedErrMsg {
		t.Errorf("Fetch() error = %q, want %q", err.Error(), expectedErrMsg)
	}
}

func TestFetch_ContextCancellation(t *testing.T) {
	slow := &testutil.MockFetcher{
		FetchFunc: func(ctx context.Context, req fetcher.Request) ([]candle.Candle, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
				return testutil.Series(start, 1), nil
			}
		},
		NameFunc: func() string { return "slow-api" },
	}
	coord := New(newSelector(slow, nil), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	results, err := coord.Fetch(ctx, []string{"AAPL"}, template())
	if err != nil {
		t.Fatalf("Fetch() returned unexpected error: %v", err)
	}
	if !errors.Is(results[0].Err, context.DeadlineExceeded) {
		t.Errorf("result error = %v, want context.DeadlineExceeded", results[0].Err)
	}
}

func TestFetch_ConcurrencyLimit(t *testing.T) {
	var inFlight, peak atomic.Int32

	sel := rangeFunc(func(ctx context.Context, req selector.Request) (selector.Selection, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return selector.Selection{Provider: "mock-api", Candles: testutil.Series(start, 1)}, nil
	})

	coord := New(sel, 2)
	symbols := []string{"A", "B", "C", "D", "E", "F"}

	results, err := coord.Fetch(context.Background(), symbols, template())
	if err != nil {
		t.Fatalf("Fetch() returned unexpected error: %v", err)
	}
	if len(results) != len(symbols) {
		t.Errorf("len(results) = %d, want %d", len(results), len(symbols))
	}
	if got := peak.Load(); got > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", got)
	}
}

func TestRun_Output(t *testing.T) {
	primary := &testutil.MockFetcher{
		FetchFunc: func(ctx context.Context, req fetcher.Request) ([]candle.Candle, error) {
			if req.Symbol == "AAPL" {
				return testutil.Series(start, 4), nil
			}
			return nil, errors.New("down")
		},
		NameFunc: func() string { return "polygon-api" },
	}
	coord := New(newSelector(primary, nil), 2)

	var buf bytes.Buffer
	if err := coord.Run(context.Background(), &buf, []string{"AAPL", "MSFT"}, template()); err != nil {
		t.Fatalf("Run() returned unexpected error: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(lines), buf.String())
	}
	if lines[0] != "AAPL: 4 candles from polygon-api (quality 1.00)" {
		t.Errorf("line 0 = %q", lines[0])
	}
	if lines[1] != "MSFT: ERROR - no provider returned data" {
		t.Errorf("line 1 = %q", lines[1])
	}
}

func TestPrint_Unscored(t *testing.T) {
	var buf bytes.Buffer
	Print(&buf, []Result{{
		Symbol:    "AAPL",
		Selection: selector.Selection{Provider: "yahoo-api", Candles: testutil.Series(start, 2)},
	}})

	if got := buf.String(); got != "AAPL: 2 candles from yahoo-api\n" {
		t.Errorf("Print() = %q", got)
	}
}
