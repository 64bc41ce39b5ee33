package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"marketfetcher/internal/candle"
	"marketfetcher/internal/fetcher"
	"marketfetcher/internal/testutil"
)

func shortContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	t.Cleanup(cancel)
	return ctx
}

func TestWait_UnknownProviderIsUnlimited(t *testing.T) {
	l := New(nil)
	ctx := shortContext(t)
	for i := 0; i < 100; i++ {
		if err := l.Wait(ctx, "polygon-api"); err != nil {
			t.Fatalf("Wait() error = %v for a provider without limits", err)
		}
	}
}

func TestWait_RespectsBurst(t *testing.T) {
	l := New(map[string]Limit{
		"alphavantage-api": {RequestsPerSecond: 1.0 / 12.0, Burst: 2},
	})
	ctx := shortContext(t)

	if l.Wait(ctx, "alphavantage-api") != nil || l.Wait(ctx, "alphavantage-api") != nil {
		t.Fatal("Wait() should permit the burst without blocking")
	}
	if err := l.Wait(ctx, "alphavantage-api"); err == nil {
		t.Error("Wait() = nil after burst exhausted, want error")
	}
}

func TestSet_ZeroRateIsUnlimited(t *testing.T) {
	l := New(map[string]Limit{"yahoo-api": {}})
	ctx := shortContext(t)
	for i := 0; i < 50; i++ {
		if err := l.Wait(ctx, "yahoo-api"); err != nil {
			t.Fatalf("Wait() error = %v for an unlimited provider", err)
		}
	}
}

func TestWait_ContextCancelled(t *testing.T) {
	l := New(map[string]Limit{"polygon-api": {RequestsPerSecond: 0.001, Burst: 1}})
	_ = l.Wait(context.Background(), "polygon-api")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := l.Wait(ctx, "polygon-api"); err == nil {
		t.Error("Wait() expected error, got nil")
	}
}

func TestWrap_PassesThrough(t *testing.T) {
	want := []candle.Candle{candle.New(time.Now(), 1, 1, 1, 1, 1)}
	inner := testutil.NewMockFetcher("polygon-api", want, nil)

	l := New(map[string]Limit{"polygon-api": {RequestsPerSecond: 100, Burst: 10}})
	f := l.Wrap(inner)

	if f.Name() != "polygon-api" {
		t.Errorf("Name() = %q, want polygon-api", f.Name())
	}
	got, err := f.Fetch(context.Background(), fetcher.Request{Symbol: "AAPL"})
	if err != nil {
		t.Fatalf("Fetch() returned unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("len(candles) = %d, want 1", len(got))
	}
}

func TestWrap_BudgetExhaustedReturnsTimeout(t *testing.T) {
	inner := testutil.NewMockFetcher("polygon-api", nil, nil)
	l := New(map[string]Limit{"polygon-api": {RequestsPerSecond: 0.001, Burst: 1}})
	_ = l.Wait(context.Background(), "polygon-api")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := l.Wrap(inner).Fetch(ctx, fetcher.Request{Symbol: "AAPL"})

	var fe *fetcher.FetchError
	if !errors.As(err, &fe) || fe.Type != fetcher.ErrorTypeTimeout {
		t.Errorf("Fetch() error = %v, want timeout FetchError", err)
	}
}
