package testutil

import (
	"context"
	"sync/atomic"
	"time"

	"marketfetcher/internal/candle"
	"marketfetcher/internal/fetcher"
)

// MockFetcher is a mock implementation of the Fetcher interface for testing
type MockFetcher struct {
	FetchFunc func(ctx context.Context, req fetcher.Request) ([]candle.Candle, error)
	NameFunc  func() string

	calls atomic.Int32
}

// Fetch implements the Fetcher interface
func (m *MockFetcher) Fetch(ctx context.Context, req fetcher.Request) ([]candle.Candle, error) {
	m.calls.Add(1)
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, req)
	}
	return nil, nil
}

// Name implements the Fetcher interface
func (m *MockFetcher) Name() string {
	if m.NameFunc != nil {
		return m.NameFunc()
	}
	return "mock-api"
}

// Calls returns how many times Fetch was invoked
func (m *MockFetcher) Calls() int {
	return int(m.calls.Load())
}

// NewMockFetcher creates a simple mock fetcher with predefined values
func NewMockFetcher(name string, candles []candle.Candle, err error) *MockFetcher {
	return &MockFetcher{
		FetchFunc: func(ctx context.Context, req fetcher.Request) ([]candle.Candle, error) {
			return candles, err
		},
		NameFunc: func() string {
			return name
		},
	}
}

// Series builds n clean daily candles starting on start, each closing
// slightly above its open with steady volume.
func Series(start time.Time, n int) []candle.Candle {
	out := make([]candle.Candle, n)
	price := 100.0
	for i := 0; i < n; i++ {
		open := price
		close := open * 1.01
		out[i] = candle.New(start.AddDate(0, 0, i), open, close*1.005, open*0.995, close, 1_000_000)
		price = close
	}
	return out
}

// Broken builds n candles whose high sits below the close, so each scores
// 0.5 on the structural check alone.
func Broken(start time.Time, n int) []candle.Candle {
	out := make([]candle.Candle, n)
	for i := 0; i < n; i++ {
		out[i] = candle.New(start.AddDate(0, 0, i), 100, 100.5, 99, 101, 1_000_000)
	}
	return out
}
