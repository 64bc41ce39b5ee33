package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/sourcegraph/conc/pool"

	"marketfetcher/internal/selector"
)

// ErrNoData is reported for a symbol when every provider came back empty.
var ErrNoData = errors.New("no provider returned data")

// RangeFetcher is the part of the selector the coordinator drives.
type RangeFetcher interface {
	FetchRange(ctx context.Context, req selector.Request) (selector.Selection, error)
}

// Result is the outcome for a single symbol.
type Result struct {
	Symbol    string
	Selection selector.Selection
	Err       error
}

// Coordinator fans a batch of symbols out over the selector
type Coordinator struct {
	sel         RangeFetcher
	concurrency int
}

// New creates a new Coordinator. concurrency bounds the number of symbols
// in flight; values below 1 mean one at a time.
func New(sel RangeFetcher, concurrency int) *Coordinator {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Coordinator{
		sel:         sel,
		concurrency: concurrency,
	}
}

// Fetch runs one selection per symbol concurrently. tmpl supplies everything
// but the symbol. Results are sorted by symbol. Per-symbol failures are
// reported in Result.Err; Fetch itself only fails on an empty batch.
func (c *Coordinator) Fetch(ctx context.Context, symbols []string, tmpl selector.Request) ([]Result, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("no symbols configured")
	}

	p := pool.NewWithResults[Result]().WithMaxGoroutines(c.concurrency)
	for _, sym := range symbols {
		req := tmpl
		req.Symbol = strings.ToUpper(sym)
		p.Go(func() Result {
			return c.fetchOne(ctx, req)
		})
	}

	results := p.Wait()
	sort.Slice(results, func(i, j int) bool { return results[i].Symbol < results[j].Symbol })
	return results, nil
}

func (c *Coordinator) fetchOne(ctx context.Context, req selector.Request) Result {
	res := Result{Symbol: req.Symbol}

	sel, err := c.sel.FetchRange(ctx, req)
	if err != nil {
		res.Err = err
		return res
	}
	res.Selection = sel

	if sel.Exhausted() {
		res.Err = ErrNoData
		slog.Warn("no data for symbol", "symbol", req.Symbol)
		return res
	}

	slog.Info("symbol fetched",
		"symbol", req.Symbol,
		"provider", sel.Provider,
		"decision", string(sel.Decision),
		"candles", len(sel.Candles),
		"quality", sel.Quality)
	return res
}

// Run fetches every symbol and writes one line per result to w in the format:
//   - Success: "SYMBOL: N candles from PROVIDER (quality Q)"
//   - Error: "SYMBOL: ERROR - error message"
func (c *Coordinator) Run(ctx context.Context, w io.Writer, symbols []string, tmpl selector.Request) error {
	results, err := c.Fetch(ctx, symbols, tmpl)
	if err != nil {
		return err
	}
	Print(w, results)
	return nil
}

// Print writes results in the format described on Run.
func Print(w io.Writer, results []Result) {
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(w, "%s: ERROR - %v\n", r.Symbol, r.Err)
			continue
		}
		sel := r.Selection
		if sel.Primary.Scored || (sel.Fallback != nil && sel.Fallback.Scored) {
			fmt.Fprintf(w, "%s: %d candles from %s (quality %.2f)\n", r.Symbol, len(sel.Candles), sel.Provider, sel.Quality)
		} else {
			fmt.Fprintf(w, "%s: %d candles from %s\n", r.Symbol, len(sel.Candles), sel.Provider)
		}
	}
}
