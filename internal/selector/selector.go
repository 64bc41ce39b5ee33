// Package selector chooses, per request, which provider's candles to keep.
//
// The primary provider is asked first. If it is unavailable, returns nothing,
// or returns data whose mean quality falls below the configured threshold,
// the secondary provider is asked next and the two results are compared.
// Provider calls are sequential and each is gated by that provider's
// circuit breaker. An optional response cache is read before the gate, so a
// cached response never counts toward a breaker's state. Transport errors never reach the caller: a provider that
// fails simply contributes no candles.
package selector

import (
	"context"
	"log/slog"
	"time"

	"marketfetcher/internal/breaker"
	"marketfetcher/internal/candle"
	"marketfetcher/internal/fetcher"
	"marketfetcher/internal/quality"
)

// Config holds the selection thresholds. Every number here is deployment
// configuration.
type Config struct {
	// QualityThreshold is the aggregate score at or above which the primary
	// result is accepted without consulting the secondary.
	QualityThreshold float64 `mapstructure:"quality_threshold"`
	// TieBand is the half-width of the band in which two aggregate scores
	// are considered equal. Ties go to the primary.
	TieBand float64 `mapstructure:"tie_band"`
	// FallbackEnabled allows the secondary to be consulted at all.
	FallbackEnabled bool `mapstructure:"fallback_enabled"`
	// ProviderTimeout bounds each individual provider call.
	ProviderTimeout time.Duration `mapstructure:"provider_timeout"`
}

// DefaultConfig returns the production selection thresholds.
func DefaultConfig() Config {
	return Config{
		QualityThreshold: 0.85,
		TieBand:          0.05,
		FallbackEnabled:  true,
		ProviderTimeout:  15 * time.Second,
	}
}

// Scorer rates an ordered run of candles. *quality.Validator implements it.
type Scorer interface {
	ScoreSeries(symbol string, candles []candle.Candle) []quality.Result
}

// Request asks for one symbol's candles over a range.
type Request struct {
	Symbol    string
	Timeframe candle.Timeframe
	Start     time.Time
	End       time.Time
	// Validate scores the candles and enables the quality comparison.
	Validate bool
	// QualityThreshold overrides Config.QualityThreshold for this request
	// when positive.
	QualityThreshold float64
}

func (r Request) fetchRequest() fetcher.Request {
	return fetcher.Request{
		Symbol:    r.Symbol,
		Timeframe: r.Timeframe,
		Start:     r.Start,
		End:       r.End,
	}
}

// Decision explains how a Selection was reached.
type Decision string

const (
	// DecisionPrimary: the primary succeeded and was good enough on its own.
	DecisionPrimary Decision = "primary"
	// DecisionPrimaryLowQuality: the primary was below threshold but nothing better was available.
	DecisionPrimaryLowQuality Decision = "primary_low_quality"
	// DecisionFallback: only the secondary produced candles.
	DecisionFallback Decision = "fallback"
	// DecisionFallbackBetter: both succeeded and the secondary scored clearly higher.
	DecisionFallbackBetter Decision = "fallback_better"
	// DecisionPrimaryBetter: both succeeded and the primary scored clearly higher.
	DecisionPrimaryBetter Decision = "primary_better"
	// DecisionTie: both succeeded within the tie band; the primary wins.
	DecisionTie Decision = "tie"
	// DecisionExhausted: no provider produced candles.
	DecisionExhausted Decision = "exhausted"
)

// Selection is the chosen candle set plus provenance.
type Selection struct {
	// Candles is empty and Provider is "" when every source was exhausted.
	Candles  []candle.Candle
	Provider string
	// Quality is the aggregate score of the chosen candles, 0 when unscored.
	Quality  float64
	Decision Decision

	Primary  fetcher.Outcome
	Fallback *fetcher.Outcome
}

// Exhausted reports whether no provider produced candles.
func (s Selection) Exhausted() bool {
	return s.Provider == ""
}

// Option configures a Selector.
type Option func(*Selector)

// ResponseCache stores provider responses keyed by provider and request.
// *cache.Store implements it.
type ResponseCache interface {
	Get(ctx context.Context, provider string, req fetcher.Request) ([]candle.Candle, bool)
	Put(ctx context.Context, provider string, req fetcher.Request, candles []candle.Candle)
}

// WithCache serves provider responses from c when present. A cached response
// is not an upstream call, so it is never reported to a breaker.
func WithCache(c ResponseCache) Option {
	return func(s *Selector) {
		s.cache = c
	}
}

// WithMetrics records selection outcomes in m.
func WithMetrics(m *Metrics) Option {
	return func(s *Selector) {
		s.metrics = m
	}
}

// Selector runs the primary/secondary fallback protocol. It is safe for
// concurrent use: each FetchRange call is independent, breakers serialize
// their own state and stats are atomic.
type Selector struct {
	primary   fetcher.Fetcher
	secondary fetcher.Fetcher
	breakers  *breaker.Registry
	scorer    Scorer
	cfg       Config
	stats     counters
	metrics   *Metrics
	cache     ResponseCache
}

// New creates a selector. secondary may be nil, in which case no fallback
// is ever attempted.
func New(primary, secondary fetcher.Fetcher, breakers *breaker.Registry, scorer Scorer, cfg Config, opts ...Option) *Selector {
	s := &Selector{
		primary:   primary,
		secondary: secondary,
		breakers:  breakers,
		scorer:    scorer,
		cfg:       cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FetchRange returns the best available candles for req and the name of the
// provider they came from. The only error it returns is the caller's context
// error; in that case nothing is recorded in stats.
func (s *Selector) FetchRange(ctx context.Context, req Request) (Selection, error) {
	primary := s.attempt(ctx, s.primary, req)
	if err := ctx.Err(); err != nil {
		return Selection{}, err
	}

	threshold := s.cfg.QualityThreshold
	if req.QualityThreshold > 0 {
		threshold = req.QualityThreshold
	}

	if primary.Succeeded && (!req.Validate || primary.AggregateQuality >= threshold) {
		return s.choose(primary, nil, false, DecisionPrimary), nil
	}

	if !s.cfg.FallbackEnabled || s.secondary == nil {
		if primary.Succeeded {
			return s.choose(primary, nil, false, DecisionPrimaryLowQuality), nil
		}
		return s.exhausted(primary, nil), nil
	}

	if primary.Succeeded {
		slog.Info("primary quality below threshold, trying fallback",
			"symbol", req.Symbol,
			"provider", primary.Provider,
			"quality", primary.AggregateQuality,
			"threshold", threshold)
	}

	fallback := s.attempt(ctx, s.secondary, req)
	if err := ctx.Err(); err != nil {
		return Selection{}, err
	}

	switch {
	case primary.Succeeded && fallback.Succeeded:
		diff := fallback.AggregateQuality - primary.AggregateQuality
		switch {
		case diff > s.cfg.TieBand:
			return s.choose(primary, &fallback, true, DecisionFallbackBetter), nil
		case diff < -s.cfg.TieBand:
			return s.choose(primary, &fallback, false, DecisionPrimaryBetter), nil
		default:
			return s.choose(primary, &fallback, false, DecisionTie), nil
		}
	case fallback.Succeeded:
		return s.choose(primary, &fallback, true, DecisionFallback), nil
	case primary.Succeeded:
		return s.choose(primary, &fallback, false, DecisionPrimaryLowQuality), nil
	default:
		return s.exhausted(primary, &fallback), nil
	}
}

// attempt serves req for f from the cache, or else makes one breaker-gated
// upstream call and scores the result. Cache hits never touch the breaker.
func (s *Selector) attempt(ctx context.Context, f fetcher.Fetcher, req Request) fetcher.Outcome {
	out := fetcher.Outcome{Provider: f.Name()}
	freq := req.fetchRequest()

	if s.cache != nil {
		if candles, ok := s.cache.Get(ctx, out.Provider, freq); ok {
			out.Candles = candles
			out.Succeeded = true
			out.Cached = true
			s.metrics.attempt(out.Provider, attemptCached)
			s.score(req, &out)
			return out
		}
	}

	cb := s.breakers.Get(out.Provider)
	ticket, ok := cb.Acquire()
	if !ok {
		slog.Debug("circuit breaker open, skipping provider",
			"provider", out.Provider,
			"symbol", req.Symbol)
		s.metrics.attempt(out.Provider, attemptSkipped)
		return out
	}
	out.Attempted = true

	callCtx := ctx
	if s.cfg.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.cfg.ProviderTimeout)
		defer cancel()
	}

	candles, err := f.Fetch(callCtx, freq)

	// The caller gave up; this says nothing about the provider's health.
	if ctx.Err() != nil {
		out.Err = ctx.Err()
		return out
	}

	if err != nil {
		cb.Failure(ticket)
		out.Err = err
		slog.Warn("provider fetch failed",
			"provider", out.Provider,
			"symbol", req.Symbol,
			"timeframe", req.Timeframe,
			"retryable", fetcher.IsRetryable(err),
			"error", err)
		s.metrics.attempt(out.Provider, attemptError)
		return out
	}

	if len(candles) == 0 {
		cb.Failure(ticket)
		slog.Warn("provider returned no candles",
			"provider", out.Provider,
			"symbol", req.Symbol,
			"timeframe", req.Timeframe)
		s.metrics.attempt(out.Provider, attemptEmpty)
		return out
	}

	cb.Success(ticket)
	s.metrics.attempt(out.Provider, attemptSuccess)

	if s.cache != nil {
		s.cache.Put(ctx, out.Provider, freq, candles)
	}

	out.Candles = candles
	out.Succeeded = true
	s.score(req, &out)

	return out
}

func (s *Selector) score(req Request, out *fetcher.Outcome) {
	if !req.Validate || s.scorer == nil {
		return
	}

	results := s.scorer.ScoreSeries(req.Symbol, out.Candles)
	out.AggregateQuality = quality.Aggregate(results)
	out.Scored = true
	s.metrics.observeQuality(out.Provider, out.AggregateQuality)

	sum := quality.Summarize(results)
	slog.Debug("scored provider response",
		"provider", out.Provider,
		"symbol", req.Symbol,
		"cached", out.Cached,
		"candles", sum.Total,
		"validated", sum.Validated,
		"gaps", sum.Gaps,
		"volume_anomalies", sum.VolumeAnomaly,
		"mean_score", sum.MeanScore)
}

func (s *Selector) choose(primary fetcher.Outcome, fallback *fetcher.Outcome, useFallback bool, d Decision) Selection {
	winner := primary
	if useFallback {
		winner = *fallback
	}

	sel := Selection{
		Candles:  winner.Candles,
		Provider: winner.Provider,
		Quality:  winner.AggregateQuality,
		Decision: d,
		Primary:  primary,
		Fallback: fallback,
	}

	if useFallback {
		s.stats.fallbackUsed.Add(1)
		slog.Info("using fallback provider",
			"provider", winner.Provider,
			"decision", string(d),
			"quality", winner.AggregateQuality)
	} else {
		s.stats.primaryUsed.Add(1)
	}

	switch d {
	case DecisionFallbackBetter:
		s.stats.fallbackWasBetter.Add(1)
	case DecisionPrimaryBetter:
		s.stats.primaryWasBetter.Add(1)
	case DecisionTie:
		s.stats.tie.Add(1)
	}

	s.metrics.selection(d)
	return sel
}

func (s *Selector) exhausted(primary fetcher.Outcome, fallback *fetcher.Outcome) Selection {
	s.stats.bothFailed.Add(1)
	s.metrics.selection(DecisionExhausted)
	slog.Warn("all providers exhausted",
		"primary", primary.Provider,
		"primary_attempted", primary.Attempted)

	return Selection{
		Candles:  []candle.Candle{},
		Decision: DecisionExhausted,
		Primary:  primary,
		Fallback: fallback,
	}
}

// Stats returns a snapshot of the running selection counters.
func (s *Selector) Stats() Stats {
	return s.stats.snapshot()
}

// BreakerState returns the state of a dependency's breaker. ok is false if
// no call to that dependency has been gated yet.
func (s *Selector) BreakerState(name string) (breaker.Snapshot, bool) {
	cb, ok := s.breakers.Lookup(name)
	if !ok {
		return breaker.Snapshot{}, false
	}
	return cb.Snapshot(), true
}

// BreakerStates returns a snapshot of every breaker created so far, sorted
// by name.
func (s *Selector) BreakerStates() []breaker.Snapshot {
	return s.breakers.Snapshots()
}
