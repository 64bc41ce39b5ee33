package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"marketfetcher/internal/alphavantage"
	"marketfetcher/internal/breaker"
	"marketfetcher/internal/cache"
	"marketfetcher/internal/config"
	"marketfetcher/internal/coordinator"
	"marketfetcher/internal/fetcher"
	"marketfetcher/internal/polygon"
	"marketfetcher/internal/quality"
	"marketfetcher/internal/ratelimit"
	"marketfetcher/internal/selector"
	"marketfetcher/internal/yahoo"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	})))

	// Create context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle interrupt signals for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nReceived interrupt signal, shutting down...")
		cancel()
	}()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("Fetch failed: %v", err)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := selector.NewMetrics(reg)

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("redis unavailable, caching disabled", "addr", cfg.RedisAddr, "error", err)
			rdb = nil
		}
	}

	sel, err := buildSelector(cfg, rdb, metrics)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	fetchDone := make(chan struct{})

	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			slog.Info("serving metrics", "addr", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			select {
			case <-gctx.Done():
			case <-fetchDone:
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		defer close(fetchDone)

		end := time.Now().UTC()
		tmpl := selector.Request{
			Timeframe: cfg.Timeframe,
			Start:     end.AddDate(0, 0, -cfg.LookbackDays),
			End:       end,
			Validate:  cfg.Validate,
		}

		fmt.Println("Fetching market data...")
		fmt.Println("================================================")
		coord := coordinator.New(sel, cfg.Concurrency)
		if err := coord.Run(gctx, os.Stdout, cfg.Symbols, tmpl); err != nil {
			return err
		}
		fmt.Println("================================================")

		stats := sel.Stats()
		fmt.Printf("primary used: %d, fallback used: %d, both failed: %d\n",
			stats.PrimaryUsed, stats.FallbackUsed, stats.BothFailed)
		fmt.Printf("fallback better: %d, primary better: %d, tie: %d\n",
			stats.FallbackWasBetter, stats.PrimaryWasBetter, stats.Tie)
		fmt.Printf("requests: %d\n", stats.Total())
		for _, b := range sel.BreakerStates() {
			fmt.Printf("breaker %s: %s (consecutive failures: %d)\n",
				b.Name, b.State, b.ConsecutiveFailures)
		}
		return nil
	})

	return g.Wait()
}

func buildSelector(cfg *config.Config, rdb *redis.Client, metrics *selector.Metrics) (*selector.Selector, error) {
	breakers := breaker.NewRegistry(cfg.Breaker, breaker.WithStateChangeHandler(metrics.BreakerStateChanged))
	for name, s := range cfg.BreakerOverrides {
		breakers.Configure(name, s)
	}

	limiter := ratelimit.New(cfg.RateLimits)

	primary, err := newProvider(cfg, cfg.PrimaryProvider)
	if err != nil {
		return nil, err
	}

	var secondary fetcher.Fetcher
	if cfg.HasSecondary() {
		f, err := newProvider(cfg, cfg.SecondaryProvider)
		if err != nil {
			return nil, err
		}
		secondary = limiter.Wrap(f)
	}

	validator := quality.NewValidator(quality.DefaultThresholds())

	opts := []selector.Option{selector.WithMetrics(metrics)}
	if rdb != nil {
		// A cache hit bypasses both the breaker and the rate limiter.
		opts = append(opts, selector.WithCache(cache.NewStore(rdb, cfg.CacheTTL)))
	}

	return selector.New(limiter.Wrap(primary), secondary, breakers, validator, cfg.Selection, opts...), nil
}

func newProvider(cfg *config.Config, name string) (fetcher.Fetcher, error) {
	switch name {
	case config.ProviderPolygon:
		return polygon.NewAggregatesFetcher(cfg.PolygonAPIKey, cfg.PolygonBaseURL, cfg.HTTP), nil
	case config.ProviderYahoo:
		return yahoo.NewChartFetcher(cfg.YahooBaseURL, cfg.HTTP), nil
	case config.ProviderAlphavantage:
		return alphavantage.NewTimeSeriesFetcher(cfg.AlphavantageAPIKey, cfg.AlphavantageBaseURL, cfg.HTTP), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
