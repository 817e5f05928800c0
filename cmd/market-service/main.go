package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LeonAdeoye/market-service/internal/config"
	"github.com/LeonAdeoye/market-service/internal/observ"
	"github.com/LeonAdeoye/market-service/internal/publisher"
	"github.com/LeonAdeoye/market-service/internal/quotes"
	"github.com/LeonAdeoye/market-service/internal/registry"
	"github.com/LeonAdeoye/market-service/internal/resilience"
	"github.com/LeonAdeoye/market-service/internal/routing"
	"github.com/LeonAdeoye/market-service/internal/scheduler"
	"github.com/LeonAdeoye/market-service/internal/service"
	"github.com/LeonAdeoye/market-service/internal/throttle"
	"github.com/LeonAdeoye/market-service/internal/transport"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		observ.Error("config_load_failed", map[string]any{"path": *configPath, "error": err.Error()})
		os.Exit(1)
	}
	observ.Setup(cfg.LogLevel, cfg.LogConsole)

	rules := routing.Rules{
		RealtimeSuffixes: cfg.Routing.RealtimeSuffixes,
		DelayedSuffixes:  cfg.Routing.DelayedSuffixes,
		CryptoSuffixes:   cfg.Routing.CryptoSuffixes,
	}

	synthetic := quotes.NewSyntheticAdapter(quotes.SyntheticConfig{
		BasePrice:  cfg.Synthetic.BasePrice,
		Volatility: cfg.Synthetic.Volatility,
		Drift:      cfg.Synthetic.Drift,
		FloorPrice: cfg.Synthetic.FloorPrice,
	})

	adapters := map[quotes.SourceType]quotes.Adapter{
		quotes.SourceSynthetic: synthetic,
	}
	policies := map[quotes.SourceType]scheduler.Policy{
		quotes.SourceSynthetic: {},
	}

	if delayed, err := quotes.NewDelayedAdapter(quotes.DelayedConfig{
		BaseURL:            cfg.Providers.Delayed.BaseURL,
		APIKey:             cfg.Providers.Delayed.Credential(),
		TimeoutSeconds:     cfg.Providers.Delayed.TimeoutSeconds,
		RateLimitPerMinute: cfg.Providers.Delayed.RateLimitPerMinute,
	}); err != nil {
		observ.Warn("delayed_provider_disabled", map[string]any{"error": err.Error()})
	} else {
		adapters[quotes.SourceDelayed] = delayed
		policies[quotes.SourceDelayed] = scheduler.Policy{
			Resilient:   cfg.Providers.Delayed.Resilient,
			Fallback:    cfg.Providers.Delayed.Fallback,
			RateLimited: true,
		}
	}

	if realtime, err := quotes.NewRealtimeAdapter(quotes.RealtimeConfig{
		BaseURL:        cfg.Providers.Realtime.BaseURL,
		Token:          cfg.Providers.Realtime.Credential(),
		TimeoutSeconds: cfg.Providers.Realtime.TimeoutSeconds,
	}); err != nil {
		observ.Warn("realtime_provider_disabled", map[string]any{"error": err.Error()})
	} else {
		adapters[quotes.SourceRealtime] = realtime
		policies[quotes.SourceRealtime] = scheduler.Policy{
			Resilient: cfg.Providers.Realtime.Resilient,
			Fallback:  cfg.Providers.Realtime.Fallback,
		}
	}

	if crypto, err := quotes.NewCryptoAdapter(quotes.CryptoConfig{
		BaseURL:        cfg.Providers.Crypto.BaseURL,
		APIKey:         cfg.Providers.Crypto.Credential(),
		TimeoutSeconds: cfg.Providers.Crypto.TimeoutSeconds,
	}); err != nil {
		observ.Warn("crypto_provider_disabled", map[string]any{"error": err.Error()})
	} else {
		adapters[quotes.SourceCrypto] = crypto
		policies[quotes.SourceCrypto] = scheduler.Policy{
			Resilient: cfg.Providers.Crypto.Resilient,
			Fallback:  cfg.Providers.Crypto.Fallback,
		}
	}

	var sink publisher.Sink
	switch cfg.Publisher.Kind {
	case "redis":
		sink = publisher.NewRedisSink(cfg.Publisher.RedisAddr, cfg.Publisher.Stream)
	case "noop":
		sink = publisher.NoopSink{}
	default:
		sink = publisher.NewFileSink(cfg.Publisher.FilePath)
	}
	pub := publisher.New(sink, cfg.Publisher.TopicPrefix)

	gate := throttle.NewGate()
	reg := registry.New()
	breakers := resilience.NewBreakerSet(
		cfg.Resilience.FailureThreshold,
		time.Duration(cfg.Resilience.OpenDurationSeconds)*time.Second,
	)
	retryer := resilience.NewRetryer(breakers, resilience.RetryConfig{
		MaxRetries:    cfg.Resilience.MaxRetries,
		BackoffBaseMs: cfg.Resilience.BackoffBaseMs,
		BackoffMaxMs:  cfg.Resilience.BackoffMaxMs,
	})

	sched := scheduler.New(scheduler.Deps{
		Registry:  reg,
		Gate:      gate,
		Rules:     rules,
		Adapters:  adapters,
		Policies:  policies,
		Fallback:  synthetic,
		Retryer:   retryer,
		Publisher: pub,
	}, scheduler.Config{
		TickIntervalSeconds: cfg.Scheduler.TickIntervalSeconds,
		BatchSize:           cfg.Scheduler.BatchSize,
		MaxConcurrentFetch:  cfg.Scheduler.MaxConcurrentFetch,
		ZeroPricePolicy:     scheduler.ZeroPricePolicy(cfg.Scheduler.ZeroPricePolicy),
	})

	svc := service.New(reg, gate, rules, synthetic, sched, breakers, pub)

	observ.Log("started", map[string]any{
		"config":          *configPath,
		"http_listen":     cfg.HTTPListen,
		"tick_interval_s": cfg.Scheduler.TickIntervalSeconds,
		"batch_size":      cfg.Scheduler.BatchSize,
		"publisher_sink":  cfg.Publisher.Kind,
		"providers":       len(adapters),
		"zero_price":      cfg.Scheduler.ZeroPricePolicy,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		sched.Run(ctx)
	}()

	server := &http.Server{Addr: cfg.HTTPListen, Handler: transport.NewMux(svc)}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			observ.Error("http_server_failed", map[string]any{"error": err.Error()})
			stop()
		}
	}()

	<-ctx.Done()
	observ.Log("shutting_down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	<-schedDone
	if err := pub.Close(); err != nil {
		observ.Warn("publisher_close_failed", map[string]any{"error": err.Error()})
	}
	observ.Log("stopped", nil)
}
