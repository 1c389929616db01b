package main

import (
	"context"
	"fmt"
	"log"

	"github.com/tokligence/chat-relay/internal/adapter"
	"github.com/tokligence/chat-relay/internal/adapter/breaker"
	"github.com/tokligence/chat-relay/internal/adapter/gemini"
	"github.com/tokligence/chat-relay/internal/adapter/loopback"
	adapteropenai "github.com/tokligence/chat-relay/internal/adapter/openai"
	"github.com/tokligence/chat-relay/internal/config"
	"github.com/tokligence/chat-relay/internal/exchangelog"
	"github.com/tokligence/chat-relay/internal/exchangelog/async"
	"github.com/tokligence/chat-relay/internal/exchangelog/file"
	"github.com/tokligence/chat-relay/internal/exchangelog/postgres"
	"github.com/tokligence/chat-relay/internal/exchangelog/sqlite"
	"github.com/tokligence/chat-relay/internal/health"
)

// buildAdapter constructs the provider client selected by cfg.
func buildAdapter(cfg config.RelayConfig, logger *log.Logger) (adapter.ChatAdapter, error) {
	var (
		a   adapter.ChatAdapter
		err error
	)
	p := cfg.Selected()
	switch cfg.Provider {
	case config.ProviderGemini:
		a, err = gemini.New(gemini.Config{
			APIKey:         p.APIKey,
			Model:          p.Model,
			BaseURL:        p.BaseURL,
			RequestTimeout: cfg.RequestTimeout,
		})
	case config.ProviderOpenRouter, config.ProviderOpenAI:
		oc := adapteropenai.Config{
			Provider:       cfg.Provider,
			APIKey:         p.APIKey,
			Model:          p.Model,
			BaseURL:        p.BaseURL,
			RequestTimeout: cfg.RequestTimeout,
			Logger:         logger,
		}
		if cfg.Provider == config.ProviderOpenRouter {
			oc.Referer = cfg.OpenRouterReferer
			oc.Title = cfg.OpenRouterTitle
		}
		a, err = adapteropenai.New(oc)
	case config.ProviderLoopback:
		a = loopback.New()
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s adapter: %w", cfg.Provider, err)
	}

	if cfg.BreakerEnabled {
		a = breaker.Wrap(a, breaker.Config{
			Failures: uint32(cfg.BreakerFailures),
			Cooldown: cfg.BreakerCooldown,
			Logger:   logger,
		})
	}
	return a, nil
}

// openExchangeLog opens the configured side-log sink behind an async writer.
// It returns a disabled recorder when create_log is off, and a pinger for
// database-backed sinks.
func openExchangeLog(ctx context.Context, cfg config.RelayConfig, logger *log.Logger) (*exchangelog.Recorder, health.Pinger, error) {
	if !cfg.CreateLog {
		return exchangelog.NewRecorder(nil, "", logger), nil, nil
	}

	var (
		store exchangelog.Store
		err   error
	)
	switch cfg.ExchangeLogSink {
	case config.SinkFile:
		store, err = file.New(file.Config{Dir: cfg.ExchangeLogDir})
	case config.SinkSQLite:
		store, err = sqlite.New(cfg.ExchangeLogDSN)
	case config.SinkPostgres:
		store, err = postgres.New(ctx, postgres.Config{DSN: cfg.ExchangeLogDSN})
	default:
		return nil, nil, fmt.Errorf("unknown exchange_log_sink %q", cfg.ExchangeLogSink)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open %s exchange log: %w", cfg.ExchangeLogSink, err)
	}

	var pinger health.Pinger
	if p, ok := store.(health.Pinger); ok {
		pinger = p
	}
	queued := async.New(store, async.Config{Sink: cfg.ExchangeLogSink, Logger: logger})
	return exchangelog.NewRecorder(queued, cfg.ExchangeLogSink, logger), pinger, nil
}

// newReadinessChecker checks the exchange log database, when there is one,
// and the selected provider's API root.
func newReadinessChecker(a adapter.ChatAdapter, db health.Pinger) *health.Checker {
	var cfg health.Config
	if db != nil {
		cfg.Databases = append(cfg.Databases, health.Database{Name: "exchange_log", Pinger: db})
	}
	if w, ok := a.(interface{ Unwrap() adapter.ChatAdapter }); ok {
		a = w.Unwrap()
	}
	if u, ok := a.(interface{ BaseURL() string }); ok {
		cfg.Upstreams = append(cfg.Upstreams, health.Upstream{Name: a.Name(), URL: u.BaseURL()})
	}
	return health.New(cfg)
}
