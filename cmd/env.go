package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/clearhsa/billscan/internal/analysis"
	"github.com/clearhsa/billscan/internal/fetcher"
	"github.com/clearhsa/billscan/internal/notify"
	"github.com/clearhsa/billscan/internal/store"
	anthropicpkg "github.com/clearhsa/billscan/pkg/anthropic"
)

// analysisEnv holds the store and the wired pipeline needed by the
// serve/analyze commands.
type analysisEnv struct {
	Store    store.Store
	Analyzer *analysis.Analyzer
}

// Close releases resources held by the environment.
func (ae *analysisEnv) Close() {
	if ae.Store != nil {
		_ = ae.Store.Close()
	}
}

// initStore connects to Postgres. Schema changes are left to the migrate
// command; read-only commands never touch DDL.
func initStore(ctx context.Context) (store.Store, error) {
	if cfg.Store.DatabaseURL == "" {
		return nil, eris.New("cmd: BILLSCAN_STORE_DATABASE_URL is required")
	}

	st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, &cfg.Store.Pool)
	if err != nil {
		return nil, eris.Wrap(err, "cmd: connect store")
	}

	return st, nil
}

// initEnv sets up the store, the Anthropic client, the receipt fetcher, and
// the notifier, and builds the Analyzer. Callers should defer env.Close().
func initEnv(ctx context.Context) (*analysisEnv, error) {
	if cfg.Anthropic.Key == "" {
		return nil, eris.New("cmd: BILLSCAN_ANTHROPIC_KEY is required")
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	oracle := anthropicpkg.NewClient(cfg.Anthropic.Key)

	f := fetcher.New(fetcher.Options{
		UserAgent:  cfg.Fetch.UserAgent,
		Timeout:    time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
		RatePerSec: cfg.Fetch.RatePerSec,
	})

	notifier := notify.NewWebhook(cfg.Notify.ProviderStatsURL)

	analyzer := analysis.New(oracle, st, f, notifier, analysis.Options{
		Model:     cfg.Anthropic.Model,
		MaxTokens: cfg.Anthropic.MaxTokens,
	})

	return &analysisEnv{Store: st, Analyzer: analyzer}, nil
}
