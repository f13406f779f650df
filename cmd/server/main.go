// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command server is the entry point for the trigger platform. It:
//  1. Loads configuration from config.yaml and the environment
//  2. Initialises the Sentry client when a DSN is configured
//  3. Connects to Postgres and Redis
//  4. Builds the static app -> connector registry
//  5. Wires the ingestion handler, orchestrator, and scheduler
//  6. Serves the ingestion HTTP API and a separate metrics endpoint
//  7. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/johnearle/triggerhub/internal/accounts"
	"github.com/johnearle/triggerhub/internal/catalog"
	"github.com/johnearle/triggerhub/internal/config"
	"github.com/johnearle/triggerhub/internal/connector"
	"github.com/johnearle/triggerhub/internal/connector/github"
	"github.com/johnearle/triggerhub/internal/connector/gmail"
	"github.com/johnearle/triggerhub/internal/connector/hubspot"
	"github.com/johnearle/triggerhub/internal/connector/shopify"
	"github.com/johnearle/triggerhub/internal/connector/slack"
	"github.com/johnearle/triggerhub/internal/dedup"
	"github.com/johnearle/triggerhub/internal/ingest"
	"github.com/johnearle/triggerhub/internal/metrics"
	"github.com/johnearle/triggerhub/internal/orchestrator"
	"github.com/johnearle/triggerhub/internal/ratelimit"
	"github.com/johnearle/triggerhub/internal/scheduler"
	"github.com/johnearle/triggerhub/internal/secretbox"
	"github.com/johnearle/triggerhub/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting trigger platform")

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialise Sentry when a DSN is configured and flush it on exit; a
	// blank DSN skips Init. No capture calls are made here, so the client
	// reports only what the SDK records on its own.
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			TracesSampleRate: 0.1,
		}); err != nil {
			slog.Warn("sentry.Init failed, continuing without error reporting", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseDSN)
	if err != nil {
		slog.Error("failed to create postgres pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		slog.Error("failed to ping postgres", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to postgres")

	redisOpt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(redisOpt)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to redis")

	sealer, err := secretbox.NewSealer(cfg.MasterKey)
	if err != nil {
		slog.Error("failed to build verification-token sealer", "error", err)
		os.Exit(1)
	}

	triggerStore, err := store.New(ctx, pool, sealer)
	if err != nil {
		slog.Error("failed to initialise trigger store", "error", err)
		os.Exit(1)
	}

	accountResolver := accounts.New(pool)
	metricsCollector := metrics.New()
	dedupFilter := dedup.NewFilter(rdb)
	limiter := ratelimit.New(
		ratelimit.BucketConfig{Capacity: cfg.GlobalRate.Capacity, Refill: cfg.GlobalRate.Refill},
		ratelimit.BucketConfig{Capacity: cfg.TriggerRate.Capacity, Refill: cfg.TriggerRate.Refill},
		10*time.Minute,
	)
	defer limiter.Close()

	registry := buildRegistry(ctx, cfg)
	triggerCatalog := catalog.New()

	orch := orchestrator.New(triggerStore, registry, accountResolver, metricsCollector, triggerCatalog, cfg.CallbackBaseURL)
	_ = orch // exposed for the (out-of-scope) admin layer to call; constructed here so its dependencies are validated at start-up

	sched, err := scheduler.New(triggerStore, registry, accountResolver, metricsCollector, scheduler.Schedule{
		RenewExpiring:   cfg.Scheduler.RenewExpiring,
		MarkExpired:     cfg.Scheduler.MarkExpired,
		RetryFailedRegs: cfg.Scheduler.RetryFailedRegs,
		CleanupEvents:   cfg.Scheduler.CleanupEvents,
		UpdateGauges:    cfg.Scheduler.UpdateGauges,
	})
	if err != nil {
		slog.Error("failed to build scheduler", "error", err)
		os.Exit(1)
	}
	sched.Start()
	defer sched.Stop()

	handler := &ingest.Handler{
		Store:    triggerStore,
		Registry: registry,
		Limiter:  limiter,
		Metrics:  metricsCollector,
		Dedup:    dedupFilter,
	}

	router := chi.NewRouter()
	handler.Routes(router)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metricsCollector.Handler())
	metricsServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("metrics server listening", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", "error", err)
		}
	}()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh

		slog.Info("received shutdown signal", "signal", sig)
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("ingestion server shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown error", "error", err)
		}
	}()

	slog.Info("ingestion server listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("ingestion server error", "error", err)
		os.Exit(1)
	}

	slog.Info("trigger platform stopped")
}

// buildRegistry constructs the static app-name -> connector.Connector map
// at start-up, the "replace runtime string-to-class maps with a static
// registry" design note of spec.md §9.
func buildRegistry(ctx context.Context, cfg *config.Config) *connector.Registry {
	// A nil *oidc.IDTokenVerifier stored in the interface would make the
	// field non-nil, so the verifier is assigned only on success.
	var gmailVerifier gmail.TokenVerifier
	if v, err := gmail.NewProvider(ctx, cfg.GmailPushAudience); err != nil {
		slog.Warn("gmail: failed to build OIDC verifier at start-up, will retry lazily per-request", "error", err)
	} else {
		gmailVerifier = v
	}

	return connector.NewRegistry(map[string]connector.Connector{
		"HUBSPOT": &hubspot.Connector{
			AppSecret:             cfg.ProviderSecrets["HUBSPOT"],
			AllowLegacySignatures: cfg.AllowLegacyHubSpotSignatures,
			ReplaySkew:            cfg.ReplaySkew,
		},
		"SHOPIFY": &shopify.Connector{
			AppSecret: cfg.ProviderSecrets["SHOPIFY"],
		},
		"SLACK": &slack.Connector{
			SigningSecret: cfg.ProviderSecrets["SLACK"],
			ReplaySkew:    cfg.ReplaySkew,
		},
		"GITHUB": &github.Connector{},
		"GMAIL": &gmail.Connector{
			Audience: cfg.GmailPushAudience,
			Verifier: gmailVerifier,
		},
	})
}
