package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/kailas-cloud/entitled/internal/config"
	"github.com/kailas-cloud/entitled/internal/db"
	dbRedis "github.com/kailas-cloud/entitled/internal/db/redis"
	"github.com/kailas-cloud/entitled/internal/domain"
	"github.com/kailas-cloud/entitled/internal/domain/feature"
	"github.com/kailas-cloud/entitled/internal/domain/subscription"
	"github.com/kailas-cloud/entitled/internal/domain/tier"
	logpkg "github.com/kailas-cloud/entitled/internal/logger"
	"github.com/kailas-cloud/entitled/internal/metrics"
	counterrepo "github.com/kailas-cloud/entitled/internal/repository/counter"
	ledgerrepo "github.com/kailas-cloud/entitled/internal/repository/ledger"
	overriderepo "github.com/kailas-cloud/entitled/internal/repository/override"
	subscriptionrepo "github.com/kailas-cloud/entitled/internal/repository/subscription"
	"github.com/kailas-cloud/entitled/internal/transport/backend"
	chiTransport "github.com/kailas-cloud/entitled/internal/transport/chi"
	openaiAssistant "github.com/kailas-cloud/entitled/internal/transport/openai"
	assistuc "github.com/kailas-cloud/entitled/internal/usecase/assist"
	entitlementuc "github.com/kailas-cloud/entitled/internal/usecase/entitlement"
	healthuc "github.com/kailas-cloud/entitled/internal/usecase/health"
	ledgeruc "github.com/kailas-cloud/entitled/internal/usecase/ledger"
	"github.com/kailas-cloud/entitled/internal/usecase/trial"
	usageuc "github.com/kailas-cloud/entitled/internal/usecase/usage"
	"github.com/kailas-cloud/entitled/internal/version"
)

// counterTTL keeps daily per-feature counters for about a month.
const counterTTL = 35 * 24 * time.Hour

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting entitled API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("db_driver", cfg.Database.Driver),
		zap.Strings("db_addrs", cfg.Database.Addrs),
		zap.Bool("backend", cfg.Backend.BaseURL != ""),
		zap.Bool("assistant", cfg.Assistant.APIKey != ""),
	)

	// Register entitlement metrics explicitly (no init())
	metrics.RegisterEntitlementMetrics()

	ctx := context.Background()
	loc, err := cfg.Quota.Location()
	if err != nil {
		logger.Fatal("Invalid quota timezone", zap.Error(err))
	}

	// Key-value store for ledger snapshots, counters and overrides.
	var store db.Store
	if cfg.Database.Persistent() {
		rs, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Database.Addrs,
			Password: cfg.Database.Password,
		})
		if err != nil {
			logger.Fatal("Failed to create database store", zap.Error(err))
		}
		defer rs.Close()

		if err := rs.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
			logger.Fatal("Database not ready", zap.Error(err))
		}
		logger.Info("Connected to database")
		store = rs
	}

	healthSvc := healthuc.New(store)

	// Quota ledger
	ledger := ledgeruc.New(ledgeruc.Config{
		DailyLimit:    cfg.Quota.DailyLimit,
		PerFeatureCap: cfg.Trial.PerFeatureCap,
		GlobalCap:     cfg.Trial.GlobalCap,
		Location:      loc,
	}, logger)

	// Pass nil interface (not typed nil pointer!) when there is no store.
	var counters usageuc.CounterReader
	if store != nil {
		snapshotTTL := time.Duration(cfg.Storage.SnapshotTTLHours) * time.Hour
		counterStore := counterrepo.New(store, cfg.Storage.KeyPrefix, counterTTL)
		ledger.WithStore(ledgerrepo.New(store, cfg.Storage.KeyPrefix, snapshotTTL)).
			WithCounters(counterStore)
		counters = counterStore
	}

	// Subscriptions: Postgres behind a cache, or the static seed.
	var subs subscriptionrepo.Source
	if cfg.Postgres.DSN != "" {
		pool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
		if err != nil {
			logger.Fatal("Failed to create postgres pool", zap.Error(err))
		}
		defer pool.Close()

		subs = subscriptionrepo.NewCached(
			subscriptionrepo.NewPostgres(pool),
			time.Duration(cfg.Postgres.CacheTTLSec)*time.Second,
		)
		healthSvc.WithDB("postgres", pool)
	} else {
		subs = subscriptionrepo.NewStatic(seedSubscriptions(cfg.Subscriptions)...)
	}

	// Entitlement overrides: config seed plus persisted admin grants.
	overrides := entitlementuc.NewOverrideTable(cfg.Overrides...)
	if store != nil {
		overrides.WithStore(overriderepo.New(store, cfg.Storage.KeyPrefix))
		if err := overrides.Load(ctx); err != nil {
			logger.Warn("Failed to load persisted overrides", zap.Error(err))
		}
	}

	catalog, err := buildCatalog(cfg.Features)
	if err != nil {
		logger.Fatal("Invalid feature catalog", zap.Error(err))
	}

	entitlements := entitlementuc.New(ledger, subs, logger).
		WithOverride(overrides).
		WithCatalog(catalog).
		WithDefaults(cfg.Quota.DailyLimit, cfg.Trial.PerFeatureCap, cfg.Trial.GlobalCap)

	// Trial action: the upstream backend is the source of truth when configured.
	var (
		action trial.Action
		syncer trial.TrialSyncer
	)
	if cfg.Backend.BaseURL != "" {
		client := backend.New(backend.Config{
			BaseURL: cfg.Backend.BaseURL,
			APIKey:  cfg.Backend.APIKey,
			Timeout: time.Duration(cfg.Backend.TimeoutSec) * time.Second,
			Retries: uint64(cfg.Backend.Retries),
			Logger:  logger,
		})
		ledger.WithSource(client)
		healthSvc.WithChecker("backend", client)
		action = client
		syncer = ledger
	} else {
		action = trial.NewLocalAction(ledger)
	}

	trials := trial.NewRegistry(func() *trial.Coordinator {
		return trial.NewCoordinator(action, ledger, logger).
			WithSync(syncer).
			OnSuccess(func(out trial.Outcome) {
				logger.Debug("Trial session used",
					zap.String("invocation_id", out.InvocationID.String()),
					zap.Int("remaining", out.Result.Remaining),
				)
			}).
			OnError(func(out trial.Outcome) {
				if n, ok := out.Access.Notification(); ok {
					logger.Info("Pro access notification",
						zap.String("invocation_id", out.InvocationID.String()),
						zap.String("title", n.Title),
						zap.String("description", n.Description),
					)
				}
			})
	}, time.Duration(cfg.Trial.ControlIdleMin)*time.Minute)

	// Gated assistant (optional)
	var completer domain.Completer
	if cfg.Assistant.APIKey != "" {
		assistant := openaiAssistant.NewAssistant(&openaiAssistant.Config{
			APIKey:    cfg.Assistant.APIKey,
			BaseURL:   cfg.Assistant.BaseURL,
			Model:     cfg.Assistant.Model,
			MaxTokens: cfg.Assistant.MaxTokens,
			Timeout:   time.Duration(cfg.Assistant.TimeoutSec) * time.Second,
			Logger:    logger,
		})
		completer = domain.NewSystemPromptCompleter(assistant, systemPrompts(cfg.Features))
		healthSvc.WithChecker("assistant", assistant)
	}

	usageSvc := usageuc.New(ledger, entitlements, counters).
		WithDefaults(cfg.Quota.DailyLimit, cfg.Trial.PerFeatureCap, cfg.Trial.GlobalCap)

	server := chiTransport.NewServer(chiTransport.Services{
		Ledger:        ledger,
		Entitlement:   entitlements,
		Overrides:     overrides,
		Usage:         usageSvc,
		Assist:        assistuc.New(entitlements, ledger, completer, logger),
		Trials:        trials,
		Subscriptions: subs,
		Health:        healthSvc,
	}, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys, cfg.Auth.AdminKeys))
	if cfg.RateLimit.RPS > 0 {
		r.Use(chiTransport.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst).Middleware())
	}
	r.Use(metrics.Middleware())
	server.Register(r, chiTransport.AdminAuthMiddleware(cfg.Auth.AdminKeys))

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr), zap.Strings("checks", healthSvc.Names()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

func buildCatalog(fcs []config.FeatureConfig) (feature.Catalog, error) {
	features := make([]feature.Feature, 0, len(fcs))
	for _, fc := range fcs {
		f, err := feature.New(fc.ID, fc.Name, fc.Description)
		if err != nil {
			return feature.Catalog{}, fmt.Errorf("feature %q: %w", fc.ID, err)
		}
		features = append(features, f)
	}
	catalog, err := feature.NewCatalog(features...)
	if err != nil {
		return feature.Catalog{}, fmt.Errorf("build catalog: %w", err)
	}
	return catalog, nil
}

func systemPrompts(fcs []config.FeatureConfig) map[string]string {
	prompts := make(map[string]string, len(fcs))
	for _, fc := range fcs {
		if fc.SystemPrompt != "" {
			prompts[fc.ID] = fc.SystemPrompt
		}
	}
	return prompts
}

// seedSubscriptions converts validated config entries.
func seedSubscriptions(scs []config.SubscriptionConfig) []subscription.Subscription {
	subs := make([]subscription.Subscription, 0, len(scs))
	for _, sc := range scs {
		t, _ := tier.Parse(sc.Tier)

		var expiresAt *time.Time
		if sc.ExpiresAt != "" {
			if ts, err := time.Parse(time.RFC3339, sc.ExpiresAt); err == nil {
				expiresAt = &ts
			}
		}

		status := subscription.Status(sc.Status)
		if status == "" {
			status = subscription.StatusFree
			if t == tier.Pro {
				status = subscription.StatusPro
			}
		}
		subs = append(subs, subscription.New(sc.UserID, status, t, expiresAt))
	}
	return subs
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(chiTransport.ErrorResponse{
						Code:    chiTransport.CodeInternalError,
						Message: "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			route := ""
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				route = rctx.RoutePattern()
			}

			// Canonical log line, one per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("route", route),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.String("user_email", r.Header.Get(chiTransport.EmailHeader)),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
