// Package main is the entry point for the formbff server. It wires the
// platform client, stores, and services together and starts the HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/proposehq/formbff/internal/assist"
	"github.com/proposehq/formbff/internal/capability"
	"github.com/proposehq/formbff/internal/config"
	"github.com/proposehq/formbff/internal/lookup"
	"github.com/proposehq/formbff/internal/modal"
	"github.com/proposehq/formbff/internal/observability"
	"github.com/proposehq/formbff/internal/platform"
	"github.com/proposehq/formbff/internal/platform/entityindex"
	"github.com/proposehq/formbff/internal/preview"
	"github.com/proposehq/formbff/internal/records"
	"github.com/proposehq/formbff/internal/rules"
	"github.com/proposehq/formbff/internal/submission"
	"github.com/proposehq/formbff/internal/transport"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "formbff", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Platform client and entity schema index. The index powers referential
	// validation; a missing spec degrades validation rather than blocking
	// startup, so readiness reports it instead.
	client := platform.NewClient(cfg.Platform)
	client.SetMetrics(metrics)
	index := entityindex.NewIndex()
	schemaLoaded := loadEntityIndex(ctx, index, client, cfg.Platform, logger)
	if schemaLoaded() {
		metrics.RecordSchemaLoad("ok")
	} else {
		metrics.RecordSchemaLoad("error")
	}

	unknownOp, err := rules.ParsePolicy(cfg.Rules.UnknownOperator)
	if err != nil {
		logger.Error("rules configuration invalid", zap.Error(err))
		return 1
	}
	evaluator := rules.Evaluator{UnknownOperator: unknownOp}

	validator := modal.NewValidator(index)
	modals := modal.NewService(client, validator, cfg.Modals)
	modals.SetMetrics(metrics)
	modals.StartEvictor(ctx)

	sessionStore := preview.NewMemorySessionStore()
	previewMgr := preview.NewManager(sessionStore, preview.NewProjector(evaluator))
	previewMgr.SetMetrics(metrics)
	go runSessionSweeper(ctx, sessionStore, cfg.Preview, metrics, logger)

	submissionLog, logCloser, err := buildSubmissionLog(ctx, cfg.Submission.Log, logger)
	if err != nil {
		logger.Error("submission log initialization failed", zap.Error(err))
		return 1
	}

	idemStore, idemCloser := buildIdempotencyStore(cfg.Submission.Idempotency, logger)

	executor := submission.NewExecutor(submission.Deps{
		Platform:    client,
		Webhooks:    submission.NewWebhookDispatcher(cfg.Submission.Webhook),
		Log:         submissionLog,
		Idempotency: idemStore,
		Validator:   validator,
		Evaluator:   evaluator,
		IdemTTL:     cfg.Submission.Idempotency.DefaultTTL,
		Metrics:     metrics,
	})

	capResolver, err := buildCapabilityResolver(cfg.Capability)
	if err != nil {
		logger.Error("capability resolver initialization failed", zap.Error(err))
		return 1
	}
	capResolver.SetMetrics(metrics)

	lookups := lookup.NewProvider(client, cfg.Lookup)
	lookups.SetMetrics(metrics)

	jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL)

	readiness := observability.ReadinessChecks{
		SchemaLoaded: schemaLoaded,
		Platform:     client,
	}
	if hc, ok := submissionLog.(observability.HealthChecker); ok {
		readiness.SubmissionLog = hc
	}
	if hc, ok := idemStore.(observability.HealthChecker); ok {
		readiness.IdempotencyStore = hc
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:             cfg,
		Authenticate:       transport.JWTAuthenticator(cfg.Identity, jwks),
		CapabilityResolver: capResolver,
		Modals:             modals,
		Preview:            previewMgr,
		Submissions:        executor,
		SubmissionLog:      submissionLog,
		Records:            records.NewService(client, cfg.Records),
		Lookups:            lookups,
		Assist:             assist.NewService(client, cfg.Assist),
		Metrics:            metrics,
		Ready:              observability.HandleReady(readiness),
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Bool("schema_loaded", schemaLoaded()),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if logCloser != nil {
		logCloser()
	}
	if idemCloser != nil {
		idemCloser()
	}

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// loadEntityIndex fills the schema index from a local spec file when one is
// configured, otherwise from the platform's spec endpoint. Returns a probe
// the readiness endpoint polls; a failed load leaves the probe false.
func loadEntityIndex(ctx context.Context, index *entityindex.Index, client *platform.Client, cfg config.PlatformConfig, logger *zap.Logger) func() bool {
	loaded := false
	if cfg.SpecFile != "" {
		if err := index.LoadFile(cfg.SpecFile); err != nil {
			logger.Warn("entity schema load from file failed", zap.String("file", cfg.SpecFile), zap.Error(err))
		} else {
			loaded = true
		}
	} else {
		data, err := client.FetchSpec(ctx)
		if err != nil {
			logger.Warn("entity schema fetch failed", zap.Error(err))
		} else if err := index.LoadData(data); err != nil {
			logger.Warn("entity schema parse failed", zap.Error(err))
		} else {
			loaded = true
		}
	}
	if loaded {
		logger.Info("entity schema loaded", zap.Int("entities", len(index.EntityNames())))
	}
	result := loaded
	return func() bool { return result }
}

// buildCapabilityResolver creates the resolver from the static policy file.
func buildCapabilityResolver(cfg config.CapabilityConfig) (*capability.Resolver, error) {
	evaluator, err := capability.NewStaticPolicyEvaluator(cfg.StaticPolicyFile)
	if err != nil {
		return nil, fmt.Errorf("static policy: %w", err)
	}
	return capability.NewResolver(evaluator, cfg.Cache.TTL), nil
}

// buildSubmissionLog creates the receipt store based on config.
func buildSubmissionLog(ctx context.Context, cfg config.SubmissionLogConfig, logger *zap.Logger) (submission.Log, func(), error) {
	switch cfg.Driver {
	case "", "memory":
		logger.Info("using in-memory submission log")
		return submission.NewMemoryLog(), nil, nil
	case "postgres":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, nil, fmt.Errorf("submission log: %s environment variable not set", cfg.DSNEnv)
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("submission log: parse DSN: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("submission log: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("submission log: ping: %w", err)
		}
		return submission.NewPostgresLog(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported submission log driver: %q", cfg.Driver)
	}
}

// buildIdempotencyStore creates the idempotency store based on config.
// Returns nil when idempotency is disabled.
func buildIdempotencyStore(cfg config.IdempotencyConfig, logger *zap.Logger) (submission.IdempotencyStore, func()) {
	if !cfg.Enabled {
		return nil, nil
	}

	switch cfg.Driver {
	case "redis":
		addr := os.Getenv(cfg.AddrEnv)
		if addr == "" {
			logger.Warn("redis address not configured, using in-memory idempotency store",
				zap.String("env", cfg.AddrEnv))
			return submission.NewMemoryIdempotencyStore(), nil
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
		logger.Info("using redis idempotency store", zap.String("addr", addr))
		return submission.NewRedisIdempotencyStore(client), func() { client.Close() }
	default:
		logger.Info("using in-memory idempotency store")
		return submission.NewMemoryIdempotencyStore(), nil
	}
}

// runSessionSweeper drops preview sessions idle past their TTL. Swept
// sessions count as ended, keeping the active-session gauge honest.
func runSessionSweeper(ctx context.Context, store *preview.MemorySessionStore, cfg config.PreviewConfig, metrics *observability.Metrics, logger *zap.Logger) {
	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.DeleteExpired(ctx, time.Now().Add(-ttl))
			if err != nil {
				logger.Error("preview session cleanup failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				for range removed {
					metrics.RecordPreviewSessionEnded()
				}
				logger.Debug("expired preview sessions removed", zap.Int("count", removed))
			}
		}
	}
}
