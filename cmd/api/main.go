package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxlane/voxlane-platform/internal/access"
	"github.com/voxlane/voxlane-platform/internal/analytics"
	"github.com/voxlane/voxlane-platform/internal/api/router"
	"github.com/voxlane/voxlane-platform/internal/app/bootstrap"
	appconfig "github.com/voxlane/voxlane-platform/internal/config"
	"github.com/voxlane/voxlane-platform/internal/observability/metrics"
	"github.com/voxlane/voxlane-platform/pkg/logging"
)

func main() {
	// Local development convenience; the file is absent in production.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting voxlane analytics API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()

	pool := connectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if pool == nil {
		os.Exit(1)
	}
	defer pool.Close()

	// The access resolver runs on database/sql; analytics queries on pgx.
	sqlDB, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open sql db", "error", err)
		os.Exit(1)
	}
	defer func() { _ = sqlDB.Close() }()

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	analyticsMetrics := metrics.NewAnalyticsMetrics(prometheus.DefaultRegisterer)
	resolver := access.NewResolver(sqlDB, redisClient, cfg.ScopeCacheTTL, logger)

	engine := analytics.NewEngine(pool, analyticsMetrics, logger)
	table := analytics.NewTable(pool, analyticsMetrics, logger)
	exporter := analytics.NewExporter(pool, cfg.ExportMaxRows, analyticsMetrics, logger)
	analyticsHandler := analytics.NewHandler(resolver, engine, table, exporter,
		prometheus.DefaultGatherer,
		analytics.HandlerConfig{
			WindowDaysDefault: cfg.DashboardDaysDefault,
			WindowDaysMax:     cfg.DashboardDaysMax,
			PageSizeDefault:   cfg.TablePageSizeDefault,
			PageSizeMax:       cfg.TablePageSizeMax,
		}, logger)

	r := router.New(&router.Config{
		Logger:             logger,
		Analytics:          analyticsHandler,
		AuthSecret:         cfg.AdminJWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitPerSec:    cfg.RateLimitPerSecond,
		RateLimitBurst:     cfg.RateLimitBurst,
		MetricsHandler:     promhttp.Handler(),
		ReadyCheck: func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return pool.Ping(pingCtx)
		},
	})

	srv := newHTTPServer(cfg.Port, r)

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// connectPostgresPool returns a verified pgx pool or nil when the URL
// is missing or the database is unreachable.
func connectPostgresPool(ctx context.Context, databaseURL string, logger *logging.Logger) *pgxpool.Pool {
	if strings.TrimSpace(databaseURL) == "" {
		logger.Error("DATABASE_URL is not set")
		return nil
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		logger.Error("failed to create pgx pool", "error", err)
		return nil
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Error("database unreachable", "error", err)
		pool.Close()
		return nil
	}
	return pool
}

// newHTTPServer applies the shared timeouts. The write timeout is
// sized for streaming CSV exports, not typical JSON responses.
func newHTTPServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         ":" + port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
