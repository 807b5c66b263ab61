package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/menulink/ad-engine/internal/config"
	"github.com/menulink/ad-engine/internal/database"
	"github.com/menulink/ad-engine/internal/httpserver"
	"github.com/menulink/ad-engine/internal/metrics"
	"github.com/menulink/ad-engine/internal/middleware"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := middleware.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting ad engine",
		zap.String("env", cfg.Server.Env),
		zap.String("addr", cfg.Server.Addr),
	)

	ctx := context.Background()

	// Try to connect to PostgreSQL; fall back to in-memory storage.
	var db *database.PostgresDB
	db, err = database.NewPostgresDB(ctx, cfg.Database, logger)
	if err != nil {
		logger.Warn("PostgreSQL not available, using in-memory storage", zap.Error(err))
		db = nil
	} else {
		defer db.Close()
		if cfg.Database.RunMigrations {
			if err := database.Migrate(cfg.Database.DSN()); err != nil {
				logger.Fatal("migrations failed", zap.Error(err))
			}
			logger.Info("migrations applied")
		}
	}

	// Try to connect to Redis; fall back to in-process frequency tracking.
	var rdb *database.RedisDB
	rdb, err = database.NewRedisDB(ctx, cfg.Redis, logger)
	if err != nil {
		logger.Warn("Redis not available, frequency caps kept in-process", zap.Error(err))
		rdb = nil
	} else {
		defer rdb.Close()
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.NewMetrics("menulink_ads")
	}

	handler, lifecycle := httpserver.NewServer(&httpserver.Dependencies{
		DB:      db,
		Redis:   rdb,
		Config:  cfg,
		Logger:  logger,
		Metrics: m,
	})

	// Middleware chain, innermost first.
	rateLimiter := middleware.NewRateLimitMiddleware(cfg.RateLimit, logger)
	if m != nil {
		rateLimiter.SetMetrics(m)
	}
	auth := middleware.NewAuthMiddleware(cfg.Auth, logger)
	logging := middleware.NewLoggingMiddleware(logger, m)
	recovery := middleware.NewRecoveryMiddleware(logger)

	chained := recovery.Handler(logging.Handler(rateLimiter.Handler(auth.Handler(handler))))

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      chained,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Background maintenance: persist derived expirations hourly and
	// reset per-IP limiter state.
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				if n, err := lifecycle.Sweep(sweepCtx); err != nil {
					logger.Warn("expiry sweep failed", zap.Error(err))
				} else if n > 0 {
					if m != nil {
						m.SweptExpiries.Add(float64(n))
					}
					logger.Info("expiry sweep", zap.Int("expired", n))
				}
				rateLimiter.CleanupIPLimiters()
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	stopSweep()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
