package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/cabinethq/scheduling-platform/internal/api/router"
	"github.com/cabinethq/scheduling-platform/internal/appointments"
	appconfig "github.com/cabinethq/scheduling-platform/internal/config"
	"github.com/cabinethq/scheduling-platform/internal/http/handlers"
	"github.com/cabinethq/scheduling-platform/internal/observability/metrics"
	"github.com/cabinethq/scheduling-platform/internal/schedule"
	"github.com/cabinethq/scheduling-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting scheduling API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()

	// Store: Postgres in production, in-memory for demos and local hacking.
	var store appointments.Store
	var pool *pgxpool.Pool
	if cfg.UseMemoryStore {
		logger.Warn("using in-memory store; data will not survive restarts")
		store = appointments.NewMemoryStore()
	} else {
		if cfg.DatabaseURL == "" {
			logger.Error("DATABASE_URL is required unless USE_MEMORY_STORE=true")
			os.Exit(1)
		}
		p, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		pool = p
		defer pool.Close()
		store = appointments.NewPostgresStore(pool)
	}

	// Schedule snapshot cache (optional).
	var cache *schedule.Cache
	if cfg.RedisAddr != "" {
		opts := &redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		}
		if cfg.RedisTLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		redisClient := redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, schedule cache disabled", "error", err)
		} else {
			cache = schedule.NewCache(redisClient, cfg.ScheduleCacheTTL, logger)
			logger.Info("schedule snapshot cache enabled", "ttl", cfg.ScheduleCacheTTL.String())
		}
	}

	bookingMetrics := metrics.NewBookingMetrics(nil)

	coordinator := appointments.NewCoordinator(store, appointments.CoordinatorConfig{
		MaxAttempts: cfg.BookingRetryMaxAttempts,
		BaseDelay:   cfg.BookingRetryBaseDelay,
	}, logger)

	var invalidator appointments.ScheduleInvalidator
	if cache != nil {
		invalidator = cache
	}
	service := appointments.NewService(store, coordinator, invalidator, appointments.ServicePolicy{
		RequirePractitioner: cfg.RequirePractitioner,
	}, bookingMetrics, logger)

	reader := schedule.NewReader(store, cache, logger)

	if cfg.APIJWTSecret == "" {
		logger.Warn("API_JWT_SECRET not set; all authenticated routes will reject requests")
	}

	routerCfg := &router.Config{
		Logger:              logger,
		AppointmentsHandler: handlers.NewAppointmentsHandler(service, logger),
		ScheduleHandler:     handlers.NewScheduleHandler(reader, logger),
		MetricsHandler:      promhttp.Handler(),
		AuthSecret:          cfg.APIJWTSecret,
		CORSAllowedOrigins:  cfg.CORSAllowedOrigins,
		RateLimitPerSecond:  cfg.RateLimitPerSecond,
		RateLimitBurst:      cfg.RateLimitBurst,
	}
	r := router.New(routerCfg)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

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
