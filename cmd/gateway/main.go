package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mrmushfiq/llm-gateway/internal/gateway/breaker"
	"github.com/mrmushfiq/llm-gateway/internal/gateway/cache"
	"github.com/mrmushfiq/llm-gateway/internal/gateway/core"
	"github.com/mrmushfiq/llm-gateway/internal/gateway/handlers"
	"github.com/mrmushfiq/llm-gateway/internal/gateway/providers"
	"github.com/mrmushfiq/llm-gateway/internal/gateway/ratelimit"
	"github.com/mrmushfiq/llm-gateway/internal/gateway/usage"
	"github.com/mrmushfiq/llm-gateway/internal/shared/config"
	"github.com/mrmushfiq/llm-gateway/internal/shared/database"
	"github.com/mrmushfiq/llm-gateway/internal/shared/logging"
	"github.com/mrmushfiq/llm-gateway/internal/shared/redis"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gateway: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.New(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: os.Stdout,
	})
	log.Info("starting llm gateway", "port", cfg.Port, "env", cfg.Env)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	log.Info("connected to postgres")

	// Counters and the response cache share the Redis instance; without one,
	// in-process counters keep a single node working.
	var (
		counters   ratelimit.CounterStore
		cacheStore cache.Store
	)
	if cfg.RedisURL != "" {
		redisClient, err := redis.New(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer redisClient.Close()
		counters = redisClient
		cacheStore = redisClient
		log.Info("connected to redis")
	} else {
		counters = ratelimit.NewMemoryStore()
		log.Warn("REDIS_URL not set, using in-memory counters")
	}

	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		RecoveryTimeout:  cfg.BreakerRecoveryTimeout,
		HalfOpenMaxCalls: cfg.BreakerHalfOpenMax,
	})

	limiter := ratelimit.New(counters, cfg.RateLimitPrefix,
		ratelimit.WithCounterTTLs(cfg.DailyCounterTTL, cfg.MonthlyCounterTTL))

	sink := usage.NewAsyncSink(db, log)
	tracker := usage.NewTracker(sink, log)

	resolver := core.NewResolver(db, breakers, log)
	invokers := providers.NewRegistry(cfg.UpstreamTimeout)
	gateway := core.NewGateway(resolver, breakers, limiter, tracker,
		core.EnvCredentialResolver{}, invokers, log)

	var responseCache *cache.Cache
	if cfg.CacheEnabled && cacheStore != nil {
		responseCache = cache.New(cacheStore, cfg.CacheTTL, log)
		log.Info("response cache enabled", "default_ttl", cfg.CacheTTL)
	}

	router := handlers.NewRouter(
		handlers.NewMiddleware(db, limiter, log),
		handlers.NewChatHandler(gateway, responseCache, log),
		handlers.NewMessagesHandler(gateway, responseCache, log),
		handlers.NewAdminHandler(breakers, limiter, log),
	)

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     router,
		ReadTimeout: 60 * time.Second,
		// No write timeout: streaming responses can outlive any fixed cap.
		// Per-request deadlines come from the router's timeout middleware.
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case sig := <-sigCh:
		log.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", "error", err)
	}

	// Flush in-flight usage records before exiting.
	sink.Drain()
	log.Info("server stopped")
	return nil
}
