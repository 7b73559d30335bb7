package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ordercore/order-service/internal/circuitbreaker"
	"github.com/ordercore/order-service/internal/config"
	"github.com/ordercore/order-service/internal/consumer"
	"github.com/ordercore/order-service/internal/delivery"
	"github.com/ordercore/order-service/internal/eventbus"
	"github.com/ordercore/order-service/internal/infrastructure/postgres"
	"github.com/ordercore/order-service/internal/infrastructure/redis"
	"github.com/ordercore/order-service/internal/inventory"
	"github.com/ordercore/order-service/internal/outbox"
	"github.com/ordercore/order-service/internal/pkg/logger"
	"github.com/ordercore/order-service/internal/service"
	"github.com/ordercore/order-service/internal/transport/rest"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	if cfg.LogLevel != "" {
		_ = os.Setenv("LOG_LEVEL", cfg.LogLevel)
	}

	logger.Init()
	log := logger.Logger.With().
		Str("service", "order-service").
		Str("env", cfg.AppEnv).
		Logger()

	// Root ctx with signal cancellation
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Postgres ----
	poolCfg, err := pgxpool.ParseConfig(cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres dsn parse failed")
	}
	poolCfg.MaxConns = int32(cfg.DBPoolMax)
	poolCfg.MinConns = int32(cfg.DBPoolMin)
	poolCfg.MaxConnIdleTime = cfg.DBIdleTimeout
	poolCfg.ConnConfig.ConnectTimeout = cfg.DBConnTimeout

	dbPool, err := pgxpool.NewWithConfig(rootCtx, poolCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres pool create failed")
	}
	defer dbPool.Close()

	{
		pingCtx, cancel := context.WithTimeout(rootCtx, 5*time.Second)
		defer cancel()

		if err := dbPool.Ping(pingCtx); err != nil {
			log.Fatal().Err(err).Msg("postgres ping failed")
		}
		log.Info().Msg("postgres connected")
	}

	store := postgres.New(dbPool)

	// ---- Redis (optional: idempotency fast path + rate limiting) ----
	var cache *redis.Cache
	if cfg.RedisAddr != "" {
		cache = redis.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)

		pingCtx, cancel := context.WithTimeout(rootCtx, 2*time.Second)
		defer cancel()
		if err := cache.Client.Ping(pingCtx).Err(); err != nil {
			log.Warn().Err(err).Msg("redis ping failed (continuing)")
		} else {
			log.Info().Msg("redis connected")
		}
	}

	// ---- Event bus ----
	var bus eventbus.Bus
	var amqpBus *eventbus.AMQPBus
	switch cfg.BusDriver {
	case "rabbitmq":
		amqpBus, err = eventbus.NewAMQP(rootCtx, cfg.RabbitURL, cfg.RabbitExchange)
		if err != nil {
			log.Fatal().Err(err).Msg("rabbitmq connect failed")
		}
		bus = amqpBus
		log.Info().Str("exchange", cfg.RabbitExchange).Msg("rabbitmq bus ready")
	default:
		bus = eventbus.NewMemory()
		log.Info().Msg("in-process bus ready")
	}

	// ---- Inventory collaborator behind a circuit breaker ----
	breaker := circuitbreaker.New(circuitbreaker.Config{
		Timeout:          cfg.Breaker.Timeout,
		FailureThreshold: cfg.Breaker.FailureThreshold,
		ResetTimeout:     cfg.Breaker.ResetTimeout,
	})
	checker := inventory.NewStub(cfg.InventoryFailureRate, time.Now().UnixNano())
	invClient := inventory.NewClient(checker, breaker)

	// ---- Application service ----
	var idemCache service.IdempotencyCache
	if cache != nil {
		idemCache = cache
	}
	svc := service.New(store, invClient, idemCache, nil)
	h := rest.NewHandler(svc)

	// ---- Status consumer (delivery-events -> order status) ----
	consumer.New(svc).Attach(bus)

	// ---- Outbox publisher ----
	publisher := outbox.New(store, bus, outbox.Config{
		PollInterval: cfg.Outbox.PollInterval,
		BatchSize:    cfg.Outbox.BatchSize,
		MaxRetries:   cfg.Outbox.MaxRetries,
		BaseDelay:    cfg.Outbox.BaseDelay,
		MaxDelay:     cfg.Outbox.MaxDelay,
		LeaseHold:    cfg.Outbox.LeaseHold,
	}, nil)
	publisher.Start(rootCtx)
	log.Info().Msg("outbox publisher started")

	// ---- Delivery simulator (dev stand-in for the carrier integration) ----
	var sim *delivery.Simulator
	if cfg.DeliverySim.Enabled {
		sim = delivery.NewSimulator(bus, cfg.DeliverySim.ShipAfter, cfg.DeliverySim.DeliverAfter)
		sim.Attach(bus)
		log.Info().
			Dur("ship_after", cfg.DeliverySim.ShipAfter).
			Dur("deliver_after", cfg.DeliverySim.DeliverAfter).
			Msg("delivery simulator attached")
	}

	// ---- Router ----
	var limiter rest.RateLimiter
	if cache != nil {
		limiter = cache
	}
	httpHandler := rest.NewRouter(rest.RouterDeps{
		Handler:          h,
		Limiter:          limiter,
		RateLimitEnabled: cfg.RLEnabled,
		RateLimit:        cfg.RLLimit,
		RateWindow:       cfg.RLWindow,
	})

	// ---- HTTP server ----
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("http server crashed")
	}

	// Graceful shutdown: stop intake first, then drain background work.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	publisher.Stop()
	if sim != nil {
		sim.Stop()
	}
	if amqpBus != nil {
		_ = amqpBus.Close()
	}
	log.Info().Msg("shutdown complete")
}
