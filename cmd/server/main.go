// Package main is the entry point of the academy live hub: the process
// that terminates every browser WebSocket, tracks who is online and fans
// notifications out on behalf of the CRUD tier.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/mqerk/academy-live-hub/config"
	"github.com/mqerk/academy-live-hub/internal/domain/presence"
	"github.com/mqerk/academy-live-hub/internal/infrastructure/auth"
	"github.com/mqerk/academy-live-hub/internal/infrastructure/messaging"
	"github.com/mqerk/academy-live-hub/internal/infrastructure/persistence/postgres"
	"github.com/mqerk/academy-live-hub/internal/infrastructure/persistence/redis"
	httpserver "github.com/mqerk/academy-live-hub/internal/interface/http"
	"github.com/mqerk/academy-live-hub/internal/interface/ws"
	"github.com/mqerk/academy-live-hub/pkg/circuitbreaker"
	"github.com/mqerk/academy-live-hub/pkg/logger"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// 1. Configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// 2. Logging
	log := logger.New(logger.Options{
		Output:    os.Stdout,
		Level:     logger.ParseLevel(cfg.Observability.LogLevel),
		AddCaller: cfg.App.Debug,
	})
	log.Info("starting academy live hub",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
	)

	// 3. PostgreSQL (identity lookups at handshake time)
	log.Info("connecting to database")
	pgCfg := postgres.DefaultConfig()
	pgCfg.URL = cfg.Database.URL
	pgCfg.MaxConns = int32(cfg.Database.MaxConns)
	pgCfg.MinConns = int32(cfg.Database.MinConns)
	pgCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	pgCfg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime
	pgCfg.ConnectTimeout = cfg.Database.ConnectTimeout
	pgCfg.QueryTimeout = cfg.Database.QueryTimeout

	pool, err := postgres.Connect(ctx, pgCfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		log.Info("closing database pool")
		pool.Close()
	}()
	log.Info("database connection established")

	// 4. Presence core
	registry := presence.NewRegistry()
	dispatcher := presence.NewDispatcher(registry, log)

	busCfg := messaging.DefaultConfig()
	busCfg.Logger = log
	bus := messaging.NewBus(busCfg)
	defer func() {
		log.Info("closing presence bus")
		bus.Close()
	}()

	// 5. Redis presence mirror (optional)
	if !cfg.Redis.Disabled {
		log.Info("connecting to Redis")
		redisCfg := redis.DefaultClientConfig()
		redisCfg.URL = cfg.Redis.URL
		redisCfg.Host = cfg.Redis.Host
		redisCfg.Port = cfg.Redis.Port
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB
		redisCfg.PoolSize = cfg.Redis.PoolSize
		redisCfg.DialTimeout = cfg.Redis.DialTimeout
		redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
		redisCfg.WriteTimeout = cfg.Redis.WriteTimeout

		client, redisErr := redis.Connect(ctx, redisCfg)
		if redisErr != nil {
			// The registry stays authoritative without the mirror; sibling
			// processes just lose their read-only view.
			log.Warn("redis unavailable, presence mirror disabled", logger.Err(redisErr))
		} else {
			defer client.Close()
			mirror := redis.NewPresenceMirror(client, redis.Config{
				KeyPrefix:    cfg.Redis.KeyPrefix,
				LastSeenTTL:  cfg.Redis.LastSeenTTL,
				WriteTimeout: cfg.Redis.WriteTimeout,
			}, log)
			mirror.Register(bus)
			log.Info("presence mirror registered")
		}
	}

	// 6. Identity resolver
	users := postgres.NewUserStore(pool, pgCfg.QueryTimeout)
	breaker := circuitbreaker.IdentityStoreBreaker(
		func(name string, from, to circuitbreaker.State) {
			log.Warn("identity store breaker state change",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		},
		circuitbreaker.WithFailureThreshold(cfg.Auth.BreakerThreshold),
		circuitbreaker.WithTimeout(cfg.Auth.BreakerTimeout),
	)
	resolver := auth.NewResolver(auth.Config{
		TokenSecret:    cfg.Auth.TokenSecret,
		ResolveTimeout: cfg.Auth.ResolveTimeout,
	}, users, breaker, log)

	// 7. WebSocket hub
	cookieNames := cfg.Auth.CookieNames
	hub := ws.NewHub(ws.Config{
		Credential: func(r *http.Request) string {
			return auth.TokenFromRequest(r, cookieNames)
		},
		HandshakeTimeout: cfg.Hub.HandshakeTimeout,
		ReadLimit:        cfg.Hub.ReadLimit,
		CheckOrigin:      originChecker(cfg.Server.AllowedOrigins),
	}, registry, dispatcher, resolver, bus, log)

	// 8. Liveness monitor
	monitor := presence.NewMonitor(registry, cfg.Hub.ProbeInterval, hub.HandleEviction, log)
	go monitor.Run(ctx)

	// 9. HTTP server
	srv := httpserver.NewServer(httpserver.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		WSPath:          cfg.Server.WSPath,
		APIKeyHash:      cfg.Server.InternalAPIKeyHash,
		MaxPayloadBytes: cfg.Server.MaxPayloadBytes,
	}, httpserver.Dependencies{
		Hub:        hub,
		Dispatcher: dispatcher,
		Registry:   registry,
		Logger:     log,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// 10. Wait for shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", logger.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", logger.Err(err))
	}
	cancel()
	log.Info("shutdown complete")
	return nil
}

// originChecker builds the upgrader origin policy from config. An empty
// list keeps the default same-origin check; "*" accepts anything.
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(r *http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
