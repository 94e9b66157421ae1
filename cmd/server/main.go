package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"accounting-engine/internal/adapters/web"
	"accounting-engine/internal/app"
	"accounting-engine/internal/config"
	"accounting-engine/internal/core"
	"accounting-engine/internal/db"
	"accounting-engine/internal/locks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// No logger yet; config failures go straight to stderr.
		panic(err)
	}
	log := cfg.NewLogger()

	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET environment variable not set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("database connection failed")
	}
	defer pool.Close()

	var lockManager locks.Manager
	switch {
	case cfg.LockDisabled:
		lockManager = locks.Disabled()
		log.Warn("distributed locks disabled")
	case cfg.RedisAddr != "":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		lockManager = locks.NewRedisManager(client, log)
		log.WithField("addr", cfg.RedisAddr).Info("using redis locks")
	default:
		lockManager = locks.NewMemoryManager()
		log.Warn("REDIS_ADDR not set, using in-process locks")
	}

	ledger := core.NewLedgerService(pool)
	periods := core.NewPeriodCloseService(pool, ledger)
	commands := core.NewLedgerCommands(ledger, periods)
	engine := core.NewInventoryEngine(pool)
	inventory := core.NewInventoryCommands(engine, ledger, periods)
	idempotency := core.NewIdempotencyStore(pool)
	events := core.NewOutboxService(pool)
	audit := core.NewAuditService(pool)
	reports := core.NewReportingService(pool)
	projections := core.NewProjectionService(pool)

	svc := app.NewAppService(lockManager, idempotency, ledger, commands, engine,
		inventory, periods, reports, projections, events, audit)
	handler := web.NewHandler(svc, pool, log, cfg.AllowedOrigins, cfg.JWTSecret)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed")
		}
	}()
	log.WithField("port", cfg.Port).Info("server started")

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
}
