package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"accounting-engine/internal/config"
	"accounting-engine/internal/core"
	"accounting-engine/internal/db"
	"accounting-engine/internal/outbox"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := cfg.NewLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("database connection failed")
	}
	defer pool.Close()

	var sink outbox.Sink
	if cfg.WebhookURL != "" {
		sink = outbox.NewWebhookSink(cfg.WebhookURL)
		log.WithField("url", cfg.WebhookURL).Info("delivering to webhook")
	} else {
		sink = outbox.NewLogSink(log)
		log.Warn("WEBHOOK_URL not set, delivering to log")
	}

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, log)
	}

	publisher := outbox.NewPublisher(pool, core.NewOutboxService(pool), sink, log, outbox.PublisherConfig{
		Interval:  cfg.PublisherInterval,
		BatchSize: cfg.PublisherBatchSize,
	})
	if err := publisher.Run(ctx); err != nil {
		log.WithError(err).Fatal("publisher failed")
	}
}

// serveMetrics exposes prometheus collectors on a dedicated listener so the
// daemon stays scrapable without an API port.
func serveMetrics(addr string, log *logrus.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Error("metrics listener failed")
	}
}
