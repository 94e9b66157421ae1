package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"accounting-engine/internal/core"
	"accounting-engine/internal/metrics"
)

const (
	defaultInterval  = 2 * time.Second
	defaultBatchSize = 100
)

// Publisher drains the outbox. Each pass locks a batch of unpublished rows in
// (created_at, id) order, delivers them to the sink, and stamps published_at
// in the same transaction that holds the locks. A row that fails delivery
// keeps its error and stays unpublished for the next pass, so a poison event
// cannot stall the stream; at-least-once delivery is the contract either way.
type Publisher struct {
	pool     *pgxpool.Pool
	events   core.OutboxService
	sink     Sink
	log      *logrus.Logger
	interval time.Duration
	batch    int
}

type PublisherConfig struct {
	Interval  time.Duration
	BatchSize int
}

func NewPublisher(pool *pgxpool.Pool, events core.OutboxService, sink Sink, log *logrus.Logger, cfg PublisherConfig) *Publisher {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	return &Publisher{
		pool:     pool,
		events:   events,
		sink:     sink,
		log:      log,
		interval: cfg.Interval,
		batch:    cfg.BatchSize,
	}
}

// Run polls until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) error {
	p.log.WithFields(logrus.Fields{
		"interval":   p.interval.String(),
		"batch_size": p.batch,
	}).Info("outbox publisher started")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.drain(ctx); err != nil {
			if ctx.Err() != nil {
				p.log.Info("outbox publisher stopped")
				return nil
			}
			p.log.WithError(err).Error("outbox drain failed")
		}
		p.updateBacklog(ctx)

		select {
		case <-ctx.Done():
			p.log.Info("outbox publisher stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// drain works through the backlog batch by batch until a batch comes back
// short.
func (p *Publisher) drain(ctx context.Context) error {
	for {
		fetched, err := p.publishBatch(ctx)
		if err != nil {
			return err
		}
		if fetched < p.batch {
			return nil
		}
	}
}

func (p *Publisher) publishBatch(ctx context.Context) (int, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin publish transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	events, err := p.events.FetchUnpublishedTx(ctx, tx, p.batch)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, tx.Commit(ctx)
	}

	for _, event := range events {
		if err := p.sink.Deliver(ctx, event); err != nil {
			metrics.EventsPublishFailed.Inc()
			p.log.WithError(err).WithFields(logrus.Fields{
				"event_id":   event.EventID,
				"event_type": event.EventType,
				"company_id": event.CompanyID,
			}).Warn("event delivery failed")
			if err := p.events.RecordErrorTx(ctx, tx, event.ID, err.Error()); err != nil {
				return 0, err
			}
			continue
		}
		if err := p.events.MarkPublishedTx(ctx, tx, event.ID); err != nil {
			return 0, err
		}
		metrics.EventsPublished.Inc()
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit publish transaction: %w", err)
	}
	return len(events), nil
}

func (p *Publisher) updateBacklog(ctx context.Context) {
	pending, err := p.events.PendingCount(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.log.WithError(err).Warn("failed to count outbox backlog")
		}
		return
	}
	metrics.OutboxPending.Set(float64(pending))
}
