package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/estatecraft/agentdesk/libs/kafkax"
	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"
)

type store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Claim(ctx context.Context, tx pgx.Tx, limit, maxAttempts int) ([]Record, error)
	MarkPublished(ctx context.Context, tx pgx.Tx, ids []int64) error
	RecordFailure(ctx context.Context, ids []int64, cause string) error
	PrunePublished(ctx context.Context, cutoff time.Time) (int64, error)
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type PublisherConfig struct {
	PollEvery   time.Duration
	BatchSize   int
	MaxAttempts int
	// Retention is how long published rows are kept; zero keeps them.
	Retention  time.Duration
	PruneEvery time.Duration
}

func (c PublisherConfig) withDefaults() PublisherConfig {
	if c.PollEvery <= 0 {
		c.PollEvery = 2 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.PruneEvery <= 0 {
		c.PruneEvery = time.Hour
	}
	return c
}

// Publisher relays committed booking events to Kafka. Delivery is at
// least once: a batch is marked published only after the broker accepted
// it, so consumers dedupe on the event id header.
type Publisher struct {
	store  store
	writer messageWriter
	logger *slog.Logger
	cfg    PublisherConfig
	now    func() time.Time
}

func NewPublisher(store store, writer messageWriter, logger *slog.Logger, cfg PublisherConfig) *Publisher {
	return &Publisher{store: store, writer: writer, logger: logger, cfg: cfg.withDefaults(), now: time.Now}
}

// Run blocks until ctx is done. Without a writer it logs once and returns,
// leaving events in the table for a later deploy with brokers configured.
func (p *Publisher) Run(ctx context.Context) {
	if p.writer == nil {
		p.logger.Warn("outbox publisher disabled, KAFKA_BROKERS not set")
		return
	}
	poll := time.NewTicker(p.cfg.PollEvery)
	defer poll.Stop()
	prune := time.NewTicker(p.cfg.PruneEvery)
	defer prune.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-poll.C:
			if n, err := p.PublishBatch(ctx); err != nil {
				p.logger.ErrorContext(ctx, "outbox publish failed", "err", err)
			} else if n > 0 {
				p.logger.DebugContext(ctx, "outbox batch published", "count", n)
			}
		case <-prune.C:
			p.prune(ctx)
		}
	}
}

// PublishBatch claims one batch, writes it and marks it published in the
// same transaction. On a broker error the rows stay pending with their
// attempt count raised.
func (p *Publisher) PublishBatch(ctx context.Context) (int, error) {
	tx, err := p.store.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch, err := p.store.Claim(ctx, tx, p.cfg.BatchSize, p.cfg.MaxAttempts)
	if err != nil {
		return 0, fmt.Errorf("claim: %w", err)
	}
	if len(batch) == 0 {
		return 0, tx.Commit(ctx)
	}

	ids := make([]int64, len(batch))
	msgs := make([]kafka.Message, len(batch))
	for i, rec := range batch {
		ids[i] = rec.ID
		msgs[i] = message(ctx, rec)
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		_ = tx.Rollback(ctx)
		if ferr := p.store.RecordFailure(ctx, ids, err.Error()); ferr != nil {
			p.logger.WarnContext(ctx, "outbox failure not recorded", "err", ferr)
		}
		for _, rec := range batch {
			if rec.Attempts+1 >= p.cfg.MaxAttempts {
				p.logger.ErrorContext(ctx, "outbox event parked", "event_id", rec.EventID, "event_type", rec.EventType)
			}
		}
		return 0, fmt.Errorf("write %d messages: %w", len(msgs), err)
	}
	if err := p.store.MarkPublished(ctx, tx, ids); err != nil {
		return 0, fmt.Errorf("mark published: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(batch), nil
}

// message keys by aggregate id so every event for one booking lands on
// the same partition in commit order.
func message(ctx context.Context, rec Record) kafka.Message {
	return kafka.Message{
		Topic:   rec.EventType,
		Key:     []byte(rec.AggregateID),
		Value:   rec.Payload,
		Headers: kafkax.EventHeaders(rec.Trace.Restore(ctx), rec.EventID, rec.EventType),
	}
}

func (p *Publisher) prune(ctx context.Context) {
	if p.cfg.Retention <= 0 {
		return
	}
	n, err := p.store.PrunePublished(ctx, p.now().Add(-p.cfg.Retention))
	if err != nil {
		p.logger.WarnContext(ctx, "outbox prune failed", "err", err)
		return
	}
	if n > 0 {
		p.logger.InfoContext(ctx, "outbox pruned", "rows", n)
	}
}
