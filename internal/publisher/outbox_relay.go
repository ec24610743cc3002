package publisher

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/fjod/go_pay/internal/repository"
	"github.com/segmentio/kafka-go"
)

type OutboxSource interface {
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*repository.OutboxEvent, error)
	MarkEventAsPublished(ctx context.Context, id int64) error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	io.Closer
}

// OutboxRelay copies committed outbox rows to Kafka. Delivery is at least once: a row is
// marked only after the broker acknowledged it.
type OutboxRelay struct {
	tick      time.Duration
	batchSize int
	repo      OutboxSource
	writer    messageWriter
	logger    *slog.Logger
}

func NewOutboxRelay(repo OutboxSource, logger *slog.Logger, topic string, brokers ...string) *OutboxRelay {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &OutboxRelay{
		tick:      time.Second,
		batchSize: 100,
		repo:      repo,
		writer:    w,
		logger:    logger,
	}
}

// WithInterval changes how often Run polls the outbox.
func (p *OutboxRelay) WithInterval(d time.Duration) *OutboxRelay {
	if d > 0 {
		p.tick = d
	}
	return p
}

func (p *OutboxRelay) Run(ctx context.Context) {
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.PublishPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// PublishPending sends one batch and returns how many rows were published.
func (p *OutboxRelay) PublishPending(ctx context.Context) int {
	events, err := p.repo.GetUnprocessedEvents(ctx, p.batchSize)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to fetch outbox events", "error", err)
		return 0
	}

	published := 0
	for _, event := range events {
		if err := p.publish(ctx, event); err != nil {
			p.logger.ErrorContext(ctx, "failed to publish outbox event", "outbox_id", event.ID, "event_type", event.EventType, "error", err)
			// keep per-aggregate order: later rows wait for the next tick
			break
		}

		if err := p.repo.MarkEventAsPublished(ctx, event.ID); err != nil {
			// the row is redelivered next tick; publishing later rows now would reorder them after it
			p.logger.ErrorContext(ctx, "failed to mark outbox event as published", "outbox_id", event.ID, "error", err)
			break
		}
		published++
	}
	return published
}

func (p *OutboxRelay) publish(ctx context.Context, event *repository.OutboxEvent) error {
	msg := kafka.Message{
		Key:   []byte(event.AggregateId), // order_id keeps one order's events on one partition
		Value: event.Payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}
	return p.writer.WriteMessages(ctx, msg)
}

func (p *OutboxRelay) Close() error {
	return p.writer.Close()
}
