package publisher

import (
	"context"
	"log/slog"
	"time"

	"github.com/Hawyaa/alora-backend/internal/repository"
	"github.com/segmentio/kafka-go"
)

const (
	DefaultTopic    = "order-events"
	DefaultInterval = time.Second
	defaultBatch    = 100
)

// MessageWriter is the part of *kafka.Writer the poller needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// OutboxPoller relays order events from the outbox table to Kafka. An event
// is marked processed only after the broker accepted it, so delivery is at
// least once.
type OutboxPoller struct {
	interval time.Duration
	batch    int
	repo     repository.OutboxRepository
	writer   MessageWriter
	log      *slog.Logger
}

func NewKafkaWriter(topic string, brokers ...string) *kafka.Writer {
	if topic == "" {
		topic = DefaultTopic
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		WriteTimeout:           10 * time.Second,
	}
}

func NewOutboxPoller(repo repository.OutboxRepository, writer MessageWriter, interval time.Duration, log *slog.Logger) *OutboxPoller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &OutboxPoller{
		interval: interval,
		batch:    defaultBatch,
		repo:     repo,
		writer:   writer,
		log:      log,
	}
}

// Run polls until ctx is cancelled.
func (p *OutboxPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.log.InfoContext(ctx, "outbox poller started", "interval", p.interval)
	for {
		select {
		case <-ticker.C:
			p.processUnpublishedEvents(ctx)
		case <-ctx.Done():
			p.log.Info("outbox poller stopped")
			return
		}
	}
}

// processUnpublishedEvents publishes one batch and returns how many events were marked processed.
// A failed publish ends the batch so that events of one order never overtake each other.
func (p *OutboxPoller) processUnpublishedEvents(ctx context.Context) int {
	events, err := p.repo.GetUnprocessedEvents(ctx, p.batch)
	if err != nil {
		p.log.ErrorContext(ctx, "failed to fetch outbox events", "error", err)
		return 0
	}

	published := 0
	for _, event := range events {
		if err := p.publish(ctx, event); err != nil {
			p.log.WarnContext(ctx, "failed to publish outbox event",
				"event_id", event.ID, "event_type", event.EventType, "error", err)
			return published
		}
		if err := p.repo.MarkEventAsProcessed(ctx, event.ID); err != nil {
			p.log.ErrorContext(ctx, "failed to mark outbox event as processed", "event_id", event.ID, "error", err)
			return published
		}
		published++
	}
	return published
}

func (p *OutboxPoller) publish(ctx context.Context, event *repository.OutboxEvent) error {
	msg := kafka.Message{
		// order id keeps every event of one order on one partition
		Key:   []byte(event.AggregateID),
		Value: event.Payload,
		Time:  event.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}
	return p.writer.WriteMessages(ctx, msg)
}
