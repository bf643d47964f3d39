package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shestoi/stockhold/internal/repository"
	"github.com/shestoi/stockhold/platform/observability"
)

// MessageWriter часть kafka.Writer, нужная публикаторам
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// OutboxDispatcher читает pending события из outbox и публикует их в Kafka.
// Событие event_type уходит в топик <prefix>.<event_type> с ключом aggregate_id.
type OutboxDispatcher struct {
	logger      *zap.Logger
	repo        repository.OutboxRepository
	writer      MessageWriter
	topicPrefix string
	batchSize   int
	interval    time.Duration
	maxRetries  int
	backoff     time.Duration
}

// NewOutboxDispatcher создаёт dispatcher; writer должен быть без фиксированного топика
func NewOutboxDispatcher(
	logger *zap.Logger,
	repo repository.OutboxRepository,
	writer MessageWriter,
	topicPrefix string,
	batchSize int,
	interval time.Duration,
	maxRetries int,
	backoff time.Duration,
) *OutboxDispatcher {
	if batchSize <= 0 {
		batchSize = 100
	}
	if interval <= 0 {
		interval = time.Second
	}
	if maxRetries <= 0 {
		maxRetries = 1
	}
	return &OutboxDispatcher{
		logger:      logger,
		repo:        repo,
		writer:      writer,
		topicPrefix: topicPrefix,
		batchSize:   batchSize,
		interval:    interval,
		maxRetries:  maxRetries,
		backoff:     backoff,
	}
}

// Start блокируется до отмены ctx
func (d *OutboxDispatcher) Start(ctx context.Context) error {
	d.logger.Info("starting outbox dispatcher",
		zap.String("topic_prefix", d.topicPrefix),
		zap.Int("batch_size", d.batchSize),
		zap.Duration("interval", d.interval),
		zap.Int("max_retries", d.maxRetries),
	)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	if err := d.ProcessBatch(ctx); err != nil && ctx.Err() == nil {
		d.logger.Error("failed to process initial batch", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("outbox dispatcher context cancelled, stopping")
			return nil
		case <-ticker.C:
			if err := d.ProcessBatch(ctx); err != nil && ctx.Err() == nil {
				d.logger.Error("failed to process batch", zap.Error(err))
			}
		}
	}
}

// ProcessBatch публикует один батч pending событий.
// Ошибка отдельного события не прерывает батч.
func (d *OutboxDispatcher) ProcessBatch(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	events, err := d.repo.GetPendingOutboxEvents(ctx, d.batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to get pending events: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	d.logger.Debug("processing outbox batch", zap.Int("count", len(events)))

	for _, event := range events {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := d.processEvent(ctx, event); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.logger.Error("failed to process event",
				zap.Error(err),
				zap.String("event_id", event.EventID),
				zap.String("event_type", event.EventType),
			)
		}
	}
	return nil
}

// Topic имя топика для типа события
func (d *OutboxDispatcher) Topic(eventType string) string {
	if d.topicPrefix == "" {
		return eventType
	}
	return d.topicPrefix + "." + eventType
}

func (d *OutboxDispatcher) processEvent(ctx context.Context, event repository.OutboxEvent) error {
	topic := d.Topic(event.EventType)
	var lastErr error

	for attempt := 1; attempt <= d.maxRetries; attempt++ {
		msg := kafka.Message{
			Topic: topic,
			Key:   []byte(event.AggregateID),
			Value: event.Payload,
			Headers: []kafka.Header{
				{Key: "event_id", Value: []byte(event.EventID)},
				{Key: "event_type", Value: []byte(event.EventType)},
			},
		}
		observability.InjectKafka(ctx, &msg)

		err := d.writer.WriteMessages(ctx, msg)
		if err == nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if markErr := d.repo.MarkOutboxEventSent(ctx, event.EventID); markErr != nil {
				return fmt.Errorf("mark event sent: %w", markErr)
			}
			d.logger.Info("outbox event published",
				zap.String("event_id", event.EventID),
				zap.String("topic", topic),
				zap.String("aggregate_id", event.AggregateID),
				zap.Int("attempt", attempt),
			)
			return nil
		}

		lastErr = err
		d.logger.Warn("failed to publish outbox event",
			zap.Error(err),
			zap.String("event_id", event.EventID),
			zap.String("topic", topic),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", d.maxRetries),
		)

		if attempt < d.maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.backoff * time.Duration(attempt)):
			}
		}
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	// событие остаётся pending и будет взято следующим тиком
	errMsg := fmt.Sprintf("failed after %d attempts: %v", d.maxRetries, lastErr)
	if markErr := d.repo.MarkOutboxEventFailed(ctx, event.EventID, errMsg); markErr != nil {
		d.logger.Error("failed to mark event as failed",
			zap.Error(markErr),
			zap.String("event_id", event.EventID),
		)
	}
	return fmt.Errorf("failed to publish event after %d attempts: %w", d.maxRetries, lastErr)
}
