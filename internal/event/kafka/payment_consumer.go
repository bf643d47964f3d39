package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shestoi/stockhold/internal/service"
	"github.com/shestoi/stockhold/platform/observability"
)

// MessageReader часть kafka.Reader для at-least-once чтения
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// PaymentIngestor применяет уведомление об оплате (WebhookIngestor)
type PaymentIngestor interface {
	Ingest(ctx context.Context, in service.PaymentStatusUpdate) (service.IngestStatus, error)
}

// PaymentStatusMessage формат события статуса оплаты в топике провайдера
type PaymentStatusMessage struct {
	IdempotencyKey string `json:"idempotency_key"`
	OrderID        string `json:"order_id"`
	PaymentStatus  string `json:"payment_status"`
}

// PaymentStatusConsumer читает статусы оплаты из Kafka и передаёт их в WebhookIngestor.
// Offset коммитится после успешного применения; битые сообщения уходят в DLQ (если он задан) и коммитятся.
type PaymentStatusConsumer struct {
	logger      *zap.Logger
	reader      MessageReader
	ingestor    PaymentIngestor
	dlq         *DLQPublisher
	maxAttempts int
	backoffBase time.Duration
}

// NewPaymentStatusConsumer создаёт consumer; dlq может быть nil
func NewPaymentStatusConsumer(
	logger *zap.Logger,
	reader MessageReader,
	ingestor PaymentIngestor,
	dlq *DLQPublisher,
	maxAttempts int,
	backoffBase time.Duration,
) *PaymentStatusConsumer {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &PaymentStatusConsumer{
		logger:      logger,
		reader:      reader,
		ingestor:    ingestor,
		dlq:         dlq,
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
	}
}

// Start блокируется до отмены ctx
func (c *PaymentStatusConsumer) Start(ctx context.Context) error {
	c.logger.Info("starting payment status consumer",
		zap.Int("max_retry_attempts", c.maxAttempts),
		zap.Duration("retry_backoff_base", c.backoffBase),
	)

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer context cancelled, stopping")
				return nil
			}
			c.logger.Error("failed to fetch message from kafka", zap.Error(err))
			continue
		}

		if !c.processMessage(ctx, m) {
			continue
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil {
			c.logger.Error("failed to commit message offset",
				zap.Error(err),
				zap.String("topic", m.Topic),
				zap.Int("partition", m.Partition),
				zap.Int64("offset", m.Offset),
			)
			continue
		}
		c.logger.Debug("message offset committed",
			zap.String("topic", m.Topic),
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
		)
	}
}

// processMessage возвращает true, если offset нужно закоммитить
func (c *PaymentStatusConsumer) processMessage(ctx context.Context, m kafka.Message) bool {
	msgCtx := observability.ExtractKafka(ctx, &m)

	var payload PaymentStatusMessage
	if err := json.Unmarshal(m.Value, &payload); err != nil {
		c.logger.Error("failed to unmarshal payment status message",
			zap.Error(err),
			zap.String("topic", m.Topic),
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
		)
		return c.deadLetter(m, err)
	}

	update := service.PaymentStatusUpdate(payload)
	status, err := c.handleWithRetry(msgCtx, update)
	switch {
	case err == nil:
		c.logger.Info("payment status message processed",
			zap.String("order_id", update.OrderID),
			zap.String("idempotency_key", update.IdempotencyKey),
			zap.String("status", string(status)),
			zap.Int64("offset", m.Offset),
		)
		return true
	case errors.Is(err, service.ErrInvalidWebhook):
		c.logger.Error("invalid payment status message",
			zap.Error(err),
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
		)
		return c.deadLetter(m, err)
	case ctx.Err() != nil:
		return false
	default:
		c.logger.Error("failed to handle payment status message after all retries",
			zap.Error(err),
			zap.String("order_id", update.OrderID),
			zap.Int64("offset", m.Offset),
		)
		return c.deadLetter(m, fmt.Errorf("exhausted all retry attempts: %w", err))
	}
}

// handleWithRetry повторяет Ingest с экспоненциальной задержкой: base, 2*base, 4*base...
// Невалидное сообщение не повторяется.
func (c *PaymentStatusConsumer) handleWithRetry(ctx context.Context, update service.PaymentStatusUpdate) (service.IngestStatus, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			backoff := c.backoffBase * time.Duration(1<<uint(attempt-2))
			c.logger.Info("retrying payment status message",
				zap.String("order_id", update.OrderID),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
			)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		status, err := c.ingestor.Ingest(ctx, update)
		if err == nil {
			return status, nil
		}
		if errors.Is(err, service.ErrInvalidWebhook) {
			return "", err
		}
		lastErr = err
		c.logger.Warn("failed to ingest payment status",
			zap.Error(err),
			zap.String("order_id", update.OrderID),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.maxAttempts),
		)
	}
	return "", lastErr
}

// deadLetter без DLQ просто коммитит сообщение; при ошибке DLQ offset не коммитится
func (c *PaymentStatusConsumer) deadLetter(m kafka.Message, cause error) bool {
	if c.dlq == nil {
		return true
	}
	if err := c.dlq.Publish(context.Background(), m, cause); err != nil {
		c.logger.Error("failed to publish to DLQ, not committing", zap.Error(err))
		return false
	}
	return true
}
