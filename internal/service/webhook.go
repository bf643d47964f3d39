package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/shestoi/stockhold/internal/clock"
	"github.com/shestoi/stockhold/internal/repository"
)

const defaultWebhookRetention = 24 * time.Hour

// IngestStatus итог обработки уведомления
type IngestStatus string

const (
	IngestApplied          IngestStatus = "applied"
	IngestDuplicateIgnored IngestStatus = "duplicate_ignored"
)

// PaymentStatusUpdate уведомление платёжного провайдера (HTTP webhook или Kafka)
type PaymentStatusUpdate struct {
	IdempotencyKey string
	OrderID        string
	PaymentStatus  string
}

// WebhookIngestor применяет уведомления об оплате ровно один раз на ключ
// идемпотентности в пределах срока хранения ключа
type WebhookIngestor struct {
	repo      repository.WebhookRepository
	clock     clock.Clock
	retention time.Duration
	logger    *zap.Logger
}

// NewWebhookIngestor создаёт WebhookIngestor; retention <= 0 означает 24 часа
func NewWebhookIngestor(repo repository.WebhookRepository, c clock.Clock, retention time.Duration, logger *zap.Logger) *WebhookIngestor {
	if retention <= 0 {
		retention = defaultWebhookRetention
	}
	return &WebhookIngestor{repo: repo, clock: c, retention: retention, logger: logger}
}

// Ingest занимает ключ идемпотентности и обновляет статус оплаты заказа одной транзакцией.
// Уведомление для неизвестного заказа тоже занимает ключ и считается применённым.
func (w *WebhookIngestor) Ingest(ctx context.Context, in PaymentStatusUpdate) (IngestStatus, error) {
	ctx, span := otel.Tracer("reservation/service").Start(ctx, "WebhookIngestor.Ingest")
	defer span.End()

	if strings.TrimSpace(in.IdempotencyKey) == "" || strings.TrimSpace(in.OrderID) == "" || strings.TrimSpace(in.PaymentStatus) == "" {
		return "", ErrInvalidWebhook
	}

	now := w.clock.Now()
	update := repository.PaymentStatusUpdate{
		IdempotencyKey: in.IdempotencyKey,
		OrderID:        in.OrderID,
		PaymentStatus:  in.PaymentStatus,
		ReceivedAt:     now,
		ExpiresAt:      now.Add(w.retention),
	}
	event, err := newOutboxEvent(EventOrderPaymentStatusChanged, in.OrderID, now, func(eventID string) any {
		return PaymentStatusChangedEvent{
			EventID:        eventID,
			OrderID:        in.OrderID,
			PaymentStatus:  in.PaymentStatus,
			IdempotencyKey: in.IdempotencyKey,
			OccurredAt:     now,
		}
	})
	if err != nil {
		return "", err
	}

	res, err := w.repo.ApplyPaymentStatus(ctx, update, event)
	if err != nil {
		return "", fmt.Errorf("apply payment status: %w", err)
	}

	if res.Duplicate {
		w.logger.Info("duplicate webhook ignored",
			zap.String("idempotency_key", in.IdempotencyKey),
			zap.String("order_id", in.OrderID),
		)
		return IngestDuplicateIgnored, nil
	}
	if !res.OrderFound {
		w.logger.Warn("webhook for unknown order",
			zap.String("idempotency_key", in.IdempotencyKey),
			zap.String("order_id", in.OrderID),
			zap.String("payment_status", in.PaymentStatus),
		)
		return IngestApplied, nil
	}

	w.logger.Info("payment status updated",
		zap.String("order_id", in.OrderID),
		zap.String("payment_status", in.PaymentStatus),
	)
	return IngestApplied, nil
}

// PurgeExpired удаляет ключи идемпотентности с истёкшим сроком хранения
func (w *WebhookIngestor) PurgeExpired(ctx context.Context) error {
	n, err := w.repo.PurgeExpiredWebhooks(ctx, w.clock.Now())
	if err != nil {
		return fmt.Errorf("purge expired webhooks: %w", err)
	}
	if n > 0 {
		w.logger.Info("expired webhook keys purged", zap.Int64("count", n))
	}
	return nil
}
