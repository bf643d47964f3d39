package service

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shestoi/stockhold/internal/repository"
)

const (
	EventOrderCreated              = "order.created"
	EventOrderPaymentStatusChanged = "order.payment_status_changed"
)

// OrderCreatedEvent payload события order.created
type OrderCreatedEvent struct {
	EventID       string    `json:"event_id"`
	OrderID       string    `json:"order_id"`
	HoldID        string    `json:"hold_id"`
	ProductID     string    `json:"product_id"`
	Quantity      int64     `json:"quantity"`
	PaymentStatus string    `json:"payment_status"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// PaymentStatusChangedEvent payload события order.payment_status_changed
type PaymentStatusChangedEvent struct {
	EventID        string    `json:"event_id"`
	OrderID        string    `json:"order_id"`
	PaymentStatus  string    `json:"payment_status"`
	IdempotencyKey string    `json:"idempotency_key"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func newOutboxEvent(eventType, aggregateID string, now time.Time, build func(eventID string) any) (repository.OutboxEvent, error) {
	eventID := uuid.NewString()
	payload, err := json.Marshal(build(eventID))
	if err != nil {
		return repository.OutboxEvent{}, fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	return repository.OutboxEvent{
		EventID:     eventID,
		EventType:   eventType,
		AggregateID: aggregateID,
		Payload:     payload,
		CreatedAt:   now,
	}, nil
}

// AlertKind тип операционного алерта
type AlertKind string

const (
	// AlertStockReleaseFailed холд истёк, но остаток вернуть не удалось
	AlertStockReleaseFailed AlertKind = "stock_release_failed"
	// AlertOrderCreateFailed холд подтверждён, но заказ не записан
	AlertOrderCreateFailed AlertKind = "order_create_failed"
)

// Alert ситуация, которую сервис не может исправить сам: нужен человек
type Alert struct {
	Kind       AlertKind `json:"kind"`
	HoldID     string    `json:"hold_id"`
	ProductID  string    `json:"product_id"`
	Quantity   int64     `json:"quantity"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
}
