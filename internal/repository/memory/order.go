package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shestoi/stockhold/internal/repository"
)

type webhookKey struct {
	orderID   string
	expiresAt time.Time
}

// OrderRepository in-memory заказы, ключи идемпотентности уведомлений и outbox.
// Реализует OrderRepository, WebhookRepository и OutboxRepository, чтобы
// "транзакции" этих операций выполнялись под одним мьютексом.
type OrderRepository struct {
	mu          sync.RWMutex
	orders      map[string]repository.Order
	holdOrders  map[string]string
	webhooks    map[string]webhookKey
	outbox      map[string]outboxEntry
	expirations *ExpirationRepository
}

type outboxEntry struct {
	event     repository.OutboxEvent
	sent      bool
	lastError string
}

// NewOrderRepository; expirations может быть nil, если расписание не используется
func NewOrderRepository(expirations *ExpirationRepository) *OrderRepository {
	return &OrderRepository{
		orders:      make(map[string]repository.Order),
		holdOrders:  make(map[string]string),
		webhooks:    make(map[string]webhookKey),
		outbox:      make(map[string]outboxEntry),
		expirations: expirations,
	}
}

func (r *OrderRepository) CreateOrder(ctx context.Context, order repository.Order, event repository.OutboxEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.holdOrders[order.HoldID]; exists {
		return repository.ErrOrderExists
	}
	if r.expirations != nil {
		if _, ok, _ := r.expirations.Take(ctx, order.HoldID); !ok {
			return repository.ErrHoldReleased
		}
	}
	r.orders[order.ID] = order
	r.holdOrders[order.HoldID] = order.ID
	r.outbox[event.EventID] = outboxEntry{event: event}
	return nil
}

func (r *OrderRepository) GetOrder(_ context.Context, orderID string) (repository.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.orders[orderID]
	if !ok {
		return repository.Order{}, repository.ErrOrderNotFound
	}
	return o, nil
}

func (r *OrderRepository) ApplyPaymentStatus(_ context.Context, update repository.PaymentStatusUpdate, event repository.OutboxEvent) (repository.WebhookResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.webhooks[update.IdempotencyKey]; ok && prev.expiresAt.After(update.ReceivedAt) {
		return repository.WebhookResult{Duplicate: true}, nil
	}
	r.webhooks[update.IdempotencyKey] = webhookKey{orderID: update.OrderID, expiresAt: update.ExpiresAt}

	o, ok := r.orders[update.OrderID]
	if !ok {
		return repository.WebhookResult{}, nil
	}
	o.PaymentStatus = update.PaymentStatus
	o.UpdatedAt = update.ReceivedAt
	r.orders[o.ID] = o
	r.outbox[event.EventID] = outboxEntry{event: event}

	return repository.WebhookResult{OrderFound: true}, nil
}

func (r *OrderRepository) PurgeExpiredWebhooks(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for key, w := range r.webhooks {
		if !w.expiresAt.After(now) {
			delete(r.webhooks, key)
			n++
		}
	}
	return n, nil
}

func (r *OrderRepository) GetPendingOutboxEvents(_ context.Context, limit int) ([]repository.OutboxEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	events := make([]repository.OutboxEvent, 0)
	for _, e := range r.outbox {
		if !e.sent {
			events = append(events, e.event)
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].CreatedAt.Before(events[j].CreatedAt) })
	if len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

func (r *OrderRepository) MarkOutboxEventSent(_ context.Context, eventID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.outbox[eventID]
	if !ok {
		return nil
	}
	e.sent = true
	r.outbox[eventID] = e
	return nil
}

func (r *OrderRepository) MarkOutboxEventFailed(_ context.Context, eventID string, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.outbox[eventID]
	if !ok {
		return nil
	}
	e.event.Attempts++
	e.lastError = lastError
	r.outbox[eventID] = e
	return nil
}

// OutboxEvents все события outbox, включая отправленные (для проверок в тестах)
func (r *OrderRepository) OutboxEvents() []repository.OutboxEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	events := make([]repository.OutboxEvent, 0, len(r.outbox))
	for _, e := range r.outbox {
		events = append(events, e.event)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].CreatedAt.Before(events[j].CreatedAt) })
	return events
}
