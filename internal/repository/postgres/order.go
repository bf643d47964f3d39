package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shestoi/stockhold/internal/repository"
)

// OrderRepository заказы и идемпотентные уведомления об оплате
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository создаёт PostgreSQL репозиторий заказов
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// CreateOrder: заказ, снятие расписания истечения холда и событие outbox в одной транзакции
func (r *OrderRepository) CreateOrder(ctx context.Context, order repository.Order, event repository.OutboxEvent) error {
	return withTx(ctx, r.pool, func(ctx context.Context) error {
		q := conn(ctx, r.pool)

		_, err := q.Exec(ctx,
			`INSERT INTO orders (id, hold_id, product_id, quantity, payment_status, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $6)`,
			order.ID, order.HoldID, order.ProductID, order.Quantity, order.PaymentStatus, order.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return repository.ErrOrderExists
			}
			return fmt.Errorf("insert order: %w", err)
		}

		tag, err := q.Exec(ctx, `DELETE FROM hold_expirations WHERE hold_id = $1`, order.HoldID)
		if err != nil {
			return fmt.Errorf("finalize hold expiration: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return repository.ErrHoldReleased
		}

		return insertOutboxEvent(ctx, q, event)
	})
}

func (r *OrderRepository) GetOrder(ctx context.Context, orderID string) (repository.Order, error) {
	var o repository.Order
	err := conn(ctx, r.pool).QueryRow(ctx,
		`SELECT id, hold_id, product_id, quantity, payment_status, created_at, updated_at
		 FROM orders WHERE id = $1`,
		orderID).Scan(&o.ID, &o.HoldID, &o.ProductID, &o.Quantity, &o.PaymentStatus, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.Order{}, repository.ErrOrderNotFound
		}
		return repository.Order{}, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

// ApplyPaymentStatus занимает ключ идемпотентности через INSERT ... ON CONFLICT:
// повторная вставка проходит только если срок хранения прежней записи истёк.
// Конкурентные вставки одного ключа сериализуются на уникальном индексе.
func (r *OrderRepository) ApplyPaymentStatus(ctx context.Context, update repository.PaymentStatusUpdate, event repository.OutboxEvent) (repository.WebhookResult, error) {
	var result repository.WebhookResult

	err := withTx(ctx, r.pool, func(ctx context.Context) error {
		q := conn(ctx, r.pool)

		var claimed string
		err := q.QueryRow(ctx,
			`INSERT INTO webhook_events (idempotency_key, order_id, payment_status, received_at, expires_at)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (idempotency_key) DO UPDATE
			 SET order_id = EXCLUDED.order_id,
			     payment_status = EXCLUDED.payment_status,
			     received_at = EXCLUDED.received_at,
			     expires_at = EXCLUDED.expires_at
			 WHERE webhook_events.expires_at <= EXCLUDED.received_at
			 RETURNING idempotency_key`,
			update.IdempotencyKey, update.OrderID, update.PaymentStatus, update.ReceivedAt, update.ExpiresAt).Scan(&claimed)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				result.Duplicate = true
				return nil
			}
			return fmt.Errorf("claim webhook key: %w", err)
		}

		tag, err := q.Exec(ctx,
			`UPDATE orders SET payment_status = $2, updated_at = $3 WHERE id = $1`,
			update.OrderID, update.PaymentStatus, update.ReceivedAt)
		if err != nil {
			return fmt.Errorf("update payment status: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		result.OrderFound = true

		return insertOutboxEvent(ctx, q, event)
	})
	if err != nil {
		return repository.WebhookResult{}, err
	}
	return result, nil
}

func (r *OrderRepository) PurgeExpiredWebhooks(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM webhook_events WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("purge expired webhooks: %w", err)
	}
	return tag.RowsAffected(), nil
}
