package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shestoi/stockhold/internal/repository"
)

func insertOutboxEvent(ctx context.Context, q querier, event repository.OutboxEvent) error {
	_, err := q.Exec(ctx,
		`INSERT INTO outbox_events (event_id, event_type, aggregate_id, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		event.EventID, event.EventType, event.AggregateID, event.Payload, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

// OutboxRepository чтение outbox для диспетчера
type OutboxRepository struct {
	pool *pgxpool.Pool
}

func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{pool: pool}
}

func (r *OutboxRepository) GetPendingOutboxEvents(ctx context.Context, limit int) ([]repository.OutboxEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT event_id, event_type, aggregate_id, payload, attempts, created_at
		 FROM outbox_events
		 WHERE status = 'pending'
		 ORDER BY created_at
		 LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("get pending outbox events: %w", err)
	}
	defer rows.Close()

	events := make([]repository.OutboxEvent, 0, limit)
	for rows.Next() {
		var e repository.OutboxEvent
		if err := rows.Scan(&e.EventID, &e.EventType, &e.AggregateID, &e.Payload, &e.Attempts, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *OutboxRepository) MarkOutboxEventSent(ctx context.Context, eventID string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE outbox_events SET status = 'sent', sent_at = now() WHERE event_id = $1`,
		eventID)
	if err != nil {
		return fmt.Errorf("mark outbox event sent: %w", err)
	}
	return nil
}

func (r *OutboxRepository) MarkOutboxEventFailed(ctx context.Context, eventID string, lastError string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE outbox_events SET attempts = attempts + 1, last_error = $2 WHERE event_id = $1`,
		eventID, lastError)
	if err != nil {
		return fmt.Errorf("mark outbox event failed: %w", err)
	}
	return nil
}
