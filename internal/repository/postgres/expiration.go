package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/shestoi/stockhold/internal/repository"
)

// ExpirationRepository расписание истечения холдов в таблице hold_expirations.
// Записи забираются через FOR UPDATE SKIP LOCKED и сдвигаются на lease вперёд,
// поэтому несколько экземпляров сервиса не обрабатывают одну запись одновременно,
// а запись упавшего экземпляра снова станет видна после lease.
type ExpirationRepository struct {
	pool   *pgxpool.Pool
	lease  time.Duration
	logger *zap.Logger
}

// NewExpirationRepository создаёт PostgreSQL репозиторий расписания
func NewExpirationRepository(pool *pgxpool.Pool, lease time.Duration, logger *zap.Logger) *ExpirationRepository {
	return &ExpirationRepository{pool: pool, lease: lease, logger: logger}
}

func (r *ExpirationRepository) Schedule(ctx context.Context, exp repository.Expiration) error {
	_, err := conn(ctx, r.pool).Exec(ctx,
		`INSERT INTO hold_expirations (hold_id, product_id, quantity, fire_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (hold_id) DO UPDATE
		 SET product_id = EXCLUDED.product_id, quantity = EXCLUDED.quantity,
		     fire_at = EXCLUDED.fire_at, attempts = 0, last_error = NULL`,
		exp.HoldID, exp.ProductID, exp.Quantity, exp.FireAt)
	if err != nil {
		return fmt.Errorf("schedule expiration: %w", err)
	}
	return nil
}

// Take удаляет запись через DELETE ... RETURNING.
// Конкурирует с DELETE в транзакции CreateOrder: строку удаляет ровно один из них.
func (r *ExpirationRepository) Take(ctx context.Context, holdID string) (repository.Expiration, bool, error) {
	var e repository.Expiration
	err := conn(ctx, r.pool).QueryRow(ctx,
		`DELETE FROM hold_expirations WHERE hold_id = $1
		 RETURNING hold_id, product_id, quantity, fire_at, attempts, COALESCE(last_error, '')`,
		holdID).Scan(&e.HoldID, &e.ProductID, &e.Quantity, &e.FireAt, &e.Attempts, &e.LastError)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.Expiration{}, false, nil
		}
		return repository.Expiration{}, false, fmt.Errorf("take expiration: %w", err)
	}
	return e, true, nil
}

func (r *ExpirationRepository) Cancel(ctx context.Context, holdID string) error {
	if _, err := conn(ctx, r.pool).Exec(ctx, `DELETE FROM hold_expirations WHERE hold_id = $1`, holdID); err != nil {
		return fmt.Errorf("cancel expiration: %w", err)
	}
	return nil
}

func (r *ExpirationRepository) ProcessDue(ctx context.Context, now time.Time, limit int, backoff time.Duration, handle repository.ExpirationHandler) (int, error) {
	due, err := r.claim(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	for _, e := range due {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}

		if herr := handle(ctx, e.HoldID); herr != nil {
			attempts := e.Attempts + 1
			_, err := r.pool.Exec(ctx,
				`UPDATE hold_expirations SET attempts = $2, last_error = $3, fire_at = $4 WHERE hold_id = $1`,
				e.HoldID, attempts, herr.Error(), now.Add(backoff*time.Duration(attempts)))
			if err != nil {
				r.logger.Error("failed to reschedule expiration",
					zap.Error(err),
					zap.String("hold_id", e.HoldID),
				)
			}
			continue
		}

		if err := r.Cancel(ctx, e.HoldID); err != nil {
			r.logger.Error("failed to delete processed expiration",
				zap.Error(err),
				zap.String("hold_id", e.HoldID),
			)
		}
	}
	return len(due), nil
}

// claim короткой транзакцией забирает наступившие записи, сдвигая их fire_at на lease
func (r *ExpirationRepository) claim(ctx context.Context, now time.Time, limit int) ([]repository.Expiration, error) {
	rows, err := r.pool.Query(ctx,
		`UPDATE hold_expirations e
		 SET fire_at = $3
		 FROM (
		     SELECT hold_id FROM hold_expirations
		     WHERE fire_at <= $1
		     ORDER BY fire_at
		     LIMIT $2
		     FOR UPDATE SKIP LOCKED
		 ) due
		 WHERE e.hold_id = due.hold_id
		 RETURNING e.hold_id, e.product_id, e.quantity, e.attempts, COALESCE(e.last_error, '')`,
		now, limit, now.Add(r.lease))
	if err != nil {
		return nil, fmt.Errorf("claim due expirations: %w", err)
	}
	defer rows.Close()

	due := make([]repository.Expiration, 0, limit)
	for rows.Next() {
		var e repository.Expiration
		if err := rows.Scan(&e.HoldID, &e.ProductID, &e.Quantity, &e.Attempts, &e.LastError); err != nil {
			return nil, fmt.Errorf("scan expiration: %w", err)
		}
		e.FireAt = now
		due = append(due, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim due expirations: %w", err)
	}
	return due, nil
}
