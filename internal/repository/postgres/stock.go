package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shestoi/stockhold/internal/repository"
)

// StockRepository durable остатки в таблице product_stock
type StockRepository struct {
	pool *pgxpool.Pool
}

// NewStockRepository создаёт PostgreSQL репозиторий остатков
func NewStockRepository(pool *pgxpool.Pool) *StockRepository {
	return &StockRepository{pool: pool}
}

func (r *StockRepository) GetStock(ctx context.Context, productID string) (int64, error) {
	var qty int64
	err := conn(ctx, r.pool).QueryRow(ctx,
		`SELECT available_quantity FROM product_stock WHERE product_id = $1`,
		productID).Scan(&qty)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, repository.ErrProductNotFound
		}
		return 0, fmt.Errorf("get stock: %w", err)
	}
	return qty, nil
}

// DecrementStock условный UPDATE: строка меняется, только если остатка хватает
func (r *StockRepository) DecrementStock(ctx context.Context, productID string, qty int64) (int64, error) {
	var left int64
	err := conn(ctx, r.pool).QueryRow(ctx,
		`UPDATE product_stock
		 SET available_quantity = available_quantity - $2, updated_at = now()
		 WHERE product_id = $1 AND available_quantity >= $2
		 RETURNING available_quantity`,
		productID, qty).Scan(&left)
	if err == nil {
		return left, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("decrement stock: %w", err)
	}

	// строка не обновилась: либо продукта нет, либо не хватило
	if _, getErr := r.GetStock(ctx, productID); getErr != nil {
		return 0, getErr
	}
	return 0, repository.ErrInsufficientStock
}

func (r *StockRepository) IncrementStock(ctx context.Context, productID string, qty int64) (int64, error) {
	var left int64
	err := conn(ctx, r.pool).QueryRow(ctx,
		`UPDATE product_stock
		 SET available_quantity = available_quantity + $2, updated_at = now()
		 WHERE product_id = $1
		 RETURNING available_quantity`,
		productID, qty).Scan(&left)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, repository.ErrProductNotFound
		}
		return 0, fmt.Errorf("increment stock: %w", err)
	}
	return left, nil
}

// UpsertStock задаёт остаток продукта (сидирование, админские операции)
func (r *StockRepository) UpsertStock(ctx context.Context, productID string, qty int64) error {
	_, err := conn(ctx, r.pool).Exec(ctx,
		`INSERT INTO product_stock (product_id, available_quantity)
		 VALUES ($1, $2)
		 ON CONFLICT (product_id) DO UPDATE SET available_quantity = EXCLUDED.available_quantity, updated_at = now()`,
		productID, qty)
	if err != nil {
		return fmt.Errorf("upsert stock: %w", err)
	}
	return nil
}
