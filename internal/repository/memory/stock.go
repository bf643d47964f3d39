package memory

import (
	"context"
	"sync"

	"github.com/shestoi/stockhold/internal/repository"
)

// StockCounter in-memory аналог Redis счётчика; используется в тестах и локально
type StockCounter struct {
	mu     sync.Mutex
	values map[string]int64
}

func NewStockCounter() *StockCounter {
	return &StockCounter{values: make(map[string]int64)}
}

func (c *StockCounter) Reserve(_ context.Context, productID string, qty int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, ok := c.values[productID]
	if !ok {
		return 0, repository.ErrStockNotLoaded
	}
	if cur < qty {
		return cur, repository.ErrInsufficientStock
	}
	c.values[productID] = cur - qty
	return cur - qty, nil
}

func (c *StockCounter) Release(_ context.Context, productID string, qty int64) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, ok := c.values[productID]
	if !ok {
		return 0, false, nil
	}
	c.values[productID] = cur + qty
	return cur + qty, true, nil
}

func (c *StockCounter) Load(_ context.Context, productID string, qty int64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.values[productID]; ok {
		return false, nil
	}
	c.values[productID] = qty
	return true, nil
}

func (c *StockCounter) Get(_ context.Context, productID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, ok := c.values[productID]
	if !ok {
		return 0, repository.ErrStockNotLoaded
	}
	return cur, nil
}

func (c *StockCounter) Invalidate(_ context.Context, productID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, productID)
	return nil
}

// StockRepository in-memory durable остатки
type StockRepository struct {
	mu    sync.RWMutex
	stock map[string]int64
}

func NewStockRepository() *StockRepository {
	return &StockRepository{stock: make(map[string]int64)}
}

// SetStock заводит продукт с остатком (сидирование в тестах)
func (r *StockRepository) SetStock(productID string, qty int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stock[productID] = qty
}

func (r *StockRepository) GetStock(_ context.Context, productID string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	qty, ok := r.stock[productID]
	if !ok {
		return 0, repository.ErrProductNotFound
	}
	return qty, nil
}

func (r *StockRepository) DecrementStock(_ context.Context, productID string, qty int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.stock[productID]
	if !ok {
		return 0, repository.ErrProductNotFound
	}
	if cur < qty {
		return cur, repository.ErrInsufficientStock
	}
	r.stock[productID] = cur - qty
	return cur - qty, nil
}

func (r *StockRepository) IncrementStock(_ context.Context, productID string, qty int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.stock[productID]
	if !ok {
		return 0, repository.ErrProductNotFound
	}
	r.stock[productID] = cur + qty
	return cur + qty, nil
}
