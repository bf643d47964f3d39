package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shestoi/stockhold/internal/repository"
)

const (
	codeNotLoaded    = -2
	codeInsufficient = -1
)

// reserveScript: проверка и списание в одном атомарном шаге.
// -2 ключа нет, -1 не хватает, иначе новый остаток.
var reserveScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then
	return -2
end
local qty = tonumber(ARGV[1])
if tonumber(cur) < qty then
	return -1
end
return redis.call('DECRBY', KEYS[1], qty)
`)

// releaseScript увеличивает остаток, только если ключ существует
var releaseScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -2
end
return redis.call('INCRBY', KEYS[1], ARGV[1])
`)

// StockCounter быстрый счётчик остатков в Redis: ключ product:{id}:stock
type StockCounter struct {
	client redis.UniversalClient
	logger *zap.Logger
}

// NewStockCounter создаёт Redis счётчик остатков
func NewStockCounter(client redis.UniversalClient, logger *zap.Logger) *StockCounter {
	return &StockCounter{client: client, logger: logger}
}

func stockKey(productID string) string {
	return fmt.Sprintf("product:%s:stock", productID)
}

func (c *StockCounter) Reserve(ctx context.Context, productID string, qty int64) (int64, error) {
	res, err := reserveScript.Run(ctx, c.client, []string{stockKey(productID)}, qty).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis reserve: %w", err)
	}
	switch res {
	case codeNotLoaded:
		return 0, repository.ErrStockNotLoaded
	case codeInsufficient:
		return 0, repository.ErrInsufficientStock
	}
	return res, nil
}

func (c *StockCounter) Release(ctx context.Context, productID string, qty int64) (int64, bool, error) {
	res, err := releaseScript.Run(ctx, c.client, []string{stockKey(productID)}, qty).Int64()
	if err != nil {
		return 0, false, fmt.Errorf("redis release: %w", err)
	}
	if res == codeNotLoaded {
		return 0, false, nil
	}
	return res, true, nil
}

func (c *StockCounter) Load(ctx context.Context, productID string, qty int64) (bool, error) {
	ok, err := c.client.SetNX(ctx, stockKey(productID), qty, 0).Result()
	if err != nil {
		return false, fmt.Errorf("redis load stock: %w", err)
	}
	if ok {
		c.logger.Debug("stock counter loaded",
			zap.String("product_id", productID),
			zap.Int64("quantity", qty),
		)
	}
	return ok, nil
}

func (c *StockCounter) Get(ctx context.Context, productID string) (int64, error) {
	raw, err := c.client.Get(ctx, stockKey(productID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, repository.ErrStockNotLoaded
		}
		return 0, fmt.Errorf("redis get stock: %w", err)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("redis stock value %q: %w", raw, err)
	}
	return v, nil
}

func (c *StockCounter) Invalidate(ctx context.Context, productID string) error {
	if err := c.client.Del(ctx, stockKey(productID)).Err(); err != nil {
		return fmt.Errorf("redis invalidate stock: %w", err)
	}
	c.logger.Info("stock counter invalidated", zap.String("product_id", productID))
	return nil
}
