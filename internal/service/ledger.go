package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/shestoi/stockhold/internal/repository"
)

// warmAttempts сколько раз перезагружать счётчик, если durable меняется во время загрузки
const warmAttempts = 3

// StockLedger владеет остатками продуктов.
// Быстрый счётчик (Redis) отсекает заведомо невозможные резервы,
// durable хранилище с условным UPDATE гарантирует, что остаток не уйдёт в минус.
// Быстрый счётчик может разойтись с durable только в сторону меньшего значения,
// кроме короткого окна после сброса ключа; это окно закрывает durable guard.
// Прогрев перечитывает durable после загрузки, чтобы не потерять Release,
// пришедший пока ключа ещё не было.
type StockLedger struct {
	counter repository.StockCounter
	durable repository.StockRepository
	logger  *zap.Logger

	// конкурентные промахи по одному продукту читают durable один раз
	warmGroup singleflight.Group
}

// NewStockLedger создаёт StockLedger
func NewStockLedger(counter repository.StockCounter, durable repository.StockRepository, logger *zap.Logger) *StockLedger {
	return &StockLedger{
		counter: counter,
		durable: durable,
		logger:  logger,
	}
}

// Reserve атомарно списывает qty и возвращает новый остаток быстрого счётчика.
// ErrInsufficientStock если остатка не хватает, ErrProductNotFound если продукта нет.
func (l *StockLedger) Reserve(ctx context.Context, productID string, qty int64) (int64, error) {
	if qty < 1 {
		return 0, ErrInvalidQuantity
	}

	remaining, err := l.counter.Reserve(ctx, productID, qty)
	if errors.Is(err, repository.ErrStockNotLoaded) {
		if err := l.warm(ctx, productID); err != nil {
			return 0, err
		}
		remaining, err = l.counter.Reserve(ctx, productID, qty)
	}
	switch {
	case errors.Is(err, repository.ErrInsufficientStock):
		return 0, ErrInsufficientStock
	case errors.Is(err, repository.ErrStockNotLoaded):
		return 0, fmt.Errorf("stock counter for %s could not be loaded", productID)
	case err != nil:
		return 0, fmt.Errorf("reserve fast counter: %w", err)
	}

	if _, err := l.durable.DecrementStock(ctx, productID, qty); err != nil {
		switch {
		case errors.Is(err, repository.ErrInsufficientStock):
			// быстрый счётчик оказался выше durable значения: сбрасываем, перечитается при следующем резерве
			l.invalidate(ctx, productID)
			return 0, ErrInsufficientStock
		case errors.Is(err, repository.ErrProductNotFound):
			l.invalidate(ctx, productID)
			return 0, ErrProductNotFound
		}
		l.compensate(ctx, productID, qty)
		return 0, fmt.Errorf("reserve durable stock: %w", err)
	}

	return remaining, nil
}

// Release возвращает qty на склад: сначала durable, потом быстрый счётчик.
// Ошибка означает, что durable возврат не выполнен и его нужно повторить.
func (l *StockLedger) Release(ctx context.Context, productID string, qty int64) error {
	if _, err := l.durable.IncrementStock(ctx, productID, qty); err != nil {
		return fmt.Errorf("release durable stock: %w", err)
	}

	if _, _, err := l.counter.Release(ctx, productID, qty); err != nil {
		l.logger.Warn("failed to release fast counter, invalidating",
			zap.Error(err),
			zap.String("product_id", productID),
			zap.Int64("quantity", qty),
		)
		l.invalidate(ctx, productID)
	}
	return nil
}

// Available текущий остаток; только читает и не прогревает счётчик
func (l *StockLedger) Available(ctx context.Context, productID string) (int64, error) {
	qty, err := l.counter.Get(ctx, productID)
	if err == nil {
		return qty, nil
	}
	if !errors.Is(err, repository.ErrStockNotLoaded) {
		l.logger.Warn("fast counter unavailable, reading durable stock",
			zap.Error(err),
			zap.String("product_id", productID),
		)
	}

	qty, err = l.durable.GetStock(ctx, productID)
	if err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			return 0, ErrProductNotFound
		}
		return 0, fmt.Errorf("get durable stock: %w", err)
	}
	return qty, nil
}

// warm загружает durable значение в быстрый счётчик, если ключа ещё нет.
// Release между чтением durable и Load не попадает в счётчик (ключа ещё нет),
// поэтому после Load durable перечитывается: если он вырос, ключ сбрасывается
// и загрузка повторяется.
func (l *StockLedger) warm(ctx context.Context, productID string) error {
	_, err, _ := l.warmGroup.Do(productID, func() (any, error) {
		for attempt := 1; ; attempt++ {
			qty, err := l.durableStock(ctx, productID)
			if err != nil {
				return nil, err
			}
			loaded, err := l.counter.Load(ctx, productID, qty)
			if err != nil {
				return nil, fmt.Errorf("load fast counter: %w", err)
			}
			if !loaded {
				return nil, nil
			}

			after, err := l.durableStock(ctx, productID)
			if err != nil {
				// без повторного чтения загруженное значение не проверено
				l.invalidate(ctx, productID)
				return nil, err
			}
			if after <= qty {
				return nil, nil
			}
			if attempt >= warmAttempts {
				l.logger.Warn("fast counter kept missing releases during load",
					zap.String("product_id", productID),
					zap.Int64("loaded", qty),
					zap.Int64("durable", after),
				)
				return nil, nil
			}
			l.logger.Debug("stock released during counter load, reloading",
				zap.String("product_id", productID),
				zap.Int64("loaded", qty),
				zap.Int64("durable", after),
			)
			if err := l.counter.Invalidate(ctx, productID); err != nil {
				return nil, fmt.Errorf("invalidate fast counter: %w", err)
			}
		}
	})
	return err
}

func (l *StockLedger) durableStock(ctx context.Context, productID string) (int64, error) {
	qty, err := l.durable.GetStock(ctx, productID)
	if err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			return 0, ErrProductNotFound
		}
		return 0, fmt.Errorf("load durable stock: %w", err)
	}
	return qty, nil
}

func (l *StockLedger) compensate(ctx context.Context, productID string, qty int64) {
	if _, _, err := l.counter.Release(ctx, productID, qty); err != nil {
		l.logger.Warn("failed to compensate fast counter, invalidating",
			zap.Error(err),
			zap.String("product_id", productID),
		)
		l.invalidate(ctx, productID)
	}
}

func (l *StockLedger) invalidate(ctx context.Context, productID string) {
	if err := l.counter.Invalidate(ctx, productID); err != nil {
		l.logger.Error("failed to invalidate fast counter",
			zap.Error(err),
			zap.String("product_id", productID),
		)
	}
}
