package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// ErrStopped планировщик остановлен
var ErrStopped = errors.New("scheduler: stopped")

// Every вызывает fn каждые interval до отмены ctx; ошибки логируются
func Every(ctx context.Context, name string, interval time.Duration, logger *zap.Logger, fn func(context.Context) error) {
	logger.Info("starting periodic job", zap.String("job", name), zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("periodic job stopped", zap.String("job", name))
			return
		case <-ticker.C:
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				logger.Error("periodic job failed", zap.String("job", name), zap.Error(err))
			}
		}
	}
}
