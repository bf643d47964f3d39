package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/shestoi/stockhold/internal/repository"
)

// Layered ставит durable запись через Poller и локальный таймер через TimerScheduler.
// Таймер срабатывает точно в срок, запись в хранилище переживает рестарт.
// Handler вызывается дважды, поэтому он обязан быть идемпотентным (ExpireHold такой).
type Layered struct {
	durable *Poller
	local   *TimerScheduler
	logger  *zap.Logger
}

func NewLayered(durable *Poller, local *TimerScheduler, logger *zap.Logger) *Layered {
	return &Layered{durable: durable, local: local, logger: logger}
}

// Register регистрирует handler в обоих планировщиках
func (l *Layered) Register(handler repository.ExpirationHandler) {
	l.durable.Register(handler)
	l.local.Register(handler)
}

// Schedule возвращает ошибку только если не удалось сохранить durable запись
func (l *Layered) Schedule(ctx context.Context, hold repository.Hold, delay time.Duration) error {
	if err := l.durable.Schedule(ctx, hold, delay); err != nil {
		return err
	}
	if err := l.local.Schedule(ctx, hold, delay); err != nil {
		l.logger.Warn("local timer not scheduled, relying on poller",
			zap.Error(err),
			zap.String("hold_id", hold.ID),
		)
	}
	return nil
}
