package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shestoi/stockhold/internal/clock"
	"github.com/shestoi/stockhold/internal/repository"
)

// ErrNoHandler Run вызван до Register
var ErrNoHandler = errors.New("scheduler: handler is not registered")

// PollerConfig параметры опроса расписания
type PollerConfig struct {
	Interval  time.Duration
	BatchSize int
	// Backoff пауза перед повтором записи, обработка которой упала (умножается на номер попытки)
	Backoff time.Duration
}

// Poller durable планировщик: Schedule пишет запись в ExpirationRepository,
// Run периодически забирает наступившие записи и вызывает зарегистрированный handler.
// Переживает рестарт процесса: незавершённые записи остаются в хранилище.
type Poller struct {
	repo   repository.ExpirationRepository
	clock  clock.Clock
	cfg    PollerConfig
	logger *zap.Logger

	mu      sync.RWMutex
	handler repository.ExpirationHandler
}

// NewPoller создаёт Poller
func NewPoller(repo repository.ExpirationRepository, c clock.Clock, cfg PollerConfig, logger *zap.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 5 * time.Second
	}
	return &Poller{repo: repo, clock: c, cfg: cfg, logger: logger}
}

// Register задаёт действие, выполняемое при наступлении срока
func (p *Poller) Register(handler repository.ExpirationHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = handler
}

// Schedule ставит срабатывание для холда через delay.
// Вместе с записью сохраняются продукт и количество холда.
func (p *Poller) Schedule(ctx context.Context, hold repository.Hold, delay time.Duration) error {
	exp := repository.Expiration{
		HoldID:    hold.ID,
		ProductID: hold.ProductID,
		Quantity:  hold.Quantity,
		FireAt:    p.clock.Now().Add(delay),
	}
	if err := p.repo.Schedule(ctx, exp); err != nil {
		return fmt.Errorf("schedule %s: %w", hold.ID, err)
	}
	return nil
}

// Run опрашивает расписание до отмены ctx
func (p *Poller) Run(ctx context.Context) error {
	p.mu.RLock()
	registered := p.handler != nil
	p.mu.RUnlock()
	if !registered {
		return ErrNoHandler
	}

	p.logger.Info("starting expiration poller",
		zap.Duration("interval", p.cfg.Interval),
		zap.Int("batch_size", p.cfg.BatchSize),
	)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := p.Tick(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error("failed to process due expirations", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			p.logger.Info("expiration poller stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick один проход: обрабатывает наступившие записи, пока батчи заполнены целиком
func (p *Poller) Tick(ctx context.Context) (int, error) {
	p.mu.RLock()
	handler := p.handler
	p.mu.RUnlock()
	if handler == nil {
		return 0, ErrNoHandler
	}

	total := 0
	for {
		n, err := p.repo.ProcessDue(ctx, p.clock.Now(), p.cfg.BatchSize, p.cfg.Backoff, p.wrap(handler))
		total += n
		if err != nil {
			return total, err
		}
		if n < p.cfg.BatchSize || ctx.Err() != nil {
			return total, nil
		}
	}
}

func (p *Poller) wrap(handler repository.ExpirationHandler) repository.ExpirationHandler {
	return func(ctx context.Context, holdID string) error {
		if err := handler(ctx, holdID); err != nil {
			p.logger.Warn("expiration handler failed, will retry",
				zap.Error(err),
				zap.String("hold_id", holdID),
			)
			return err
		}
		return nil
	}
}
