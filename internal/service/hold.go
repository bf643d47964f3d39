package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/shestoi/stockhold/internal/clock"
	"github.com/shestoi/stockhold/internal/repository"
)

const (
	defaultHoldTTL         = 2 * time.Minute
	defaultReleaseAttempts = 5
	defaultReleaseBackoff  = 200 * time.Millisecond
)

// HoldManager создаёт, подтверждает и истекает холды.
// Единственная точка, где решается судьба холда, это HoldStore.TryTransition:
// подтверждение и истечение конкурируют за переход из ACTIVE, выигрывает ровно один.
type HoldManager struct {
	stock     Stock
	holds     repository.HoldStore
	scheduler ExpirationScheduler
	// expirations nil, если расписание не durable (тесты, in-memory режим)
	expirations ScheduledExpirations
	alerts      AlertPublisher
	metrics   HoldMetrics
	clock     clock.Clock
	logger    *zap.Logger

	ttl             time.Duration
	releaseAttempts int
	releaseBackoff  time.Duration
}

// HoldOption настройка HoldManager
type HoldOption func(*HoldManager)

// WithHoldTTL время жизни холда
func WithHoldTTL(ttl time.Duration) HoldOption {
	return func(m *HoldManager) { m.ttl = ttl }
}

// WithClock источник времени
func WithClock(c clock.Clock) HoldOption {
	return func(m *HoldManager) { m.clock = c }
}

// WithMetrics счётчики событий холдов
func WithMetrics(metrics HoldMetrics) HoldOption {
	return func(m *HoldManager) { m.metrics = metrics }
}

// WithScheduledExpirations durable записи расписания.
// Запись холда забирается перед возвратом остатка, и по ней возвращается остаток
// холда, пропавшего из HoldStore.
func WithScheduledExpirations(expirations ScheduledExpirations) HoldOption {
	return func(m *HoldManager) { m.expirations = expirations }
}

// WithReleaseRetry сколько раз и с какой начальной паузой повторять возврат остатка
func WithReleaseRetry(attempts int, backoff time.Duration) HoldOption {
	return func(m *HoldManager) {
		m.releaseAttempts = attempts
		m.releaseBackoff = backoff
	}
}

// NewHoldManager создаёт HoldManager
func NewHoldManager(
	stock Stock,
	holds repository.HoldStore,
	scheduler ExpirationScheduler,
	alerts AlertPublisher,
	logger *zap.Logger,
	opts ...HoldOption,
) *HoldManager {
	m := &HoldManager{
		stock:           stock,
		holds:           holds,
		scheduler:       scheduler,
		alerts:          alerts,
		metrics:         noopHoldMetrics{},
		clock:           clock.NewSystem(),
		logger:          logger,
		ttl:             defaultHoldTTL,
		releaseAttempts: defaultReleaseAttempts,
		releaseBackoff:  defaultReleaseBackoff,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateHoldResult результат создания холда
type CreateHoldResult struct {
	HoldID string
	// NewQuantity остаток продукта сразу после резерва
	NewQuantity int64
	ExpiresAt   time.Time
}

// CreateHold резервирует quantity единиц продукта и ставит истечение через TTL
func (m *HoldManager) CreateHold(ctx context.Context, productID string, quantity int64) (CreateHoldResult, error) {
	ctx, span := otel.Tracer("reservation/service").Start(ctx, "HoldManager.CreateHold")
	defer span.End()
	span.SetAttributes(attribute.String("product_id", productID), attribute.Int64("quantity", quantity))

	if quantity < 1 {
		return CreateHoldResult{}, ErrInvalidQuantity
	}

	remaining, err := m.stock.Reserve(ctx, productID, quantity)
	if err != nil {
		if errors.Is(err, ErrInsufficientStock) {
			m.metrics.RecordHoldEvent(ctx, HoldEventRejected)
		}
		return CreateHoldResult{}, err
	}

	now := m.clock.Now()
	hold := repository.Hold{
		ID:        newHoldID(),
		ProductID: productID,
		Quantity:  quantity,
		Status:    repository.HoldStatusActive,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}

	if err := m.holds.Put(ctx, hold); err != nil {
		m.logger.Error("failed to store hold, releasing reserved stock",
			zap.Error(err),
			zap.String("product_id", productID),
			zap.Int64("quantity", quantity),
		)
		m.releaseWithRetry(ctx, hold)
		return CreateHoldResult{}, fmt.Errorf("store hold: %w", err)
	}

	if err := m.scheduler.Schedule(ctx, hold, m.ttl); err != nil {
		m.logger.Error("failed to schedule hold expiration, expiring immediately",
			zap.Error(err),
			zap.String("hold_id", hold.ID),
		)
		if _, terr := m.holds.TryTransition(ctx, hold.ID, repository.HoldStatusActive, repository.HoldStatusExpired); terr == nil {
			// запись могла всё же сохраниться: забираем её, чтобы поллер не вернул остаток второй раз
			if m.expirations != nil {
				if _, _, err := m.expirations.Take(ctx, hold.ID); err != nil {
					m.logger.Warn("failed to drop expiration record", zap.Error(err), zap.String("hold_id", hold.ID))
				}
			}
			m.releaseWithRetry(ctx, hold)
		}
		return CreateHoldResult{}, fmt.Errorf("schedule hold expiration: %w", err)
	}

	m.metrics.RecordHoldEvent(ctx, HoldEventCreated)
	m.logger.Info("hold created",
		zap.String("hold_id", hold.ID),
		zap.String("product_id", productID),
		zap.Int64("quantity", quantity),
		zap.Int64("new_quantity", remaining),
		zap.Time("expires_at", hold.ExpiresAt),
	)

	return CreateHoldResult{
		HoldID:      hold.ID,
		NewQuantity: remaining,
		ExpiresAt:   hold.ExpiresAt,
	}, nil
}

// ConfirmHold переводит холд ACTIVE -> CONFIRMED и возвращает его.
// ErrHoldNotFoundOrExpired если холда нет или он уже не ACTIVE.
func (m *HoldManager) ConfirmHold(ctx context.Context, holdID string) (repository.Hold, error) {
	hold, err := m.holds.TryTransition(ctx, holdID, repository.HoldStatusActive, repository.HoldStatusConfirmed)
	if err != nil {
		if errors.Is(err, repository.ErrHoldNotFound) || errors.Is(err, repository.ErrHoldConflict) {
			return repository.Hold{}, ErrHoldNotFoundOrExpired
		}
		return repository.Hold{}, fmt.Errorf("confirm hold: %w", err)
	}
	m.metrics.RecordHoldEvent(ctx, HoldEventConfirmed)
	return hold, nil
}

// ExpireHold действие планировщика: ACTIVE -> EXPIRED и возврат остатка.
// Если холд уже подтверждён или истёк, ничего не делает.
// Остаток возвращает тот, кто забрал запись расписания, поэтому повторное
// и конкурентное срабатывание не возвращает его дважды.
// Ошибка означает, что планировщику нужно повторить.
func (m *HoldManager) ExpireHold(ctx context.Context, holdID string) error {
	hold, err := m.holds.TryTransition(ctx, holdID, repository.HoldStatusActive, repository.HoldStatusExpired)
	switch {
	case errors.Is(err, repository.ErrHoldNotFound):
		return m.expireLostHold(ctx, holdID)
	case errors.Is(err, repository.ErrHoldConflict):
		m.logger.Debug("hold already settled, nothing to expire", zap.String("hold_id", holdID))
		return nil
	case err != nil:
		return fmt.Errorf("expire hold %s: %w", holdID, err)
	}

	if m.expirations != nil {
		_, taken, err := m.expirations.Take(ctx, holdID)
		if err != nil {
			// холд уже EXPIRED: повтор пойдёт через expireLostHold
			return fmt.Errorf("take expiration %s: %w", holdID, err)
		}
		if !taken {
			m.logger.Debug("expiration record already taken, stock released elsewhere", zap.String("hold_id", holdID))
			return nil
		}
	}

	m.releaseWithRetry(ctx, hold)
	m.metrics.RecordHoldEvent(ctx, HoldEventExpired)
	m.logger.Info("hold expired",
		zap.String("hold_id", hold.ID),
		zap.String("product_id", hold.ProductID),
		zap.Int64("quantity", hold.Quantity),
	)
	return nil
}

// DetachExpiration забирает запись расписания подтверждённого холда, заказ которого
// записать не удалось: остаток остаётся списанным до ручной сверки.
// false означает, что запись уже забрало истечение и остаток возвращён.
func (m *HoldManager) DetachExpiration(ctx context.Context, holdID string) (bool, error) {
	if m.expirations == nil {
		return true, nil
	}
	_, taken, err := m.expirations.Take(ctx, holdID)
	if err != nil {
		return false, fmt.Errorf("take expiration %s: %w", holdID, err)
	}
	return taken, nil
}

// expireLostHold холда в HoldStore нет. Завершённый холд уже забрал свою запись
// расписания (истечение или транзакция заказа), поэтому оставшаяся запись означает
// ACTIVE холд, потерянный хранилищем (вытеснение по TTL, рестарт Redis без персистентности).
// Остаток возвращается по данным записи.
func (m *HoldManager) expireLostHold(ctx context.Context, holdID string) error {
	if m.expirations == nil {
		m.logger.Debug("hold already settled, nothing to expire", zap.String("hold_id", holdID))
		return nil
	}

	exp, taken, err := m.expirations.Take(ctx, holdID)
	if err != nil {
		return fmt.Errorf("take expiration %s: %w", holdID, err)
	}
	if !taken {
		m.logger.Debug("hold already settled, nothing to expire", zap.String("hold_id", holdID))
		return nil
	}

	hold := repository.Hold{
		ID:        exp.HoldID,
		ProductID: exp.ProductID,
		Quantity:  exp.Quantity,
		Status:    repository.HoldStatusExpired,
	}
	if hold.ProductID == "" || hold.Quantity < 1 {
		m.metrics.RecordHoldEvent(ctx, HoldEventReleaseFailed)
		m.logger.Error("hold record lost and expiration has no stock data",
			zap.String("hold_id", holdID),
		)
		m.publishAlert(ctx, Alert{
			Kind:       AlertStockReleaseFailed,
			HoldID:     holdID,
			Reason:     "hold record lost, expiration has no stock data",
			OccurredAt: m.clock.Now(),
		})
		return nil
	}

	m.logger.Error("hold record lost, releasing stock from expiration record",
		zap.String("hold_id", holdID),
		zap.String("product_id", hold.ProductID),
		zap.Int64("quantity", hold.Quantity),
	)
	m.releaseWithRetry(ctx, hold)
	m.metrics.RecordHoldEvent(ctx, HoldEventExpired)
	return nil
}

// releaseWithRetry возвращает остаток с экспоненциальной паузой между попытками.
// Когда попытки кончились, отправляется алерт stock_release_failed.
func (m *HoldManager) releaseWithRetry(ctx context.Context, hold repository.Hold) {
	var lastErr error
	backoff := m.releaseBackoff

	for attempt := 1; ; attempt++ {
		lastErr = m.stock.Release(ctx, hold.ProductID, hold.Quantity)
		if lastErr == nil {
			return
		}

		m.logger.Warn("failed to release stock",
			zap.Error(lastErr),
			zap.String("hold_id", hold.ID),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", m.releaseAttempts),
		)

		if attempt >= m.releaseAttempts {
			break
		}
		if err := sleepCtx(ctx, backoff); err != nil {
			lastErr = err
			break
		}
		backoff *= 2
	}

	m.metrics.RecordHoldEvent(ctx, HoldEventReleaseFailed)
	m.logger.Error("stock release exhausted retries",
		zap.Error(lastErr),
		zap.String("hold_id", hold.ID),
		zap.String("product_id", hold.ProductID),
		zap.Int64("quantity", hold.Quantity),
	)
	m.publishAlert(ctx, Alert{
		Kind:       AlertStockReleaseFailed,
		HoldID:     hold.ID,
		ProductID:  hold.ProductID,
		Quantity:   hold.Quantity,
		Reason:     errString(lastErr),
		OccurredAt: m.clock.Now(),
	})
}

func (m *HoldManager) publishAlert(ctx context.Context, alert Alert) {
	if err := m.alerts.PublishAlert(context.WithoutCancel(ctx), alert); err != nil {
		m.logger.Error("failed to publish alert", zap.Error(err), zap.String("kind", string(alert.Kind)))
	}
}

func newHoldID() string {
	return "hold_" + uuid.NewString()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
