package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/shestoi/stockhold/internal/clock"
	"github.com/shestoi/stockhold/internal/repository"
)

// HoldConfirmer подтверждение холда; реализуется HoldManager
type HoldConfirmer interface {
	ConfirmHold(ctx context.Context, holdID string) (repository.Hold, error)
	DetachExpiration(ctx context.Context, holdID string) (bool, error)
}

// OrderSettlement превращает активный холд в заказ
type OrderSettlement struct {
	holds  HoldConfirmer
	orders repository.OrderRepository
	alerts AlertPublisher
	clock  clock.Clock
	logger *zap.Logger
}

// NewOrderSettlement создаёт OrderSettlement
func NewOrderSettlement(holds HoldConfirmer, orders repository.OrderRepository, alerts AlertPublisher, c clock.Clock, logger *zap.Logger) *OrderSettlement {
	return &OrderSettlement{
		holds:  holds,
		orders: orders,
		alerts: alerts,
		clock:  c,
		logger: logger,
	}
}

// SettleResult результат оформления заказа
type SettleResult struct {
	OrderID   string
	ProductID string
	Quantity  int64
}

// Settle подтверждает холд и записывает заказ.
// Транзакция заказа забирает запись расписания холда. Если её раньше забрало
// истечение, остаток уже возвращён и заказ не создаётся (ErrHoldNotFoundOrExpired).
// Если заказ записать не удалось, запись расписания снимается, чтобы остаток
// не вернулся сам, отправляется алерт order_create_failed и возвращается ErrOrderCreateFailed.
func (s *OrderSettlement) Settle(ctx context.Context, holdID string) (SettleResult, error) {
	ctx, span := otel.Tracer("reservation/service").Start(ctx, "OrderSettlement.Settle")
	defer span.End()

	hold, err := s.holds.ConfirmHold(ctx, holdID)
	if err != nil {
		return SettleResult{}, err
	}

	now := s.clock.Now()
	order := repository.Order{
		ID:            uuid.NewString(),
		HoldID:        hold.ID,
		ProductID:     hold.ProductID,
		Quantity:      hold.Quantity,
		PaymentStatus: repository.PaymentStatusCreated,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	event, err := newOutboxEvent(EventOrderCreated, order.ID, now, func(eventID string) any {
		return OrderCreatedEvent{
			EventID:       eventID,
			OrderID:       order.ID,
			HoldID:        order.HoldID,
			ProductID:     order.ProductID,
			Quantity:      order.Quantity,
			PaymentStatus: order.PaymentStatus,
			OccurredAt:    now,
		}
	})
	if err == nil {
		err = s.orders.CreateOrder(ctx, order, event)
	}
	if errors.Is(err, repository.ErrHoldReleased) {
		s.logger.Warn("hold expired while order was being created",
			zap.String("hold_id", hold.ID),
			zap.String("product_id", hold.ProductID),
		)
		return SettleResult{}, ErrHoldNotFoundOrExpired
	}
	if err != nil {
		detached, derr := s.holds.DetachExpiration(context.WithoutCancel(ctx), hold.ID)
		if derr == nil && !detached {
			s.logger.Warn("hold expired after failed order write, stock already released",
				zap.Error(err),
				zap.String("hold_id", hold.ID),
			)
			return SettleResult{}, ErrHoldNotFoundOrExpired
		}
		if derr != nil {
			s.logger.Error("failed to detach hold expiration, stock will be released on expiry",
				zap.Error(derr),
				zap.String("hold_id", hold.ID),
			)
			err = fmt.Errorf("%w (expiration kept: %v)", err, derr)
		}
		return SettleResult{}, s.orderCreateFailed(ctx, hold, err)
	}

	s.logger.Info("order created",
		zap.String("order_id", order.ID),
		zap.String("hold_id", hold.ID),
		zap.String("product_id", hold.ProductID),
		zap.Int64("quantity", hold.Quantity),
	)

	return SettleResult{
		OrderID:   order.ID,
		ProductID: order.ProductID,
		Quantity:  order.Quantity,
	}, nil
}

func (s *OrderSettlement) orderCreateFailed(ctx context.Context, hold repository.Hold, cause error) error {
	s.logger.Error("failed to create order for confirmed hold",
		zap.Error(cause),
		zap.String("hold_id", hold.ID),
		zap.String("product_id", hold.ProductID),
		zap.Int64("quantity", hold.Quantity),
	)

	alert := Alert{
		Kind:       AlertOrderCreateFailed,
		HoldID:     hold.ID,
		ProductID:  hold.ProductID,
		Quantity:   hold.Quantity,
		Reason:     cause.Error(),
		OccurredAt: s.clock.Now(),
	}
	if err := s.alerts.PublishAlert(context.WithoutCancel(ctx), alert); err != nil {
		s.logger.Error("failed to publish alert", zap.Error(err), zap.String("kind", string(alert.Kind)))
	}
	return fmt.Errorf("%w: %v", ErrOrderCreateFailed, cause)
}

// GetOrder возвращает заказ по id
func (s *OrderSettlement) GetOrder(ctx context.Context, orderID string) (repository.Order, error) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return repository.Order{}, ErrOrderNotFound
		}
		return repository.Order{}, fmt.Errorf("get order: %w", err)
	}
	return order, nil
}
