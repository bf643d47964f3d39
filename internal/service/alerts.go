package service

import (
	"context"

	"go.uber.org/zap"
)

// LogAlertPublisher пишет алерты в лог уровня Error; используется, когда Kafka выключена
type LogAlertPublisher struct {
	logger *zap.Logger
}

func NewLogAlertPublisher(logger *zap.Logger) *LogAlertPublisher {
	return &LogAlertPublisher{logger: logger}
}

func (p *LogAlertPublisher) PublishAlert(_ context.Context, alert Alert) error {
	p.logger.Error("operational alert",
		zap.String("kind", string(alert.Kind)),
		zap.String("hold_id", alert.HoldID),
		zap.String("product_id", alert.ProductID),
		zap.Int64("quantity", alert.Quantity),
		zap.String("reason", alert.Reason),
		zap.Time("occurred_at", alert.OccurredAt),
	)
	return nil
}
