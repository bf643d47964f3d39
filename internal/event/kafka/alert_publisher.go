package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shestoi/stockhold/internal/service"
	"github.com/shestoi/stockhold/platform/observability"
)

// AlertPublisher пишет операционные алерты в отдельный топик
type AlertPublisher struct {
	logger *zap.Logger
	writer MessageWriter
	topic  string
}

func NewAlertPublisher(logger *zap.Logger, writer MessageWriter, topic string) *AlertPublisher {
	return &AlertPublisher{logger: logger, writer: writer, topic: topic}
}

// PublishAlert публикует алерт с ключом hold_id; при ошибке Kafka алерт остаётся в логе
func (p *AlertPublisher) PublishAlert(ctx context.Context, alert service.Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte(alert.HoldID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "alert_kind", Value: []byte(alert.Kind)},
		},
	}
	observability.InjectKafka(ctx, &msg)

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("failed to publish alert",
			zap.Error(err),
			zap.String("topic", p.topic),
			zap.String("kind", string(alert.Kind)),
			zap.String("hold_id", alert.HoldID),
			zap.String("product_id", alert.ProductID),
			zap.Int64("quantity", alert.Quantity),
			zap.String("reason", alert.Reason),
		)
		return fmt.Errorf("publish alert: %w", err)
	}

	p.logger.Info("alert published",
		zap.String("topic", p.topic),
		zap.String("kind", string(alert.Kind)),
		zap.String("hold_id", alert.HoldID),
	)
	return nil
}
