package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// DLQPublisher откладывает сообщения, которые consumer не смог применить
type DLQPublisher struct {
	logger *zap.Logger
	writer MessageWriter
	topic  string
}

func NewDLQPublisher(logger *zap.Logger, writer MessageWriter, topic string) *DLQPublisher {
	return &DLQPublisher{logger: logger, writer: writer, topic: topic}
}

// DLQMessage исходное сообщение с причиной отказа
type DLQMessage struct {
	OriginalTopic     string    `json:"original_topic"`
	OriginalPartition int       `json:"original_partition"`
	OriginalOffset    int64     `json:"original_offset"`
	OriginalKey       string    `json:"original_key"`
	OriginalValue     string    `json:"original_value"`
	ErrorMessage      string    `json:"error_message"`
	FailedAt          time.Time `json:"failed_at"`
}

// Publish пишет сообщение в DLQ с тем же ключом
func (p *DLQPublisher) Publish(ctx context.Context, original kafka.Message, cause error) error {
	errMsg := ""
	if cause != nil {
		errMsg = cause.Error()
	}
	payload, err := json.Marshal(DLQMessage{
		OriginalTopic:     original.Topic,
		OriginalPartition: original.Partition,
		OriginalOffset:    original.Offset,
		OriginalKey:       string(original.Key),
		OriginalValue:     string(original.Value),
		ErrorMessage:      errMsg,
		FailedAt:          time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal DLQ message: %w", err)
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{Topic: p.topic, Key: original.Key, Value: payload}); err != nil {
		return fmt.Errorf("publish to DLQ: %w", err)
	}

	p.logger.Info("message published to DLQ",
		zap.String("dlq_topic", p.topic),
		zap.String("original_topic", original.Topic),
		zap.Int("original_partition", original.Partition),
		zap.Int64("original_offset", original.Offset),
		zap.String("error_message", errMsg),
	)
	return nil
}
