package kafka

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v10"
	"github.com/segmentio/kafka-go"
)

// Config подключение к Kafka.
// Локально (go run) брокер обычно localhost:19092, в docker-compose kafka:9092.
type Config struct {
	// Enabled выключает всю Kafka-интеграцию (outbox, алерты, consumer статусов оплаты)
	Enabled bool `env:"KAFKA_ENABLED" envDefault:"false"`
	// Brokers список брокеров через запятую: "broker1:9092,broker2:9092"
	Brokers []string `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:19092"`
	// ClientID попадает в метаданные соединения
	ClientID string `env:"KAFKA_CLIENT_ID" envDefault:"reservation"`
}

// LoadEnv загружает конфигурацию из переменных окружения (caarlos0/env)
func LoadEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse kafka env: %w", err)
	}
	return cfg.Validate()
}

// Validate проверяет конфигурацию, только если Kafka включена
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if len(c.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when KAFKA_ENABLED=true")
	}
	for _, b := range c.Brokers {
		if strings.TrimSpace(b) == "" {
			return fmt.Errorf("KAFKA_BROKERS contains empty broker address")
		}
	}
	return nil
}

// NewWriter создаёт writer без фиксированного топика: топик задаётся в kafka.Message
func (c Config) NewWriter() *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(c.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

// NewReader создаёт reader для consumer group
func (c Config) NewReader(topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.Brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		Dialer:   &kafka.Dialer{ClientID: c.ClientID, DualStack: true},
	})
}
