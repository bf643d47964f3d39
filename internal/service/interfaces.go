package service

import (
	"context"
	"time"

	"github.com/shestoi/stockhold/internal/repository"
)

//go:generate go run github.com/vektra/mockery/v2@v2.53.5 --name=Stock --dir=. --output=./mocks --outpkg=mocks

// Stock резервирование и возврат остатков; реализуется StockLedger
type Stock interface {
	Reserve(ctx context.Context, productID string, qty int64) (int64, error)
	Release(ctx context.Context, productID string, qty int64) error
}

//go:generate go run github.com/vektra/mockery/v2@v2.53.5 --name=ExpirationScheduler --dir=. --output=./mocks --outpkg=mocks

// ExpirationScheduler откладывает истечение холда на delay.
// Действие, которое выполнится, регистрируется в планировщике один раз при сборке приложения.
type ExpirationScheduler interface {
	Schedule(ctx context.Context, hold repository.Hold, delay time.Duration) error
}

// ScheduledExpirations записи durable расписания; реализуется ExpirationRepository
type ScheduledExpirations interface {
	Take(ctx context.Context, holdID string) (repository.Expiration, bool, error)
}

//go:generate go run github.com/vektra/mockery/v2@v2.53.5 --name=AlertPublisher --dir=. --output=./mocks --outpkg=mocks

// AlertPublisher доставляет операционные алерты (Kafka или лог)
type AlertPublisher interface {
	PublishAlert(ctx context.Context, alert Alert) error
}

// HoldEvent событие жизненного цикла холда для метрик
type HoldEvent string

const (
	HoldEventCreated       HoldEvent = "created"
	HoldEventRejected      HoldEvent = "rejected"
	HoldEventConfirmed     HoldEvent = "confirmed"
	HoldEventExpired       HoldEvent = "expired"
	HoldEventReleaseFailed HoldEvent = "release_failed"
)

// HoldMetrics счётчики холдов (OTel meter в app)
type HoldMetrics interface {
	RecordHoldEvent(ctx context.Context, event HoldEvent)
}

type noopHoldMetrics struct{}

func (noopHoldMetrics) RecordHoldEvent(context.Context, HoldEvent) {}
