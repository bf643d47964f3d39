package repository

import "time"

// HoldStatus статус временного резерва
type HoldStatus string

const (
	HoldStatusActive    HoldStatus = "ACTIVE"
	HoldStatusConfirmed HoldStatus = "CONFIRMED"
	HoldStatusExpired   HoldStatus = "EXPIRED"
)

// IsTerminal из CONFIRMED и EXPIRED переходов нет
func (s HoldStatus) IsTerminal() bool {
	return s == HoldStatusConfirmed || s == HoldStatusExpired
}

// Hold временный резерв количества товара под будущий заказ
type Hold struct {
	ID        string
	ProductID string
	Quantity  int64
	Status    HoldStatus
	CreatedAt time.Time
	ExpiresAt time.Time
}

// PaymentStatusCreated начальный статус оплаты нового заказа
const PaymentStatusCreated = "created"

// Order заказ, созданный из подтверждённого холда
type Order struct {
	ID            string
	HoldID        string
	ProductID     string
	Quantity      int64
	PaymentStatus string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Expiration запись расписания истечения холда.
// ProductID и Quantity копия холда: по ним остаток возвращается,
// даже если запись холда в HoldStore потеряна.
type Expiration struct {
	HoldID    string
	ProductID string
	Quantity  int64
	FireAt    time.Time
	Attempts  int
	LastError string
}

// PaymentStatusUpdate входящее уведомление платёжного провайдера
type PaymentStatusUpdate struct {
	IdempotencyKey string
	OrderID        string
	PaymentStatus  string
	ReceivedAt     time.Time
	// ExpiresAt после этого момента ключ идемпотентности можно принять повторно
	ExpiresAt time.Time
}

// WebhookResult итог обработки уведомления в хранилище
type WebhookResult struct {
	// Duplicate ключ уже был обработан и ещё не истёк, ничего не изменено
	Duplicate bool
	// OrderFound заказ существовал и статус оплаты обновлён
	OrderFound bool
}

// OutboxEvent доменное событие, которое пишется в одной транзакции с изменением данных
type OutboxEvent struct {
	EventID     string
	EventType   string
	AggregateID string
	Payload     []byte
	Attempts    int
	CreatedAt   time.Time
}
