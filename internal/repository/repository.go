package repository

import (
	"context"
	"time"
)

// StockCounter быстрый атомарный счётчик доступного остатка (Redis).
// Ключ может отсутствовать: тогда операции возвращают ErrStockNotLoaded и счётчик
// заполняется из StockRepository через Load.
type StockCounter interface {
	// Reserve атомарно проверяет остаток и уменьшает его на qty.
	// ErrInsufficientStock если остатка не хватает, ErrStockNotLoaded если ключа нет.
	Reserve(ctx context.Context, productID string, qty int64) (remaining int64, err error)

	// Release увеличивает остаток на qty, только если ключ существует.
	// loaded=false означает, что ключа не было и ничего не изменено.
	Release(ctx context.Context, productID string, qty int64) (remaining int64, loaded bool, err error)

	// Load устанавливает значение, только если ключа ещё нет (SET NX)
	Load(ctx context.Context, productID string, qty int64) (bool, error)

	// Get текущее значение; ErrStockNotLoaded если ключа нет
	Get(ctx context.Context, productID string) (int64, error)

	// Invalidate удаляет ключ; следующий Reserve перечитает durable значение
	Invalidate(ctx context.Context, productID string) error
}

//go:generate go run github.com/vektra/mockery/v2@v2.53.5 --name=StockRepository --dir=. --output=./mocks --outpkg=mocks

// StockRepository долговременное хранилище остатков (Postgres или MongoDB).
// Именно оно источник истины: остаток не уходит в минус ни при каком порядке операций.
type StockRepository interface {
	// GetStock возвращает остаток; ErrProductNotFound если продукта нет
	GetStock(ctx context.Context, productID string) (int64, error)

	// DecrementStock уменьшает остаток, только если его хватает.
	// ErrInsufficientStock или ErrProductNotFound.
	DecrementStock(ctx context.Context, productID string, qty int64) (int64, error)

	// IncrementStock возвращает количество на склад
	IncrementStock(ctx context.Context, productID string, qty int64) (int64, error)
}

//go:generate go run github.com/vektra/mockery/v2@v2.53.5 --name=HoldStore --dir=. --output=./mocks --outpkg=mocks

// HoldStore хранилище холдов с атомарным compare-and-set по статусу
type HoldStore interface {
	// Put сохраняет новый холд в статусе ACTIVE
	Put(ctx context.Context, hold Hold) error

	// Get возвращает холд; ErrHoldNotFound если его нет
	Get(ctx context.Context, holdID string) (Hold, error)

	// TryTransition атомарно переводит холд из from в to и возвращает его.
	// ErrHoldNotFound если холда нет, ErrHoldConflict если статус не from.
	// Из двух конкурентных вызовов с одинаковым from выигрывает ровно один.
	TryTransition(ctx context.Context, holdID string, from, to HoldStatus) (Hold, error)
}

// ExpirationHandler обрабатывает одну наступившую запись расписания
type ExpirationHandler func(ctx context.Context, holdID string) error

// ExpirationRepository долговременное расписание истечения холдов.
// Запись живёт, пока холд не завершён: её удаляет либо истечение (Take),
// либо транзакция заказа. Кто удалил запись, тот и решил судьбу остатка.
type ExpirationRepository interface {
	// Schedule сохраняет (или перезаписывает) запись на момент exp.FireAt
	Schedule(ctx context.Context, exp Expiration) error

	// Take атомарно удаляет запись и возвращает её; false если записи уже нет
	Take(ctx context.Context, holdID string) (Expiration, bool, error)

	// ProcessDue забирает до limit наступивших записей, которые не обрабатывает
	// другой экземпляр, и вызывает handle для каждой. Успешные записи удаляются,
	// неуспешные переносятся на now+backoff*attempts с сохранением ошибки.
	ProcessDue(ctx context.Context, now time.Time, limit int, backoff time.Duration, handle ExpirationHandler) (int, error)

	// Cancel удаляет запись расписания (холд завершён иначе)
	Cancel(ctx context.Context, holdID string) error
}

//go:generate go run github.com/vektra/mockery/v2@v2.53.5 --name=OrderRepository --dir=. --output=./mocks --outpkg=mocks

// OrderRepository заказы и оплата
type OrderRepository interface {
	// CreateOrder в одной транзакции сохраняет заказ, снимает запись расписания
	// истечения его холда и пишет событие в outbox.
	// ErrOrderExists если заказ по этому холду уже есть,
	// ErrHoldReleased если запись расписания уже забрана истечением.
	CreateOrder(ctx context.Context, order Order, event OutboxEvent) error

	// GetOrder возвращает заказ; ErrOrderNotFound если его нет
	GetOrder(ctx context.Context, orderID string) (Order, error)
}

//go:generate go run github.com/vektra/mockery/v2@v2.53.5 --name=WebhookRepository --dir=. --output=./mocks --outpkg=mocks

// WebhookRepository идемпотентное применение уведомлений об оплате
type WebhookRepository interface {
	// ApplyPaymentStatus в одной транзакции занимает ключ идемпотентности
	// (если он свободен или его срок истёк), обновляет статус оплаты заказа
	// и, если заказ найден, пишет событие в outbox.
	ApplyPaymentStatus(ctx context.Context, update PaymentStatusUpdate, event OutboxEvent) (WebhookResult, error)

	// PurgeExpiredWebhooks удаляет ключи, срок хранения которых истёк к now
	PurgeExpiredWebhooks(ctx context.Context, now time.Time) (int64, error)
}

// OutboxRepository чтение и отметка событий outbox для диспетчера
type OutboxRepository interface {
	// GetPendingOutboxEvents возвращает до limit неотправленных событий в порядке создания
	GetPendingOutboxEvents(ctx context.Context, limit int) ([]OutboxEvent, error)

	// MarkOutboxEventSent помечает событие отправленным
	MarkOutboxEventSent(ctx context.Context, eventID string) error

	// MarkOutboxEventFailed увеличивает attempts и сохраняет ошибку; событие остаётся pending
	MarkOutboxEventFailed(ctx context.Context, eventID string, lastError string) error
}
