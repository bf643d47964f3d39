package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shestoi/stockhold/internal/repository"
)

func TestStockCounter(t *testing.T) {
	ctx := context.Background()
	c := NewStockCounter()

	_, err := c.Reserve(ctx, "p1", 1)
	assert.ErrorIs(t, err, repository.ErrStockNotLoaded)

	loaded, err := c.Load(ctx, "p1", 5)
	require.NoError(t, err)
	assert.True(t, loaded)

	loaded, err = c.Load(ctx, "p1", 100)
	require.NoError(t, err)
	assert.False(t, loaded, "second load must not overwrite")

	remaining, err := c.Reserve(ctx, "p1", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(2), remaining)

	_, err = c.Reserve(ctx, "p1", 3)
	assert.ErrorIs(t, err, repository.ErrInsufficientStock)

	remaining, ok, err := c.Release(ctx, "p1", 3)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(5), remaining)

	require.NoError(t, c.Invalidate(ctx, "p1"))
	_, ok, err = c.Release(ctx, "p1", 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStockRepository(t *testing.T) {
	ctx := context.Background()
	r := NewStockRepository()
	r.SetStock("p1", 2)

	_, err := r.DecrementStock(ctx, "missing", 1)
	assert.ErrorIs(t, err, repository.ErrProductNotFound)

	left, err := r.DecrementStock(ctx, "p1", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(0), left)

	_, err = r.DecrementStock(ctx, "p1", 1)
	assert.ErrorIs(t, err, repository.ErrInsufficientStock)

	left, err = r.IncrementStock(ctx, "p1", 4)
	require.NoError(t, err)
	assert.Equal(t, int64(4), left)
}

func TestHoldStore_TryTransition(t *testing.T) {
	ctx := context.Background()
	s := NewHoldStore()
	require.NoError(t, s.Put(ctx, repository.Hold{ID: "h1", ProductID: "p1", Quantity: 1, Status: repository.HoldStatusActive}))

	_, err := s.TryTransition(ctx, "nope", repository.HoldStatusActive, repository.HoldStatusConfirmed)
	assert.ErrorIs(t, err, repository.ErrHoldNotFound)

	h, err := s.TryTransition(ctx, "h1", repository.HoldStatusActive, repository.HoldStatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, repository.HoldStatusConfirmed, h.Status)
	assert.Equal(t, int64(1), h.Quantity)

	_, err = s.TryTransition(ctx, "h1", repository.HoldStatusActive, repository.HoldStatusExpired)
	assert.ErrorIs(t, err, repository.ErrHoldNotFound, "terminal hold is removed")
}

func TestHoldStore_TryTransitionConflict(t *testing.T) {
	ctx := context.Background()
	s := NewHoldStore()
	require.NoError(t, s.Put(ctx, repository.Hold{ID: "h1", Status: repository.HoldStatusConfirmed}))

	_, err := s.TryTransition(ctx, "h1", repository.HoldStatusActive, repository.HoldStatusExpired)
	assert.ErrorIs(t, err, repository.ErrHoldConflict)
}

func TestHoldStore_ConcurrentTransitionsHaveOneWinner(t *testing.T) {
	ctx := context.Background()
	s := NewHoldStore()
	require.NoError(t, s.Put(ctx, repository.Hold{ID: "h1", Status: repository.HoldStatusActive}))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		to := repository.HoldStatusConfirmed
		if i%2 == 0 {
			to = repository.HoldStatusExpired
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.TryTransition(ctx, "h1", repository.HoldStatusActive, to); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestExpirationRepository_ProcessDue(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r := NewExpirationRepository()

	require.NoError(t, r.Schedule(ctx, repository.Expiration{HoldID: "due-ok", FireAt: now.Add(-time.Second)}))
	require.NoError(t, r.Schedule(ctx, repository.Expiration{HoldID: "due-fail", FireAt: now.Add(-2 * time.Second)}))
	require.NoError(t, r.Schedule(ctx, repository.Expiration{HoldID: "later", FireAt: now.Add(time.Minute)}))

	var handled []string
	n, err := r.ProcessDue(ctx, now, 10, 5*time.Second, func(_ context.Context, holdID string) error {
		handled = append(handled, holdID)
		if holdID == "due-fail" {
			return errors.New("redis unavailable")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"due-fail", "due-ok"}, handled)

	_, ok := r.Get("due-ok")
	assert.False(t, ok)

	failed, ok := r.Get("due-fail")
	require.True(t, ok)
	assert.Equal(t, 1, failed.Attempts)
	assert.Equal(t, "redis unavailable", failed.LastError)
	assert.Equal(t, now.Add(5*time.Second), failed.FireAt)

	_, ok = r.Get("later")
	assert.True(t, ok)
}

func TestExpirationRepository_Take(t *testing.T) {
	ctx := context.Background()
	r := NewExpirationRepository()
	fireAt := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, r.Schedule(ctx, repository.Expiration{HoldID: "h1", ProductID: "p1", Quantity: 3, FireAt: fireAt}))

	got, ok, err := r.Take(ctx, "h1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "p1", got.ProductID)
	assert.Equal(t, int64(3), got.Quantity)
	assert.Equal(t, fireAt, got.FireAt)

	// второй Take ничего не получает: строкой владеет только первый
	_, ok, err = r.Take(ctx, "h1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOrderRepository_CreateOrderAfterExpirationTaken(t *testing.T) {
	ctx := context.Background()
	exp := NewExpirationRepository()
	r := NewOrderRepository(exp)
	require.NoError(t, exp.Schedule(ctx, repository.Expiration{HoldID: "h1", ProductID: "p1", Quantity: 1, FireAt: time.Now()}))
	_, ok, err := exp.Take(ctx, "h1")
	require.NoError(t, err)
	require.True(t, ok)

	err = r.CreateOrder(ctx, repository.Order{ID: "o1", HoldID: "h1", ProductID: "p1", Quantity: 1}, repository.OutboxEvent{EventID: "e1"})
	require.ErrorIs(t, err, repository.ErrHoldReleased)

	_, err = r.GetOrder(ctx, "o1")
	assert.ErrorIs(t, err, repository.ErrOrderNotFound)
	pending, err := r.GetPendingOutboxEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestOrderRepository_CreateOrderCancelsExpiration(t *testing.T) {
	ctx := context.Background()
	exp := NewExpirationRepository()
	r := NewOrderRepository(exp)
	require.NoError(t, exp.Schedule(ctx, repository.Expiration{HoldID: "h1", ProductID: "p1", Quantity: 1, FireAt: time.Now()}))

	order := repository.Order{ID: "o1", HoldID: "h1", ProductID: "p1", Quantity: 1, PaymentStatus: repository.PaymentStatusCreated}
	require.NoError(t, r.CreateOrder(ctx, order, repository.OutboxEvent{EventID: "e1", EventType: "order.created"}))

	_, scheduled := exp.Get("h1")
	assert.False(t, scheduled)

	err := r.CreateOrder(ctx, repository.Order{ID: "o2", HoldID: "h1"}, repository.OutboxEvent{EventID: "e2"})
	assert.ErrorIs(t, err, repository.ErrOrderExists)

	got, err := r.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, order, got)

	pending, err := r.GetPendingOutboxEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.NoError(t, r.MarkOutboxEventSent(ctx, "e1"))
	pending, err = r.GetPendingOutboxEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestOrderRepository_ApplyPaymentStatus(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r := NewOrderRepository(nil)
	require.NoError(t, r.CreateOrder(ctx, repository.Order{ID: "o1", HoldID: "h1", PaymentStatus: repository.PaymentStatusCreated}, repository.OutboxEvent{EventID: "e0"}))

	update := repository.PaymentStatusUpdate{
		IdempotencyKey: "k1",
		OrderID:        "o1",
		PaymentStatus:  "paid",
		ReceivedAt:     now,
		ExpiresAt:      now.Add(24 * time.Hour),
	}

	res, err := r.ApplyPaymentStatus(ctx, update, repository.OutboxEvent{EventID: "e1"})
	require.NoError(t, err)
	assert.Equal(t, repository.WebhookResult{OrderFound: true}, res)

	dup := update
	dup.PaymentStatus = "failed"
	dup.ReceivedAt = now.Add(time.Hour)
	res, err = r.ApplyPaymentStatus(ctx, dup, repository.OutboxEvent{EventID: "e2"})
	require.NoError(t, err)
	assert.True(t, res.Duplicate)

	o, err := r.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, "paid", o.PaymentStatus)

	// после окончания срока хранения ключ принимается заново
	again := update
	again.PaymentStatus = "refunded"
	again.ReceivedAt = now.Add(25 * time.Hour)
	again.ExpiresAt = again.ReceivedAt.Add(24 * time.Hour)
	res, err = r.ApplyPaymentStatus(ctx, again, repository.OutboxEvent{EventID: "e3"})
	require.NoError(t, err)
	assert.False(t, res.Duplicate)

	purged, err := r.PurgeExpiredWebhooks(ctx, now.Add(50*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
}

func TestOrderRepository_ApplyPaymentStatusUnknownOrder(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	r := NewOrderRepository(nil)

	update := repository.PaymentStatusUpdate{IdempotencyKey: "k1", OrderID: "missing", PaymentStatus: "paid", ReceivedAt: now, ExpiresAt: now.Add(time.Hour)}
	res, err := r.ApplyPaymentStatus(ctx, update, repository.OutboxEvent{EventID: "e1"})
	require.NoError(t, err)
	assert.Equal(t, repository.WebhookResult{}, res)

	res, err = r.ApplyPaymentStatus(ctx, update, repository.OutboxEvent{EventID: "e2"})
	require.NoError(t, err)
	assert.True(t, res.Duplicate, "key is recorded even when the order is unknown")
	assert.Empty(t, r.OutboxEvents())
}
