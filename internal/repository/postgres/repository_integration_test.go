//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"

	"github.com/shestoi/stockhold/internal/repository"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		postgres.WithDatabase("reservation"),
		postgres.WithUsername("reservation_user"),
		postgres.WithPassword("reservation_password"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	defer db.Close()

	var pingErr error
	for i := 0; i < 10; i++ {
		if pingErr = db.PingContext(ctx); pingErr == nil {
			break
		}
		time.Sleep(time.Second)
	}
	require.NoError(t, pingErr, "Failed to ping database after retries")
	require.NoError(t, MigrateDB(ctx, db))

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestRepository_Integration(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	stock := NewStockRepository(pool)
	orders := NewOrderRepository(pool)
	outbox := NewOutboxRepository(pool)
	expirations := NewExpirationRepository(pool, 30*time.Second, zap.NewNop())

	t.Run("guarded decrement never oversells", func(t *testing.T) {
		require.NoError(t, stock.UpsertStock(ctx, "p-race", 5))

		var ok atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := stock.DecrementStock(ctx, "p-race", 1); err == nil {
					ok.Add(1)
				}
			}()
		}
		wg.Wait()

		require.Equal(t, int32(5), ok.Load())
		left, err := stock.GetStock(ctx, "p-race")
		require.NoError(t, err)
		require.Equal(t, int64(0), left)

		_, err = stock.DecrementStock(ctx, "p-race", 1)
		require.ErrorIs(t, err, repository.ErrInsufficientStock)
		_, err = stock.DecrementStock(ctx, "p-missing", 1)
		require.ErrorIs(t, err, repository.ErrProductNotFound)
	})

	t.Run("create order finalizes expiration and writes outbox", func(t *testing.T) {
		require.NoError(t, expirations.Schedule(ctx, repository.Expiration{HoldID: "hold_1", ProductID: "p1", Quantity: 2, FireAt: now.Add(time.Minute)}))

		order := repository.Order{ID: "order-1", HoldID: "hold_1", ProductID: "p1", Quantity: 2, PaymentStatus: repository.PaymentStatusCreated, CreatedAt: now}
		event := repository.OutboxEvent{EventID: "evt-1", EventType: "order.created", AggregateID: order.ID, Payload: []byte(`{"order_id":"order-1"}`), CreatedAt: now}
		require.NoError(t, orders.CreateOrder(ctx, order, event))

		n, err := expirations.ProcessDue(ctx, now.Add(2*time.Minute), 10, time.Second, func(context.Context, string) error {
			t.Fatal("finalized expiration must not fire")
			return nil
		})
		require.NoError(t, err)
		require.Zero(t, n)

		err = orders.CreateOrder(ctx, repository.Order{ID: "order-2", HoldID: "hold_1", ProductID: "p1", Quantity: 1, PaymentStatus: "created", CreatedAt: now},
			repository.OutboxEvent{EventID: "evt-2", EventType: "order.created", AggregateID: "order-2", Payload: []byte(`{}`), CreatedAt: now})
		require.ErrorIs(t, err, repository.ErrOrderExists)

		got, err := orders.GetOrder(ctx, order.ID)
		require.NoError(t, err)
		require.Equal(t, order.HoldID, got.HoldID)
		require.Equal(t, order.Quantity, got.Quantity)

		pending, err := outbox.GetPendingOutboxEvents(ctx, 10)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		require.NoError(t, outbox.MarkOutboxEventSent(ctx, "evt-1"))
	})

	t.Run("webhook idempotency", func(t *testing.T) {
		update := repository.PaymentStatusUpdate{IdempotencyKey: "wh-1", OrderID: "order-1", PaymentStatus: "paid", ReceivedAt: now, ExpiresAt: now.Add(24 * time.Hour)}

		var applied atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ev := repository.OutboxEvent{EventID: "wh-evt-" + string(rune('a'+i)), EventType: "order.payment_status_changed", AggregateID: "order-1", Payload: []byte(`{}`), CreatedAt: now}
				res, err := orders.ApplyPaymentStatus(ctx, update, ev)
				if err == nil && !res.Duplicate {
					applied.Add(1)
				}
			}(i)
		}
		wg.Wait()
		require.Equal(t, int32(1), applied.Load())

		got, err := orders.GetOrder(ctx, "order-1")
		require.NoError(t, err)
		require.Equal(t, "paid", got.PaymentStatus)

		later := update
		later.PaymentStatus = "refunded"
		later.ReceivedAt = now.Add(25 * time.Hour)
		later.ExpiresAt = later.ReceivedAt.Add(24 * time.Hour)
		res, err := orders.ApplyPaymentStatus(ctx, later, repository.OutboxEvent{EventID: "wh-evt-late", EventType: "order.payment_status_changed", AggregateID: "order-1", Payload: []byte(`{}`), CreatedAt: now})
		require.NoError(t, err)
		require.False(t, res.Duplicate)
		require.True(t, res.OrderFound)

		unknown := repository.PaymentStatusUpdate{IdempotencyKey: "wh-2", OrderID: "nope", PaymentStatus: "paid", ReceivedAt: now, ExpiresAt: now.Add(time.Hour)}
		res, err = orders.ApplyPaymentStatus(ctx, unknown, repository.OutboxEvent{EventID: "wh-evt-unknown", EventType: "order.payment_status_changed", AggregateID: "nope", Payload: []byte(`{}`), CreatedAt: now})
		require.NoError(t, err)
		require.Equal(t, repository.WebhookResult{}, res)

		purged, err := orders.PurgeExpiredWebhooks(ctx, now.Add(2*time.Hour))
		require.NoError(t, err)
		require.Equal(t, int64(1), purged)
	})

	t.Run("taken expiration blocks order", func(t *testing.T) {
		require.NoError(t, expirations.Schedule(ctx, repository.Expiration{HoldID: "hold_taken", ProductID: "p1", Quantity: 4, FireAt: now}))

		got, ok, err := expirations.Take(ctx, "hold_taken")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "p1", got.ProductID)
		require.Equal(t, int64(4), got.Quantity)

		_, ok, err = expirations.Take(ctx, "hold_taken")
		require.NoError(t, err)
		require.False(t, ok)

		err = orders.CreateOrder(ctx, repository.Order{ID: "order-taken", HoldID: "hold_taken", ProductID: "p1", Quantity: 4, PaymentStatus: "created", CreatedAt: now},
			repository.OutboxEvent{EventID: "evt-taken", EventType: "order.created", AggregateID: "order-taken", Payload: []byte(`{}`), CreatedAt: now})
		require.ErrorIs(t, err, repository.ErrHoldReleased)
		_, err = orders.GetOrder(ctx, "order-taken")
		require.ErrorIs(t, err, repository.ErrOrderNotFound)
	})

	t.Run("expiration retries with backoff", func(t *testing.T) {
		require.NoError(t, expirations.Schedule(ctx, repository.Expiration{HoldID: "hold_retry", ProductID: "p1", Quantity: 1, FireAt: now}))

		calls := 0
		n, err := expirations.ProcessDue(ctx, now, 10, time.Minute, func(context.Context, string) error {
			calls++
			return context.DeadlineExceeded
		})
		require.NoError(t, err)
		require.Equal(t, 1, n)

		n, err = expirations.ProcessDue(ctx, now.Add(30*time.Second), 10, time.Minute, func(context.Context, string) error { return nil })
		require.NoError(t, err)
		require.Zero(t, n, "row is backed off")

		n, err = expirations.ProcessDue(ctx, now.Add(2*time.Minute), 10, time.Minute, func(context.Context, string) error { return nil })
		require.NoError(t, err)
		require.Equal(t, 1, n)
		require.Equal(t, 1, calls)
	})
}
