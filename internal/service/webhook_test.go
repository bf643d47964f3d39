package service_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shestoi/stockhold/internal/clock"
	"github.com/shestoi/stockhold/internal/repository"
	"github.com/shestoi/stockhold/internal/repository/memory"
	repoMocks "github.com/shestoi/stockhold/internal/repository/mocks"
	"github.com/shestoi/stockhold/internal/service"
)

func seededOrders(t *testing.T) *memory.OrderRepository {
	t.Helper()
	orders := memory.NewOrderRepository(nil)
	require.NoError(t, orders.CreateOrder(context.Background(),
		repository.Order{ID: "o1", HoldID: "h1", ProductID: "p1", Quantity: 1, PaymentStatus: repository.PaymentStatusCreated, CreatedAt: testNow},
		repository.OutboxEvent{EventID: "seed", EventType: service.EventOrderCreated, CreatedAt: testNow}))
	return orders
}

func TestWebhookIngestor_Ingest(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		input      service.PaymentStatusUpdate
		wantStatus service.IngestStatus
		wantErr    error
	}{
		{
			name:       "applies payment status",
			input:      service.PaymentStatusUpdate{IdempotencyKey: "k1", OrderID: "o1", PaymentStatus: "paid"},
			wantStatus: service.IngestApplied,
		},
		{
			name:       "unknown order is still applied",
			input:      service.PaymentStatusUpdate{IdempotencyKey: "k2", OrderID: "o-missing", PaymentStatus: "paid"},
			wantStatus: service.IngestApplied,
		},
		{
			name:    "missing key",
			input:   service.PaymentStatusUpdate{OrderID: "o1", PaymentStatus: "paid"},
			wantErr: service.ErrInvalidWebhook,
		},
		{
			name:    "missing status",
			input:   service.PaymentStatusUpdate{IdempotencyKey: "k3", OrderID: "o1"},
			wantErr: service.ErrInvalidWebhook,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			ingestor := service.NewWebhookIngestor(seededOrders(t), clock.NewManual(testNow), 24*time.Hour, zap.NewNop())

			// Act
			status, err := ingestor.Ingest(ctx, tt.input)

			// Assert
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantStatus, status)
		})
	}
}

func TestWebhookIngestor_DuplicateWithinRetention(t *testing.T) {
	ctx := context.Background()
	orders := seededOrders(t)
	clk := clock.NewManual(testNow)
	ingestor := service.NewWebhookIngestor(orders, clk, 24*time.Hour, zap.NewNop())

	status, err := ingestor.Ingest(ctx, service.PaymentStatusUpdate{IdempotencyKey: "k1", OrderID: "o1", PaymentStatus: "paid"})
	require.NoError(t, err)
	require.Equal(t, service.IngestApplied, status)

	clk.Advance(23 * time.Hour)
	status, err = ingestor.Ingest(ctx, service.PaymentStatusUpdate{IdempotencyKey: "k1", OrderID: "o1", PaymentStatus: "failed"})
	require.NoError(t, err)
	require.Equal(t, service.IngestDuplicateIgnored, status)

	order, err := orders.GetOrder(ctx, "o1")
	require.NoError(t, err)
	require.Equal(t, "paid", order.PaymentStatus)

	// после срока хранения тот же ключ обрабатывается заново
	clk.Advance(2 * time.Hour)
	status, err = ingestor.Ingest(ctx, service.PaymentStatusUpdate{IdempotencyKey: "k1", OrderID: "o1", PaymentStatus: "refunded"})
	require.NoError(t, err)
	require.Equal(t, service.IngestApplied, status)

	order, err = orders.GetOrder(ctx, "o1")
	require.NoError(t, err)
	require.Equal(t, "refunded", order.PaymentStatus)

	var changed int
	for _, e := range orders.OutboxEvents() {
		if e.EventType == service.EventOrderPaymentStatusChanged {
			changed++
		}
	}
	require.Equal(t, 2, changed)
}

func TestWebhookIngestor_ConcurrentDuplicatesApplyOnce(t *testing.T) {
	ctx := context.Background()
	ingestor := service.NewWebhookIngestor(seededOrders(t), clock.NewManual(testNow), 0, zap.NewNop())

	var applied atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status, err := ingestor.Ingest(ctx, service.PaymentStatusUpdate{IdempotencyKey: "same", OrderID: "o1", PaymentStatus: "paid"})
			if err == nil && status == service.IngestApplied {
				applied.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), applied.Load())
}

func TestWebhookIngestor_RepositoryError(t *testing.T) {
	ctx := context.Background()
	repo := repoMocks.NewWebhookRepository(t)
	ingestor := service.NewWebhookIngestor(repo, clock.NewManual(testNow), time.Hour, zap.NewNop())

	repo.On("ApplyPaymentStatus", mock.Anything, mock.MatchedBy(func(u repository.PaymentStatusUpdate) bool {
		return u.IdempotencyKey == "k1" && u.ReceivedAt.Equal(testNow) && u.ExpiresAt.Equal(testNow.Add(time.Hour))
	}), mock.AnythingOfType("repository.OutboxEvent")).Return(repository.WebhookResult{}, errors.New("db down")).Once()

	_, err := ingestor.Ingest(ctx, service.PaymentStatusUpdate{IdempotencyKey: "k1", OrderID: "o1", PaymentStatus: "paid"})
	require.Error(t, err)
}

func TestWebhookIngestor_PurgeExpired(t *testing.T) {
	ctx := context.Background()
	repo := repoMocks.NewWebhookRepository(t)
	ingestor := service.NewWebhookIngestor(repo, clock.NewManual(testNow), time.Hour, zap.NewNop())

	repo.On("PurgeExpiredWebhooks", mock.Anything, testNow).Return(int64(3), nil).Once()
	require.NoError(t, ingestor.PurgeExpired(ctx))

	repo.On("PurgeExpiredWebhooks", mock.Anything, testNow).Return(int64(0), errors.New("db down")).Once()
	require.Error(t, ingestor.PurgeExpired(ctx))
}
