package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shestoi/stockhold/internal/clock"
	"github.com/shestoi/stockhold/internal/repository"
	"github.com/shestoi/stockhold/internal/repository/memory"
)

func testHold(id string) repository.Hold {
	return repository.Hold{ID: id, ProductID: "p1", Quantity: 1}
}

func TestPoller_Tick(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	repo := memory.NewExpirationRepository()
	p := NewPoller(repo, clk, PollerConfig{BatchSize: 2, Backoff: time.Second}, zap.NewNop())

	_, err := p.Tick(ctx)
	require.ErrorIs(t, err, ErrNoHandler)

	var fired []string
	p.Register(func(_ context.Context, holdID string) error {
		fired = append(fired, holdID)
		if holdID == "flaky" && len(fired) < 5 {
			return errors.New("redis timeout")
		}
		return nil
	})

	require.NoError(t, p.Schedule(ctx, testHold("a"), time.Minute))
	require.NoError(t, p.Schedule(ctx, testHold("b"), 2*time.Minute))
	require.NoError(t, p.Schedule(ctx, testHold("c"), 3*time.Minute))
	require.NoError(t, p.Schedule(ctx, testHold("flaky"), 30*time.Second))

	n, err := p.Tick(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	clk.Advance(5 * time.Minute)
	n, err = p.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.ElementsMatch(t, []string{"flaky", "a", "b", "c"}, fired)

	e, pending := repo.Get("flaky")
	require.True(t, pending, "failed expiration stays scheduled")
	require.Equal(t, "p1", e.ProductID)
	require.Equal(t, int64(1), e.Quantity)

	clk.Advance(2 * time.Second)
	n, err = p.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	_, pending = repo.Get("flaky")
	require.False(t, pending)
}

func TestPoller_RunStopsOnCancel(t *testing.T) {
	p := NewPoller(memory.NewExpirationRepository(), clock.NewSystem(), PollerConfig{Interval: time.Millisecond}, zap.NewNop())
	require.ErrorIs(t, p.Run(context.Background()), ErrNoHandler)

	fired := make(chan string, 1)
	p.Register(func(_ context.Context, holdID string) error {
		fired <- holdID
		return nil
	})
	require.NoError(t, p.Schedule(context.Background(), testHold("h1"), 0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	select {
	case id := <-fired:
		require.Equal(t, "h1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("expiration did not fire")
	}

	cancel()
	require.NoError(t, <-done)
}

func TestTimerScheduler(t *testing.T) {
	s := NewTimerScheduler(zap.NewNop())
	require.ErrorIs(t, s.Schedule(context.Background(), testHold("h0"), time.Millisecond), ErrNoHandler)

	var mu sync.Mutex
	var fired []string
	s.Register(func(_ context.Context, holdID string) error {
		mu.Lock()
		defer mu.Unlock()
		fired = append(fired, holdID)
		return nil
	})

	require.NoError(t, s.Schedule(context.Background(), testHold("fast"), 5*time.Millisecond))
	require.NoError(t, s.Schedule(context.Background(), testHold("slow"), time.Hour))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fired) == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, s.Pending())

	require.NoError(t, s.Stop(context.Background()))
	require.Zero(t, s.Pending())
	require.ErrorIs(t, s.Schedule(context.Background(), testHold("late"), time.Millisecond), ErrStopped)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"fast"}, fired)
}

func TestEvery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := make(chan struct{}, 10)

	done := make(chan struct{})
	go func() {
		Every(ctx, "test", time.Millisecond, zap.NewNop(), func(context.Context) error {
			select {
			case calls <- struct{}{}:
			default:
			}
			return errors.New("ignored")
		})
		close(done)
	}()

	<-calls
	<-calls
	cancel()
	<-done
}

func TestLayered_LocalTimerFiresAndDurableRecordSurvives(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	repo := memory.NewExpirationRepository()
	poller := NewPoller(repo, clk, PollerConfig{BatchSize: 10, Backoff: time.Second}, zap.NewNop())
	local := NewTimerScheduler(zap.NewNop())
	s := NewLayered(poller, local, zap.NewNop())

	var mu sync.Mutex
	calls := map[string]int{}
	s.Register(func(_ context.Context, holdID string) error {
		mu.Lock()
		defer mu.Unlock()
		calls[holdID]++
		return nil
	})

	require.NoError(t, s.Schedule(ctx, testHold("h1"), 5*time.Millisecond))

	// локальный таймер срабатывает сам
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls["h1"] == 1
	}, time.Second, 5*time.Millisecond)

	_, scheduled := repo.Get("h1")
	require.True(t, scheduled)

	// poller после рестарта доводит запись до конца
	clk.Advance(time.Second)
	n, err := poller.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	_, scheduled = repo.Get("h1")
	require.False(t, scheduled)

	require.NoError(t, local.Stop(ctx))
	// остановленный таймер не мешает durable записи
	require.NoError(t, s.Schedule(ctx, testHold("h2"), time.Minute))
	_, scheduled = repo.Get("h2")
	require.True(t, scheduled)
}
