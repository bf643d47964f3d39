package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shestoi/stockhold/internal/repository"
)

// TimerScheduler in-process планировщик на time.AfterFunc.
// Не durable: таймеры теряются при рестарте. Для локального запуска и тестов.
type TimerScheduler struct {
	logger *zap.Logger

	mu      sync.Mutex
	handler repository.ExpirationHandler
	timers  map[string]*time.Timer
	wg      sync.WaitGroup
	stopped bool
}

func NewTimerScheduler(logger *zap.Logger) *TimerScheduler {
	return &TimerScheduler{logger: logger, timers: make(map[string]*time.Timer)}
}

func (s *TimerScheduler) Register(handler repository.ExpirationHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
}

func (s *TimerScheduler) Schedule(_ context.Context, hold repository.Hold, delay time.Duration) error {
	holdID := hold.ID
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if s.handler == nil {
		return ErrNoHandler
	}

	if prev, ok := s.timers[holdID]; ok {
		prev.Stop()
	}
	handler := s.handler
	s.timers[holdID] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return
		}
		delete(s.timers, holdID)
		s.wg.Add(1)
		s.mu.Unlock()
		defer s.wg.Done()

		if err := handler(context.Background(), holdID); err != nil {
			s.logger.Error("timer expiration handler failed",
				zap.Error(err),
				zap.String("hold_id", holdID),
			)
		}
	})
	return nil
}

// Pending число ещё не сработавших таймеров
func (s *TimerScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop отменяет несработавшие таймеры и ждёт уже запущенные обработчики
func (s *TimerScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
