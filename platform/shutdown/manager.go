package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Manager выполняет зарегистрированные функции остановки в обратном порядке (LIFO):
// то, что поднималось последним, гасится первым.
type Manager struct {
	timeout time.Duration
	logger  *zap.Logger

	mu    sync.Mutex
	hooks []hook
	once  sync.Once
}

type hook struct {
	name string
	fn   func(context.Context) error
}

// New создаёт Manager; timeout ограничивает каждую функцию остановки отдельно
func New(timeout time.Duration, logger *zap.Logger) *Manager {
	return &Manager{
		timeout: timeout,
		logger:  logger,
	}
}

// Add регистрирует функцию остановки
func (m *Manager) Add(name string, fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook{name: name, fn: fn})
}

// Wait блокируется до SIGINT/SIGTERM или отмены ctx, затем вызывает Shutdown
func (m *Manager) Wait(ctx context.Context) {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-sigCtx.Done()
	m.logger.Info("Received shutdown signal, starting graceful shutdown")
	m.Shutdown()
}

// Shutdown выполняет функции остановки один раз; повторные вызовы ничего не делают
func (m *Manager) Shutdown() {
	m.once.Do(func() {
		m.mu.Lock()
		hooks := make([]hook, len(m.hooks))
		copy(hooks, m.hooks)
		m.mu.Unlock()

		for i := len(hooks) - 1; i >= 0; i-- {
			h := hooks[i]
			ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
			start := time.Now()
			err := h.fn(ctx)
			cancel()

			if err != nil {
				m.logger.Error("Shutdown function failed",
					zap.String("name", h.name),
					zap.Error(err),
					zap.Duration("duration", time.Since(start)))
				continue
			}
			m.logger.Info("Shutdown function completed",
				zap.String("name", h.name),
				zap.Duration("duration", time.Since(start)))
		}

		m.logger.Info("Graceful shutdown completed")
	})
}

// ShutdownHTTPServer возвращает функцию остановки для http.Server
func ShutdownHTTPServer(srv interface {
	Shutdown(context.Context) error
}) func(context.Context) error {
	return func(ctx context.Context) error {
		return srv.Shutdown(ctx)
	}
}

// DisconnectMongo возвращает функцию остановки для MongoDB клиента
func DisconnectMongo(client interface {
	Disconnect(context.Context) error
}) func(context.Context) error {
	return func(ctx context.Context) error {
		return client.Disconnect(ctx)
	}
}

// ClosePool возвращает функцию остановки для pgxpool.Pool
func ClosePool(pool interface {
	Close()
}) func(context.Context) error {
	return func(context.Context) error {
		pool.Close()
		return nil
	}
}

// CloseWithError подходит для redis.Client, kafka.Writer и kafka.Reader
func CloseWithError(c interface {
	Close() error
}) func(context.Context) error {
	return func(context.Context) error {
		return c.Close()
	}
}

// CancelAndWait отменяет фоновые воркеры и ждёт их завершения в пределах таймаута
func CancelAndWait(cancel context.CancelFunc, wg *sync.WaitGroup) func(context.Context) error {
	return func(ctx context.Context) error {
		cancel()
		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
