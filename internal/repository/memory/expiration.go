package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shestoi/stockhold/internal/repository"
)

// ExpirationRepository in-memory расписание истечения.
// Записи, которые сейчас обрабатываются, помечаются claimed и не выдаются повторно.
type ExpirationRepository struct {
	mu      sync.Mutex
	entries map[string]repository.Expiration
	claimed map[string]bool
}

func NewExpirationRepository() *ExpirationRepository {
	return &ExpirationRepository{
		entries: make(map[string]repository.Expiration),
		claimed: make(map[string]bool),
	}
}

func (r *ExpirationRepository) Schedule(_ context.Context, exp repository.Expiration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	exp.Attempts = 0
	exp.LastError = ""
	r.entries[exp.HoldID] = exp
	return nil
}

func (r *ExpirationRepository) Take(_ context.Context, holdID string) (repository.Expiration, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[holdID]
	if ok {
		delete(r.entries, holdID)
	}
	return e, ok, nil
}

func (r *ExpirationRepository) Cancel(_ context.Context, holdID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, holdID)
	return nil
}

// Get возвращает запись расписания (для проверок в тестах)
func (r *ExpirationRepository) Get(holdID string) (repository.Expiration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[holdID]
	return e, ok
}

func (r *ExpirationRepository) ProcessDue(ctx context.Context, now time.Time, limit int, backoff time.Duration, handle repository.ExpirationHandler) (int, error) {
	due := r.claim(now, limit)

	for _, e := range due {
		err := handle(ctx, e.HoldID)

		r.mu.Lock()
		delete(r.claimed, e.HoldID)
		if err == nil {
			delete(r.entries, e.HoldID)
		} else if cur, ok := r.entries[e.HoldID]; ok {
			cur.Attempts++
			cur.LastError = err.Error()
			cur.FireAt = now.Add(backoff * time.Duration(cur.Attempts))
			r.entries[e.HoldID] = cur
		}
		r.mu.Unlock()
	}
	return len(due), nil
}

func (r *ExpirationRepository) claim(now time.Time, limit int) []repository.Expiration {
	r.mu.Lock()
	defer r.mu.Unlock()

	due := make([]repository.Expiration, 0)
	for id, e := range r.entries {
		if r.claimed[id] || e.FireAt.After(now) {
			continue
		}
		due = append(due, e)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].FireAt.Before(due[j].FireAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	for _, e := range due {
		r.claimed[e.HoldID] = true
	}
	return due
}
