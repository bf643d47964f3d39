package memory

import (
	"context"
	"sync"

	"github.com/shestoi/stockhold/internal/repository"
)

// HoldStore in-memory хранилище холдов.
// Холд в терминальном статусе удаляется, как и в Redis реализации.
type HoldStore struct {
	mu    sync.Mutex
	holds map[string]repository.Hold
}

func NewHoldStore() *HoldStore {
	return &HoldStore{holds: make(map[string]repository.Hold)}
}

func (s *HoldStore) Put(_ context.Context, hold repository.Hold) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holds[hold.ID] = hold
	return nil
}

func (s *HoldStore) Get(_ context.Context, holdID string) (repository.Hold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.holds[holdID]
	if !ok {
		return repository.Hold{}, repository.ErrHoldNotFound
	}
	return h, nil
}

func (s *HoldStore) TryTransition(_ context.Context, holdID string, from, to repository.HoldStatus) (repository.Hold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.holds[holdID]
	if !ok {
		return repository.Hold{}, repository.ErrHoldNotFound
	}
	if h.Status != from {
		return repository.Hold{}, repository.ErrHoldConflict
	}

	h.Status = to
	if to.IsTerminal() {
		delete(s.holds, holdID)
	} else {
		s.holds[holdID] = h
	}
	return h, nil
}
