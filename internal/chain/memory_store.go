package chain

import (
	"context"
	"sync"
	"time"

	"github.com/BradenHooton/stuffguard/internal/models"
)

// MemoryStore keeps the security state in process memory. It is only
// consistent within a single process.
type MemoryStore struct {
	mu    sync.Mutex
	state *models.SecurityState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Get(ctx context.Context) (*models.SecurityState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == nil {
		return nil, models.ErrNotFound
	}
	state := s.state.Clone()
	return &state, nil
}

func (s *MemoryStore) Initialize(ctx context.Context, state models.SecurityState) (*models.SecurityState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == nil {
		stored := state.Clone()
		s.state = &stored
	}
	out := s.state.Clone()
	return &out, nil
}

func (s *MemoryStore) SwapChain(ctx context.Context, expected, next string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == nil || !s.state.Enabled || s.state.CurrentChain == nil || *s.state.CurrentChain != expected {
		return false, nil
	}
	s.state.CurrentChain = &next
	s.state.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *MemoryStore) Save(ctx context.Context, state models.SecurityState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := state.Clone()
	s.state = &stored
	return nil
}
