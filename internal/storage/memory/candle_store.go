package memory

import (
	"context"
	"sync"

	"solana-wallet-lab/internal/domain"
	"solana-wallet-lab/internal/storage"
)

// CandleStore is an in-memory implementation of storage.CandleStore.
type CandleStore struct {
	mu   sync.RWMutex
	data map[string][]*domain.Candle // keyed by task_id
}

// NewCandleStore creates a new in-memory candle archive store.
func NewCandleStore() *CandleStore {
	return &CandleStore{
		data: make(map[string][]*domain.Candle),
	}
}

var _ storage.CandleStore = (*CandleStore)(nil)

// InsertBulk stores the series fetched for one task.
func (s *CandleStore) InsertBulk(_ context.Context, taskID, tokenMint string, candles []*domain.Candle) error {
	if taskID == "" || tokenMint == "" {
		return storage.ErrInvalidInput
	}
	if len(candles) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[taskID]; exists {
		return storage.ErrDuplicateKey
	}

	cp := make([]*domain.Candle, len(candles))
	for i, c := range candles {
		cc := *c
		cp[i] = &cc
	}
	s.data[taskID] = domain.NormalizeCandles(cp)
	return nil
}

// GetByTask retrieves the archived series for a task.
func (s *CandleStore) GetByTask(_ context.Context, taskID string) ([]*domain.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	candles, exists := s.data[taskID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	out := make([]*domain.Candle, len(candles))
	for i, c := range candles {
		cc := *c
		out[i] = &cc
	}
	return out, nil
}
