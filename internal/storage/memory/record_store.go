package memory

import (
	"context"
	"sort"
	"sync"

	"solana-wallet-lab/internal/domain"
	"solana-wallet-lab/internal/storage"
)

// RecordStore is an in-memory implementation of storage.RecordStore.
type RecordStore struct {
	mu   sync.RWMutex
	data map[string]*domain.PerformanceRecord // keyed by task_id
}

// NewRecordStore creates a new in-memory performance record store.
func NewRecordStore() *RecordStore {
	return &RecordStore{
		data: make(map[string]*domain.PerformanceRecord),
	}
}

var _ storage.RecordStore = (*RecordStore)(nil)

// Insert adds a new record. Returns ErrDuplicateKey if task_id exists.
func (s *RecordStore) Insert(_ context.Context, r *domain.PerformanceRecord) error {
	if r == nil || r.TaskID == "" || r.WalletID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[r.TaskID]; exists {
		return storage.ErrDuplicateKey
	}

	cp := *r
	s.data[r.TaskID] = &cp
	return nil
}

// GetByTask retrieves the record for a task.
func (s *RecordStore) GetByTask(_ context.Context, taskID string) (*domain.PerformanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.data[taskID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	cp := *r
	return &cp, nil
}

// GetByWallet retrieves all records for a wallet, ordered by measured_at ASC.
func (s *RecordStore) GetByWallet(_ context.Context, walletID string) ([]*domain.PerformanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.PerformanceRecord
	for _, r := range s.data {
		if r.WalletID == walletID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sortRecordsByMeasuredAt(out)
	return out, nil
}

// GetAll retrieves all records ordered by measured_at ASC.
func (s *RecordStore) GetAll(_ context.Context) ([]*domain.PerformanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.PerformanceRecord, 0, len(s.data))
	for _, r := range s.data {
		cp := *r
		out = append(out, &cp)
	}
	sortRecordsByMeasuredAt(out)
	return out, nil
}

// sortRecordsByMeasuredAt orders by measured_at ASC, task_id ASC on ties.
func sortRecordsByMeasuredAt(records []*domain.PerformanceRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].MeasuredAtMs != records[j].MeasuredAtMs {
			return records[i].MeasuredAtMs < records[j].MeasuredAtMs
		}
		return records[i].TaskID < records[j].TaskID
	})
}
