package memory

import (
	"context"
	"sort"
	"sync"

	"solana-wallet-lab/internal/domain"
	"solana-wallet-lab/internal/storage"
)

// EventStore is an in-memory implementation of storage.EventStore.
type EventStore struct {
	mu   sync.RWMutex
	data map[string]*domain.BuyEvent // keyed by tx_signature
}

// NewEventStore creates a new in-memory event store.
func NewEventStore() *EventStore {
	return &EventStore{
		data: make(map[string]*domain.BuyEvent),
	}
}

var _ storage.EventStore = (*EventStore)(nil)

// Append adds a new buy event. Returns ErrDuplicateKey if tx_signature exists.
func (s *EventStore) Append(_ context.Context, e *domain.BuyEvent) error {
	if e == nil || e.TxSignature == "" || e.WalletID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[e.TxSignature]; exists {
		return storage.ErrDuplicateKey
	}

	cp := *e
	s.data[e.TxSignature] = &cp
	return nil
}

// GetBySignature retrieves an event by tx_signature.
func (s *EventStore) GetBySignature(_ context.Context, txSignature string) (*domain.BuyEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.data[txSignature]
	if !exists {
		return nil, storage.ErrNotFound
	}

	cp := *e
	return &cp, nil
}

// GetByWallet retrieves all events for a wallet, ordered by observed_at ASC.
func (s *EventStore) GetByWallet(_ context.Context, walletID string) ([]*domain.BuyEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.BuyEvent
	for _, e := range s.data {
		if e.WalletID == walletID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sortEventsByObservedAt(out)
	return out, nil
}

// GetAll retrieves all events ordered by observed_at ASC.
func (s *EventStore) GetAll(_ context.Context) ([]*domain.BuyEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.BuyEvent, 0, len(s.data))
	for _, e := range s.data {
		cp := *e
		out = append(out, &cp)
	}
	sortEventsByObservedAt(out)
	return out, nil
}

// LastObservedAt returns max(observed_at) for a wallet.
func (s *EventStore) LastObservedAt(_ context.Context, walletID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var last int64
	found := false
	for _, e := range s.data {
		if e.WalletID == walletID {
			found = true
			if e.ObservedAtMs > last {
				last = e.ObservedAtMs
			}
		}
	}
	if !found {
		return 0, storage.ErrNotFound
	}
	return last, nil
}

// sortEventsByObservedAt orders by observed_at ASC, tx_signature ASC on ties
// for deterministic output.
func sortEventsByObservedAt(events []*domain.BuyEvent) {
	sort.Slice(events, func(i, j int) bool {
		if events[i].ObservedAtMs != events[j].ObservedAtMs {
			return events[i].ObservedAtMs < events[j].ObservedAtMs
		}
		return events[i].TxSignature < events[j].TxSignature
	})
}
