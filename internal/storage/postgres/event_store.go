package postgres

import (
	"context"
	"fmt"

	"solana-wallet-lab/internal/domain"
	"solana-wallet-lab/internal/storage"
)

// EventStore implements storage.EventStore using PostgreSQL.
type EventStore struct {
	pool *Pool
}

// NewEventStore creates a new EventStore.
func NewEventStore(pool *Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Compile-time interface check.
var _ storage.EventStore = (*EventStore)(nil)

const eventColumns = `tx_signature, wallet_id, token_mint, token_symbol, observed_at_ms, entry_price, market_cap, recorded_at_ms`

// Append adds a new buy event. Returns ErrDuplicateKey if tx_signature exists.
func (s *EventStore) Append(ctx context.Context, e *domain.BuyEvent) error {
	if e == nil || e.TxSignature == "" || e.WalletID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO buy_events (` + eventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.pool.Exec(ctx, query,
		e.TxSignature, e.WalletID, e.TokenMint, e.TokenSymbol,
		e.ObservedAtMs, e.EntryPrice, e.MarketCap, e.RecordedAtMs,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("append buy event: %w", err)
	}
	return nil
}

// GetBySignature retrieves an event by tx_signature.
func (s *EventStore) GetBySignature(ctx context.Context, txSignature string) (*domain.BuyEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM buy_events WHERE tx_signature = $1`

	row := s.pool.QueryRow(ctx, query, txSignature)
	e, err := scanEvent(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get buy event by signature: %w", err)
	}
	return e, nil
}

// GetByWallet retrieves all events for a wallet, ordered by observed_at ASC.
func (s *EventStore) GetByWallet(ctx context.Context, walletID string) ([]*domain.BuyEvent, error) {
	query := `
		SELECT ` + eventColumns + ` FROM buy_events
		WHERE wallet_id = $1
		ORDER BY observed_at_ms ASC, tx_signature ASC
	`

	rows, err := s.pool.Query(ctx, query, walletID)
	if err != nil {
		return nil, fmt.Errorf("get buy events by wallet: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// GetAll retrieves all events ordered by observed_at ASC.
func (s *EventStore) GetAll(ctx context.Context) ([]*domain.BuyEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM buy_events ORDER BY observed_at_ms ASC, tx_signature ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get all buy events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// LastObservedAt returns max(observed_at) for a wallet.
func (s *EventStore) LastObservedAt(ctx context.Context, walletID string) (int64, error) {
	query := `SELECT MAX(observed_at_ms) FROM buy_events WHERE wallet_id = $1`

	var last *int64
	if err := s.pool.QueryRow(ctx, query, walletID).Scan(&last); err != nil {
		return 0, fmt.Errorf("last observed at: %w", err)
	}
	if last == nil {
		return 0, storage.ErrNotFound
	}
	return *last, nil
}

// rowScanner abstracts pgx.Row and pgx.Rows for shared scanning.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*domain.BuyEvent, error) {
	var e domain.BuyEvent
	err := row.Scan(
		&e.TxSignature, &e.WalletID, &e.TokenMint, &e.TokenSymbol,
		&e.ObservedAtMs, &e.EntryPrice, &e.MarketCap, &e.RecordedAtMs,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func scanEvents(rows interface {
	rowScanner
	Next() bool
	Err() error
}) ([]*domain.BuyEvent, error) {
	var out []*domain.BuyEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan buy event: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate buy events: %w", err)
	}
	return out, nil
}
