package postgres

import (
	"context"
	"fmt"

	"solana-wallet-lab/internal/domain"
	"solana-wallet-lab/internal/storage"
)

// RecordStore implements storage.RecordStore using PostgreSQL.
type RecordStore struct {
	pool *Pool
}

// NewRecordStore creates a new RecordStore.
func NewRecordStore(pool *Pool) *RecordStore {
	return &RecordStore{pool: pool}
}

// Compile-time interface check.
var _ storage.RecordStore = (*RecordStore)(nil)

const recordColumns = `task_id, tx_signature, wallet_id, token_mint, entry_price,
	highest_price, highest_at_ms, highest_pnl_pct, lowest_price, lowest_pnl_pct,
	close_price, current_pnl_pct, window_start_ms, window_end_ms, data_quality, measured_at_ms`

// Insert adds a new record. Returns ErrDuplicateKey if task_id exists.
func (s *RecordStore) Insert(ctx context.Context, r *domain.PerformanceRecord) error {
	if r == nil || r.TaskID == "" || r.WalletID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO performance_records (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	_, err := s.pool.Exec(ctx, query,
		r.TaskID, r.TxSignature, r.WalletID, r.TokenMint, r.EntryPrice,
		r.HighestPrice, r.HighestAtMs, r.HighestPnlPct, r.LowestPrice, r.LowestPnlPct,
		r.ClosePrice, r.CurrentPnlPct, r.WindowStartMs, r.WindowEndMs, r.DataQuality, r.MeasuredAtMs,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert performance record: %w", err)
	}
	return nil
}

// GetByTask retrieves the record for a task.
func (s *RecordStore) GetByTask(ctx context.Context, taskID string) (*domain.PerformanceRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM performance_records WHERE task_id = $1`

	row := s.pool.QueryRow(ctx, query, taskID)
	r, err := scanRecord(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get record by task: %w", err)
	}
	return r, nil
}

// GetByWallet retrieves all records for a wallet, ordered by measured_at ASC.
func (s *RecordStore) GetByWallet(ctx context.Context, walletID string) ([]*domain.PerformanceRecord, error) {
	query := `
		SELECT ` + recordColumns + ` FROM performance_records
		WHERE wallet_id = $1
		ORDER BY measured_at_ms ASC, task_id ASC
	`

	rows, err := s.pool.Query(ctx, query, walletID)
	if err != nil {
		return nil, fmt.Errorf("get records by wallet: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// GetAll retrieves all records ordered by measured_at ASC.
func (s *RecordStore) GetAll(ctx context.Context) ([]*domain.PerformanceRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM performance_records ORDER BY measured_at_ms ASC, task_id ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get all records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func scanRecord(row rowScanner) (*domain.PerformanceRecord, error) {
	var r domain.PerformanceRecord
	err := row.Scan(
		&r.TaskID, &r.TxSignature, &r.WalletID, &r.TokenMint, &r.EntryPrice,
		&r.HighestPrice, &r.HighestAtMs, &r.HighestPnlPct, &r.LowestPrice, &r.LowestPnlPct,
		&r.ClosePrice, &r.CurrentPnlPct, &r.WindowStartMs, &r.WindowEndMs, &r.DataQuality, &r.MeasuredAtMs,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func scanRecords(rows interface {
	rowScanner
	Next() bool
	Err() error
}) ([]*domain.PerformanceRecord, error) {
	var out []*domain.PerformanceRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}
