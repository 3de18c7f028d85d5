package clickhouse

import (
	"context"
	"fmt"

	"solana-wallet-lab/internal/domain"
	"solana-wallet-lab/internal/storage"
)

// CandleStore implements storage.CandleStore using ClickHouse.
// The archived series is the audit trail behind each performance record.
// Duplicate (task_id, timestamp_ms) rows collapse via ReplacingMergeTree.
type CandleStore struct {
	conn *Conn
}

// NewCandleStore creates a new CandleStore.
func NewCandleStore(conn *Conn) *CandleStore {
	return &CandleStore{conn: conn}
}

// Compile-time interface check.
var _ storage.CandleStore = (*CandleStore)(nil)

// InsertBulk stores the series fetched for one task.
func (s *CandleStore) InsertBulk(ctx context.Context, taskID, tokenMint string, candles []*domain.Candle) error {
	if taskID == "" || tokenMint == "" {
		return storage.ErrInvalidInput
	}
	if len(candles) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO measurement_candles (
			task_id, token_mint, timestamp_ms, open, high, low, close, volume, trade_count
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare candle batch: %w", err)
	}

	for _, c := range candles {
		err = batch.Append(
			taskID, tokenMint, c.TimestampMs,
			c.Open, c.High, c.Low, c.Close, c.Volume, int32(c.TradeCount),
		)
		if err != nil {
			return fmt.Errorf("append candle to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send candle batch: %w", err)
	}

	return nil
}

// GetByTask retrieves the archived series for a task, ordered by timestamp ASC.
func (s *CandleStore) GetByTask(ctx context.Context, taskID string) ([]*domain.Candle, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT timestamp_ms, open, high, low, close, volume, trade_count
		FROM measurement_candles FINAL
		WHERE task_id = ?
		ORDER BY timestamp_ms ASC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("query candles by task: %w", err)
	}
	defer rows.Close()

	var out []*domain.Candle
	for rows.Next() {
		var c domain.Candle
		var tradeCount int32
		if err := rows.Scan(&c.TimestampMs, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &tradeCount); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		c.TradeCount = int(tradeCount)
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candles: %w", err)
	}
	if len(out) == 0 {
		return nil, storage.ErrNotFound
	}
	return out, nil
}
