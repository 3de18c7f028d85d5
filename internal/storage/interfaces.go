package storage

import (
	"context"

	"solana-wallet-lab/internal/domain"
)

// EventStore provides access to the append-only buy_events ledger.
type EventStore interface {
	// Append adds a new buy event. Returns ErrDuplicateKey if tx_signature exists.
	Append(ctx context.Context, e *domain.BuyEvent) error

	// GetBySignature retrieves an event by tx_signature. Returns ErrNotFound if not exists.
	GetBySignature(ctx context.Context, txSignature string) (*domain.BuyEvent, error)

	// GetByWallet retrieves all events for a wallet, ordered by observed_at ASC.
	GetByWallet(ctx context.Context, walletID string) ([]*domain.BuyEvent, error)

	// GetAll retrieves all events ordered by observed_at ASC (replay support).
	GetAll(ctx context.Context) ([]*domain.BuyEvent, error)

	// LastObservedAt returns max(observed_at) for a wallet.
	// Returns ErrNotFound if the wallet has no events.
	LastObservedAt(ctx context.Context, walletID string) (int64, error)
}

// TaskStore provides access to measurement_tasks storage with claim semantics.
type TaskStore interface {
	// Insert adds a new PENDING task. Returns ErrDuplicateKey if task_id exists.
	Insert(ctx context.Context, t *domain.MeasurementTask) error

	// GetByID retrieves a task by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, taskID string) (*domain.MeasurementTask, error)

	// GetByState retrieves all tasks in a given state, ordered by due_at ASC.
	GetByState(ctx context.Context, state domain.TaskState) ([]*domain.MeasurementTask, error)

	// GetByWallet retrieves all tasks for a wallet, ordered by due_at ASC.
	GetByWallet(ctx context.Context, walletID string) ([]*domain.MeasurementTask, error)

	// ClaimDue atomically transitions up to limit PENDING tasks with
	// due_at <= nowMs into FETCHING and returns them. A task returned by
	// one call is never returned by a concurrent call.
	ClaimDue(ctx context.Context, nowMs int64, limit int) ([]*domain.MeasurementTask, error)

	// MarkCompleted transitions a FETCHING task to COMPLETED.
	// Returns ErrInvalidState if the task is not FETCHING.
	MarkCompleted(ctx context.Context, taskID string, nowMs int64) error

	// Reschedule returns a FETCHING task to PENDING with a new due_at and
	// attempt count (retry with backoff). Returns ErrInvalidState if the
	// task is not FETCHING.
	Reschedule(ctx context.Context, taskID string, dueAtMs int64, attemptCount int, lastError string, nowMs int64) error

	// MarkFailed transitions a PENDING or FETCHING task to terminal FAILED.
	MarkFailed(ctx context.Context, taskID string, attemptCount int, lastError string, nowMs int64) error

	// CancelPending transitions a PENDING task to FAILED without retry
	// (external cancellation, e.g. token delisted).
	// Returns ErrInvalidState if the task is not PENDING.
	CancelPending(ctx context.Context, taskID string, reason string, nowMs int64) error

	// ResetStuck returns every FETCHING task to PENDING with due_at = nowMs.
	// Called once at startup: a task still FETCHING then was orphaned by a
	// crashed worker. Returns the number of tasks reset.
	ResetStuck(ctx context.Context, nowMs int64) (int, error)

	// CountByState returns task counts grouped by state.
	CountByState(ctx context.Context) (map[domain.TaskState]int, error)
}

// RecordStore provides access to performance_records storage.
type RecordStore interface {
	// Insert adds a new record. Returns ErrDuplicateKey if task_id exists
	// (exactly one record per completed task).
	Insert(ctx context.Context, r *domain.PerformanceRecord) error

	// GetByTask retrieves the record for a task. Returns ErrNotFound if not exists.
	GetByTask(ctx context.Context, taskID string) (*domain.PerformanceRecord, error)

	// GetByWallet retrieves all records for a wallet, ordered by measured_at ASC.
	GetByWallet(ctx context.Context, walletID string) ([]*domain.PerformanceRecord, error)

	// GetAll retrieves all records ordered by measured_at ASC. Aggregation
	// cycles read this as a point-in-time snapshot.
	GetAll(ctx context.Context) ([]*domain.PerformanceRecord, error)
}

// CandleStore archives the OHLCV series fetched for each measurement, so a
// record's PNL figures can be audited and re-derived later.
type CandleStore interface {
	// InsertBulk stores the series fetched for one task.
	InsertBulk(ctx context.Context, taskID, tokenMint string, candles []*domain.Candle) error

	// GetByTask retrieves the archived series for a task, ordered by timestamp ASC.
	GetByTask(ctx context.Context, taskID string) ([]*domain.Candle, error)
}
