package postgres

import (
	"context"
	"fmt"

	"solana-wallet-lab/internal/domain"
	"solana-wallet-lab/internal/storage"
)

// TaskStore implements storage.TaskStore using PostgreSQL.
// Claim atomicity relies on a single UPDATE ... RETURNING with
// FOR UPDATE SKIP LOCKED, so concurrent pollers never see the same row.
type TaskStore struct {
	pool *Pool
}

// NewTaskStore creates a new TaskStore.
func NewTaskStore(pool *Pool) *TaskStore {
	return &TaskStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TaskStore = (*TaskStore)(nil)

const taskColumns = `task_id, tx_signature, wallet_id, token_mint, due_at_ms, state, attempt_count, last_error, created_at_ms, updated_at_ms`

// Insert adds a new PENDING task. Returns ErrDuplicateKey if task_id exists.
func (s *TaskStore) Insert(ctx context.Context, t *domain.MeasurementTask) error {
	if t == nil || t.TaskID == "" || t.TxSignature == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO measurement_tasks (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := s.pool.Exec(ctx, query,
		t.TaskID, t.TxSignature, t.WalletID, t.TokenMint,
		t.DueAtMs, t.State, t.AttemptCount, t.LastError,
		t.CreatedAtMs, t.UpdatedAtMs,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert measurement task: %w", err)
	}
	return nil
}

// GetByID retrieves a task by its ID.
func (s *TaskStore) GetByID(ctx context.Context, taskID string) (*domain.MeasurementTask, error) {
	query := `SELECT ` + taskColumns + ` FROM measurement_tasks WHERE task_id = $1`

	row := s.pool.QueryRow(ctx, query, taskID)
	t, err := scanTask(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get task by id: %w", err)
	}
	return t, nil
}

// GetByState retrieves all tasks in a given state, ordered by due_at ASC.
func (s *TaskStore) GetByState(ctx context.Context, state domain.TaskState) ([]*domain.MeasurementTask, error) {
	query := `
		SELECT ` + taskColumns + ` FROM measurement_tasks
		WHERE state = $1
		ORDER BY due_at_ms ASC, task_id ASC
	`

	rows, err := s.pool.Query(ctx, query, state)
	if err != nil {
		return nil, fmt.Errorf("get tasks by state: %w", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

// GetByWallet retrieves all tasks for a wallet, ordered by due_at ASC.
func (s *TaskStore) GetByWallet(ctx context.Context, walletID string) ([]*domain.MeasurementTask, error) {
	query := `
		SELECT ` + taskColumns + ` FROM measurement_tasks
		WHERE wallet_id = $1
		ORDER BY due_at_ms ASC, task_id ASC
	`

	rows, err := s.pool.Query(ctx, query, walletID)
	if err != nil {
		return nil, fmt.Errorf("get tasks by wallet: %w", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

// ClaimDue atomically transitions up to limit due PENDING tasks to FETCHING.
func (s *TaskStore) ClaimDue(ctx context.Context, nowMs int64, limit int) ([]*domain.MeasurementTask, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := `
		UPDATE measurement_tasks
		SET state = $1, updated_at_ms = $2
		WHERE task_id IN (
			SELECT task_id FROM measurement_tasks
			WHERE state = $3 AND due_at_ms <= $4
			ORDER BY due_at_ms ASC, task_id ASC
			LIMIT $5
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + taskColumns + `
	`

	rows, err := s.pool.Query(ctx, query,
		domain.TaskFetching, nowMs, domain.TaskPending, nowMs, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due tasks: %w", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

// MarkCompleted transitions a FETCHING task to COMPLETED.
func (s *TaskStore) MarkCompleted(ctx context.Context, taskID string, nowMs int64) error {
	query := `
		UPDATE measurement_tasks
		SET state = $1, last_error = '', updated_at_ms = $2
		WHERE task_id = $3 AND state = $4
	`

	tag, err := s.pool.Exec(ctx, query, domain.TaskCompleted, nowMs, taskID, domain.TaskFetching)
	if err != nil {
		return fmt.Errorf("mark task completed: %w", err)
	}
	return s.checkTransition(ctx, tag.RowsAffected(), taskID)
}

// Reschedule returns a FETCHING task to PENDING with a new due_at.
func (s *TaskStore) Reschedule(ctx context.Context, taskID string, dueAtMs int64, attemptCount int, lastError string, nowMs int64) error {
	query := `
		UPDATE measurement_tasks
		SET state = $1, due_at_ms = $2, attempt_count = $3, last_error = $4, updated_at_ms = $5
		WHERE task_id = $6 AND state = $7
	`

	tag, err := s.pool.Exec(ctx, query,
		domain.TaskPending, dueAtMs, attemptCount, lastError, nowMs,
		taskID, domain.TaskFetching,
	)
	if err != nil {
		return fmt.Errorf("reschedule task: %w", err)
	}
	return s.checkTransition(ctx, tag.RowsAffected(), taskID)
}

// MarkFailed transitions a PENDING or FETCHING task to terminal FAILED.
func (s *TaskStore) MarkFailed(ctx context.Context, taskID string, attemptCount int, lastError string, nowMs int64) error {
	query := `
		UPDATE measurement_tasks
		SET state = $1, attempt_count = $2, last_error = $3, updated_at_ms = $4
		WHERE task_id = $5 AND state IN ($6, $7)
	`

	tag, err := s.pool.Exec(ctx, query,
		domain.TaskFailed, attemptCount, lastError, nowMs,
		taskID, domain.TaskPending, domain.TaskFetching,
	)
	if err != nil {
		return fmt.Errorf("mark task failed: %w", err)
	}
	return s.checkTransition(ctx, tag.RowsAffected(), taskID)
}

// CancelPending transitions a PENDING task to FAILED without retry.
func (s *TaskStore) CancelPending(ctx context.Context, taskID string, reason string, nowMs int64) error {
	query := `
		UPDATE measurement_tasks
		SET state = $1, last_error = $2, updated_at_ms = $3
		WHERE task_id = $4 AND state = $5
	`

	tag, err := s.pool.Exec(ctx, query, domain.TaskFailed, reason, nowMs, taskID, domain.TaskPending)
	if err != nil {
		return fmt.Errorf("cancel pending task: %w", err)
	}
	return s.checkTransition(ctx, tag.RowsAffected(), taskID)
}

// ResetStuck returns every FETCHING task to PENDING with due_at = nowMs.
func (s *TaskStore) ResetStuck(ctx context.Context, nowMs int64) (int, error) {
	query := `
		UPDATE measurement_tasks
		SET state = $1, due_at_ms = $2, updated_at_ms = $2
		WHERE state = $3
	`

	tag, err := s.pool.Exec(ctx, query, domain.TaskPending, nowMs, domain.TaskFetching)
	if err != nil {
		return 0, fmt.Errorf("reset stuck tasks: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// CountByState returns task counts grouped by state.
func (s *TaskStore) CountByState(ctx context.Context) (map[domain.TaskState]int, error) {
	query := `SELECT state, COUNT(*) FROM measurement_tasks GROUP BY state`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("count tasks by state: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.TaskState]int)
	for rows.Next() {
		var state domain.TaskState
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("scan task count: %w", err)
		}
		counts[state] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task counts: %w", err)
	}
	return counts, nil
}

// checkTransition distinguishes "no such task" from "wrong state" when an
// UPDATE matched zero rows.
func (s *TaskStore) checkTransition(ctx context.Context, affected int64, taskID string) error {
	if affected > 0 {
		return nil
	}
	if _, err := s.GetByID(ctx, taskID); err != nil {
		return err
	}
	return storage.ErrInvalidState
}

func scanTask(row rowScanner) (*domain.MeasurementTask, error) {
	var t domain.MeasurementTask
	err := row.Scan(
		&t.TaskID, &t.TxSignature, &t.WalletID, &t.TokenMint,
		&t.DueAtMs, &t.State, &t.AttemptCount, &t.LastError,
		&t.CreatedAtMs, &t.UpdatedAtMs,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func scanTasks(rows interface {
	rowScanner
	Next() bool
	Err() error
}) ([]*domain.MeasurementTask, error) {
	var out []*domain.MeasurementTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return out, nil
}
