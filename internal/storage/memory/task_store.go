package memory

import (
	"context"
	"sort"
	"sync"

	"solana-wallet-lab/internal/domain"
	"solana-wallet-lab/internal/storage"
)

// TaskStore is an in-memory implementation of storage.TaskStore.
// Claim atomicity comes from holding the write lock for the whole
// select-and-transition in ClaimDue.
type TaskStore struct {
	mu   sync.RWMutex
	data map[string]*domain.MeasurementTask // keyed by task_id
}

// NewTaskStore creates a new in-memory task store.
func NewTaskStore() *TaskStore {
	return &TaskStore{
		data: make(map[string]*domain.MeasurementTask),
	}
}

var _ storage.TaskStore = (*TaskStore)(nil)

// Insert adds a new PENDING task. Returns ErrDuplicateKey if task_id exists.
func (s *TaskStore) Insert(_ context.Context, t *domain.MeasurementTask) error {
	if t == nil || t.TaskID == "" || t.TxSignature == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[t.TaskID]; exists {
		return storage.ErrDuplicateKey
	}

	cp := *t
	s.data[t.TaskID] = &cp
	return nil
}

// GetByID retrieves a task by its ID.
func (s *TaskStore) GetByID(_ context.Context, taskID string) (*domain.MeasurementTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, exists := s.data[taskID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	cp := *t
	return &cp, nil
}

// GetByState retrieves all tasks in a given state, ordered by due_at ASC.
func (s *TaskStore) GetByState(_ context.Context, state domain.TaskState) ([]*domain.MeasurementTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.MeasurementTask
	for _, t := range s.data {
		if t.State == state {
			cp := *t
			out = append(out, &cp)
		}
	}
	sortTasksByDueAt(out)
	return out, nil
}

// GetByWallet retrieves all tasks for a wallet, ordered by due_at ASC.
func (s *TaskStore) GetByWallet(_ context.Context, walletID string) ([]*domain.MeasurementTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.MeasurementTask
	for _, t := range s.data {
		if t.WalletID == walletID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sortTasksByDueAt(out)
	return out, nil
}

// ClaimDue atomically transitions up to limit due PENDING tasks to FETCHING.
func (s *TaskStore) ClaimDue(_ context.Context, nowMs int64, limit int) ([]*domain.MeasurementTask, error) {
	if limit <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*domain.MeasurementTask
	for _, t := range s.data {
		if t.State == domain.TaskPending && t.DueAtMs <= nowMs {
			due = append(due, t)
		}
	}
	sortTasksByDueAt(due)
	if len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*domain.MeasurementTask, 0, len(due))
	for _, t := range due {
		t.State = domain.TaskFetching
		t.UpdatedAtMs = nowMs
		cp := *t
		claimed = append(claimed, &cp)
	}
	return claimed, nil
}

// MarkCompleted transitions a FETCHING task to COMPLETED.
func (s *TaskStore) MarkCompleted(_ context.Context, taskID string, nowMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.data[taskID]
	if !exists {
		return storage.ErrNotFound
	}
	if t.State != domain.TaskFetching {
		return storage.ErrInvalidState
	}

	t.State = domain.TaskCompleted
	t.LastError = ""
	t.UpdatedAtMs = nowMs
	return nil
}

// Reschedule returns a FETCHING task to PENDING with a new due_at.
func (s *TaskStore) Reschedule(_ context.Context, taskID string, dueAtMs int64, attemptCount int, lastError string, nowMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.data[taskID]
	if !exists {
		return storage.ErrNotFound
	}
	if t.State != domain.TaskFetching {
		return storage.ErrInvalidState
	}

	t.State = domain.TaskPending
	t.DueAtMs = dueAtMs
	t.AttemptCount = attemptCount
	t.LastError = lastError
	t.UpdatedAtMs = nowMs
	return nil
}

// MarkFailed transitions a PENDING or FETCHING task to terminal FAILED.
func (s *TaskStore) MarkFailed(_ context.Context, taskID string, attemptCount int, lastError string, nowMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.data[taskID]
	if !exists {
		return storage.ErrNotFound
	}
	if t.State != domain.TaskPending && t.State != domain.TaskFetching {
		return storage.ErrInvalidState
	}

	t.State = domain.TaskFailed
	t.AttemptCount = attemptCount
	t.LastError = lastError
	t.UpdatedAtMs = nowMs
	return nil
}

// CancelPending transitions a PENDING task to FAILED without retry.
func (s *TaskStore) CancelPending(_ context.Context, taskID string, reason string, nowMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.data[taskID]
	if !exists {
		return storage.ErrNotFound
	}
	if t.State != domain.TaskPending {
		return storage.ErrInvalidState
	}

	t.State = domain.TaskFailed
	t.LastError = reason
	t.UpdatedAtMs = nowMs
	return nil
}

// ResetStuck returns every FETCHING task to PENDING with due_at = nowMs.
func (s *TaskStore) ResetStuck(_ context.Context, nowMs int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reset := 0
	for _, t := range s.data {
		if t.State == domain.TaskFetching {
			t.State = domain.TaskPending
			t.DueAtMs = nowMs
			t.UpdatedAtMs = nowMs
			reset++
		}
	}
	return reset, nil
}

// CountByState returns task counts grouped by state.
func (s *TaskStore) CountByState(_ context.Context) (map[domain.TaskState]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[domain.TaskState]int)
	for _, t := range s.data {
		counts[t.State]++
	}
	return counts, nil
}

// sortTasksByDueAt orders by due_at ASC, task_id ASC on ties.
func sortTasksByDueAt(tasks []*domain.MeasurementTask) {
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].DueAtMs != tasks[j].DueAtMs {
			return tasks[i].DueAtMs < tasks[j].DueAtMs
		}
		return tasks[i].TaskID < tasks[j].TaskID
	})
}
