package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"solana-wallet-lab/internal/domain"
	"solana-wallet-lab/internal/storage"
)

func pendingTask(id string, dueAt int64) *domain.MeasurementTask {
	return &domain.MeasurementTask{
		TaskID:      id,
		TxSignature: "sig-" + id,
		WalletID:    "walletA",
		TokenMint:   "mint1",
		DueAtMs:     dueAt,
		State:       domain.TaskPending,
	}
}

func TestTaskStore_ClaimDue(t *testing.T) {
	store := NewTaskStore()
	ctx := context.Background()

	store.Insert(ctx, pendingTask("t1", 1000))
	store.Insert(ctx, pendingTask("t2", 2000))
	store.Insert(ctx, pendingTask("t3", 9000)) // not yet due

	claimed, err := store.ClaimDue(ctx, 5000, 10)
	if err != nil {
		t.Fatalf("ClaimDue failed: %v", err)
	}
	if len(claimed) != 2 {
		t.Fatalf("expected 2 claimed tasks, got %d", len(claimed))
	}
	if claimed[0].TaskID != "t1" || claimed[1].TaskID != "t2" {
		t.Errorf("claim order wrong: %s, %s", claimed[0].TaskID, claimed[1].TaskID)
	}
	for _, c := range claimed {
		if c.State != domain.TaskFetching {
			t.Errorf("task %s not transitioned to FETCHING: %s", c.TaskID, c.State)
		}
	}

	// Second poll must not return already-claimed tasks.
	again, err := store.ClaimDue(ctx, 5000, 10)
	if err != nil {
		t.Fatalf("second ClaimDue failed: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("expected 0 tasks on second claim, got %d", len(again))
	}
}

func TestTaskStore_ClaimDue_ConcurrentSingleClaim(t *testing.T) {
	store := NewTaskStore()
	ctx := context.Background()

	const total = 50
	for i := 0; i < total; i++ {
		store.Insert(ctx, pendingTask(fmt.Sprintf("t%02d", i), 1000))
	}

	var mu sync.Mutex
	seen := make(map[string]int)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				claimed, err := store.ClaimDue(ctx, 5000, 5)
				if err != nil {
					t.Errorf("ClaimDue failed: %v", err)
					return
				}
				if len(claimed) == 0 {
					return
				}
				mu.Lock()
				for _, c := range claimed {
					seen[c.TaskID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != total {
		t.Errorf("expected %d distinct claims, got %d", total, len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("task %s claimed %d times", id, n)
		}
	}
}

func TestTaskStore_CompleteLifecycle(t *testing.T) {
	store := NewTaskStore()
	ctx := context.Background()

	store.Insert(ctx, pendingTask("t1", 1000))

	// Cannot complete a PENDING task.
	if err := store.MarkCompleted(ctx, "t1", 2000); !errors.Is(err, storage.ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState completing PENDING task, got %v", err)
	}

	claimed, _ := store.ClaimDue(ctx, 2000, 1)
	if len(claimed) != 1 {
		t.Fatalf("expected 1 claimed task")
	}

	if err := store.MarkCompleted(ctx, "t1", 3000); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}

	got, _ := store.GetByID(ctx, "t1")
	if got.State != domain.TaskCompleted {
		t.Errorf("expected COMPLETED, got %s", got.State)
	}
}

func TestTaskStore_RescheduleAndFail(t *testing.T) {
	store := NewTaskStore()
	ctx := context.Background()

	store.Insert(ctx, pendingTask("t1", 1000))
	store.ClaimDue(ctx, 2000, 1)

	if err := store.Reschedule(ctx, "t1", 8000, 1, "provider timeout", 2000); err != nil {
		t.Fatalf("Reschedule failed: %v", err)
	}

	got, _ := store.GetByID(ctx, "t1")
	if got.State != domain.TaskPending || got.DueAtMs != 8000 || got.AttemptCount != 1 {
		t.Errorf("reschedule state wrong: %+v", got)
	}

	// Not due before the new due_at.
	claimed, _ := store.ClaimDue(ctx, 5000, 10)
	if len(claimed) != 0 {
		t.Errorf("rescheduled task claimed before new due_at")
	}

	claimed, _ = store.ClaimDue(ctx, 9000, 10)
	if len(claimed) != 1 {
		t.Fatalf("rescheduled task not claimable after new due_at")
	}

	if err := store.MarkFailed(ctx, "t1", 2, "retries exhausted", 9000); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}
	got, _ = store.GetByID(ctx, "t1")
	if got.State != domain.TaskFailed || got.LastError != "retries exhausted" {
		t.Errorf("failed state wrong: %+v", got)
	}
}

func TestTaskStore_CancelPending(t *testing.T) {
	store := NewTaskStore()
	ctx := context.Background()

	store.Insert(ctx, pendingTask("t1", 1000))

	if err := store.CancelPending(ctx, "t1", "token delisted", 1500); err != nil {
		t.Fatalf("CancelPending failed: %v", err)
	}

	got, _ := store.GetByID(ctx, "t1")
	if got.State != domain.TaskFailed {
		t.Errorf("expected FAILED after cancel, got %s", got.State)
	}

	// Cancelling twice is an invalid transition.
	if err := store.CancelPending(ctx, "t1", "again", 1600); !errors.Is(err, storage.ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState, got %v", err)
	}
}

func TestTaskStore_ResetStuck(t *testing.T) {
	store := NewTaskStore()
	ctx := context.Background()

	store.Insert(ctx, pendingTask("t1", 1000))
	store.Insert(ctx, pendingTask("t2", 1000))
	store.ClaimDue(ctx, 2000, 2) // both now FETCHING

	reset, err := store.ResetStuck(ctx, 3000)
	if err != nil {
		t.Fatalf("ResetStuck failed: %v", err)
	}
	if reset != 2 {
		t.Errorf("expected 2 reset tasks, got %d", reset)
	}

	// Immediately eligible for re-poll.
	claimed, _ := store.ClaimDue(ctx, 3000, 10)
	if len(claimed) != 2 {
		t.Errorf("expected 2 re-claimable tasks, got %d", len(claimed))
	}
}

func TestTaskStore_CountByState(t *testing.T) {
	store := NewTaskStore()
	ctx := context.Background()

	store.Insert(ctx, pendingTask("t1", 1000))
	store.Insert(ctx, pendingTask("t2", 1000))
	store.ClaimDue(ctx, 2000, 1)

	counts, err := store.CountByState(ctx)
	if err != nil {
		t.Fatalf("CountByState failed: %v", err)
	}
	if counts[domain.TaskPending] != 1 || counts[domain.TaskFetching] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}
}
