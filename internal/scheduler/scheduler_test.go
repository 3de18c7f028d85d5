package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"solana-wallet-lab/internal/domain"
	"solana-wallet-lab/internal/gateway"
	"solana-wallet-lab/internal/idhash"
	"solana-wallet-lab/internal/storage"
	"solana-wallet-lab/internal/storage/memory"
)

func idForSig(sig string) string { return idhash.ComputeTaskID(sig) }

type stubMarket struct {
	candles []*domain.Candle
	errs    []error // consumed one per call, last one repeats
	calls   int
}

func (m *stubMarket) FetchCandles(_ context.Context, _ string, startMs, endMs int64) ([]*domain.Candle, error) {
	m.calls++
	if len(m.errs) > 0 {
		err := m.errs[0]
		if len(m.errs) > 1 {
			m.errs = m.errs[1:]
		}
		if err != nil {
			return nil, err
		}
	}
	if m.candles != nil {
		return m.candles, nil
	}
	// Full per-minute coverage of the requested window.
	var out []*domain.Candle
	for ts := startMs; ts <= endMs; ts += 60_000 {
		out = append(out, &domain.Candle{TimestampMs: ts, Open: 2.0, High: 2.0, Low: 2.0, Close: 2.0})
	}
	return out, nil
}

type captureNotifier struct {
	records []*domain.PerformanceRecord
}

func (n *captureNotifier) RecordMeasured(_ context.Context, _ *domain.BuyEvent, rec *domain.PerformanceRecord) {
	n.records = append(n.records, rec)
}

type fixture struct {
	sched    *Scheduler
	events   *memory.EventStore
	tasks    *memory.TaskStore
	records  *memory.RecordStore
	notifier *captureNotifier
	clock    *time.Time
}

func newFixture(t *testing.T, market MarketData, cfg Config) *fixture {
	t.Helper()

	events := memory.NewEventStore()
	tasks := memory.NewTaskStore()
	records := memory.NewRecordStore()
	notifier := &captureNotifier{}

	start := time.UnixMilli(10_000_000_000)
	clock := &start

	sched := New(cfg, events, tasks, records, market,
		WithNotifier(notifier),
		WithCandleArchive(memory.NewCandleStore()),
		WithClock(func() time.Time { return *clock }),
	)
	return &fixture{sched: sched, events: events, tasks: tasks, records: records, notifier: notifier, clock: clock}
}

func (f *fixture) ingest(t *testing.T, sig string, entryPrice float64) *domain.MeasurementTask {
	t.Helper()

	ctx := context.Background()
	event := &domain.BuyEvent{
		TxSignature:  sig,
		WalletID:     "walletA",
		TokenMint:    "mintA",
		TokenSymbol:  "TEST",
		ObservedAtMs: f.clock.UnixMilli(),
		EntryPrice:   entryPrice,
		RecordedAtMs: f.clock.UnixMilli(),
	}
	if err := f.events.Append(ctx, event); err != nil {
		t.Fatalf("append event: %v", err)
	}
	task, err := f.sched.Enqueue(ctx, event)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return task
}

// claimOne advances the clock past the due time and claims the task.
func (f *fixture) claimOne(t *testing.T) *domain.MeasurementTask {
	t.Helper()

	*f.clock = f.clock.Add(4 * time.Hour)
	claimed, err := f.tasks.ClaimDue(context.Background(), f.clock.UnixMilli(), 1)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("expected 1 claimed task, got %d", len(claimed))
	}
	return claimed[0]
}

func TestEnqueueIsIdempotent(t *testing.T) {
	f := newFixture(t, &stubMarket{}, Config{})
	ctx := context.Background()

	first := f.ingest(t, "sig-1", 1.0)

	event, _ := f.events.GetBySignature(ctx, "sig-1")
	second, err := f.sched.Enqueue(ctx, event)
	if err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if second.TaskID != first.TaskID {
		t.Errorf("expected same task id, got %s and %s", first.TaskID, second.TaskID)
	}

	counts, _ := f.tasks.CountByState(ctx)
	if counts[domain.TaskPending] != 1 {
		t.Errorf("expected exactly 1 pending task, got %d", counts[domain.TaskPending])
	}

	wantDue := event.ObservedAtMs + DefaultMeasurementDelay.Milliseconds()
	if first.DueAtMs != wantDue {
		t.Errorf("expected due at %d, got %d", wantDue, first.DueAtMs)
	}
}

func TestProcessCompletesAndNotifies(t *testing.T) {
	f := newFixture(t, &stubMarket{}, Config{})
	ctx := context.Background()

	f.ingest(t, "sig-1", 1.0)
	task := f.claimOne(t)
	f.sched.Process(ctx, task)

	got, err := f.tasks.GetByID(ctx, task.TaskID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.State != domain.TaskCompleted {
		t.Fatalf("expected COMPLETED, got %s", got.State)
	}

	rec, err := f.records.GetByTask(ctx, task.TaskID)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if rec.DataQuality != domain.QualityComplete {
		t.Errorf("expected COMPLETE quality, got %s", rec.DataQuality)
	}
	if rec.HighestPnlPct == nil || *rec.HighestPnlPct != 100.0 {
		t.Errorf("expected 100%% highest PnL, got %v", rec.HighestPnlPct)
	}

	if len(f.notifier.records) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(f.notifier.records))
	}
}

func TestProcessUnavailableTokenCompletesWithoutData(t *testing.T) {
	market := &stubMarket{errs: []error{gateway.ErrUnavailable}}
	f := newFixture(t, market, Config{})
	ctx := context.Background()

	f.ingest(t, "sig-1", 1.0)
	task := f.claimOne(t)
	f.sched.Process(ctx, task)

	got, _ := f.tasks.GetByID(ctx, task.TaskID)
	if got.State != domain.TaskCompleted {
		t.Fatalf("expected COMPLETED for unavailable token, got %s", got.State)
	}

	rec, err := f.records.GetByTask(ctx, task.TaskID)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if rec.DataQuality != domain.QualityUnavailable {
		t.Errorf("expected UNAVAILABLE quality, got %s", rec.DataQuality)
	}
	if rec.HighestPnlPct != nil {
		t.Error("expected nil PnL for unavailable token")
	}
}

func TestProcessTransientErrorReschedulesWithBackoff(t *testing.T) {
	market := &stubMarket{errs: []error{errors.New("upstream 500")}}
	cfg := Config{RetryBackoff: time.Minute, MaxAttempts: 3}
	f := newFixture(t, market, cfg)
	ctx := context.Background()

	f.ingest(t, "sig-1", 1.0)
	task := f.claimOne(t)
	f.sched.Process(ctx, task)

	got, _ := f.tasks.GetByID(ctx, task.TaskID)
	if got.State != domain.TaskPending {
		t.Fatalf("expected PENDING after transient error, got %s", got.State)
	}
	if got.AttemptCount != 1 {
		t.Errorf("expected 1 attempt, got %d", got.AttemptCount)
	}
	wantDue := f.clock.UnixMilli() + time.Minute.Milliseconds()
	if got.DueAtMs != wantDue {
		t.Errorf("expected due at %d (base backoff), got %d", wantDue, got.DueAtMs)
	}
	if got.LastError == "" {
		t.Error("expected last error recorded")
	}
}

func TestProcessExhaustedRetriesFailWithoutRecord(t *testing.T) {
	market := &stubMarket{errs: []error{errors.New("upstream 500")}}
	cfg := Config{RetryBackoff: time.Minute, MaxAttempts: 3}
	f := newFixture(t, market, cfg)
	ctx := context.Background()

	f.ingest(t, "sig-1", 1.0)

	for i := 0; i < 3; i++ {
		*f.clock = f.clock.Add(4 * time.Hour)
		claimed, err := f.tasks.ClaimDue(ctx, f.clock.UnixMilli(), 1)
		if err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
		if len(claimed) != 1 {
			t.Fatalf("claim %d: expected 1 task, got %d", i, len(claimed))
		}
		f.sched.Process(ctx, claimed[0])
	}

	got, _ := f.tasks.GetByID(ctx, idForSig("sig-1"))
	if got.State != domain.TaskFailed {
		t.Fatalf("expected FAILED after exhausted retries, got %s", got.State)
	}
	if got.AttemptCount != 3 {
		t.Errorf("expected 3 attempts, got %d", got.AttemptCount)
	}

	if _, err := f.records.GetByTask(ctx, got.TaskID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected no record for failed task, got %v", err)
	}
	if len(f.notifier.records) != 0 {
		t.Errorf("expected no notifications, got %d", len(f.notifier.records))
	}
}

func TestProcessInvalidEntryPriceFailsTerminally(t *testing.T) {
	market := &stubMarket{}
	f := newFixture(t, market, Config{})
	ctx := context.Background()

	f.ingest(t, "sig-1", 0)
	task := f.claimOne(t)
	f.sched.Process(ctx, task)

	got, _ := f.tasks.GetByID(ctx, task.TaskID)
	if got.State != domain.TaskFailed {
		t.Fatalf("expected FAILED for invalid entry price, got %s", got.State)
	}
	// One fetch happened but no retry was scheduled.
	later, _ := f.tasks.ClaimDue(ctx, f.clock.Add(24*time.Hour).UnixMilli(), 10)
	if len(later) != 0 {
		t.Errorf("expected no re-claimable tasks, got %d", len(later))
	}
}

func TestRecoverResetsOrphanedTasks(t *testing.T) {
	f := newFixture(t, &stubMarket{}, Config{})
	ctx := context.Background()

	f.ingest(t, "sig-1", 1.0)
	f.claimOne(t) // claimed but never processed, simulating a crash

	n, err := f.sched.Recover(ctx)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 recovered task, got %d", n)
	}

	claimed, err := f.tasks.ClaimDue(ctx, f.clock.UnixMilli(), 10)
	if err != nil {
		t.Fatalf("claim after recover: %v", err)
	}
	if len(claimed) != 1 {
		t.Errorf("expected recovered task claimable, got %d", len(claimed))
	}
}

func TestCancelPendingTask(t *testing.T) {
	f := newFixture(t, &stubMarket{}, Config{})
	ctx := context.Background()

	f.ingest(t, "sig-1", 1.0)
	if err := f.sched.Cancel(ctx, "sig-1", "wallet removed"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	got, _ := f.tasks.GetByID(ctx, idForSig("sig-1"))
	if got.State != domain.TaskFailed {
		t.Fatalf("expected FAILED after cancel, got %s", got.State)
	}
	if got.LastError != "wallet removed" {
		t.Errorf("expected cancel reason recorded, got %q", got.LastError)
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	s := New(Config{RetryBackoff: time.Minute, MaxBackoff: 5 * time.Minute},
		memory.NewEventStore(), memory.NewTaskStore(), memory.NewRecordStore(), &stubMarket{})

	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Minute},
		{1, 2 * time.Minute},
		{2, 4 * time.Minute},
		{3, 5 * time.Minute},
		{10, 5 * time.Minute},
	}
	for _, c := range cases {
		if got := s.backoff(c.attempts); got != c.want {
			t.Errorf("backoff(%d) = %v, want %v", c.attempts, got, c.want)
		}
	}
}
