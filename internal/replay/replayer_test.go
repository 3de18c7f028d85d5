package replay

import (
	"context"
	"testing"

	"solana-wallet-lab/internal/domain"
	"solana-wallet-lab/internal/evaluator"
	"solana-wallet-lab/internal/storage/memory"
)

const (
	observedMs = int64(1_700_000_000_000)
	lookbackMs = int64(3_600_000)
	dueMs      = observedMs + 10_800_000
)

func ptr[T any](v T) *T { return &v }

type fixture struct {
	events   *memory.EventStore
	tasks    *memory.TaskStore
	records  *memory.RecordStore
	candles  *memory.CandleStore
	replayer *Replayer
}

func newFixture(opts ...Option) *fixture {
	f := &fixture{
		events:  memory.NewEventStore(),
		tasks:   memory.NewTaskStore(),
		records: memory.NewRecordStore(),
		candles: memory.NewCandleStore(),
	}
	f.replayer = New(f.events, f.tasks, f.records, f.candles, opts...)
	return f
}

// flatSeries covers the full window at one price per minute.
func flatSeries(price float64) []*domain.Candle {
	start := observedMs - lookbackMs
	var out []*domain.Candle
	for ts := start; ts <= dueMs; ts += 60_000 {
		out = append(out, &domain.Candle{
			TimestampMs: ts,
			Open:        price,
			High:        price,
			Low:         price,
			Close:       price,
			Volume:      100,
			TradeCount:  5,
		})
	}
	return out
}

// seedCompleted stores an event, a COMPLETED task, and the archived
// series, then runs the evaluator to produce the canonical record.
func (f *fixture) seedCompleted(t *testing.T, taskID string, candles []*domain.Candle) *domain.MeasurementTask {
	t.Helper()
	return f.seedCompletedWith(t, taskID, candles, nil)
}

// seedCompletedWith is seedCompleted with a hook to corrupt the record
// before it is persisted.
func (f *fixture) seedCompletedWith(t *testing.T, taskID string, candles []*domain.Candle, mutate func(*domain.PerformanceRecord)) *domain.MeasurementTask {
	t.Helper()
	ctx := context.Background()

	event := &domain.BuyEvent{
		TxSignature:  "sig-" + taskID,
		WalletID:     "walletA",
		TokenMint:    "mintA",
		ObservedAtMs: observedMs,
		EntryPrice:   1.0,
		RecordedAtMs: observedMs,
	}
	if err := f.events.Append(ctx, event); err != nil {
		t.Fatalf("append event: %v", err)
	}

	task := &domain.MeasurementTask{
		TaskID:      taskID,
		TxSignature: event.TxSignature,
		WalletID:    event.WalletID,
		TokenMint:   event.TokenMint,
		DueAtMs:     dueMs,
		State:       domain.TaskPending,
		CreatedAtMs: observedMs,
		UpdatedAtMs: observedMs,
	}
	if err := f.tasks.Insert(ctx, task); err != nil {
		t.Fatalf("insert task: %v", err)
	}
	if _, err := f.tasks.ClaimDue(ctx, dueMs+1, 10); err != nil {
		t.Fatalf("claim: %v", err)
	}

	rec, err := evaluator.Evaluate(task, event, candles, observedMs-lookbackMs, dueMs, dueMs+1)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if mutate != nil {
		mutate(rec)
	}
	if err := f.records.Insert(ctx, rec); err != nil {
		t.Fatalf("insert record: %v", err)
	}
	if err := f.tasks.MarkCompleted(ctx, taskID, dueMs+1); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if len(candles) > 0 {
		if err := f.candles.InsertBulk(ctx, taskID, event.TokenMint, candles); err != nil {
			t.Fatalf("archive candles: %v", err)
		}
	}
	return task
}

func TestReplayMatchesStoredRecord(t *testing.T) {
	f := newFixture()
	f.seedCompleted(t, "task-1", flatSeries(2.0))

	result, err := f.replayer.ReplayTask(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("ReplayTask: %v", err)
	}
	if !result.Matches() {
		t.Fatalf("expected match, got divergences %+v", result.Divergences)
	}
	if result.Replayed.DataQuality != domain.QualityComplete {
		t.Errorf("replayed quality = %s, want COMPLETE", result.Replayed.DataQuality)
	}
}

func TestReplayDetectsDivergence(t *testing.T) {
	f := newFixture()
	f.seedCompletedWith(t, "task-1", flatSeries(2.0), func(rec *domain.PerformanceRecord) {
		rec.HighestPnlPct = ptr(999.0)
	})

	result, err := f.replayer.ReplayTask(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("ReplayTask: %v", err)
	}
	if result.Matches() {
		t.Fatal("expected divergence after tampering")
	}
	found := false
	for _, d := range result.Divergences {
		if d.Field == "highest_pnl_pct" {
			found = true
		}
	}
	if !found {
		t.Errorf("divergences %+v missing highest_pnl_pct", result.Divergences)
	}
}

func TestReplayMissingArchiveReportsUnavailable(t *testing.T) {
	f := newFixture()
	f.seedCompleted(t, "task-1", nil)

	result, err := f.replayer.ReplayTask(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("ReplayTask: %v", err)
	}
	if result.Replayed.DataQuality != domain.QualityUnavailable {
		t.Errorf("quality = %s, want UNAVAILABLE", result.Replayed.DataQuality)
	}
	if !result.Matches() {
		t.Errorf("stored record was also UNAVAILABLE, expected match, got %+v", result.Divergences)
	}
}

type stubMarket struct {
	candles []*domain.Candle
	calls   int
}

func (m *stubMarket) FetchCandles(context.Context, string, int64, int64) ([]*domain.Candle, error) {
	m.calls++
	return m.candles, nil
}

func TestReplayFallsBackToMarketData(t *testing.T) {
	series := flatSeries(2.0)
	market := &stubMarket{candles: series}

	f := newFixture(WithMarketData(market))
	// Seed with the series so the stored record is COMPLETE, then drop
	// the archive by reseeding stores without candles.
	f.seedCompleted(t, "task-1", series)
	f.candles = memory.NewCandleStore()
	f.replayer = New(f.events, f.tasks, f.records, f.candles, WithMarketData(market))

	result, err := f.replayer.ReplayTask(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("ReplayTask: %v", err)
	}
	if market.calls != 1 {
		t.Errorf("market calls = %d, want 1", market.calls)
	}
	if !result.Matches() {
		t.Errorf("expected match via market fallback, got %+v", result.Divergences)
	}
}

func TestReplayRejectsPendingTask(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if err := f.tasks.Insert(ctx, &domain.MeasurementTask{
		TaskID:      "task-pending",
		TxSignature: "sig-task-pending",
		WalletID:    "walletA",
		TokenMint:   "mintA",
		DueAtMs:     dueMs,
		State:       domain.TaskPending,
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if _, err := f.replayer.ReplayTask(ctx, "task-pending"); err == nil {
		t.Error("expected error replaying a pending task")
	}
}

func TestReplayAllReturnsOnlyDiverged(t *testing.T) {
	f := newFixture()
	f.seedCompleted(t, "task-ok", flatSeries(2.0))
	f.seedCompletedWith(t, "task-bad", flatSeries(3.0), func(rec *domain.PerformanceRecord) {
		rec.CurrentPnlPct = ptr(-42.0)
	})

	diverged, err := f.replayer.ReplayAll(context.Background())
	if err != nil {
		t.Fatalf("ReplayAll: %v", err)
	}
	if len(diverged) != 1 || diverged[0].TaskID != "task-bad" {
		t.Fatalf("diverged = %+v, want only task-bad", diverged)
	}
}
