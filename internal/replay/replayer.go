// Package replay re-derives performance records from stored data and
// compares them against what the pipeline wrote. Records are immutable,
// so a divergence means either the evaluator changed or the archived
// series differs from what was measured.
package replay

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"solana-wallet-lab/internal/domain"
	"solana-wallet-lab/internal/evaluator"
	"solana-wallet-lab/internal/storage"
)

// DefaultLookback matches the fetch-window extension used at
// measurement time.
const DefaultLookback = time.Hour

const pnlEpsilon = 1e-6

// MarketData is the fallback candle source when no archived series
// exists for a task.
type MarketData interface {
	FetchCandles(ctx context.Context, tokenMint string, startMs, endMs int64) ([]*domain.Candle, error)
}

// Divergence is one field that replayed differently.
type Divergence struct {
	Field    string
	Stored   string
	Replayed string
}

// Result is the outcome of replaying one task.
type Result struct {
	TaskID      string
	Stored      *domain.PerformanceRecord
	Replayed    *domain.PerformanceRecord
	Divergences []Divergence
}

// Matches reports whether the replayed record agrees with the stored one.
func (r *Result) Matches() bool {
	return r.Stored != nil && len(r.Divergences) == 0
}

// Replayer recomputes records for completed tasks.
type Replayer struct {
	events  storage.EventStore
	tasks   storage.TaskStore
	records storage.RecordStore
	candles storage.CandleStore
	market  MarketData

	lookback time.Duration
	logger   zerolog.Logger
}

// Option configures a Replayer.
type Option func(*Replayer)

// WithLookback overrides the fetch-window extension.
func WithLookback(d time.Duration) Option {
	return func(r *Replayer) {
		if d > 0 {
			r.lookback = d
		}
	}
}

// WithMarketData wires a live candle source used when a task has no
// archived series.
func WithMarketData(m MarketData) Option {
	return func(r *Replayer) { r.market = m }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Replayer) { r.logger = l }
}

// New creates a Replayer. candles may be nil when no archive is
// configured; replay then requires a MarketData fallback.
func New(events storage.EventStore, tasks storage.TaskStore, records storage.RecordStore, candles storage.CandleStore, opts ...Option) *Replayer {
	r := &Replayer{
		events:   events,
		tasks:    tasks,
		records:  records,
		candles:  candles,
		lookback: DefaultLookback,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ReplayTask recomputes the record for one completed task and diffs it
// against the stored record. A missing stored record is reported as a
// single divergence rather than an error.
func (r *Replayer) ReplayTask(ctx context.Context, taskID string) (*Result, error) {
	task, err := r.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", taskID, err)
	}
	if task.State != domain.TaskCompleted {
		return nil, fmt.Errorf("task %s is %s, only completed tasks can be replayed", taskID, task.State)
	}

	event, err := r.events.GetBySignature(ctx, task.TxSignature)
	if err != nil {
		return nil, fmt.Errorf("load event %s: %w", task.TxSignature, err)
	}

	candles, err := r.loadCandles(ctx, task, event)
	if err != nil {
		return nil, err
	}

	windowStart := event.ObservedAtMs - r.lookback.Milliseconds()
	replayed, err := evaluator.Evaluate(task, event, candles, windowStart, task.DueAtMs, time.Now().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("evaluate task %s: %w", taskID, err)
	}

	result := &Result{TaskID: taskID, Replayed: replayed}

	stored, err := r.records.GetByTask(ctx, taskID)
	if errors.Is(err, storage.ErrNotFound) {
		result.Divergences = append(result.Divergences, Divergence{
			Field:  "record",
			Stored: "missing",
		})
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load record %s: %w", taskID, err)
	}

	result.Stored = stored
	result.Divergences = diff(stored, replayed)
	return result, nil
}

// ReplayAll replays every completed task and returns only the results
// that diverged.
func (r *Replayer) ReplayAll(ctx context.Context) ([]*Result, error) {
	completed, err := r.tasks.GetByState(ctx, domain.TaskCompleted)
	if err != nil {
		return nil, fmt.Errorf("load completed tasks: %w", err)
	}

	var diverged []*Result
	for _, task := range completed {
		result, err := r.ReplayTask(ctx, task.TaskID)
		if err != nil {
			r.logger.Warn().Err(err).Str("task_id", task.TaskID).Msg("replay failed")
			continue
		}
		if !result.Matches() {
			diverged = append(diverged, result)
		}
	}
	return diverged, nil
}

func (r *Replayer) loadCandles(ctx context.Context, task *domain.MeasurementTask, event *domain.BuyEvent) ([]*domain.Candle, error) {
	if r.candles != nil {
		archived, err := r.candles.GetByTask(ctx, task.TaskID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("load archived candles %s: %w", task.TaskID, err)
		}
		if len(archived) > 0 {
			return archived, nil
		}
	}

	if r.market == nil {
		// No series available. The evaluator classifies this as
		// UNAVAILABLE, which is the honest replay of a task whose
		// providers had nothing.
		return nil, nil
	}

	windowStart := event.ObservedAtMs - r.lookback.Milliseconds()
	candles, err := r.market.FetchCandles(ctx, task.TokenMint, windowStart, task.DueAtMs)
	if err != nil {
		return nil, fmt.Errorf("fetch candles %s: %w", task.TaskID, err)
	}
	return candles, nil
}

func diff(stored, replayed *domain.PerformanceRecord) []Divergence {
	var out []Divergence

	if stored.DataQuality != replayed.DataQuality {
		out = append(out, Divergence{
			Field:    "data_quality",
			Stored:   stored.DataQuality.String(),
			Replayed: replayed.DataQuality.String(),
		})
	}

	out = appendFloatDiff(out, "highest_pnl_pct", stored.HighestPnlPct, replayed.HighestPnlPct)
	out = appendFloatDiff(out, "lowest_pnl_pct", stored.LowestPnlPct, replayed.LowestPnlPct)
	out = appendFloatDiff(out, "current_pnl_pct", stored.CurrentPnlPct, replayed.CurrentPnlPct)
	out = appendIntDiff(out, "highest_at_ms", stored.HighestAtMs, replayed.HighestAtMs)

	return out
}

func appendFloatDiff(out []Divergence, field string, stored, replayed *float64) []Divergence {
	switch {
	case stored == nil && replayed == nil:
		return out
	case stored != nil && replayed != nil && math.Abs(*stored-*replayed) <= pnlEpsilon:
		return out
	}
	return append(out, Divergence{
		Field:    field,
		Stored:   formatFloat(stored),
		Replayed: formatFloat(replayed),
	})
}

func appendIntDiff(out []Divergence, field string, stored, replayed *int64) []Divergence {
	switch {
	case stored == nil && replayed == nil:
		return out
	case stored != nil && replayed != nil && *stored == *replayed:
		return out
	}
	return append(out, Divergence{
		Field:    field,
		Stored:   formatInt(stored),
		Replayed: formatInt(replayed),
	})
}

func formatFloat(v *float64) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprintf("%.6f", *v)
}

func formatInt(v *int64) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprintf("%d", *v)
}
