// Package scheduler runs the delayed measurement pipeline: each buy
// event gets a durable task due a fixed delay after observation, and a
// worker pool claims due tasks, fetches the price window, evaluates it,
// and persists the resulting performance record.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"solana-wallet-lab/internal/domain"
	"solana-wallet-lab/internal/evaluator"
	"solana-wallet-lab/internal/gateway"
	"solana-wallet-lab/internal/idhash"
	"solana-wallet-lab/internal/observability"
	"solana-wallet-lab/internal/storage"
)

// Default configuration values.
const (
	DefaultMeasurementDelay = 3 * time.Hour
	DefaultLookback         = 1 * time.Hour
	DefaultMaxAttempts      = 3
	DefaultRetryBackoff     = 1 * time.Minute
	DefaultMaxBackoff       = 30 * time.Minute
	DefaultTickInterval     = 5 * time.Second
	DefaultWorkers          = 4
	DefaultClaimBatch       = 16
)

// MarketData is the slice of the gateway the scheduler consumes.
type MarketData interface {
	FetchCandles(ctx context.Context, mint string, startMs, endMs int64) ([]*domain.Candle, error)
}

// Notifier receives completed measurements. Implementations must not
// block; delivery failures are the notifier's problem.
type Notifier interface {
	RecordMeasured(ctx context.Context, event *domain.BuyEvent, rec *domain.PerformanceRecord)
}

// Config tunes scheduler behavior. Zero values fall back to defaults.
type Config struct {
	// MeasurementDelay is how long after observation a task becomes due.
	MeasurementDelay time.Duration
	// Lookback extends the fetch window before the observation so the
	// entry sits inside the series, not at its very first candle.
	Lookback time.Duration
	// MaxAttempts bounds transient retries before a task fails.
	MaxAttempts int
	// RetryBackoff is the base delay, doubled per attempt.
	RetryBackoff time.Duration
	// MaxBackoff caps the retry delay.
	MaxBackoff time.Duration
	// TickInterval is how often due tasks are claimed.
	TickInterval time.Duration
	// Workers is the number of concurrent task processors.
	Workers int
	// ClaimBatch is the maximum tasks claimed per tick.
	ClaimBatch int
}

func (c Config) withDefaults() Config {
	if c.MeasurementDelay <= 0 {
		c.MeasurementDelay = DefaultMeasurementDelay
	}
	if c.Lookback <= 0 {
		c.Lookback = DefaultLookback
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.ClaimBatch <= 0 {
		c.ClaimBatch = DefaultClaimBatch
	}
	return c
}

// Scheduler owns the measurement task lifecycle.
type Scheduler struct {
	config  Config
	events  storage.EventStore
	tasks   storage.TaskStore
	records storage.RecordStore
	candles storage.CandleStore
	market  MarketData

	notifier Notifier
	logger   zerolog.Logger
	metrics  *observability.Metrics

	now func() time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithNotifier wires measurement notifications.
func WithNotifier(n Notifier) Option {
	return func(s *Scheduler) {
		s.notifier = n
	}
}

// WithLogger sets the scheduler logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithCandleArchive wires the candle archive store. Archiving is best
// effort; measurement never fails because the archive is down.
func WithCandleArchive(cs storage.CandleStore) Option {
	return func(s *Scheduler) {
		s.candles = cs
	}
}

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// WithMetrics enables task lifecycle instrumentation.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// New creates a Scheduler.
func New(config Config, events storage.EventStore, tasks storage.TaskStore, records storage.RecordStore, market MarketData, opts ...Option) *Scheduler {
	s := &Scheduler{
		config:  config.withDefaults(),
		events:  events,
		tasks:   tasks,
		records: records,
		market:  market,
		logger:  zerolog.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue creates the measurement task for a buy event, due a fixed
// delay after the observation. Enqueueing the same event twice is a
// no-op, so event ingestion can retry freely.
func (s *Scheduler) Enqueue(ctx context.Context, event *domain.BuyEvent) (*domain.MeasurementTask, error) {
	if event == nil || event.TxSignature == "" {
		return nil, fmt.Errorf("%w: event with empty tx signature", storage.ErrInvalidInput)
	}

	nowMs := s.now().UnixMilli()
	task := &domain.MeasurementTask{
		TaskID:      idhash.ComputeTaskID(event.TxSignature),
		TxSignature: event.TxSignature,
		WalletID:    event.WalletID,
		TokenMint:   event.TokenMint,
		DueAtMs:     event.ObservedAtMs + s.config.MeasurementDelay.Milliseconds(),
		State:       domain.TaskPending,
		CreatedAtMs: nowMs,
		UpdatedAtMs: nowMs,
	}

	if err := s.tasks.Insert(ctx, task); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return s.tasks.GetByID(ctx, task.TaskID)
		}
		return nil, fmt.Errorf("insert task: %w", err)
	}

	if s.metrics != nil {
		s.metrics.TasksEnqueued.Inc()
	}
	s.logger.Debug().
		Str("task_id", task.TaskID).
		Str("wallet_id", task.WalletID).
		Int64("due_at_ms", task.DueAtMs).
		Msg("measurement task enqueued")
	return task, nil
}

// Cancel fails a still-pending task so it is never measured. Used when
// an event turns out to be bogus after ingestion.
func (s *Scheduler) Cancel(ctx context.Context, txSignature, reason string) error {
	taskID := idhash.ComputeTaskID(txSignature)
	return s.tasks.CancelPending(ctx, taskID, reason, s.now().UnixMilli())
}

// Recover returns orphaned FETCHING tasks to PENDING. Call once at
// startup before Run.
func (s *Scheduler) Recover(ctx context.Context) (int, error) {
	n, err := s.tasks.ResetStuck(ctx, s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("reset stuck tasks: %w", err)
	}
	if n > 0 {
		s.logger.Warn().Int("tasks", n).Msg("recovered orphaned tasks")
	}
	return n, nil
}

// Run claims and processes due tasks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	queue := make(chan *domain.MeasurementTask, s.config.ClaimBatch)
	var wg sync.WaitGroup

	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range queue {
				s.Process(ctx, task)
			}
		}()
	}

	defer func() {
		close(queue)
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			claimed, err := s.tasks.ClaimDue(ctx, s.now().UnixMilli(), s.config.ClaimBatch)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.dbError("claim_due")
				s.logger.Error().Err(err).Msg("claim due tasks failed")
				continue
			}
			if s.metrics != nil {
				if len(claimed) > 0 {
					s.metrics.TasksClaimed.Add(float64(len(claimed)))
				}
				if counts, err := s.tasks.CountByState(ctx); err == nil {
					for state, n := range counts {
						s.metrics.TasksByState.WithLabelValues(state.String()).Set(float64(n))
					}
				}
			}
			for _, task := range claimed {
				select {
				case queue <- task:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

// Process measures one claimed task end to end. The task must be in
// FETCHING state (freshly claimed).
func (s *Scheduler) Process(ctx context.Context, task *domain.MeasurementTask) {
	nowMs := s.now().UnixMilli()

	event, err := s.events.GetBySignature(ctx, task.TxSignature)
	if err != nil {
		// A task without its event cannot ever succeed.
		s.failTerminal(ctx, task, fmt.Sprintf("load event: %v", err))
		return
	}

	windowStart := event.ObservedAtMs - s.config.Lookback.Milliseconds()
	windowEnd := task.DueAtMs

	candles, err := s.market.FetchCandles(ctx, task.TokenMint, windowStart, windowEnd)
	switch {
	case err == nil:
		// fall through to evaluation
	case errors.Is(err, gateway.ErrUnavailable):
		// No provider knows this token. Record the gap and complete;
		// retrying will not conjure data for a dead token.
		candles = nil
	case ctx.Err() != nil:
		// Shutdown mid-fetch; recovery resets the task at next startup.
		return
	default:
		s.retryOrFail(ctx, task, err)
		return
	}

	rec, err := evaluator.Evaluate(task, event, candles, windowStart, windowEnd, nowMs)
	if err != nil {
		// Validation errors are permanent; retrying cannot fix the event.
		s.failTerminal(ctx, task, err.Error())
		return
	}

	if s.candles != nil && len(candles) > 0 {
		if err := s.candles.InsertBulk(ctx, task.TaskID, task.TokenMint, candles); err != nil {
			s.logger.Warn().
				Str("task_id", task.TaskID).
				Err(err).
				Msg("candle archive write failed")
		}
	}

	if err := s.records.Insert(ctx, rec); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		s.retryOrFail(ctx, task, fmt.Errorf("persist record: %w", err))
		return
	}

	if err := s.tasks.MarkCompleted(ctx, task.TaskID, s.now().UnixMilli()); err != nil {
		s.dbError("mark_completed")
		s.logger.Error().
			Str("task_id", task.TaskID).
			Err(err).
			Msg("mark completed failed")
		return
	}

	if s.metrics != nil {
		s.metrics.TasksCompleted.Inc()
		s.metrics.TaskProcessing.Observe(float64(s.now().UnixMilli()-nowMs) / 1000)
		s.metrics.LastSuccessfulMeasurement.SetToCurrentTime()
	}
	s.logger.Info().
		Str("task_id", task.TaskID).
		Str("wallet_id", task.WalletID).
		Str("quality", rec.DataQuality.String()).
		Msg("measurement completed")

	if s.notifier != nil {
		s.notifier.RecordMeasured(ctx, event, rec)
	}
}

// retryOrFail reschedules a transiently failed task with exponential
// backoff, or fails it once attempts are exhausted.
func (s *Scheduler) retryOrFail(ctx context.Context, task *domain.MeasurementTask, cause error) {
	attempts := task.AttemptCount + 1
	nowMs := s.now().UnixMilli()

	if attempts >= s.config.MaxAttempts {
		if err := s.tasks.MarkFailed(ctx, task.TaskID, attempts, cause.Error(), nowMs); err != nil {
			s.dbError("mark_failed")
			s.logger.Error().Str("task_id", task.TaskID).Err(err).Msg("mark failed failed")
			return
		}
		if s.metrics != nil {
			s.metrics.TasksFailed.Inc()
		}
		s.logger.Warn().
			Str("task_id", task.TaskID).
			Int("attempts", attempts).
			Err(cause).
			Msg("task failed, retries exhausted")
		return
	}

	delay := s.backoff(task.AttemptCount)
	if err := s.tasks.Reschedule(ctx, task.TaskID, nowMs+delay.Milliseconds(), attempts, cause.Error(), nowMs); err != nil {
		s.dbError("reschedule")
		s.logger.Error().Str("task_id", task.TaskID).Err(err).Msg("reschedule failed")
		return
	}
	if s.metrics != nil {
		s.metrics.TasksRescheduled.Inc()
	}
	s.logger.Warn().
		Str("task_id", task.TaskID).
		Int("attempt", attempts).
		Dur("retry_in", delay).
		Err(cause).
		Msg("task rescheduled")
}

func (s *Scheduler) failTerminal(ctx context.Context, task *domain.MeasurementTask, reason string) {
	if err := s.tasks.MarkFailed(ctx, task.TaskID, task.AttemptCount, reason, s.now().UnixMilli()); err != nil {
		s.dbError("mark_failed")
		s.logger.Error().Str("task_id", task.TaskID).Err(err).Msg("mark failed failed")
		return
	}
	if s.metrics != nil {
		s.metrics.TasksFailed.Inc()
	}
	s.logger.Warn().
		Str("task_id", task.TaskID).
		Str("reason", reason).
		Msg("task failed permanently")
}

func (s *Scheduler) dbError(operation string) {
	if s.metrics != nil {
		s.metrics.DBQueryErrors.WithLabelValues(operation).Inc()
	}
}

// backoff returns base * 2^attempts capped at MaxBackoff.
func (s *Scheduler) backoff(attempts int) time.Duration {
	d := s.config.RetryBackoff
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= s.config.MaxBackoff {
			return s.config.MaxBackoff
		}
	}
	return d
}
