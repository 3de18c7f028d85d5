// Package orchestrator drives the periodic aggregation and decision
// cycle: recompute wallet statistics, fetch replacement candidates,
// run the decision engine, and publish the result.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"solana-wallet-lab/internal/aggregator"
	"solana-wallet-lab/internal/decision"
	"solana-wallet-lab/internal/discovery"
	"solana-wallet-lab/internal/observability"
	"solana-wallet-lab/internal/report"
)

// DefaultCycleInterval is how often a full decision cycle runs.
const DefaultCycleInterval = 48 * time.Hour

// Orchestrator wires the aggregator, candidate discovery, and the
// decision engine into one recurring cycle.
type Orchestrator struct {
	aggregator *aggregator.Aggregator
	engine     *decision.Engine
	source     discovery.CandidateSource
	validator  discovery.Validator
	notifier   report.Notifier

	cycleInterval time.Duration
	logger        zerolog.Logger
	metrics       *observability.Metrics
	nowMs         func() int64
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithCycleInterval overrides the cycle cadence.
func WithCycleInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.cycleInterval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMetrics enables cycle instrumentation.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithNotifier sets the outbound notifier for completed runs.
func WithNotifier(n report.Notifier) Option {
	return func(o *Orchestrator) {
		if n != nil {
			o.notifier = n
		}
	}
}

// WithClock overrides the time source. Tests only.
func WithClock(nowMs func() int64) Option {
	return func(o *Orchestrator) { o.nowMs = nowMs }
}

// New creates an Orchestrator. source and validator may be nil, in
// which case cycles run with an empty candidate pool.
func New(agg *aggregator.Aggregator, engine *decision.Engine, source discovery.CandidateSource, validator discovery.Validator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		aggregator:    agg,
		engine:        engine,
		source:        source,
		validator:     validator,
		notifier:      report.Noop{},
		cycleInterval: DefaultCycleInterval,
		logger:        zerolog.Nop(),
		nowMs:         func() int64 { return time.Now().UnixMilli() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunCycle executes one aggregation and decision pass and publishes
// the result. Candidate discovery failures degrade to an empty pool
// rather than aborting the cycle.
func (o *Orchestrator) RunCycle(ctx context.Context) (*decision.RunResult, error) {
	startedMs := o.nowMs()

	stats, err := o.aggregator.RecomputeAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("recompute wallet stats: %w", err)
	}
	if o.metrics != nil {
		o.metrics.AggregationRuns.Inc()
		o.metrics.AggregationLatency.Observe(float64(o.nowMs()-startedMs) / 1000)
	}

	candidates, err := discovery.FetchValidated(ctx, o.source, o.validator)
	if err != nil {
		o.logger.Warn().Err(err).Msg("candidate discovery failed, deciding without replacements")
		candidates = nil
	}

	nowMs := o.nowMs()
	verdicts := o.engine.Decide(stats, candidates, nowMs)
	result := decision.NewRunResult(nowMs, stats, verdicts)

	if o.metrics != nil {
		o.metrics.DecisionRuns.Inc()
		for _, v := range verdicts {
			o.metrics.VerdictsEmitted.WithLabelValues(string(v.Action)).Inc()
		}
		o.metrics.LastDecisionRun.Set(float64(nowMs) / 1000)
	}

	o.logger.Info().
		Str("run_id", result.RunID).
		Int("wallets", len(stats)).
		Int("candidates", len(candidates)).
		Int("replacements", result.ReplaceCount()).
		Msg("decision cycle completed")

	o.notifier.RunCompleted(ctx, result)
	return result, nil
}

// Run executes RunCycle immediately and then on every cycle interval
// until the context is canceled. Cycle errors are logged, not fatal.
func (o *Orchestrator) Run(ctx context.Context) error {
	if _, err := o.RunCycle(ctx); err != nil {
		o.logger.Error().Err(err).Msg("decision cycle failed")
	}

	ticker := time.NewTicker(o.cycleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := o.RunCycle(ctx); err != nil {
				o.logger.Error().Err(err).Msg("decision cycle failed")
			}
		}
	}
}
