// Package report delivers measurement results and decision runs to the
// outside world: Discord-style webhooks and CSV exports. Delivery is
// fire-and-forget; a failed report never rolls back pipeline state.
package report

import (
	"context"

	"solana-wallet-lab/internal/decision"
	"solana-wallet-lab/internal/domain"
)

// Notifier receives completed measurements and decision runs.
type Notifier interface {
	// RecordMeasured reports one finished measurement.
	RecordMeasured(ctx context.Context, event *domain.BuyEvent, rec *domain.PerformanceRecord)
	// RunCompleted reports a decision engine run with its verdicts.
	RunCompleted(ctx context.Context, result *decision.RunResult)
}

// Noop discards all reports.
type Noop struct{}

var _ Notifier = Noop{}

func (Noop) RecordMeasured(context.Context, *domain.BuyEvent, *domain.PerformanceRecord) {}
func (Noop) RunCompleted(context.Context, *decision.RunResult)                           {}

// Multi fans a report out to several notifiers.
type Multi []Notifier

var _ Notifier = Multi{}

func (m Multi) RecordMeasured(ctx context.Context, event *domain.BuyEvent, rec *domain.PerformanceRecord) {
	for _, n := range m {
		n.RecordMeasured(ctx, event, rec)
	}
}

func (m Multi) RunCompleted(ctx context.Context, result *decision.RunResult) {
	for _, n := range m {
		n.RunCompleted(ctx, result)
	}
}
