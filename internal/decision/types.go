package decision

import (
	"github.com/google/uuid"

	"solana-wallet-lab/internal/domain"
)

// RunResult is the output of one decision engine run: the point-in-time
// wallet statistics it saw and the verdicts it produced.
type RunResult struct {
	RunID         string
	GeneratedAtMs int64
	Stats         []*domain.WalletStats
	Verdicts      []*domain.WalletVerdict
}

// NewRunResult wraps engine output with a unique run identifier.
func NewRunResult(nowMs int64, stats []*domain.WalletStats, verdicts []*domain.WalletVerdict) *RunResult {
	return &RunResult{
		RunID:         uuid.NewString(),
		GeneratedAtMs: nowMs,
		Stats:         stats,
		Verdicts:      verdicts,
	}
}

// ReplaceCount returns the number of Replace verdicts.
func (r *RunResult) ReplaceCount() int {
	n := 0
	for _, v := range r.Verdicts {
		if v.Action == domain.ActionReplace {
			n++
		}
	}
	return n
}
