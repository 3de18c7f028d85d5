package domain

// ScoreInsufficientData is the derived_score sentinel for wallets whose
// sample count is below the configured floor. Real scores are in [0, 1],
// so the sentinel can never collide with a computed value.
const ScoreInsufficientData = -1.0

// WalletStats is a per-wallet rollup of performance records.
// Recomputed from scratch on every aggregation run; never authoritative,
// the PerformanceRecord set is the source of truth.
type WalletStats struct {
	WalletID       string
	SampleCount    int     // usable records (COMPLETE + PARTIAL)
	WinRate        float64 // fraction of usable records with current PNL > 0
	MeanPnlPct     float64
	MedianPnlPct   float64
	LastActiveAtMs int64   // max observed_at across buy events, 0 if never seen
	DerivedScore   float64 // [0,1], or ScoreInsufficientData
}

// Sufficient reports whether the wallet had enough samples for a score.
func (s *WalletStats) Sufficient() bool {
	return s.DerivedScore != ScoreInsufficientData
}

// VerdictAction is the keep/replace decision for a tracked wallet.
type VerdictAction string

const (
	ActionKeep    VerdictAction = "KEEP"
	ActionReplace VerdictAction = "REPLACE"
)

// WalletVerdict is one decision-engine output row. Produced fresh on each
// run; persisted only inside the run's report output.
type WalletVerdict struct {
	WalletID             string
	Action               VerdictAction
	Reason               string
	CandidateReplacement *string // suggested replacement wallet, nil if none
}

// CandidateWallet is an externally discovered replacement candidate.
// Validated is an opaque external signal; unvalidated candidates are never
// suggested as replacements.
type CandidateWallet struct {
	WalletID      string
	ExternalScore float64
	Validated     bool
}
