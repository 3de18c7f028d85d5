package domain

// DataQuality classifies how much of the requested window the fetched
// series actually covered.
type DataQuality string

const (
	// QualityComplete means the series covered the full requested window.
	QualityComplete DataQuality = "COMPLETE"
	// QualityPartial means the series had points but did not span the
	// window (token delisted mid-window, late pool creation, etc).
	QualityPartial DataQuality = "PARTIAL"
	// QualityUnavailable means no provider returned any points.
	QualityUnavailable DataQuality = "UNAVAILABLE"
)

func (q DataQuality) String() string { return string(q) }

// PerformanceRecord is the measured outcome of one buy event.
// Corresponds to performance_records table in PostgreSQL.
// Created exactly once per completed measurement task; immutable afterward.
//
// PNL fields are nullable: zero is a valid PNL and must stay distinguishable
// from missing data, so UNAVAILABLE records carry nil rather than 0.
type PerformanceRecord struct {
	TaskID      string // PRIMARY KEY, completed task reference
	TxSignature string
	WalletID    string
	TokenMint   string
	EntryPrice  float64

	HighestPrice  *float64 // max high over the window
	HighestAtMs   *int64   // when the peak happened
	HighestPnlPct *float64 // (max high - entry) / entry * 100
	LowestPrice   *float64 // min low over the window
	LowestPnlPct  *float64
	ClosePrice    *float64 // latest close at or before measurement time
	CurrentPnlPct *float64

	WindowStartMs int64
	WindowEndMs   int64
	DataQuality   DataQuality
	MeasuredAtMs  int64
}

// Usable reports whether the record carries any PNL data and may be
// included in wallet statistics.
func (r *PerformanceRecord) Usable() bool {
	return r.DataQuality == QualityComplete || r.DataQuality == QualityPartial
}
