package domain

// TaskState represents the lifecycle state of a measurement task.
type TaskState string

const (
	TaskPending   TaskState = "PENDING"
	TaskFetching  TaskState = "FETCHING"
	TaskCompleted TaskState = "COMPLETED"
	TaskFailed    TaskState = "FAILED"
)

func (s TaskState) String() string { return string(s) }

// MeasurementTask is a durable delayed-measurement job for one buy event.
// Corresponds to measurement_tasks table in PostgreSQL.
//
// Transitions: PENDING -> FETCHING (claimed by a worker once due),
// FETCHING -> COMPLETED (record persisted), FETCHING -> PENDING (retry with
// backoff), FETCHING/PENDING -> FAILED (retries exhausted, validation error,
// or cancellation). A task found in FETCHING at startup was orphaned by a
// crash and is reset to PENDING.
type MeasurementTask struct {
	TaskID       string // PRIMARY KEY, deterministic hash of tx_signature
	TxSignature  string // buy event reference
	WalletID     string // denormalized for per-wallet queries
	TokenMint    string // denormalized for fetch calls
	DueAtMs      int64  // observed_at + measurement delay (ms)
	State        TaskState
	AttemptCount int    // failed fetch attempts so far
	LastError    string // last failure cause (empty if none)
	CreatedAtMs  int64
	UpdatedAtMs  int64
}
