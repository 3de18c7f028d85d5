// Package verification checks cross-store invariants of the pipeline:
// every completed task has exactly one performance record, no record
// points at a task that is not completed, and every task traces back to
// a stored buy event.
package verification

import (
	"context"
	"fmt"

	"solana-wallet-lab/internal/domain"
	"solana-wallet-lab/internal/storage"
)

// Violation is one broken invariant instance.
type Violation struct {
	Kind   string // violated invariant
	TaskID string
	Detail string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: task %s: %s", v.Kind, v.TaskID, v.Detail)
}

// Violation kinds.
const (
	KindMissingRecord  = "completed_task_without_record"
	KindStrayRecord    = "record_without_completed_task"
	KindOrphanTask     = "task_without_event"
	KindRecordMismatch = "record_event_mismatch"
)

// Report summarizes one verification pass.
type Report struct {
	TasksChecked   int
	RecordsChecked int
	Violations     []Violation
}

// Clean reports whether no invariant was violated.
func (r *Report) Clean() bool { return len(r.Violations) == 0 }

// Verifier audits the three stores against each other.
type Verifier struct {
	events  storage.EventStore
	tasks   storage.TaskStore
	records storage.RecordStore
}

// New creates a Verifier.
func New(events storage.EventStore, tasks storage.TaskStore, records storage.RecordStore) *Verifier {
	return &Verifier{events: events, tasks: tasks, records: records}
}

// VerifyAll runs a full audit over tasks and records.
func (v *Verifier) VerifyAll(ctx context.Context) (*Report, error) {
	report := &Report{}

	recs, err := v.records.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	recordByTask := make(map[string]*domain.PerformanceRecord, len(recs))
	for _, r := range recs {
		recordByTask[r.TaskID] = r
	}
	report.RecordsChecked = len(recs)

	for _, state := range []domain.TaskState{domain.TaskPending, domain.TaskFetching, domain.TaskCompleted, domain.TaskFailed} {
		tasks, err := v.tasks.GetByState(ctx, state)
		if err != nil {
			return nil, fmt.Errorf("load %s tasks: %w", state, err)
		}
		for _, task := range tasks {
			report.TasksChecked++
			v.checkTask(ctx, report, task, recordByTask)
			delete(recordByTask, task.TaskID)
		}
	}

	// Whatever is left points at no known task at all.
	for taskID := range recordByTask {
		report.Violations = append(report.Violations, Violation{
			Kind:   KindStrayRecord,
			TaskID: taskID,
			Detail: "record references unknown task",
		})
	}
	return report, nil
}

func (v *Verifier) checkTask(ctx context.Context, report *Report, task *domain.MeasurementTask, recordByTask map[string]*domain.PerformanceRecord) {
	rec, hasRecord := recordByTask[task.TaskID]

	if task.State == domain.TaskCompleted && !hasRecord {
		report.Violations = append(report.Violations, Violation{
			Kind:   KindMissingRecord,
			TaskID: task.TaskID,
			Detail: "completed task has no performance record",
		})
	}
	if task.State != domain.TaskCompleted && hasRecord {
		report.Violations = append(report.Violations, Violation{
			Kind:   KindStrayRecord,
			TaskID: task.TaskID,
			Detail: fmt.Sprintf("record exists but task state is %s", task.State),
		})
	}

	if _, err := v.events.GetBySignature(ctx, task.TxSignature); err != nil {
		report.Violations = append(report.Violations, Violation{
			Kind:   KindOrphanTask,
			TaskID: task.TaskID,
			Detail: fmt.Sprintf("buy event %s not found", task.TxSignature),
		})
	}

	if hasRecord && (rec.WalletID != task.WalletID || rec.TxSignature != task.TxSignature) {
		report.Violations = append(report.Violations, Violation{
			Kind:   KindRecordMismatch,
			TaskID: task.TaskID,
			Detail: "record identity fields disagree with task",
		})
	}
}
