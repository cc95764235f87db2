package jobs

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeLedgerReconcile is the task type for the ledger reconciliation scan.
	TaskTypeLedgerReconcile = "ledger:reconcile"
)

// ReconcilePayload scopes a reconciliation run. AccountID 0 scans every account.
type ReconcilePayload struct {
	AccountID int64 `json:"account_id"`
}

// NewReconcileTask constructs an Asynq task for a reconciliation scan.
func NewReconcileTask(payload ReconcilePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeLedgerReconcile, data), nil
}

// NewReconcileTaskHandler adapts a ReconcileJob to an Asynq handler.
func NewReconcileTaskHandler(job *ReconcileJob) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload ReconcilePayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		return job.Run(ctx, payload.AccountID)
	}
}
