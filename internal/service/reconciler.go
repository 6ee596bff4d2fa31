package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/timmy/nagato/internal/domain"
	"github.com/timmy/nagato/internal/logger"
)

// Reconciler applies fine-tune completion callbacks to records.
type Reconciler struct {
	records  RecordStore
	notifier *Notifier
}

// NewReconciler creates a reconciler. notifier may be nil.
func NewReconciler(records RecordStore, notifier *Notifier) *Reconciler {
	return &Reconciler{records: records, notifier: notifier}
}

// Reconcile finds the record owning payload["id"] and moves it to DONE when
// payload["status"] is "succeeded", FAILED otherwise. Replaying a payload is
// a no-op, and a terminal record never changes status again.
func (r *Reconciler) Reconcile(ctx context.Context, payload map[string]interface{}) (*domain.Record, error) {
	jobID, _ := payload["id"].(string)
	if jobID == "" {
		return nil, fmt.Errorf("%w: missing job id", domain.ErrInvalidPayload)
	}
	ctx = logger.SetFlow(logger.SetJobID(ctx, jobID), FlowReconcile)

	rec, err := r.records.FindByJobID(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.CtxWarn(ctx, "Reconciliation miss: no record for job")
			return nil, fmt.Errorf("job %s: %w", jobID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find record by job: %w", err)
	}
	ctx = logger.SetRecordID(ctx, rec.ID)

	status, _ := payload["status"].(string)
	next := domain.RecordStatusFailed
	if domain.JobStatus(status) == domain.JobStatusSucceeded {
		next = domain.RecordStatusDone
	}

	if rec.Status.IsTerminal() {
		if rec.Status != next {
			logger.CtxWarn(ctx, "Ignoring conflicting payload: record is %s, payload status %q", rec.Status, status)
		}
		return rec, nil
	}

	merged := make(map[string]interface{}, len(rec.Job)+len(payload))
	for k, v := range rec.Job {
		merged[k] = v
	}
	for k, v := range payload {
		merged[k] = v
	}
	if err := rec.AttachJob(merged); err != nil {
		return nil, err
	}
	if err := rec.Transition(next); err != nil {
		return nil, err
	}
	if err := r.records.Update(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to update record: %w", err)
	}

	logger.With(logger.Fields{logger.FieldStatus: string(next)}).Info(ctx, "Record reconciled")

	if rec.WebhookURL != "" && r.notifier != nil {
		if err := r.notifier.Notify(ctx, rec.WebhookURL, rec); err != nil {
			logger.CtxWarn(ctx, "Failed to forward reconciled record: %v", err)
		}
	}
	return rec, nil
}
