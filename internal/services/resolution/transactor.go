package resolution

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"record-reconciliation-backend/internal/apperr"
	"record-reconciliation-backend/internal/logger"
	"record-reconciliation-backend/internal/models"
	"record-reconciliation-backend/internal/repository"
)

// Review actions a batch item may carry.
const (
	ActionApprove = "approve"
	ActionReject  = "reject"
)

// BatchItem is one reviewer decision.
type BatchItem struct {
	ResultID string `json:"result_id"`
	Action   string `json:"action"`
	Notes    string `json:"notes,omitempty"`
}

// BatchSummary reports what a batch resolution actually did. Items that
// could not be applied are listed in Errors; they never abort the batch.
type BatchSummary struct {
	ApprovedCount int      `json:"approved_count"`
	RejectedCount int      `json:"rejected_count"`
	Errors        []string `json:"errors"`
}

// Transactor applies reviewer approve/reject decisions against the store.
// It never changes job status.
type Transactor struct {
	store repository.JobStore
	log   *logger.Logger
}

func NewTransactor(store repository.JobStore, baseLog *logger.Logger) *Transactor {
	return &Transactor{
		store: store,
		log:   baseLog.With("component", "ResolutionTransactor"),
	}
}

// BatchResolve applies a batch of decisions inside one transaction.
// Best-effort per item: an invalid action or a missing result is recorded as
// an error string and skipped, while every valid update commits together.
// The transaction as a whole only rolls back on a store fault.
func (t *Transactor) BatchResolve(ctx context.Context, items []BatchItem, reviewedBy *uuid.UUID) (*BatchSummary, error) {
	summary := &BatchSummary{Errors: []string{}}
	if len(items) == 0 {
		return summary, nil
	}

	err := t.store.RunInTransaction(ctx, func(tx repository.JobStore) error {
		for _, item := range items {
			var status string
			switch item.Action {
			case ActionApprove:
				status = models.ResultStatusApproved
			case ActionReject:
				status = models.ResultStatusRejected
			default:
				summary.Errors = append(summary.Errors, fmt.Sprintf("invalid action %q for match %s", item.Action, item.ResultID))
				continue
			}

			resultID, err := uuid.Parse(item.ResultID)
			if err != nil {
				summary.Errors = append(summary.Errors, fmt.Sprintf("Match %s not found", item.ResultID))
				continue
			}

			if status == models.ResultStatusApproved {
				conflict, err := approvedConflict(ctx, tx, resultID)
				if err != nil {
					if apperr.IsNotFound(err) {
						summary.Errors = append(summary.Errors, fmt.Sprintf("Match %s not found", item.ResultID))
						continue
					}
					return err
				}
				if conflict {
					summary.Errors = append(summary.Errors, fmt.Sprintf("match %s conflicts with an already approved match", item.ResultID))
					continue
				}
			}

			updates := map[string]interface{}{
				"status":     status,
				"updated_at": time.Now(),
			}
			if item.Notes != "" {
				updates["notes"] = item.Notes
			}
			if reviewedBy != nil {
				updates["reviewed_by"] = *reviewedBy
			}
			affected, err := tx.UpdateResultFields(ctx, resultID, updates)
			if err != nil {
				return err
			}
			if affected == 0 {
				summary.Errors = append(summary.Errors, fmt.Sprintf("Match %s not found", item.ResultID))
				continue
			}
			if status == models.ResultStatusApproved {
				summary.ApprovedCount++
			} else {
				summary.RejectedCount++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	t.log.Info("batch resolved",
		"approved", summary.ApprovedCount,
		"rejected", summary.RejectedCount,
		"errors", len(summary.Errors),
	)
	return summary, nil
}

// ResolveOne updates a single result's review status. Fails NotFound when
// the id does not exist and Validation on a bad status.
func (t *Transactor) ResolveOne(ctx context.Context, resultID uuid.UUID, status string, confidenceScore *float64, reviewedBy *uuid.UUID, notes string) (*models.ReconciliationResult, error) {
	switch status {
	case models.ResultStatusPending, models.ResultStatusApproved, models.ResultStatusRejected:
	default:
		return nil, apperr.Validationf("invalid result status %q", status)
	}
	if confidenceScore != nil && (*confidenceScore < 0 || *confidenceScore > 1) {
		return nil, apperr.Validationf("confidence score must be in [0,1]")
	}

	var updated *models.ReconciliationResult
	err := t.store.RunInTransaction(ctx, func(tx repository.JobStore) error {
		if status == models.ResultStatusApproved {
			conflict, err := approvedConflict(ctx, tx, resultID)
			if err != nil {
				return err
			}
			if conflict {
				return apperr.Validationf("match %s conflicts with an already approved match", resultID)
			}
		}

		updates := map[string]interface{}{
			"status":     status,
			"updated_at": time.Now(),
		}
		if confidenceScore != nil {
			updates["confidence_score"] = *confidenceScore
		}
		if reviewedBy != nil {
			updates["reviewed_by"] = *reviewedBy
		}
		if notes != "" {
			updates["notes"] = notes
		}
		affected, err := tx.UpdateResultFields(ctx, resultID, updates)
		if err != nil {
			return err
		}
		if affected == 0 {
			return apperr.NotFoundf("match %s not found", resultID)
		}
		updated, err = tx.GetResult(ctx, resultID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// approvedConflict checks the one-approved-match-per-record invariant for
// the result about to be approved.
func approvedConflict(ctx context.Context, tx repository.JobStore, resultID uuid.UUID) (bool, error) {
	result, err := tx.GetResult(ctx, resultID)
	if err != nil {
		return false, err
	}
	return tx.ApprovedRecordConflict(ctx, result.JobID, result.RecordAID, result.RecordBID, result.ID)
}
