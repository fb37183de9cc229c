package dispute

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"ledger-api/internal/models"
	"ledger-api/internal/repository"
)

// Resolution captures an admin's terminal decision on a dispute.
type Resolution struct {
	Status     models.DisputeStatus `json:"status"`
	AdminNotes string               `json:"admin_notes"`
	ResolvedBy string               `json:"resolved_by"`
	Action     models.ActionTaken   `json:"action_taken"`
	// ClearEntry marks the linked ledger entry verified and lifts the account
	// flag when the dispute is dismissed as a false positive.
	ClearEntry bool `json:"clear_entry"`
}

// ReviewService is the admin workflow over recorded disputes. Core dispute
// fields stay frozen; only the resolution fields change here.
type ReviewService interface {
	StartInvestigation(ctx context.Context, disputeID, adminID string) (*models.DisputeRecord, error)
	Resolve(ctx context.Context, disputeID string, res *Resolution) (*models.DisputeRecord, error)
	VerifyEntry(ctx context.Context, entryID string) error
	ListOpen(ctx context.Context, limit, offset int) ([]*models.DisputeRecord, error)
}

type reviewService struct {
	accounts  repository.AccountRepository
	entries   repository.LedgerRepository
	disputes  repository.DisputeRepository
	publisher EventPublisher
}

// NewReviewService builds the admin review workflow. publisher may be nil.
func NewReviewService(accounts repository.AccountRepository, entries repository.LedgerRepository, disputes repository.DisputeRepository, publisher EventPublisher) ReviewService {
	return &reviewService{
		accounts:  accounts,
		entries:   entries,
		disputes:  disputes,
		publisher: publisher,
	}
}

func (s *reviewService) StartInvestigation(ctx context.Context, disputeID, adminID string) (*models.DisputeRecord, error) {
	record, err := s.disputes.GetByDisputeID(ctx, disputeID)
	if err != nil {
		return nil, err
	}

	if err := record.Transition(models.DisputeInvestigating); err != nil {
		return nil, err
	}
	record.ResolvedBy = adminID

	if err := s.disputes.Update(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to update dispute: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"dispute_id": record.DisputeID,
		"admin_id":   adminID,
	}).Info("Dispute investigation started")

	return record, nil
}

// Resolve moves a dispute to a terminal state and applies the follow-up
// effects the admin chose.
func (s *reviewService) Resolve(ctx context.Context, disputeID string, res *Resolution) (*models.DisputeRecord, error) {
	if res.Status != models.DisputeResolved && res.Status != models.DisputeDismissed {
		return nil, fmt.Errorf("resolution status must be terminal, got %s", res.Status)
	}
	if res.ResolvedBy == "" {
		return nil, fmt.Errorf("resolved_by is required")
	}

	record, err := s.disputes.GetByDisputeID(ctx, disputeID)
	if err != nil {
		return nil, err
	}

	if err := record.Transition(res.Status); err != nil {
		return nil, err
	}
	record.AdminNotes = res.AdminNotes
	record.ResolvedBy = res.ResolvedBy
	record.Action = res.Action
	if record.Action == "" {
		record.Action = models.ActionNone
	}

	if err := s.disputes.Update(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to update dispute: %w", err)
	}

	if res.ClearEntry && record.Status == models.DisputeDismissed {
		if err := s.clearFalsePositive(ctx, record); err != nil {
			logrus.WithError(err).WithField("dispute_id", record.DisputeID).
				Warn("Failed to clear false positive artifacts")
		}
	}

	switch record.Action {
	case models.ActionTemporaryBan, models.ActionAccountRestriction:
		if err := s.accounts.SetStatus(ctx, record.AccountID, "suspended"); err != nil {
			logrus.WithError(err).WithField("dispute_id", record.DisputeID).
				Error("Failed to suspend account")
		}
	case models.ActionPermanentBan:
		if err := s.accounts.SetStatus(ctx, record.AccountID, "closed"); err != nil {
			logrus.WithError(err).WithField("dispute_id", record.DisputeID).
				Error("Failed to close account")
		}
	}

	if s.publisher != nil {
		if err := s.publisher.PublishDisputeResolved(ctx, record); err != nil {
			logrus.WithError(err).WithField("dispute_id", record.DisputeID).
				Warn("Failed to publish dispute resolution event")
		}
	}

	logrus.WithFields(logrus.Fields{
		"dispute_id": record.DisputeID,
		"status":     record.Status,
		"action":     record.Action,
		"admin_id":   record.ResolvedBy,
	}).Info("Dispute resolved")

	return record, nil
}

// clearFalsePositive verifies the linked entry and lifts the account flag
// after a dismissal. The ledger entry itself is never rewritten.
func (s *reviewService) clearFalsePositive(ctx context.Context, record *models.DisputeRecord) error {
	if !record.RelatedEntryID.IsZero() {
		entry, err := s.entries.GetByID(ctx, record.RelatedEntryID)
		if err != nil {
			return err
		}
		if entry.VerificationStatus == models.VerificationSuspicious {
			if err := s.entries.UpdateVerificationStatus(ctx, entry.EntryID, models.VerificationVerified); err != nil {
				return err
			}
		}
	}

	return s.accounts.Unflag(ctx, record.AccountID)
}

// VerifyEntry marks a flagged ledger entry as reviewed and legitimate.
func (s *reviewService) VerifyEntry(ctx context.Context, entryID string) error {
	entry, err := s.entries.GetByEntryID(ctx, entryID)
	if err != nil {
		return err
	}

	if entry.VerificationStatus == models.VerificationBlocked {
		return fmt.Errorf("blocked entries cannot be verified, the mutation never committed")
	}

	return s.entries.UpdateVerificationStatus(ctx, entryID, models.VerificationVerified)
}

// ListOpen returns the open review queue, newest first.
func (s *reviewService) ListOpen(ctx context.Context, limit, offset int) ([]*models.DisputeRecord, error) {
	filter := &repository.DisputeFilter{Status: models.DisputeOpen}
	return s.disputes.List(ctx, filter, limit, offset)
}
