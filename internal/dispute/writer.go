package dispute

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"ledger-api/internal/config"
	"ledger-api/internal/models"
	"ledger-api/internal/repository"
	"ledger-api/internal/risk"
)

// ReportRequest describes a new incident to record. Money movement is not
// implied; match conflicts and cancel requests arrive here directly, while
// blocked mutations arrive via the ledger service.
type ReportRequest struct {
	UserID               int64                  `json:"user_id"`
	Type                 models.DisputeType     `json:"type"`
	Severity             models.DisputeSeverity `json:"severity"`
	Description          string                 `json:"description"`
	Evidence             models.DisputeEvidence `json:"evidence"`
	RelatedMatchID       string                 `json:"related_match_id,omitempty"`
	RelatedTransactionID string                 `json:"related_transaction_id,omitempty"`
	RelatedEntryID       primitive.ObjectID     `json:"related_entry_id,omitempty"`
	Context              models.RequestContext  `json:"context"`
	ForceAutoFlag        bool                   `json:"force_auto_flag"`
}

// Writer is the sole creation path for dispute records.
type Writer interface {
	Record(ctx context.Context, req *ReportRequest) (*models.DisputeRecord, error)
}

// EventPublisher receives dispute lifecycle events. Publishing is advisory;
// failures are logged and never abort the write.
type EventPublisher interface {
	PublishDisputeOpened(ctx context.Context, dispute *models.DisputeRecord) error
	PublishDisputeResolved(ctx context.Context, dispute *models.DisputeRecord) error
}

// Recorder decides what happened for metrics. Satisfied by
// monitoring.Metrics.
type Recorder interface {
	DisputeOpened(disputeType string, severity string, autoFlagged bool)
	AccountFlagged(reason string)
}

type writer struct {
	accounts  repository.AccountRepository
	disputes  repository.DisputeRepository
	publisher EventPublisher
	metrics   Recorder

	weekWindow  time.Duration
	monthWindow time.Duration
}

// NewWriter creates the dispute store writer. The frequency windows come from
// the risk configuration; publisher and metrics may be nil.
func NewWriter(accounts repository.AccountRepository, disputes repository.DisputeRepository, publisher EventPublisher, metrics Recorder, cfg config.RiskConfig) Writer {
	weekWindow := cfg.DisputeLookbackWeek
	if weekWindow == 0 {
		weekWindow = 7 * 24 * time.Hour
	}
	monthWindow := cfg.DisputeLookbackMonth
	if monthWindow == 0 {
		monthWindow = 30 * 24 * time.Hour
	}
	return &writer{
		accounts:    accounts,
		disputes:    disputes,
		publisher:   publisher,
		metrics:     metrics,
		weekWindow:  weekWindow,
		monthWindow: monthWindow,
	}
}

// Record computes the frequency snapshot and risk score, persists the
// dispute, and applies the account-flag side effect when the escalation
// policy demands it.
func (w *writer) Record(ctx context.Context, req *ReportRequest) (*models.DisputeRecord, error) {
	if !req.Type.Valid() {
		return nil, fmt.Errorf("invalid dispute type: %s", req.Type)
	}
	if !req.Severity.Valid() {
		return nil, fmt.Errorf("invalid dispute severity: %s", req.Severity)
	}
	if req.Description == "" {
		return nil, fmt.Errorf("description is required")
	}

	account, err := w.accounts.GetByUserID(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account for dispute: %w", err)
	}

	frequency, err := w.snapshotFrequency(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot dispute frequency: %w", err)
	}

	assessment := risk.ScoreDispute(req.Type, req.Severity, frequency, req.ForceAutoFlag)

	record := models.NewDisputeRecord(account, req.Type, req.Severity, req.Description)
	record.Evidence = req.Evidence
	record.RelatedMatchID = req.RelatedMatchID
	record.RelatedTransactionID = req.RelatedTransactionID
	record.RelatedEntryID = req.RelatedEntryID
	record.Context = req.Context
	record.Frequency = frequency
	record.RiskScore = assessment.RiskScore
	record.AutoFlagged = assessment.AutoFlag

	if err := record.Validate(); err != nil {
		return nil, fmt.Errorf("dispute validation failed: %w", err)
	}

	if err := w.disputes.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to persist dispute: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"dispute_id": record.DisputeID,
		"user_id":    record.UserID,
		"type":       record.Type,
		"severity":   record.Severity,
		"risk_score": record.RiskScore,
		"auto_flag":  record.AutoFlagged,
	}).Info("Dispute recorded")

	if risk.ShouldFlagAccount(assessment.RiskScore) {
		reason := risk.AccountFlagReason(assessment.RiskScore)
		if err := w.accounts.Flag(ctx, account.ID, reason); err != nil {
			// The dispute is already persisted; surface the flag failure
			// without rolling it back.
			logrus.WithError(err).WithField("user_id", account.UserID).
				Error("Failed to flag account from dispute pattern")
		} else if w.metrics != nil {
			w.metrics.AccountFlagged("dispute_pattern")
		}
	}

	if w.metrics != nil {
		w.metrics.DisputeOpened(string(record.Type), string(record.Severity), record.AutoFlagged)
	}

	if w.publisher != nil {
		if err := w.publisher.PublishDisputeOpened(ctx, record); err != nil {
			logrus.WithError(err).WithField("dispute_id", record.DisputeID).
				Warn("Failed to publish dispute event")
		}
	}

	return record, nil
}

// snapshotFrequency counts the account's full dispute history, then adds one
// to each counter so the snapshot includes the record being created.
func (w *writer) snapshotFrequency(ctx context.Context, accountID primitive.ObjectID) (models.DisputeFrequency, error) {
	now := time.Now()

	total, err := w.disputes.CountByAccount(ctx, accountID)
	if err != nil {
		return models.DisputeFrequency{}, err
	}

	week, err := w.disputes.CountByAccountSince(ctx, accountID, now.Add(-w.weekWindow))
	if err != nil {
		return models.DisputeFrequency{}, err
	}

	month, err := w.disputes.CountByAccountSince(ctx, accountID, now.Add(-w.monthWindow))
	if err != nil {
		return models.DisputeFrequency{}, err
	}

	last, err := w.disputes.LastDisputeDate(ctx, accountID)
	if err != nil {
		return models.DisputeFrequency{}, err
	}
	if last == nil {
		last = &now
	}

	return models.DisputeFrequency{
		TotalDisputes:     int(total) + 1,
		DisputesThisWeek:  int(week) + 1,
		DisputesThisMonth: int(month) + 1,
		LastDisputeDate:   last,
	}, nil
}
