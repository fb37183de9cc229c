package risk

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"ledger-api/internal/config"
)

// EntryHistory is the read-only slice of the ledger store the detector needs.
// Satisfied by repository.LedgerRepository.
type EntryHistory interface {
	CountByAccountSince(ctx context.Context, accountID primitive.ObjectID, since time.Time) (int64, error)
	CountFlaggedByAccountSince(ctx context.Context, accountID primitive.ObjectID, since time.Time) (int64, error)
}

// DisputeHistory is the read-only slice of the dispute store the detector
// needs. Satisfied by repository.DisputeRepository.
type DisputeHistory interface {
	CountByAccountSince(ctx context.Context, accountID primitive.ObjectID, since time.Time) (int64, error)
}

// Verdict is the detector's advisory output. It never blocks on its own; the
// ledger service decides what to do with it.
type Verdict struct {
	IsSuspicious bool     `json:"is_suspicious"`
	RiskScore    int      `json:"risk_score"`
	Reasons      []string `json:"reasons"`
}

// Detector screens an account's recent history for abuse patterns. It is
// read-only and deterministic against a fixed history.
type Detector struct {
	entries  EntryHistory
	disputes DisputeHistory
	cfg      config.RiskConfig
}

func NewDetector(entries EntryHistory, disputes DisputeHistory, cfg config.RiskConfig) *Detector {
	return &Detector{
		entries:  entries,
		disputes: disputes,
		cfg:      cfg,
	}
}

// Score contributions per pattern. The weights reproduce the platform's
// original calibration; the windows and trip counts come from configuration.
const (
	recentDisputeWeight = 30
	flaggedEntryWeight  = 10
	entryBurstWeight    = 25
	maxRiskScore        = 100
)

// ReportedActivityScore is the verdict score assigned when a caller reports
// suspicious activity outright instead of the detector inferring it.
const ReportedActivityScore = maxRiskScore

// Evaluate computes the risk verdict for an account from its recent dispute
// and ledger history.
func (d *Detector) Evaluate(ctx context.Context, accountID primitive.ObjectID) (*Verdict, error) {
	now := time.Now()

	verdict := &Verdict{}

	recentDisputes, err := d.disputes.CountByAccountSince(ctx, accountID, now.Add(-d.cfg.DisputeLookbackWeek))
	if err != nil {
		return nil, fmt.Errorf("failed to count recent disputes: %w", err)
	}
	if recentDisputes > d.cfg.RecentDisputeMax {
		verdict.RiskScore += recentDisputeWeight
		verdict.Reasons = append(verdict.Reasons, fmt.Sprintf("%d disputes in the last week", recentDisputes))
	}

	flaggedEntries, err := d.entries.CountFlaggedByAccountSince(ctx, accountID, now.Add(-d.cfg.FlaggedEntryLookback))
	if err != nil {
		return nil, fmt.Errorf("failed to count flagged entries: %w", err)
	}
	if flaggedEntries > 0 {
		verdict.RiskScore += flaggedEntryWeight * int(flaggedEntries)
		verdict.Reasons = append(verdict.Reasons, fmt.Sprintf("%d flagged transactions in the last 24 hours", flaggedEntries))
	}

	burstEntries, err := d.entries.CountByAccountSince(ctx, accountID, now.Add(-d.cfg.EntryBurstLookback))
	if err != nil {
		return nil, fmt.Errorf("failed to count recent entries: %w", err)
	}
	if burstEntries > d.cfg.EntryBurstMax {
		verdict.RiskScore += entryBurstWeight
		verdict.Reasons = append(verdict.Reasons, fmt.Sprintf("%d transactions in the last hour", burstEntries))
	}

	if verdict.RiskScore > maxRiskScore {
		verdict.RiskScore = maxRiskScore
	}

	verdict.IsSuspicious = verdict.RiskScore > d.cfg.SuspiciousScoreThreshold ||
		len(verdict.Reasons) > d.cfg.SuspiciousReasonCount

	return verdict, nil
}
