package risk

import (
	"fmt"
	"math"

	"ledger-api/internal/models"
)

// Assessment is the escalation policy's output for a new dispute.
type Assessment struct {
	RiskScore int  `json:"risk_score"`
	AutoFlag  bool `json:"auto_flag"`
}

// AccountFlagThreshold is the risk score above which the account itself gets
// flagged, not just the dispute record.
const AccountFlagThreshold = 80

// autoFlagScoreThreshold and autoFlagWeeklyDisputes trip the dispute-level
// auto-flag independently of the caller's request.
const (
	autoFlagScoreThreshold  = 60
	autoFlagWeeklyDisputes  = 5
	bonusWeeklyDisputes     = 3
	bonusMonthlyDisputes    = 10
	bonusTotalDisputes      = 20
	weeklyDisputeBonus      = 20
	monthlyDisputeBonus     = 30
	totalDisputeBonus       = 25
)

// baseScore is a total function over the closed dispute type enum. Adding a
// type without a score is a compile-visible gap here, not a silent zero.
func baseScore(t models.DisputeType) int {
	switch t {
	case models.DisputeConflict:
		return 15
	case models.DisputeCancelRequest:
		return 10
	case models.DisputeRepeatedDispute:
		return 25
	case models.DisputeSuspiciousBehavior:
		return 30
	case models.DisputeFakeProof:
		return 40
	case models.DisputePaymentDispute:
		return 20
	}
	return 0
}

// severityMultiplier scales the summed score by incident severity.
func severityMultiplier(s models.DisputeSeverity) float64 {
	switch s {
	case models.SeverityLow:
		return 1
	case models.SeverityMedium:
		return 1.5
	case models.SeverityHigh:
		return 2
	case models.SeverityCritical:
		return 3
	}
	return 1
}

// ScoreDispute maps a dispute's type, severity and frequency snapshot to a
// risk score in [0,100] and an auto-flag decision. The frequency counters must
// already include the dispute being created. Pure and deterministic.
func ScoreDispute(t models.DisputeType, severity models.DisputeSeverity, freq models.DisputeFrequency, forceAutoFlag bool) Assessment {
	score := baseScore(t)

	if freq.DisputesThisWeek > bonusWeeklyDisputes {
		score += weeklyDisputeBonus
	}
	if freq.DisputesThisMonth > bonusMonthlyDisputes {
		score += monthlyDisputeBonus
	}
	if freq.TotalDisputes > bonusTotalDisputes {
		score += totalDisputeBonus
	}

	scaled := int(math.Round(float64(score) * severityMultiplier(severity)))
	if scaled > maxRiskScore {
		scaled = maxRiskScore
	}
	if scaled < 0 {
		scaled = 0
	}

	autoFlag := forceAutoFlag ||
		scaled > autoFlagScoreThreshold ||
		freq.DisputesThisWeek > autoFlagWeeklyDisputes

	return Assessment{
		RiskScore: scaled,
		AutoFlag:  autoFlag,
	}
}

// ShouldFlagAccount reports whether the score crosses the account-flagging
// threshold.
func ShouldFlagAccount(score int) bool {
	return score > AccountFlagThreshold
}

// AccountFlagReason is the reason recorded on the account when dispute
// history alone flags it.
func AccountFlagReason(score int) string {
	return fmt.Sprintf("High risk score (%d) due to dispute pattern", score)
}
