package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DisputeType classifies the incident a dispute record captures.
type DisputeType string

const (
	DisputeConflict           DisputeType = "conflict"
	DisputeCancelRequest      DisputeType = "cancel_request"
	DisputeRepeatedDispute    DisputeType = "repeated_dispute"
	DisputeSuspiciousBehavior DisputeType = "suspicious_behavior"
	DisputeFakeProof          DisputeType = "fake_proof"
	DisputePaymentDispute     DisputeType = "payment_dispute"
)

// DisputeTypes lists every valid dispute type.
var DisputeTypes = []DisputeType{
	DisputeConflict,
	DisputeCancelRequest,
	DisputeRepeatedDispute,
	DisputeSuspiciousBehavior,
	DisputeFakeProof,
	DisputePaymentDispute,
}

// Valid reports whether the type is one of the enumerated values.
func (t DisputeType) Valid() bool {
	for _, known := range DisputeTypes {
		if t == known {
			return true
		}
	}
	return false
}

// DisputeSeverity grades how serious an incident is.
type DisputeSeverity string

const (
	SeverityLow      DisputeSeverity = "low"
	SeverityMedium   DisputeSeverity = "medium"
	SeverityHigh     DisputeSeverity = "high"
	SeverityCritical DisputeSeverity = "critical"
)

// Valid reports whether the severity is one of the enumerated values.
func (s DisputeSeverity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// DisputeStatus is the admin-review state of a dispute.
type DisputeStatus string

const (
	DisputeOpen          DisputeStatus = "open"
	DisputeInvestigating DisputeStatus = "investigating"
	DisputeResolved      DisputeStatus = "resolved"
	DisputeDismissed     DisputeStatus = "dismissed"
)

// ActionTaken records the outcome applied when a dispute is resolved.
type ActionTaken string

const (
	ActionNone               ActionTaken = "none"
	ActionWarning            ActionTaken = "warning"
	ActionTemporaryBan       ActionTaken = "temporary_ban"
	ActionPermanentBan       ActionTaken = "permanent_ban"
	ActionAccountRestriction ActionTaken = "account_restriction"
)

// DisputeFrequency is the rolling-counter snapshot computed when a dispute is
// created, including the new record itself, then frozen.
type DisputeFrequency struct {
	TotalDisputes     int        `bson:"total_disputes" json:"total_disputes"`
	DisputesThisWeek  int        `bson:"disputes_this_week" json:"disputes_this_week"`
	DisputesThisMonth int        `bson:"disputes_this_month" json:"disputes_this_month"`
	LastDisputeDate   *time.Time `bson:"last_dispute_date,omitempty" json:"last_dispute_date,omitempty"`
}

// DisputeEvidence holds supporting material attached at creation time.
type DisputeEvidence struct {
	URLs        []string               `bson:"urls,omitempty" json:"urls,omitempty"`
	Screenshots []string               `bson:"screenshots,omitempty" json:"screenshots,omitempty"`
	Metadata    map[string]interface{} `bson:"metadata,omitempty" json:"metadata,omitempty"`
}

// DisputeRecord is the append-only incident record. Core fields are frozen at
// creation; only the resolution fields change, and only via admin review.
type DisputeRecord struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	DisputeID string             `bson:"dispute_id" json:"dispute_id"`

	AccountID primitive.ObjectID `bson:"account_id" json:"account_id"`
	UserID    int64              `bson:"user_id" json:"user_id"`

	Type     DisputeType     `bson:"type" json:"type"`
	Severity DisputeSeverity `bson:"severity" json:"severity"`

	RelatedMatchID       string             `bson:"related_match_id,omitempty" json:"related_match_id,omitempty"`
	RelatedTransactionID string             `bson:"related_transaction_id,omitempty" json:"related_transaction_id,omitempty"`
	RelatedEntryID       primitive.ObjectID `bson:"related_entry_id,omitempty" json:"related_entry_id,omitempty"`

	Description string          `bson:"description" json:"description"`
	Evidence    DisputeEvidence `bson:"evidence" json:"evidence"`
	Context     RequestContext  `bson:"context" json:"context"`

	Frequency   DisputeFrequency `bson:"frequency" json:"frequency"`
	RiskScore   int              `bson:"risk_score" json:"risk_score"`
	AutoFlagged bool             `bson:"auto_flagged" json:"auto_flagged"`

	Status     DisputeStatus `bson:"status" json:"status"`
	AdminNotes string        `bson:"admin_notes,omitempty" json:"admin_notes,omitempty"`
	ResolvedBy string        `bson:"resolved_by,omitempty" json:"resolved_by,omitempty"`
	Action     ActionTaken   `bson:"action_taken" json:"action_taken"`
	ResolvedAt *time.Time    `bson:"resolved_at,omitempty" json:"resolved_at,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// NewDisputeRecord creates an open dispute for an account.
func NewDisputeRecord(account *Account, disputeType DisputeType, severity DisputeSeverity, description string) *DisputeRecord {
	now := time.Now()
	return &DisputeRecord{
		DisputeID:   fmt.Sprintf("DSP-%s", uuid.New().String()),
		AccountID:   account.ID,
		UserID:      account.UserID,
		Type:        disputeType,
		Severity:    severity,
		Description: description,
		Status:      DisputeOpen,
		Action:      ActionNone,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// IsTerminal reports whether the dispute has reached a final state.
func (d *DisputeRecord) IsTerminal() bool {
	return d.Status == DisputeResolved || d.Status == DisputeDismissed
}

// CanTransitionTo checks the review state machine:
// open -> investigating -> resolved|dismissed, with open allowed to jump
// straight to a terminal state. Terminal states are absorbing.
func (d *DisputeRecord) CanTransitionTo(next DisputeStatus) bool {
	if d.IsTerminal() {
		return false
	}

	switch d.Status {
	case DisputeOpen:
		return next == DisputeInvestigating || next == DisputeResolved || next == DisputeDismissed
	case DisputeInvestigating:
		return next == DisputeResolved || next == DisputeDismissed
	}
	return false
}

// Transition moves the dispute to the next review state.
func (d *DisputeRecord) Transition(next DisputeStatus) error {
	if !d.CanTransitionTo(next) {
		return fmt.Errorf("invalid dispute transition: %s -> %s", d.Status, next)
	}

	d.Status = next
	d.UpdatedAt = time.Now()

	if d.IsTerminal() {
		now := time.Now()
		d.ResolvedAt = &now
	}

	return nil
}

// Validate validates the dispute data.
func (d *DisputeRecord) Validate() error {
	if d.DisputeID == "" {
		return fmt.Errorf("dispute ID is required")
	}

	if d.AccountID.IsZero() {
		return fmt.Errorf("account ID is required")
	}

	if !d.Type.Valid() {
		return fmt.Errorf("invalid dispute type: %s", d.Type)
	}

	if !d.Severity.Valid() {
		return fmt.Errorf("invalid dispute severity: %s", d.Severity)
	}

	if d.Description == "" {
		return fmt.Errorf("description is required")
	}

	if d.RiskScore < 0 || d.RiskScore > 100 {
		return fmt.Errorf("risk score out of range: %d", d.RiskScore)
	}

	return nil
}
