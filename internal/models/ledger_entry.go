package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// EntryCategory classifies what kind of balance mutation an entry records.
type EntryCategory string

const (
	CategoryBalanceChange      EntryCategory = "balance_change"
	CategorySuspiciousActivity EntryCategory = "suspicious_activity"
	CategoryManualAdjustment   EntryCategory = "manual_adjustment"
	CategoryRefund             EntryCategory = "refund"
	CategoryWinnings           EntryCategory = "winnings"
	CategoryEntryFee           EntryCategory = "entry_fee"
)

// EntryCategories lists every valid category.
var EntryCategories = []EntryCategory{
	CategoryBalanceChange,
	CategorySuspiciousActivity,
	CategoryManualAdjustment,
	CategoryRefund,
	CategoryWinnings,
	CategoryEntryFee,
}

// Valid reports whether the category is one of the enumerated values.
func (c EntryCategory) Valid() bool {
	for _, known := range EntryCategories {
		if c == known {
			return true
		}
	}
	return false
}

// EntryDirection is the sign of a mutation; amounts are stored as magnitudes.
type EntryDirection string

const (
	DirectionCredit EntryDirection = "credit"
	DirectionDebit  EntryDirection = "debit"
)

// VerificationStatus tracks admin review state of a ledger entry.
type VerificationStatus string

const (
	VerificationPending    VerificationStatus = "pending"
	VerificationVerified   VerificationStatus = "verified"
	VerificationSuspicious VerificationStatus = "suspicious"
	VerificationBlocked    VerificationStatus = "blocked"
)

// RequestContext carries the caller's request metadata into the audit trail.
type RequestContext struct {
	IPAddress string `bson:"ip_address,omitempty" json:"ip_address,omitempty"`
	UserAgent string `bson:"user_agent,omitempty" json:"user_agent,omitempty"`
}

// LedgerEntry is the append-only audit record of one balance mutation.
// Entries are created exclusively by the ledger service and never mutated or
// deleted afterward; VerificationStatus is the single admin-updatable field.
type LedgerEntry struct {
	ID      primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	EntryID string             `bson:"entry_id" json:"entry_id"`

	AccountID primitive.ObjectID `bson:"account_id" json:"account_id"`
	UserID    int64              `bson:"user_id" json:"user_id"`
	AdminID   string             `bson:"admin_id,omitempty" json:"admin_id,omitempty"`

	RelatedTransactionID string `bson:"related_transaction_id,omitempty" json:"related_transaction_id,omitempty"`

	Category  EntryCategory  `bson:"category" json:"category"`
	Direction EntryDirection `bson:"direction" json:"direction"`
	Amount    int64          `bson:"amount" json:"amount"`

	BalanceBefore int64 `bson:"balance_before" json:"balance_before"`
	BalanceAfter  int64 `bson:"balance_after" json:"balance_after"`

	Reason   string                 `bson:"reason" json:"reason"`
	Context  RequestContext         `bson:"context" json:"context"`
	Metadata map[string]interface{} `bson:"metadata,omitempty" json:"metadata,omitempty"`

	Flagged            bool               `bson:"flagged" json:"flagged"`
	FlagReason         string             `bson:"flag_reason,omitempty" json:"flag_reason,omitempty"`
	VerificationStatus VerificationStatus `bson:"verification_status" json:"verification_status"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

// NewLedgerEntry creates an entry for a committed mutation. The caller passes
// the signed amount; direction and magnitude are derived from its sign.
func NewLedgerEntry(account *Account, amount int64, category EntryCategory, reason string) *LedgerEntry {
	direction := DirectionCredit
	magnitude := amount
	if amount < 0 {
		direction = DirectionDebit
		magnitude = -amount
	}

	return &LedgerEntry{
		EntryID:            fmt.Sprintf("LED-%s", uuid.New().String()),
		AccountID:          account.ID,
		UserID:             account.UserID,
		Category:           category,
		Direction:          direction,
		Amount:             magnitude,
		Reason:             reason,
		VerificationStatus: VerificationPending,
		CreatedAt:          time.Now(),
	}
}

// SignedAmount returns the amount with its direction applied.
func (e *LedgerEntry) SignedAmount() int64 {
	if e.Direction == DirectionDebit {
		return -e.Amount
	}
	return e.Amount
}

// MarkFlagged flags the entry for review with the first applicable reason.
func (e *LedgerEntry) MarkFlagged(reason string) {
	e.Flagged = true
	e.FlagReason = reason
	e.VerificationStatus = VerificationSuspicious
}

// MarkBlocked records a mutation that was rejected before money moved.
func (e *LedgerEntry) MarkBlocked(reason string) {
	e.Flagged = true
	e.FlagReason = reason
	e.VerificationStatus = VerificationBlocked
}

// Validate validates the entry invariants before it is persisted.
func (e *LedgerEntry) Validate() error {
	if e.EntryID == "" {
		return fmt.Errorf("entry ID is required")
	}

	if e.AccountID.IsZero() {
		return fmt.Errorf("account ID is required")
	}

	if !e.Category.Valid() {
		return fmt.Errorf("invalid entry category: %s", e.Category)
	}

	if e.Direction != DirectionCredit && e.Direction != DirectionDebit {
		return fmt.Errorf("invalid entry direction: %s", e.Direction)
	}

	if e.Amount < 0 {
		return fmt.Errorf("entry amount must be a non-negative magnitude")
	}

	// A blocked entry leaves the balance untouched; every other entry must
	// chain before -> after exactly.
	if e.VerificationStatus == VerificationBlocked {
		if e.BalanceAfter != e.BalanceBefore {
			return fmt.Errorf("blocked entry must not move the balance")
		}
		return nil
	}

	if e.BalanceAfter-e.BalanceBefore != e.SignedAmount() {
		return fmt.Errorf("balance delta %d does not match signed amount %d",
			e.BalanceAfter-e.BalanceBefore, e.SignedAmount())
	}

	return nil
}
