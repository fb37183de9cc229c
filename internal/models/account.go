package models

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Account represents a player account as seen by the ledger. The balance is
// stored in currency minor units and must only be mutated through the ledger
// service's atomic path; Version backs the compare-and-swap on every update.
type Account struct {
	ID     primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	UserID int64              `bson:"user_id" json:"user_id"`
	Status string             `bson:"status" json:"status"` // "active", "suspended", "closed"

	Balance int64 `bson:"balance" json:"balance"`
	Version int64 `bson:"version" json:"version"`

	Flagged    bool       `bson:"flagged" json:"flagged"`
	FlagReason string     `bson:"flag_reason,omitempty" json:"flag_reason,omitempty"`
	FlaggedAt  *time.Time `bson:"flagged_at,omitempty" json:"flagged_at,omitempty"`

	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at" json:"updated_at"`
	LastActivity time.Time `bson:"last_activity" json:"last_activity"`
}

// NewAccount creates an account with an opening balance in minor units.
func NewAccount(userID int64, initialBalance int64) *Account {
	now := time.Now()
	return &Account{
		UserID:       userID,
		Status:       "active",
		Balance:      initialBalance,
		Version:      0,
		CreatedAt:    now,
		UpdatedAt:    now,
		LastActivity: now,
	}
}

// IsActive checks if the account can transact.
func (a *Account) IsActive() bool {
	return a.Status == "active"
}

// Flag marks the account as flagged. Flags never revert automatically; only
// an admin action clears them, outside this model.
func (a *Account) Flag(reason string) {
	if a.Flagged {
		return
	}
	now := time.Now()
	a.Flagged = true
	a.FlagReason = reason
	a.FlaggedAt = &now
	a.UpdatedAt = now
}

// Validate validates the account data.
func (a *Account) Validate() error {
	if a.UserID <= 0 {
		return fmt.Errorf("invalid user ID")
	}

	validStatuses := []string{"active", "suspended", "closed"}
	isValidStatus := false
	for _, status := range validStatuses {
		if a.Status == status {
			isValidStatus = true
			break
		}
	}
	if !isValidStatus {
		return fmt.Errorf("invalid account status: %s", a.Status)
	}

	if a.Version < 0 {
		return fmt.Errorf("version cannot be negative")
	}

	return nil
}
