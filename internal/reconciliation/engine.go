package reconciliation

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"ledger-api/internal/models"
	"ledger-api/internal/repository"
)

// Result is the outcome of reconciling one account. An account is consistent
// when its stored balance equals the signed sum of its committed entries;
// blocked entries never moved money and are excluded from the sum.
type Result struct {
	AccountID         primitive.ObjectID `json:"account_id"`
	UserID            int64              `json:"user_id"`
	StoredBalance     int64              `json:"stored_balance"`
	CalculatedBalance int64              `json:"calculated_balance"`
	Discrepancy       int64              `json:"discrepancy"`
	Status            string             `json:"status"` // "consistent", "discrepancy", "error"
	ErrorMessage      string             `json:"error_message,omitempty"`
	ReconciledAt      time.Time          `json:"reconciled_at"`
}

// BatchResult summarizes one reconciliation sweep.
type BatchResult struct {
	TotalAccounts      int           `json:"total_accounts"`
	ConsistentAccounts int           `json:"consistent_accounts"`
	Discrepancies      int           `json:"discrepancies"`
	Errors             int           `json:"errors"`
	Results            []*Result     `json:"results"`
	StartedAt          time.Time     `json:"started_at"`
	Duration           time.Duration `json:"duration"`
}

// Recorder counts reconciliation outcomes. Satisfied by monitoring.Metrics.
type Recorder interface {
	ReconciliationRun(status string)
	DiscrepancyFound()
}

// Engine sweeps accounts and cross-checks stored balances against the ledger.
type Engine interface {
	ReconcileAccount(ctx context.Context, account *models.Account) *Result
	ReconcileAll(ctx context.Context, batchSize int) (*BatchResult, error)
}

type engine struct {
	accounts repository.AccountRepository
	entries  repository.LedgerRepository
	locker   *repository.AccountLockManager
	metrics  Recorder
}

const reconcileLockTTL = 60 * time.Second

// NewEngine builds the reconciliation engine. locker and metrics may be nil.
func NewEngine(accounts repository.AccountRepository, entries repository.LedgerRepository, locker *repository.AccountLockManager, metrics Recorder) Engine {
	return &engine{
		accounts: accounts,
		entries:  entries,
		locker:   locker,
		metrics:  metrics,
	}
}

// ReconcileAccount checks one account. The per-account lock keeps a mutation
// from landing between the balance read and the ledger sum.
func (e *engine) ReconcileAccount(ctx context.Context, account *models.Account) *Result {
	result := &Result{
		AccountID:    account.ID,
		UserID:       account.UserID,
		ReconciledAt: time.Now(),
	}

	if e.locker != nil {
		lock, err := e.locker.LockAccount(ctx, account.UserID, reconcileLockTTL)
		if err != nil {
			result.Status = "error"
			result.ErrorMessage = fmt.Sprintf("failed to acquire account lock: %v", err)
			return result
		}
		defer e.locker.ReleaseLock(ctx, lock)
	}

	current, err := e.accounts.GetByID(ctx, account.ID)
	if err != nil {
		result.Status = "error"
		result.ErrorMessage = fmt.Sprintf("failed to load account: %v", err)
		return result
	}

	calculated, err := e.entries.SumSignedAmounts(ctx, account.ID)
	if err != nil {
		result.Status = "error"
		result.ErrorMessage = fmt.Sprintf("failed to sum ledger entries: %v", err)
		return result
	}

	result.StoredBalance = current.Balance
	result.CalculatedBalance = calculated
	result.Discrepancy = current.Balance - calculated

	if result.Discrepancy == 0 {
		result.Status = "consistent"
		return result
	}

	result.Status = "discrepancy"

	logrus.WithFields(logrus.Fields{
		"user_id":            current.UserID,
		"stored_balance":     current.Balance,
		"calculated_balance": calculated,
		"discrepancy":        result.Discrepancy,
	}).Error("Balance discrepancy detected")

	if e.metrics != nil {
		e.metrics.DiscrepancyFound()
	}

	// Quarantine the account until an operator investigates.
	reason := fmt.Sprintf("Balance discrepancy of %d detected by reconciliation", result.Discrepancy)
	if err := e.accounts.Flag(ctx, current.ID, reason); err != nil {
		logrus.WithError(err).WithField("user_id", current.UserID).
			Error("Failed to flag account with discrepancy")
	}

	return result
}

// ReconcileAll sweeps the most recently active accounts.
func (e *engine) ReconcileAll(ctx context.Context, batchSize int) (*BatchResult, error) {
	start := time.Now()

	accounts, err := e.accounts.GetAccountsForReconciliation(ctx, batchSize)
	if err != nil {
		if e.metrics != nil {
			e.metrics.ReconciliationRun("error")
		}
		return nil, fmt.Errorf("failed to load accounts for reconciliation: %w", err)
	}

	batch := &BatchResult{
		TotalAccounts: len(accounts),
		StartedAt:     start,
	}

	for _, account := range accounts {
		result := e.ReconcileAccount(ctx, account)
		batch.Results = append(batch.Results, result)

		switch result.Status {
		case "consistent":
			batch.ConsistentAccounts++
		case "discrepancy":
			batch.Discrepancies++
		default:
			batch.Errors++
		}
	}

	batch.Duration = time.Since(start)

	status := "success"
	if batch.Discrepancies > 0 {
		status = "discrepancies_found"
	}
	if e.metrics != nil {
		e.metrics.ReconciliationRun(status)
	}

	logrus.WithFields(logrus.Fields{
		"total":         batch.TotalAccounts,
		"consistent":    batch.ConsistentAccounts,
		"discrepancies": batch.Discrepancies,
		"errors":        batch.Errors,
		"duration":      batch.Duration.String(),
	}).Info("Reconciliation sweep finished")

	return batch, nil
}
