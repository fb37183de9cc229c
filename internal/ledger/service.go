package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"ledger-api/internal/config"
	"ledger-api/internal/dispute"
	"ledger-api/internal/models"
	"ledger-api/internal/repository"
	"ledger-api/internal/risk"
	"ledger-api/pkg/logger"
)

// MutationRequest is a single signed balance change against an account.
type MutationRequest struct {
	UserID               int64                  `json:"user_id"`
	Amount               int64                  `json:"amount"`
	Category             models.EntryCategory   `json:"category"`
	Reason               string                 `json:"reason"`
	AdminID              string                 `json:"admin_id,omitempty"`
	RelatedTransactionID string                 `json:"related_transaction_id,omitempty"`
	Context              models.RequestContext  `json:"context"`
	Metadata             map[string]interface{} `json:"metadata,omitempty"`
	IdempotencyKey       string                 `json:"idempotency_key,omitempty"`
}

// MutationResult is the committed outcome of a mutation.
type MutationResult struct {
	NewBalance int64               `json:"new_balance"`
	Entry      *models.LedgerEntry `json:"entry"`
	Idempotent bool                `json:"idempotent,omitempty"`
}

// Service is the sole write path for account balances. Every committed or
// blocked mutation leaves a ledger entry behind.
type Service interface {
	ApplyMutation(ctx context.Context, req *MutationRequest) (*MutationResult, error)
	CreateAccount(ctx context.Context, userID int64, initialBalance int64) (*models.Account, error)
	GetAccount(ctx context.Context, userID int64) (*models.Account, error)
	GetHistory(ctx context.Context, userID int64, filter *repository.LedgerFilter, limit, offset int) ([]*models.LedgerEntry, error)
}

// AccountLocker serializes mutations per account. Satisfied by
// *repository.AccountLockManager.
type AccountLocker interface {
	LockAccount(ctx context.Context, userID int64, ttl time.Duration) (*repository.DistributedLock, error)
	ReleaseLock(ctx context.Context, lock *repository.DistributedLock) error
}

// TxRunner executes fn inside a storage transaction. The mongo-backed
// implementation lives in the database package; tests pass a pass-through.
type TxRunner interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// EventPublisher receives ledger lifecycle events. Publishing is advisory.
type EventPublisher interface {
	PublishEntryRecorded(ctx context.Context, entry *models.LedgerEntry) error
	PublishMutationBlocked(ctx context.Context, entry *models.LedgerEntry, record *models.DisputeRecord) error
}

// Recorder counts mutation outcomes. Satisfied by monitoring.Metrics.
type Recorder interface {
	MutationApplied(category string, flagged bool)
	MutationBlocked(category string)
	RiskScoreObserved(score int)
}

type service struct {
	accounts    repository.AccountRepository
	entries     repository.LedgerRepository
	detector    *risk.Detector
	reporter    dispute.Writer
	locker      AccountLocker
	idempotency repository.IdempotencyRepository
	tx          TxRunner
	publisher   EventPublisher
	metrics     Recorder
	cfg         config.RiskConfig
	lockTTL     time.Duration
	idemTTL     time.Duration
}

// Options carries the optional collaborators. Any of them may be nil; the
// service degrades to lock-only, event-less operation.
type Options struct {
	Locker      AccountLocker
	Idempotency repository.IdempotencyRepository
	Publisher   EventPublisher
	Metrics     Recorder
	LockTTL     time.Duration
	IdemTTL     time.Duration
}

// NewService builds the ledger service. accounts, entries, detector, reporter
// and tx are required.
func NewService(
	accounts repository.AccountRepository,
	entries repository.LedgerRepository,
	detector *risk.Detector,
	reporter dispute.Writer,
	tx TxRunner,
	cfg config.RiskConfig,
	opts Options,
) Service {
	if opts.LockTTL == 0 {
		opts.LockTTL = 30 * time.Second
	}
	if opts.IdemTTL == 0 {
		opts.IdemTTL = 24 * time.Hour
	}
	return &service{
		accounts:    accounts,
		entries:     entries,
		detector:    detector,
		reporter:    reporter,
		locker:      opts.Locker,
		idempotency: opts.Idempotency,
		tx:          tx,
		publisher:   opts.Publisher,
		metrics:     opts.Metrics,
		cfg:         cfg,
		lockTTL:     opts.LockTTL,
		idemTTL:     opts.IdemTTL,
	}
}

const maxVersionRetries = 3

// ApplyMutation validates, risk-screens and commits one balance change.
// Refused mutations still leave a blocked audit entry and open a dispute; the
// balance only moves on the commit path, atomically with its entry.
func (s *service) ApplyMutation(ctx context.Context, req *MutationRequest) (*MutationResult, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" && s.idempotency != nil {
		if cached, ok := s.replayResult(ctx, req.IdempotencyKey); ok {
			return cached, nil
		}
	}

	if s.locker != nil {
		lock, err := s.locker.LockAccount(ctx, req.UserID, s.lockTTL)
		if err != nil {
			return nil, &StorageError{Op: "acquire account lock", Err: err}
		}
		defer func() {
			if err := s.locker.ReleaseLock(context.Background(), lock); err != nil {
				logrus.WithError(err).WithField("user_id", req.UserID).Warn("Failed to release account lock")
			}
		}()
	}

	account, err := s.accounts.GetByUserID(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, &StorageError{Op: "load account", Err: err}
	}
	if !account.IsActive() {
		return nil, invalidf("account %d is not active", req.UserID)
	}

	verdict := s.screen(ctx, req, account)
	if s.metrics != nil {
		s.metrics.RiskScoreObserved(verdict.RiskScore)
	}

	if s.shouldBlock(req, verdict) {
		return nil, s.blockMutation(ctx, req, account, verdict)
	}

	result, err := s.commitMutation(ctx, req, account)
	if err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" && s.idempotency != nil {
		s.storeResult(ctx, req.IdempotencyKey, result)
	}

	return result, nil
}

func (s *service) validateRequest(req *MutationRequest) error {
	if req.Amount == 0 {
		return invalidf("amount must be non-zero")
	}
	if !req.Category.Valid() {
		return invalidf("unknown category %q", req.Category)
	}
	if req.Reason == "" {
		return invalidf("reason is required")
	}
	if req.Category == models.CategoryManualAdjustment && req.AdminID == "" {
		return invalidf("manual adjustments require an admin ID")
	}
	return nil
}

// screen runs the detector. A reported-suspicious mutation carries its
// verdict with it; detector storage failures degrade to a clean verdict so
// risk screening never takes the write path down.
func (s *service) screen(ctx context.Context, req *MutationRequest, account *models.Account) *risk.Verdict {
	if req.Category == models.CategorySuspiciousActivity {
		return &risk.Verdict{
			IsSuspicious: true,
			RiskScore:    risk.ReportedActivityScore,
			Reasons:      []string{"suspicious activity reported by caller"},
		}
	}

	verdict, err := s.detector.Evaluate(ctx, account.ID)
	if err != nil {
		logrus.WithError(err).WithField("user_id", account.UserID).
			Warn("Risk evaluation failed, proceeding unscreened")
		return &risk.Verdict{}
	}
	return verdict
}

// shouldBlock applies the blocking rule: reported suspicious activity is
// always refused, detected suspicion only refuses amounts above the block
// threshold.
func (s *service) shouldBlock(req *MutationRequest, verdict *risk.Verdict) bool {
	if req.Category == models.CategorySuspiciousActivity {
		return true
	}
	return verdict.IsSuspicious && abs(req.Amount) > s.cfg.BlockAmountThreshold
}

// blockMutation writes the blocked audit entry, opens the companion dispute,
// and returns the refusal. The account balance is untouched.
func (s *service) blockMutation(ctx context.Context, req *MutationRequest, account *models.Account, verdict *risk.Verdict) error {
	entry := models.NewLedgerEntry(account, req.Amount, req.Category, req.Reason)
	entry.AdminID = req.AdminID
	entry.RelatedTransactionID = req.RelatedTransactionID
	entry.Context = req.Context
	entry.Metadata = req.Metadata
	entry.BalanceBefore = account.Balance
	entry.BalanceAfter = account.Balance
	entry.MarkBlocked(blockReason(verdict))

	if err := s.entries.Create(ctx, entry); err != nil {
		return &StorageError{Op: "record blocked entry", Err: err}
	}

	record, err := s.reporter.Record(ctx, &dispute.ReportRequest{
		UserID:               req.UserID,
		Type:                 models.DisputeSuspiciousBehavior,
		Severity:             models.SeverityMedium,
		Description:          blockDescription(req, verdict),
		RelatedTransactionID: req.RelatedTransactionID,
		RelatedEntryID:       entry.ID,
		Context:              req.Context,
	})
	if err != nil {
		// The refusal stands even if the dispute write fails; the blocked
		// entry is already on record.
		logrus.WithError(err).WithField("entry_id", entry.EntryID).
			Error("Failed to open dispute for blocked mutation")
	}

	logrus.WithFields(logrus.Fields{
		"user_id":    req.UserID,
		"entry_id":   entry.EntryID,
		"category":   req.Category,
		"amount":     req.Amount,
		"risk_score": verdict.RiskScore,
		"reasons":    verdict.Reasons,
	}).Warn("Mutation blocked by risk screening")

	logger.Audit().WithFields(logrus.Fields{
		"user_id":    req.UserID,
		"entry_id":   entry.EntryID,
		"category":   req.Category,
		"amount":     req.Amount,
		"risk_score": verdict.RiskScore,
	}).Warn("mutation blocked")

	if s.metrics != nil {
		s.metrics.MutationBlocked(string(req.Category))
	}
	if s.publisher != nil {
		if err := s.publisher.PublishMutationBlocked(ctx, entry, record); err != nil {
			logrus.WithError(err).Warn("Failed to publish blocked mutation event")
		}
	}

	blocked := &BlockedError{EntryID: entry.EntryID, Verdict: verdict}
	if record != nil {
		blocked.DisputeID = record.DisputeID
	}
	return blocked
}

// commitMutation applies the balance change and its entry atomically,
// retrying a bounded number of times when a concurrent writer wins the
// version race.
func (s *service) commitMutation(ctx context.Context, req *MutationRequest, account *models.Account) (*MutationResult, error) {
	var lastErr error

	for attempt := 0; attempt < maxVersionRetries; attempt++ {
		if attempt > 0 {
			reloaded, err := s.accounts.GetByUserID(ctx, req.UserID)
			if err != nil {
				return nil, &StorageError{Op: "reload account", Err: err}
			}
			account = reloaded
		}

		entry := models.NewLedgerEntry(account, req.Amount, req.Category, req.Reason)
		entry.AdminID = req.AdminID
		entry.RelatedTransactionID = req.RelatedTransactionID
		entry.Context = req.Context
		entry.Metadata = req.Metadata
		entry.BalanceBefore = account.Balance
		entry.BalanceAfter = account.Balance + req.Amount

		if reason, flag := s.flagReason(ctx, req, account); flag {
			entry.MarkFlagged(reason)
		}

		if err := entry.Validate(); err != nil {
			return nil, invalidf("entry validation failed: %v", err)
		}

		err := s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
			if err := s.entries.Create(txCtx, entry); err != nil {
				return err
			}
			return s.accounts.ApplyBalanceChange(txCtx, account.ID, account.Version, entry.BalanceAfter)
		})
		if err == nil {
			s.logCommitted(entry)
			if s.metrics != nil {
				s.metrics.MutationApplied(string(req.Category), entry.Flagged)
			}
			if s.publisher != nil {
				if pubErr := s.publisher.PublishEntryRecorded(ctx, entry); pubErr != nil {
					logrus.WithError(pubErr).Warn("Failed to publish entry event")
				}
			}
			return &MutationResult{NewBalance: entry.BalanceAfter, Entry: entry}, nil
		}

		if errors.Is(err, repository.ErrVersionConflict) {
			lastErr = err
			continue
		}
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, &StorageError{Op: "commit mutation", Err: err}
	}

	return nil, &StorageError{Op: "commit mutation", Err: fmt.Errorf("version conflict persisted after %d attempts: %w", maxVersionRetries, lastErr)}
}

// flagReason decides whether a committing entry gets flagged for review.
// Large amounts and bursts of activity flag the entry without refusing it.
func (s *service) flagReason(ctx context.Context, req *MutationRequest, account *models.Account) (string, bool) {
	if abs(req.Amount) > s.cfg.LargeAmountThreshold {
		return "Transaction exceeds large amount threshold", true
	}

	recent, err := s.entries.CountByAccountSince(ctx, account.ID, time.Now().Add(-s.cfg.RapidTxWindow))
	if err != nil {
		logrus.WithError(err).WithField("user_id", account.UserID).
			Warn("Failed to count recent entries for flag check")
		return "", false
	}
	if recent > s.cfg.RapidTxCount {
		return "High transaction frequency", true
	}

	return "", false
}

func (s *service) logCommitted(entry *models.LedgerEntry) {
	fields := logrus.Fields{
		"user_id":        entry.UserID,
		"entry_id":       entry.EntryID,
		"category":       entry.Category,
		"direction":      entry.Direction,
		"amount":         entry.Amount,
		"balance_before": entry.BalanceBefore,
		"balance_after":  entry.BalanceAfter,
		"flagged":        entry.Flagged,
	}
	logrus.WithFields(fields).Info("Ledger mutation committed")
	logger.Audit().WithFields(fields).Info("mutation committed")
}

func (s *service) replayResult(ctx context.Context, key string) (*MutationResult, bool) {
	payload, found, err := s.idempotency.GetResult(ctx, key)
	if err != nil {
		logrus.WithError(err).Warn("Idempotency lookup failed, treating as first attempt")
		return nil, false
	}
	if !found {
		return nil, false
	}

	var result MutationResult
	if err := json.Unmarshal(payload, &result); err != nil {
		logrus.WithError(err).Warn("Stored idempotency payload is unreadable")
		return nil, false
	}
	result.Idempotent = true
	return &result, true
}

func (s *service) storeResult(ctx context.Context, key string, result *MutationResult) {
	payload, err := json.Marshal(result)
	if err != nil {
		logrus.WithError(err).Warn("Failed to encode idempotency payload")
		return
	}
	if err := s.idempotency.SetResult(ctx, key, payload, s.idemTTL); err != nil {
		logrus.WithError(err).Warn("Failed to store idempotency payload")
	}
}

// CreateAccount provisions an account for a user. A non-zero opening balance
// gets its own ledger entry so the signed entry sum always reproduces the
// stored balance.
func (s *service) CreateAccount(ctx context.Context, userID int64, initialBalance int64) (*models.Account, error) {
	if userID <= 0 {
		return nil, invalidf("user ID must be positive")
	}
	if initialBalance < 0 {
		return nil, invalidf("initial balance cannot be negative")
	}

	account := models.NewAccount(userID, initialBalance)
	err := s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.accounts.Create(txCtx, account); err != nil {
			return err
		}
		if initialBalance == 0 {
			return nil
		}

		opening := models.NewLedgerEntry(account, initialBalance, models.CategoryBalanceChange, "Opening balance")
		opening.BalanceBefore = 0
		opening.BalanceAfter = initialBalance
		return s.entries.Create(txCtx, opening)
	})
	if err != nil {
		return nil, &StorageError{Op: "create account", Err: err}
	}

	logrus.WithFields(logrus.Fields{
		"user_id": userID,
		"balance": initialBalance,
	}).Info("Account created")
	return account, nil
}

func (s *service) GetAccount(ctx context.Context, userID int64) (*models.Account, error) {
	account, err := s.accounts.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, &StorageError{Op: "load account", Err: err}
	}
	return account, nil
}

// GetHistory lists the account's audit trail, newest first.
func (s *service) GetHistory(ctx context.Context, userID int64, filter *repository.LedgerFilter, limit, offset int) ([]*models.LedgerEntry, error) {
	account, err := s.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}

	if filter == nil {
		filter = &repository.LedgerFilter{}
	}
	filter.AccountID = account.ID

	entries, err := s.entries.List(ctx, filter, limit, offset)
	if err != nil {
		return nil, &StorageError{Op: "list ledger entries", Err: err}
	}
	return entries, nil
}

func blockReason(verdict *risk.Verdict) string {
	if len(verdict.Reasons) == 0 {
		return "Blocked due to suspicious activity patterns"
	}
	return fmt.Sprintf("Blocked due to suspicious activity patterns: %s", strings.Join(verdict.Reasons, "; "))
}

func blockDescription(req *MutationRequest, verdict *risk.Verdict) string {
	return fmt.Sprintf("Mutation of %d (%s) refused at risk score %d", req.Amount, req.Category, verdict.RiskScore)
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
