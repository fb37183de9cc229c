package ledger

import (
	"bytes"
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"ledger-api/internal/config"
	"ledger-api/internal/dispute"
	"ledger-api/internal/models"
	"ledger-api/internal/repository"
	"ledger-api/internal/risk"
	"ledger-api/pkg/logger"
)

// Mock repositories for testing

type MockAccountRepository struct {
	mock.Mock
}

func (m *MockAccountRepository) Create(ctx context.Context, account *models.Account) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

func (m *MockAccountRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Account), args.Error(1)
}

func (m *MockAccountRepository) GetByUserID(ctx context.Context, userID int64) (*models.Account, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Account), args.Error(1)
}

func (m *MockAccountRepository) ApplyBalanceChange(ctx context.Context, id primitive.ObjectID, expectedVersion int64, newBalance int64) error {
	args := m.Called(ctx, id, expectedVersion, newBalance)
	return args.Error(0)
}

func (m *MockAccountRepository) Flag(ctx context.Context, id primitive.ObjectID, reason string) error {
	args := m.Called(ctx, id, reason)
	return args.Error(0)
}

func (m *MockAccountRepository) Unflag(ctx context.Context, id primitive.ObjectID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockAccountRepository) SetStatus(ctx context.Context, id primitive.ObjectID, status string) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *MockAccountRepository) GetAccountsForReconciliation(ctx context.Context, limit int) ([]*models.Account, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]*models.Account), args.Error(1)
}

func (m *MockAccountRepository) CreateIndexes(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type MockLedgerRepository struct {
	mock.Mock
}

func (m *MockLedgerRepository) Create(ctx context.Context, entry *models.LedgerEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockLedgerRepository) GetByEntryID(ctx context.Context, entryID string) (*models.LedgerEntry, error) {
	args := m.Called(ctx, entryID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.LedgerEntry), args.Error(1)
}

func (m *MockLedgerRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*models.LedgerEntry, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.LedgerEntry), args.Error(1)
}

func (m *MockLedgerRepository) List(ctx context.Context, filter *repository.LedgerFilter, limit, offset int) ([]*models.LedgerEntry, error) {
	args := m.Called(ctx, filter, limit, offset)
	return args.Get(0).([]*models.LedgerEntry), args.Error(1)
}

func (m *MockLedgerRepository) CountByAccountSince(ctx context.Context, accountID primitive.ObjectID, since time.Time) (int64, error) {
	args := m.Called(ctx, accountID, since)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockLedgerRepository) CountFlaggedByAccountSince(ctx context.Context, accountID primitive.ObjectID, since time.Time) (int64, error) {
	args := m.Called(ctx, accountID, since)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockLedgerRepository) SumSignedAmounts(ctx context.Context, accountID primitive.ObjectID) (int64, error) {
	args := m.Called(ctx, accountID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockLedgerRepository) UpdateVerificationStatus(ctx context.Context, entryID string, status models.VerificationStatus) error {
	args := m.Called(ctx, entryID, status)
	return args.Error(0)
}

func (m *MockLedgerRepository) CreateIndexes(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type MockDisputeHistory struct {
	mock.Mock
}

func (m *MockDisputeHistory) CountByAccountSince(ctx context.Context, accountID primitive.ObjectID, since time.Time) (int64, error) {
	args := m.Called(ctx, accountID, since)
	return args.Get(0).(int64), args.Error(1)
}

type MockDisputeWriter struct {
	mock.Mock
}

func (m *MockDisputeWriter) Record(ctx context.Context, req *dispute.ReportRequest) (*models.DisputeRecord, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.DisputeRecord), args.Error(1)
}

type MockLocker struct {
	mock.Mock
}

func (m *MockLocker) LockAccount(ctx context.Context, userID int64, ttl time.Duration) (*repository.DistributedLock, error) {
	args := m.Called(ctx, userID, ttl)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.DistributedLock), args.Error(1)
}

func (m *MockLocker) ReleaseLock(ctx context.Context, lock *repository.DistributedLock) error {
	args := m.Called(ctx, lock)
	return args.Error(0)
}

// passthroughTx runs the function without a real storage transaction.
type passthroughTx struct{}

func (passthroughTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		BlockAmountThreshold:     100,
		LargeAmountThreshold:     1000,
		RapidTxCount:             10,
		RapidTxWindow:            5 * time.Minute,
		SuspiciousScoreThreshold: 40,
		SuspiciousReasonCount:    2,
		DisputeLookbackWeek:      168 * time.Hour,
		FlaggedEntryLookback:     24 * time.Hour,
		EntryBurstLookback:       time.Hour,
		RecentDisputeMax:         3,
		EntryBurstMax:            20,
	}
}

type serviceMocks struct {
	accounts *MockAccountRepository
	entries  *MockLedgerRepository
	disputes *MockDisputeHistory
	reporter *MockDisputeWriter
}

func newTestService(opts Options) (Service, *serviceMocks) {
	m := &serviceMocks{
		accounts: new(MockAccountRepository),
		entries:  new(MockLedgerRepository),
		disputes: new(MockDisputeHistory),
		reporter: new(MockDisputeWriter),
	}

	detector := risk.NewDetector(m.entries, m.disputes, testRiskConfig())
	svc := NewService(m.accounts, m.entries, detector, m.reporter, passthroughTx{}, testRiskConfig(), opts)
	return svc, m
}

func testAccount(balance, version int64) *models.Account {
	account := models.NewAccount(42, balance)
	account.ID = primitive.NewObjectID()
	account.Version = version
	return account
}

// cleanHistory stubs an account with no suspicious history.
func (m *serviceMocks) cleanHistory() {
	m.disputes.On("CountByAccountSince", mock.Anything, mock.Anything, mock.Anything).Return(int64(0), nil)
	m.entries.On("CountFlaggedByAccountSince", mock.Anything, mock.Anything, mock.Anything).Return(int64(0), nil)
	m.entries.On("CountByAccountSince", mock.Anything, mock.Anything, mock.Anything).Return(int64(0), nil)
}

// suspiciousHistory stubs a history that scores 50: four disputes this week
// and two flagged entries in the last day.
func (m *serviceMocks) suspiciousHistory() {
	m.disputes.On("CountByAccountSince", mock.Anything, mock.Anything, mock.Anything).Return(int64(4), nil)
	m.entries.On("CountFlaggedByAccountSince", mock.Anything, mock.Anything, mock.Anything).Return(int64(2), nil)
	m.entries.On("CountByAccountSince", mock.Anything, mock.Anything, mock.Anything).Return(int64(0), nil)
}

func TestApplyMutationCreditsAccount(t *testing.T) {
	svc, m := newTestService(Options{})
	account := testAccount(500, 3)

	m.accounts.On("GetByUserID", mock.Anything, int64(42)).Return(account, nil)
	m.cleanHistory()
	m.entries.On("Create", mock.Anything, mock.AnythingOfType("*models.LedgerEntry")).Return(nil)
	m.accounts.On("ApplyBalanceChange", mock.Anything, account.ID, int64(3), int64(550)).Return(nil)

	result, err := svc.ApplyMutation(context.Background(), &MutationRequest{
		UserID:   42,
		Amount:   50,
		Category: models.CategoryWinnings,
		Reason:   "match 881 winnings",
	})

	assert.NoError(t, err)
	assert.Equal(t, int64(550), result.NewBalance)
	assert.Equal(t, models.DirectionCredit, result.Entry.Direction)
	assert.Equal(t, int64(50), result.Entry.Amount)
	assert.Equal(t, int64(500), result.Entry.BalanceBefore)
	assert.Equal(t, int64(550), result.Entry.BalanceAfter)
	assert.Equal(t, models.VerificationPending, result.Entry.VerificationStatus)
	assert.False(t, result.Entry.Flagged)
	m.accounts.AssertExpectations(t)
}

func TestApplyMutationDebitsAccount(t *testing.T) {
	svc, m := newTestService(Options{})
	account := testAccount(500, 1)

	m.accounts.On("GetByUserID", mock.Anything, int64(42)).Return(account, nil)
	m.cleanHistory()
	m.entries.On("Create", mock.Anything, mock.AnythingOfType("*models.LedgerEntry")).Return(nil)
	m.accounts.On("ApplyBalanceChange", mock.Anything, account.ID, int64(1), int64(420)).Return(nil)

	result, err := svc.ApplyMutation(context.Background(), &MutationRequest{
		UserID:   42,
		Amount:   -80,
		Category: models.CategoryEntryFee,
		Reason:   "tournament entry",
	})

	assert.NoError(t, err)
	assert.Equal(t, int64(420), result.NewBalance)
	assert.Equal(t, models.DirectionDebit, result.Entry.Direction)
	assert.Equal(t, int64(80), result.Entry.Amount)
	assert.Equal(t, int64(-80), result.Entry.SignedAmount())
}

func TestApplyMutationFlagsLargeAmounts(t *testing.T) {
	svc, m := newTestService(Options{})
	account := testAccount(5000, 2)

	m.accounts.On("GetByUserID", mock.Anything, int64(42)).Return(account, nil)
	m.cleanHistory()
	m.entries.On("Create", mock.Anything, mock.AnythingOfType("*models.LedgerEntry")).Return(nil)
	m.accounts.On("ApplyBalanceChange", mock.Anything, account.ID, int64(2), int64(6500)).Return(nil)

	result, err := svc.ApplyMutation(context.Background(), &MutationRequest{
		UserID:   42,
		Amount:   1500,
		Category: models.CategoryBalanceChange,
		Reason:   "prize payout",
	})

	assert.NoError(t, err)
	assert.True(t, result.Entry.Flagged)
	assert.Equal(t, "Transaction exceeds large amount threshold", result.Entry.FlagReason)
	assert.Equal(t, models.VerificationSuspicious, result.Entry.VerificationStatus)
	// Flagging does not stop the commit.
	assert.Equal(t, int64(6500), result.NewBalance)
}

func TestApplyMutationFlagsRapidActivity(t *testing.T) {
	svc, m := newTestService(Options{})
	account := testAccount(1000, 0)

	m.accounts.On("GetByUserID", mock.Anything, int64(42)).Return(account, nil)
	m.disputes.On("CountByAccountSince", mock.Anything, mock.Anything, mock.Anything).Return(int64(0), nil)
	m.entries.On("CountFlaggedByAccountSince", mock.Anything, mock.Anything, mock.Anything).Return(int64(0), nil)
	// Eleven recent entries exceed the rapid transaction count of ten but
	// stay under the hourly burst threshold of twenty.
	m.entries.On("CountByAccountSince", mock.Anything, mock.Anything, mock.Anything).Return(int64(11), nil)
	m.entries.On("Create", mock.Anything, mock.AnythingOfType("*models.LedgerEntry")).Return(nil)
	m.accounts.On("ApplyBalanceChange", mock.Anything, account.ID, int64(0), int64(1050)).Return(nil)

	result, err := svc.ApplyMutation(context.Background(), &MutationRequest{
		UserID:   42,
		Amount:   50,
		Category: models.CategoryBalanceChange,
		Reason:   "top-up",
	})

	assert.NoError(t, err)
	assert.True(t, result.Entry.Flagged)
	assert.Equal(t, "High transaction frequency", result.Entry.FlagReason)
}

func TestApplyMutationBlocksSuspiciousLargeMutation(t *testing.T) {
	svc, m := newTestService(Options{})
	account := testAccount(500, 7)

	m.accounts.On("GetByUserID", mock.Anything, int64(42)).Return(account, nil)
	m.suspiciousHistory()

	var blockedEntry *models.LedgerEntry
	m.entries.On("Create", mock.Anything, mock.AnythingOfType("*models.LedgerEntry")).
		Run(func(args mock.Arguments) {
			blockedEntry = args.Get(1).(*models.LedgerEntry)
		}).Return(nil)

	record := &models.DisputeRecord{DisputeID: "DSP-test"}
	m.reporter.On("Record", mock.Anything, mock.AnythingOfType("*dispute.ReportRequest")).Return(record, nil)

	result, err := svc.ApplyMutation(context.Background(), &MutationRequest{
		UserID:   42,
		Amount:   -1200,
		Category: models.CategoryBalanceChange,
		Reason:   "withdrawal",
	})

	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrBlockedBySuspiciousActivity)

	var blocked *BlockedError
	assert.ErrorAs(t, err, &blocked)
	assert.Equal(t, 50, blocked.Verdict.RiskScore)
	assert.Equal(t, "DSP-test", blocked.DisputeID)

	// The blocked entry is an audit record that never moved money.
	assert.NotNil(t, blockedEntry)
	assert.Equal(t, models.VerificationBlocked, blockedEntry.VerificationStatus)
	assert.Equal(t, int64(500), blockedEntry.BalanceBefore)
	assert.Equal(t, int64(500), blockedEntry.BalanceAfter)

	// The companion dispute records the incident.
	recordedReq := m.reporter.Calls[0].Arguments.Get(1).(*dispute.ReportRequest)
	assert.Equal(t, models.DisputeSuspiciousBehavior, recordedReq.Type)
	assert.Equal(t, models.SeverityMedium, recordedReq.Severity)

	m.accounts.AssertNotCalled(t, "ApplyBalanceChange", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestApplyMutationSuspiciousVerdictAllowsSmallAmounts(t *testing.T) {
	svc, m := newTestService(Options{})
	account := testAccount(500, 2)

	m.accounts.On("GetByUserID", mock.Anything, int64(42)).Return(account, nil)
	m.suspiciousHistory()
	m.entries.On("Create", mock.Anything, mock.AnythingOfType("*models.LedgerEntry")).Return(nil)
	m.accounts.On("ApplyBalanceChange", mock.Anything, account.ID, int64(2), int64(440)).Return(nil)

	result, err := svc.ApplyMutation(context.Background(), &MutationRequest{
		UserID:   42,
		Amount:   -60,
		Category: models.CategoryBalanceChange,
		Reason:   "small withdrawal",
	})

	assert.NoError(t, err)
	assert.Equal(t, int64(440), result.NewBalance)
	m.reporter.AssertNotCalled(t, "Record", mock.Anything, mock.Anything)
}

func TestApplyMutationReportedSuspiciousActivityAlwaysBlocks(t *testing.T) {
	svc, m := newTestService(Options{})
	account := testAccount(500, 1)

	m.accounts.On("GetByUserID", mock.Anything, int64(42)).Return(account, nil)
	m.entries.On("Create", mock.Anything, mock.AnythingOfType("*models.LedgerEntry")).Return(nil)
	m.reporter.On("Record", mock.Anything, mock.AnythingOfType("*dispute.ReportRequest")).
		Return(&models.DisputeRecord{DisputeID: "DSP-reported"}, nil)

	// Amount 10 is far below the block threshold; the category decides.
	result, err := svc.ApplyMutation(context.Background(), &MutationRequest{
		UserID:   42,
		Amount:   10,
		Category: models.CategorySuspiciousActivity,
		Reason:   "chargeback pattern reported",
	})

	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrBlockedBySuspiciousActivity)
	m.accounts.AssertNotCalled(t, "ApplyBalanceChange", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	// The detector is not consulted for reported activity.
	m.disputes.AssertNotCalled(t, "CountByAccountSince", mock.Anything, mock.Anything, mock.Anything)
}

func TestApplyMutationDetectorFailureDegradesOpen(t *testing.T) {
	svc, m := newTestService(Options{})
	account := testAccount(500, 5)

	m.accounts.On("GetByUserID", mock.Anything, int64(42)).Return(account, nil)
	m.disputes.On("CountByAccountSince", mock.Anything, mock.Anything, mock.Anything).
		Return(int64(0), errors.New("redis down"))
	m.entries.On("CountByAccountSince", mock.Anything, mock.Anything, mock.Anything).Return(int64(0), nil)
	m.entries.On("Create", mock.Anything, mock.AnythingOfType("*models.LedgerEntry")).Return(nil)
	m.accounts.On("ApplyBalanceChange", mock.Anything, account.ID, int64(5), int64(700)).Return(nil)

	result, err := svc.ApplyMutation(context.Background(), &MutationRequest{
		UserID:   42,
		Amount:   200,
		Category: models.CategoryBalanceChange,
		Reason:   "deposit",
	})

	assert.NoError(t, err)
	assert.Equal(t, int64(700), result.NewBalance)
}

func TestApplyMutationRejectsInvalidRequests(t *testing.T) {
	svc, _ := newTestService(Options{})

	tests := []struct {
		name string
		req  *MutationRequest
	}{
		{"zero amount", &MutationRequest{UserID: 42, Amount: 0, Category: models.CategoryBalanceChange, Reason: "x"}},
		{"unknown category", &MutationRequest{UserID: 42, Amount: 10, Category: "bribe", Reason: "x"}},
		{"missing reason", &MutationRequest{UserID: 42, Amount: 10, Category: models.CategoryBalanceChange}},
		{"manual adjustment without admin", &MutationRequest{UserID: 42, Amount: 10, Category: models.CategoryManualAdjustment, Reason: "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := svc.ApplyMutation(context.Background(), tt.req)

			assert.Nil(t, result)
			assert.ErrorIs(t, err, ErrInvalidMutation)
		})
	}
}

func TestApplyMutationAccountNotFound(t *testing.T) {
	svc, m := newTestService(Options{})

	m.accounts.On("GetByUserID", mock.Anything, int64(42)).Return(nil, repository.ErrAccountNotFound)

	result, err := svc.ApplyMutation(context.Background(), &MutationRequest{
		UserID:   42,
		Amount:   10,
		Category: models.CategoryBalanceChange,
		Reason:   "x",
	})

	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestApplyMutationInactiveAccount(t *testing.T) {
	svc, m := newTestService(Options{})
	account := testAccount(500, 0)
	account.Status = "suspended"

	m.accounts.On("GetByUserID", mock.Anything, int64(42)).Return(account, nil)

	result, err := svc.ApplyMutation(context.Background(), &MutationRequest{
		UserID:   42,
		Amount:   10,
		Category: models.CategoryBalanceChange,
		Reason:   "x",
	})

	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrInvalidMutation)
}

func TestApplyMutationRetriesVersionConflict(t *testing.T) {
	svc, m := newTestService(Options{})
	first := testAccount(500, 3)
	reloaded := testAccount(450, 4)
	reloaded.ID = first.ID

	m.accounts.On("GetByUserID", mock.Anything, int64(42)).Return(first, nil).Once()
	m.accounts.On("GetByUserID", mock.Anything, int64(42)).Return(reloaded, nil).Once()
	m.cleanHistory()
	m.entries.On("Create", mock.Anything, mock.AnythingOfType("*models.LedgerEntry")).Return(nil)
	m.accounts.On("ApplyBalanceChange", mock.Anything, first.ID, int64(3), int64(550)).
		Return(repository.ErrVersionConflict).Once()
	m.accounts.On("ApplyBalanceChange", mock.Anything, first.ID, int64(4), int64(500)).
		Return(nil).Once()

	result, err := svc.ApplyMutation(context.Background(), &MutationRequest{
		UserID:   42,
		Amount:   50,
		Category: models.CategoryBalanceChange,
		Reason:   "deposit",
	})

	assert.NoError(t, err)
	assert.Equal(t, int64(500), result.NewBalance)
	assert.Equal(t, int64(450), result.Entry.BalanceBefore)
	m.accounts.AssertExpectations(t)
}

func TestApplyMutationUsesAccountLock(t *testing.T) {
	locker := new(MockLocker)
	svc, m := newTestService(Options{Locker: locker})
	account := testAccount(500, 0)
	lock := &repository.DistributedLock{Key: "lock:account:42:mutation"}

	locker.On("LockAccount", mock.Anything, int64(42), mock.Anything).Return(lock, nil)
	locker.On("ReleaseLock", mock.Anything, lock).Return(nil)
	m.accounts.On("GetByUserID", mock.Anything, int64(42)).Return(account, nil)
	m.cleanHistory()
	m.entries.On("Create", mock.Anything, mock.AnythingOfType("*models.LedgerEntry")).Return(nil)
	m.accounts.On("ApplyBalanceChange", mock.Anything, account.ID, int64(0), int64(510)).Return(nil)

	_, err := svc.ApplyMutation(context.Background(), &MutationRequest{
		UserID:   42,
		Amount:   10,
		Category: models.CategoryBalanceChange,
		Reason:   "deposit",
	})

	assert.NoError(t, err)
	locker.AssertExpectations(t)
}

// fakeIdempotencyStore is an in-memory stand-in for the redis-backed store.
type fakeIdempotencyStore struct {
	mu      sync.Mutex
	results map[string][]byte
}

func newFakeIdempotencyStore() *fakeIdempotencyStore {
	return &fakeIdempotencyStore{results: make(map[string][]byte)}
}

func (f *fakeIdempotencyStore) SetResult(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[key] = payload
	return nil
}

func (f *fakeIdempotencyStore) GetResult(ctx context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	payload, ok := f.results[key]
	return payload, ok, nil
}

func (f *fakeIdempotencyStore) DeleteKey(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.results, key)
	return nil
}

func TestApplyMutationReplaysIdempotentRequests(t *testing.T) {
	svc, m := newTestService(Options{Idempotency: newFakeIdempotencyStore()})
	account := testAccount(500, 0)

	m.accounts.On("GetByUserID", mock.Anything, int64(42)).Return(account, nil)
	m.cleanHistory()
	m.entries.On("Create", mock.Anything, mock.AnythingOfType("*models.LedgerEntry")).Return(nil).Once()
	m.accounts.On("ApplyBalanceChange", mock.Anything, account.ID, int64(0), int64(550)).Return(nil).Once()

	req := &MutationRequest{
		UserID:         42,
		Amount:         50,
		Category:       models.CategoryWinnings,
		Reason:         "match winnings",
		IdempotencyKey: "req-abc-123",
	}

	first, err := svc.ApplyMutation(context.Background(), req)
	assert.NoError(t, err)
	assert.False(t, first.Idempotent)

	second, err := svc.ApplyMutation(context.Background(), req)
	assert.NoError(t, err)
	assert.True(t, second.Idempotent)
	assert.Equal(t, first.NewBalance, second.NewBalance)
	assert.Equal(t, first.Entry.EntryID, second.Entry.EntryID)

	// The balance only moved once.
	m.entries.AssertNumberOfCalls(t, "Create", 1)
}

func TestCreateAccountWritesOpeningEntry(t *testing.T) {
	svc, m := newTestService(Options{})

	m.accounts.On("Create", mock.Anything, mock.AnythingOfType("*models.Account")).Return(nil)
	var opening *models.LedgerEntry
	m.entries.On("Create", mock.Anything, mock.AnythingOfType("*models.LedgerEntry")).
		Run(func(args mock.Arguments) {
			opening = args.Get(1).(*models.LedgerEntry)
		}).Return(nil)

	account, err := svc.CreateAccount(context.Background(), 42, 500)

	assert.NoError(t, err)
	assert.Equal(t, int64(500), account.Balance)
	if assert.NotNil(t, opening) {
		assert.Equal(t, models.CategoryBalanceChange, opening.Category)
		assert.Equal(t, models.DirectionCredit, opening.Direction)
		assert.Equal(t, int64(500), opening.Amount)
		assert.Equal(t, int64(0), opening.BalanceBefore)
		assert.Equal(t, int64(500), opening.BalanceAfter)
		// The opening entry keeps the signed entry sum equal to the stored
		// balance from the account's first moment.
		assert.Equal(t, account.Balance, opening.SignedAmount())
	}
}

func TestCreateAccountWithZeroBalanceSkipsOpeningEntry(t *testing.T) {
	svc, m := newTestService(Options{})

	m.accounts.On("Create", mock.Anything, mock.AnythingOfType("*models.Account")).Return(nil)

	account, err := svc.CreateAccount(context.Background(), 42, 0)

	assert.NoError(t, err)
	assert.Equal(t, int64(0), account.Balance)
	m.entries.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestApplyMutationWritesAuditTrail(t *testing.T) {
	var feed bytes.Buffer
	logger.Audit().SetOutput(&feed)
	defer logger.Audit().SetOutput(os.Stdout)

	svc, m := newTestService(Options{})
	account := testAccount(500, 0)

	m.accounts.On("GetByUserID", mock.Anything, int64(42)).Return(account, nil)
	m.cleanHistory()
	m.entries.On("Create", mock.Anything, mock.AnythingOfType("*models.LedgerEntry")).Return(nil)
	m.accounts.On("ApplyBalanceChange", mock.Anything, account.ID, int64(0), int64(550)).Return(nil)

	result, err := svc.ApplyMutation(context.Background(), &MutationRequest{
		UserID:   42,
		Amount:   50,
		Category: models.CategoryWinnings,
		Reason:   "match winnings",
	})

	assert.NoError(t, err)
	assert.Contains(t, feed.String(), "mutation committed")
	assert.Contains(t, feed.String(), result.Entry.EntryID)
	assert.Contains(t, feed.String(), `"balance_after":550`)
}
