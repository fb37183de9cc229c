package dispute

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"ledger-api/internal/models"
	"ledger-api/internal/repository"
)

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

func openDispute() *models.DisputeRecord {
	account := testAccount()
	record := models.NewDisputeRecord(account, models.DisputeConflict, models.SeverityMedium, "score mismatch")
	record.ID = primitive.NewObjectID()
	record.RiskScore = 25
	return record
}

func TestStartInvestigation(t *testing.T) {
	accounts := new(MockAccountRepository)
	entries := new(MockLedgerRepository)
	disputes := new(MockDisputeRepository)
	record := openDispute()

	disputes.On("GetByDisputeID", mock.Anything, record.DisputeID).Return(record, nil)
	disputes.On("Update", mock.Anything, record).Return(nil)

	svc := NewReviewService(accounts, entries, disputes, nil)
	updated, err := svc.StartInvestigation(context.Background(), record.DisputeID, "admin-7")

	assert.NoError(t, err)
	assert.Equal(t, models.DisputeInvestigating, updated.Status)
	assert.Equal(t, "admin-7", updated.ResolvedBy)
	assert.Nil(t, updated.ResolvedAt)
}

func TestResolveSetsTerminalState(t *testing.T) {
	accounts := new(MockAccountRepository)
	entries := new(MockLedgerRepository)
	disputes := new(MockDisputeRepository)
	record := openDispute()

	disputes.On("GetByDisputeID", mock.Anything, record.DisputeID).Return(record, nil)
	disputes.On("Update", mock.Anything, record).Return(nil)

	svc := NewReviewService(accounts, entries, disputes, nil)
	updated, err := svc.Resolve(context.Background(), record.DisputeID, &Resolution{
		Status:     models.DisputeResolved,
		AdminNotes: "confirmed, warning issued",
		ResolvedBy: "admin-7",
		Action:     models.ActionWarning,
	})

	assert.NoError(t, err)
	assert.Equal(t, models.DisputeResolved, updated.Status)
	assert.Equal(t, models.ActionWarning, updated.Action)
	assert.NotNil(t, updated.ResolvedAt)
}

func TestResolveRejectsNonTerminalStatus(t *testing.T) {
	svc := NewReviewService(new(MockAccountRepository), new(MockLedgerRepository), new(MockDisputeRepository), nil)

	updated, err := svc.Resolve(context.Background(), "DSP-x", &Resolution{
		Status:     models.DisputeInvestigating,
		ResolvedBy: "admin-7",
	})

	assert.Nil(t, updated)
	assert.Error(t, err)
}

func TestResolveRejectsAlreadyTerminalDisputes(t *testing.T) {
	accounts := new(MockAccountRepository)
	entries := new(MockLedgerRepository)
	disputes := new(MockDisputeRepository)
	record := openDispute()
	record.Status = models.DisputeDismissed

	disputes.On("GetByDisputeID", mock.Anything, record.DisputeID).Return(record, nil)

	svc := NewReviewService(accounts, entries, disputes, nil)
	updated, err := svc.Resolve(context.Background(), record.DisputeID, &Resolution{
		Status:     models.DisputeResolved,
		ResolvedBy: "admin-7",
	})

	assert.Nil(t, updated)
	assert.Error(t, err)
	disputes.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
}

func TestDismissWithClearEntryLiftsFlags(t *testing.T) {
	accounts := new(MockAccountRepository)
	entries := new(MockLedgerRepository)
	disputes := new(MockDisputeRepository)
	record := openDispute()
	record.RelatedEntryID = primitive.NewObjectID()

	entry := &models.LedgerEntry{
		ID:                 record.RelatedEntryID,
		EntryID:            "LED-linked",
		VerificationStatus: models.VerificationSuspicious,
	}

	disputes.On("GetByDisputeID", mock.Anything, record.DisputeID).Return(record, nil)
	disputes.On("Update", mock.Anything, record).Return(nil)
	entries.On("GetByID", mock.Anything, record.RelatedEntryID).Return(entry, nil)
	entries.On("UpdateVerificationStatus", mock.Anything, "LED-linked", models.VerificationVerified).Return(nil)
	accounts.On("Unflag", mock.Anything, record.AccountID).Return(nil)

	svc := NewReviewService(accounts, entries, disputes, nil)
	updated, err := svc.Resolve(context.Background(), record.DisputeID, &Resolution{
		Status:     models.DisputeDismissed,
		AdminNotes: "false positive",
		ResolvedBy: "admin-7",
		ClearEntry: true,
	})

	assert.NoError(t, err)
	assert.Equal(t, models.DisputeDismissed, updated.Status)
	entries.AssertExpectations(t)
	accounts.AssertExpectations(t)
}

func TestResolveWithBanSuspendsAccount(t *testing.T) {
	accounts := new(MockAccountRepository)
	entries := new(MockLedgerRepository)
	disputes := new(MockDisputeRepository)
	record := openDispute()

	disputes.On("GetByDisputeID", mock.Anything, record.DisputeID).Return(record, nil)
	disputes.On("Update", mock.Anything, record).Return(nil)
	accounts.On("SetStatus", mock.Anything, record.AccountID, "suspended").Return(nil)

	svc := NewReviewService(accounts, entries, disputes, nil)
	_, err := svc.Resolve(context.Background(), record.DisputeID, &Resolution{
		Status:     models.DisputeResolved,
		ResolvedBy: "admin-7",
		Action:     models.ActionTemporaryBan,
	})

	assert.NoError(t, err)
	accounts.AssertExpectations(t)
}

func TestVerifyEntryRefusesBlockedEntries(t *testing.T) {
	accounts := new(MockAccountRepository)
	entries := new(MockLedgerRepository)
	disputes := new(MockDisputeRepository)

	blocked := &models.LedgerEntry{
		EntryID:            "LED-blocked",
		VerificationStatus: models.VerificationBlocked,
	}
	entries.On("GetByEntryID", mock.Anything, "LED-blocked").Return(blocked, nil)

	svc := NewReviewService(accounts, entries, disputes, nil)
	err := svc.VerifyEntry(context.Background(), "LED-blocked")

	assert.Error(t, err)
	entries.AssertNotCalled(t, "UpdateVerificationStatus", mock.Anything, mock.Anything, mock.Anything)
}
