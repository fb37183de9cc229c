package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"ledger-api/internal/models"
)

// LedgerFilter narrows review-queue listings. Zero values mean "no filter".
type LedgerFilter struct {
	AccountID          primitive.ObjectID
	Flagged            *bool
	VerificationStatus models.VerificationStatus
	Category           models.EntryCategory
	StartDate          time.Time
	EndDate            time.Time
}

type LedgerRepository interface {
	Create(ctx context.Context, entry *models.LedgerEntry) error
	GetByEntryID(ctx context.Context, entryID string) (*models.LedgerEntry, error)
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.LedgerEntry, error)
	List(ctx context.Context, filter *LedgerFilter, limit, offset int) ([]*models.LedgerEntry, error)
	CountByAccountSince(ctx context.Context, accountID primitive.ObjectID, since time.Time) (int64, error)
	CountFlaggedByAccountSince(ctx context.Context, accountID primitive.ObjectID, since time.Time) (int64, error)
	SumSignedAmounts(ctx context.Context, accountID primitive.ObjectID) (int64, error)
	UpdateVerificationStatus(ctx context.Context, entryID string, status models.VerificationStatus) error
	CreateIndexes(ctx context.Context) error
}

type ledgerRepository struct {
	collection *mongo.Collection
	db         *mongo.Database
}

func NewLedgerRepository(db *mongo.Database) LedgerRepository {
	return &ledgerRepository{
		collection: db.Collection("ledger_entries"),
		db:         db,
	}
}

func (r *ledgerRepository) Create(ctx context.Context, entry *models.LedgerEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	result, err := r.collection.InsertOne(ctx, entry)
	if err != nil {
		return fmt.Errorf("failed to create ledger entry: %w", err)
	}

	entry.ID = result.InsertedID.(primitive.ObjectID)
	return nil
}

func (r *ledgerRepository) GetByEntryID(ctx context.Context, entryID string) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := r.collection.FindOne(ctx, bson.M{"entry_id": entryID}).Decode(&entry)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("ledger entry not found with ID %s", entryID)
		}
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}
	return &entry, nil
}

func (r *ledgerRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&entry)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("ledger entry not found")
		}
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}
	return &entry, nil
}

func (r *ledgerRepository) List(ctx context.Context, filter *LedgerFilter, limit, offset int) ([]*models.LedgerEntry, error) {
	query := bson.M{}
	if filter != nil {
		if !filter.AccountID.IsZero() {
			query["account_id"] = filter.AccountID
		}
		if filter.Flagged != nil {
			query["flagged"] = *filter.Flagged
		}
		if filter.VerificationStatus != "" {
			query["verification_status"] = filter.VerificationStatus
		}
		if filter.Category != "" {
			query["category"] = filter.Category
		}
		dateRange := bson.M{}
		if !filter.StartDate.IsZero() {
			dateRange["$gte"] = filter.StartDate
		}
		if !filter.EndDate.IsZero() {
			dateRange["$lte"] = filter.EndDate
		}
		if len(dateRange) > 0 {
			query["created_at"] = dateRange
		}
	}

	opts := options.Find().
		SetLimit(int64(limit)).
		SetSkip(int64(offset)).
		SetSort(bson.M{"created_at": -1})

	cursor, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []*models.LedgerEntry
	for cursor.Next(ctx) {
		var entry models.LedgerEntry
		if err := cursor.Decode(&entry); err != nil {
			continue
		}
		entries = append(entries, &entry)
	}

	return entries, cursor.Err()
}

func (r *ledgerRepository) CountByAccountSince(ctx context.Context, accountID primitive.ObjectID, since time.Time) (int64, error) {
	filter := bson.M{
		"account_id": accountID,
		"created_at": bson.M{"$gte": since},
	}

	count, err := r.collection.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to count ledger entries: %w", err)
	}

	return count, nil
}

func (r *ledgerRepository) CountFlaggedByAccountSince(ctx context.Context, accountID primitive.ObjectID, since time.Time) (int64, error) {
	filter := bson.M{
		"account_id": accountID,
		"flagged":    true,
		"created_at": bson.M{"$gte": since},
	}

	count, err := r.collection.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to count flagged ledger entries: %w", err)
	}

	return count, nil
}

// SumSignedAmounts aggregates credits minus debits over the account's
// committed entries. Blocked entries never moved money and are excluded.
func (r *ledgerRepository) SumSignedAmounts(ctx context.Context, accountID primitive.ObjectID) (int64, error) {
	pipeline := []bson.M{
		{
			"$match": bson.M{
				"account_id":          accountID,
				"verification_status": bson.M{"$ne": models.VerificationBlocked},
			},
		},
		{
			"$group": bson.M{
				"_id": nil,
				"total": bson.M{
					"$sum": bson.M{
						"$cond": []interface{}{
							bson.M{"$eq": []interface{}{"$direction", models.DirectionCredit}},
							"$amount",
							bson.M{"$multiply": []interface{}{"$amount", -1}},
						},
					},
				},
			},
		},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, fmt.Errorf("failed to sum ledger amounts: %w", err)
	}
	defer cursor.Close(ctx)

	var result struct {
		Total int64 `bson:"total"`
	}

	if cursor.Next(ctx) {
		if err := cursor.Decode(&result); err != nil {
			return 0, fmt.Errorf("failed to decode ledger sum: %w", err)
		}
	}

	return result.Total, cursor.Err()
}

// UpdateVerificationStatus is the single permitted mutation of a persisted
// entry, reserved for admin review.
func (r *ledgerRepository) UpdateVerificationStatus(ctx context.Context, entryID string, status models.VerificationStatus) error {
	filter := bson.M{"entry_id": entryID}
	update := bson.M{
		"$set": bson.M{"verification_status": status},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update verification status: %w", err)
	}

	if result.MatchedCount == 0 {
		return fmt.Errorf("ledger entry not found for status update")
	}

	return nil
}

// CreateIndexes creates necessary indexes for the ledger collection
func (r *ledgerRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "entry_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "account_id", Value: 1}, {Key: "created_at", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "account_id", Value: 1}, {Key: "flagged", Value: 1}, {Key: "created_at", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "verification_status", Value: 1}, {Key: "created_at", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "category", Value: 1}},
		},
	}

	_, err := r.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create ledger indexes: %w", err)
	}

	return nil
}
