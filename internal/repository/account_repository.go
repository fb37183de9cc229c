package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"ledger-api/internal/models"
)

// ErrAccountNotFound is returned when no account matches the lookup.
var ErrAccountNotFound = errors.New("account not found")

// ErrVersionConflict is returned when a compare-and-swap balance update loses
// the race against a concurrent mutation. The caller may reload and retry.
var ErrVersionConflict = errors.New("account version conflict")

type AccountRepository interface {
	Create(ctx context.Context, account *models.Account) error
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.Account, error)
	GetByUserID(ctx context.Context, userID int64) (*models.Account, error)
	ApplyBalanceChange(ctx context.Context, id primitive.ObjectID, expectedVersion int64, newBalance int64) error
	Flag(ctx context.Context, id primitive.ObjectID, reason string) error
	Unflag(ctx context.Context, id primitive.ObjectID) error
	SetStatus(ctx context.Context, id primitive.ObjectID, status string) error
	GetAccountsForReconciliation(ctx context.Context, limit int) ([]*models.Account, error)
	CreateIndexes(ctx context.Context) error
}

type accountRepository struct {
	collection *mongo.Collection
	db         *mongo.Database
}

func NewAccountRepository(db *mongo.Database) AccountRepository {
	return &accountRepository{
		collection: db.Collection("accounts"),
		db:         db,
	}
}

func (r *accountRepository) Create(ctx context.Context, account *models.Account) error {
	account.CreatedAt = time.Now()
	account.UpdatedAt = time.Now()
	account.LastActivity = time.Now()

	result, err := r.collection.InsertOne(ctx, account)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}

	account.ID = result.InsertedID.(primitive.ObjectID)
	return nil
}

func (r *accountRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Account, error) {
	var account models.Account
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&account)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account by ID: %w", err)
	}
	return &account, nil
}

func (r *accountRepository) GetByUserID(ctx context.Context, userID int64) (*models.Account, error) {
	var account models.Account
	err := r.collection.FindOne(ctx, bson.M{"user_id": userID}).Decode(&account)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account by user ID: %w", err)
	}
	return &account, nil
}

// ApplyBalanceChange persists a new balance with optimistic concurrency: the
// update only matches when the stored version equals the version the caller
// read, so two racing mutations cannot both commit against the same snapshot.
func (r *accountRepository) ApplyBalanceChange(ctx context.Context, id primitive.ObjectID, expectedVersion int64, newBalance int64) error {
	now := time.Now()

	filter := bson.M{
		"_id":     id,
		"version": expectedVersion,
	}
	update := bson.M{
		"$set": bson.M{
			"balance":       newBalance,
			"updated_at":    now,
			"last_activity": now,
		},
		"$inc": bson.M{"version": 1},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to apply balance change: %w", err)
	}

	if result.MatchedCount == 0 {
		// Either the account vanished or another writer bumped the version.
		count, countErr := r.collection.CountDocuments(ctx, bson.M{"_id": id})
		if countErr == nil && count == 0 {
			return ErrAccountNotFound
		}
		return ErrVersionConflict
	}

	return nil
}

// Flag transitions flagged false -> true. An already flagged account keeps
// its original reason and timestamp; flags never revert automatically.
func (r *accountRepository) Flag(ctx context.Context, id primitive.ObjectID, reason string) error {
	now := time.Now()

	filter := bson.M{"_id": id, "flagged": false}
	update := bson.M{
		"$set": bson.M{
			"flagged":     true,
			"flag_reason": reason,
			"flagged_at":  now,
			"updated_at":  now,
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to flag account: %w", err)
	}

	if result.MatchedCount == 0 {
		// Already flagged or missing; distinguish for the caller.
		count, countErr := r.collection.CountDocuments(ctx, bson.M{"_id": id})
		if countErr == nil && count == 0 {
			return ErrAccountNotFound
		}
	}

	return nil
}

func (r *accountRepository) Unflag(ctx context.Context, id primitive.ObjectID) error {
	filter := bson.M{"_id": id}
	update := bson.M{
		"$set": bson.M{
			"flagged":    false,
			"updated_at": time.Now(),
		},
		"$unset": bson.M{
			"flag_reason": "",
			"flagged_at":  "",
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to unflag account: %w", err)
	}

	if result.MatchedCount == 0 {
		return ErrAccountNotFound
	}

	return nil
}

func (r *accountRepository) SetStatus(ctx context.Context, id primitive.ObjectID, status string) error {
	filter := bson.M{"_id": id}
	update := bson.M{
		"$set": bson.M{
			"status":     status,
			"updated_at": time.Now(),
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update account status: %w", err)
	}

	if result.MatchedCount == 0 {
		return ErrAccountNotFound
	}

	return nil
}

func (r *accountRepository) GetAccountsForReconciliation(ctx context.Context, limit int) ([]*models.Account, error) {
	opts := options.Find().
		SetLimit(int64(limit)).
		SetSort(bson.M{"last_activity": -1})

	cursor, err := r.collection.Find(ctx, bson.M{"status": "active"}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to get accounts for reconciliation: %w", err)
	}
	defer cursor.Close(ctx)

	var accounts []*models.Account
	for cursor.Next(ctx) {
		var account models.Account
		if err := cursor.Decode(&account); err != nil {
			continue
		}
		accounts = append(accounts, &account)
	}

	return accounts, cursor.Err()
}

// CreateIndexes creates necessary indexes for the account collection
func (r *accountRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "flagged", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "last_activity", Value: -1}},
		},
	}

	_, err := r.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create account indexes: %w", err)
	}

	return nil
}
