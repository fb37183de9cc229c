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

// DisputeFilter narrows review-queue listings. Zero values mean "no filter".
type DisputeFilter struct {
	AccountID    primitive.ObjectID
	Status       models.DisputeStatus
	Type         models.DisputeType
	MinRiskScore int
	AutoFlagged  *bool
	StartDate    time.Time
	EndDate      time.Time
}

type DisputeRepository interface {
	Create(ctx context.Context, dispute *models.DisputeRecord) error
	GetByDisputeID(ctx context.Context, disputeID string) (*models.DisputeRecord, error)
	Update(ctx context.Context, dispute *models.DisputeRecord) error
	List(ctx context.Context, filter *DisputeFilter, limit, offset int) ([]*models.DisputeRecord, error)
	CountByAccount(ctx context.Context, accountID primitive.ObjectID) (int64, error)
	CountByAccountSince(ctx context.Context, accountID primitive.ObjectID, since time.Time) (int64, error)
	LastDisputeDate(ctx context.Context, accountID primitive.ObjectID) (*time.Time, error)
	CreateIndexes(ctx context.Context) error
}

type disputeRepository struct {
	collection *mongo.Collection
	db         *mongo.Database
}

func NewDisputeRepository(db *mongo.Database) DisputeRepository {
	return &disputeRepository{
		collection: db.Collection("disputes"),
		db:         db,
	}
}

func (r *disputeRepository) Create(ctx context.Context, dispute *models.DisputeRecord) error {
	dispute.CreatedAt = time.Now()
	dispute.UpdatedAt = time.Now()

	result, err := r.collection.InsertOne(ctx, dispute)
	if err != nil {
		return fmt.Errorf("failed to create dispute: %w", err)
	}

	dispute.ID = result.InsertedID.(primitive.ObjectID)
	return nil
}

func (r *disputeRepository) GetByDisputeID(ctx context.Context, disputeID string) (*models.DisputeRecord, error) {
	var dispute models.DisputeRecord
	err := r.collection.FindOne(ctx, bson.M{"dispute_id": disputeID}).Decode(&dispute)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("dispute not found with ID %s", disputeID)
		}
		return nil, fmt.Errorf("failed to get dispute: %w", err)
	}
	return &dispute, nil
}

// Update persists admin-review changes. The core fields are frozen at
// creation; only the resolution fields are written back.
func (r *disputeRepository) Update(ctx context.Context, dispute *models.DisputeRecord) error {
	dispute.UpdatedAt = time.Now()

	filter := bson.M{"_id": dispute.ID}
	update := bson.M{
		"$set": bson.M{
			"status":       dispute.Status,
			"admin_notes":  dispute.AdminNotes,
			"resolved_by":  dispute.ResolvedBy,
			"action_taken": dispute.Action,
			"resolved_at":  dispute.ResolvedAt,
			"updated_at":   dispute.UpdatedAt,
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update dispute: %w", err)
	}

	if result.MatchedCount == 0 {
		return fmt.Errorf("dispute not found for update")
	}

	return nil
}

func (r *disputeRepository) List(ctx context.Context, filter *DisputeFilter, limit, offset int) ([]*models.DisputeRecord, error) {
	query := bson.M{}
	if filter != nil {
		if !filter.AccountID.IsZero() {
			query["account_id"] = filter.AccountID
		}
		if filter.Status != "" {
			query["status"] = filter.Status
		}
		if filter.Type != "" {
			query["type"] = filter.Type
		}
		if filter.MinRiskScore > 0 {
			query["risk_score"] = bson.M{"$gte": filter.MinRiskScore}
		}
		if filter.AutoFlagged != nil {
			query["auto_flagged"] = *filter.AutoFlagged
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
		return nil, fmt.Errorf("failed to list disputes: %w", err)
	}
	defer cursor.Close(ctx)

	var disputes []*models.DisputeRecord
	for cursor.Next(ctx) {
		var dispute models.DisputeRecord
		if err := cursor.Decode(&dispute); err != nil {
			continue
		}
		disputes = append(disputes, &dispute)
	}

	return disputes, cursor.Err()
}

func (r *disputeRepository) CountByAccount(ctx context.Context, accountID primitive.ObjectID) (int64, error) {
	count, err := r.collection.CountDocuments(ctx, bson.M{"account_id": accountID})
	if err != nil {
		return 0, fmt.Errorf("failed to count disputes: %w", err)
	}
	return count, nil
}

func (r *disputeRepository) CountByAccountSince(ctx context.Context, accountID primitive.ObjectID, since time.Time) (int64, error) {
	filter := bson.M{
		"account_id": accountID,
		"created_at": bson.M{"$gte": since},
	}

	count, err := r.collection.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to count recent disputes: %w", err)
	}

	return count, nil
}

func (r *disputeRepository) LastDisputeDate(ctx context.Context, accountID primitive.ObjectID) (*time.Time, error) {
	opts := options.FindOne().SetSort(bson.M{"created_at": -1})

	var dispute models.DisputeRecord
	err := r.collection.FindOne(ctx, bson.M{"account_id": accountID}, opts).Decode(&dispute)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil // No prior disputes is not an error
		}
		return nil, fmt.Errorf("failed to get last dispute date: %w", err)
	}

	return &dispute.CreatedAt, nil
}

// CreateIndexes creates necessary indexes for the dispute collection
func (r *disputeRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "dispute_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "account_id", Value: 1}, {Key: "created_at", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "risk_score", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "auto_flagged", Value: 1}},
		},
	}

	_, err := r.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create dispute indexes: %w", err)
	}

	return nil
}
