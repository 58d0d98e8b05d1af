package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/importauto/leadline/internal/core/domain"
	"github.com/importauto/leadline/internal/core/ports"
)

const flowSubmissionsCollection = "flow_submissions"

// FlowSubmissionRepository implements ports.FlowSubmissionRepository using MongoDB.
type FlowSubmissionRepository struct {
	db *mongo.Database
}

// NewFlowSubmissionRepository creates a new FlowSubmissionRepository.
func NewFlowSubmissionRepository(db *mongo.Database) ports.FlowSubmissionRepository {
	return &FlowSubmissionRepository{db: db}
}

// EnsureIndexes creates the unique token index. Safe to call on every start.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(flowSubmissionsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "token_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("mongo indexes: %w", err)
	}
	return nil
}

// Save upserts the submission keyed by its token id, so a resubmitted form
// replaces the earlier answers.
func (r *FlowSubmissionRepository) Save(ctx context.Context, s domain.FlowSubmission) error {
	filter := bson.M{"token_id": s.TokenID}
	update := bson.M{
		"$set": bson.M{
			"identifier":   s.Identifier,
			"budget":       s.Budget,
			"car_type":     s.CarType,
			"data":         s.Data,
			"submitted_at": time.Now().UTC(),
		},
	}
	_, err := r.db.Collection(flowSubmissionsCollection).UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save flow submission: %w", err)
	}
	return nil
}
