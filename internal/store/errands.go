package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/orz-miniprogram/NeptuneHub-Public/internal/models"
)

// InsertErrand creates one errand document and returns its id. Used inside
// the assignment transaction.
func (s *Store) InsertErrand(ctx context.Context, errand *models.Errand) (primitive.ObjectID, error) {
	now := time.Now().UTC()
	if errand.ID.IsZero() {
		errand.ID = primitive.NewObjectID()
	}
	errand.CreatedAt = now
	errand.UpdatedAt = now
	if errand.RunnerAssignedAt.IsZero() {
		errand.RunnerAssignedAt = now
	}
	if _, err := s.errands.InsertOne(ctx, errand); err != nil {
		return primitive.NilObjectID, fmt.Errorf("insert errand for request %s: %w", errand.ResourceRequestID.Hex(), err)
	}
	return errand.ID, nil
}
