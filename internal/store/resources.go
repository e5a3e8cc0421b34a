package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/orz-miniprogram/NeptuneHub-Public/internal/models"
)

// FindResource fetches one resource. A missing document returns (nil, nil)
// so callers can treat deletion-since-enqueue as a non-error.
func (s *Store) FindResource(ctx context.Context, id primitive.ObjectID) (*models.Resource, error) {
	var r models.Resource
	err := s.resources.FindOne(ctx, bson.M{"_id": id}).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find resource %s: %w", id.Hex(), err)
	}
	return &r, nil
}

// DistinctMatchingCategories lists the categories that currently hold goods
// resources in matching status.
func (s *Store) DistinctMatchingCategories(ctx context.Context) ([]string, error) {
	raw, err := s.resources.Distinct(ctx, "category", bson.M{
		"status": models.ResourceMatching,
		"type":   bson.M{"$in": models.GoodsTypes},
	})
	if err != nil {
		return nil, fmt.Errorf("distinct matching categories: %w", err)
	}
	categories := make([]string, 0, len(raw))
	for _, v := range raw {
		if c, ok := v.(string); ok && c != "" {
			categories = append(categories, c)
		}
	}
	return categories, nil
}

// MatchingBatch pages through matching goods resources of one category,
// cheapest first.
func (s *Store) MatchingBatch(ctx context.Context, category string, skip, limit int64) ([]models.Resource, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "price", Value: 1}}).
		SetSkip(skip).
		SetLimit(limit)
	cur, err := s.resources.Find(ctx, bson.M{
		"status":   models.ResourceMatching,
		"category": category,
		"type":     bson.M{"$in": models.GoodsTypes},
	}, opts)
	if err != nil {
		return nil, fmt.Errorf("page matching resources (%s): %w", category, err)
	}
	var out []models.Resource
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode matching resources (%s): %w", category, err)
	}
	return out, nil
}

// StatusMap returns the live status of every referenced resource, seeding the
// match pass's availability view.
func (s *Store) StatusMap(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]models.ResourceStatus, error) {
	statuses := make(map[primitive.ObjectID]models.ResourceStatus, len(ids))
	if len(ids) == 0 {
		return statuses, nil
	}
	opts := options.Find().SetProjection(bson.M{"status": 1})
	cur, err := s.resources.Find(ctx, bson.M{"_id": bson.M{"$in": ids}}, opts)
	if err != nil {
		return nil, fmt.Errorf("load resource statuses: %w", err)
	}
	var rows []struct {
		ID     primitive.ObjectID    `bson:"_id"`
		Status models.ResourceStatus `bson:"status"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode resource statuses: %w", err)
	}
	for _, row := range rows {
		statuses[row.ID] = row.Status
	}
	return statuses, nil
}

// MarkMatched flips all given resources to matched in one update.
func (s *Store) MarkMatched(ctx context.Context, ids []primitive.ObjectID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.resources.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}},
		bson.M{"$set": bson.M{"status": models.ResourceMatched, "updatedAt": time.Now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("mark resources matched: %w", err)
	}
	return nil
}

// SetClassified stores the classification outcome and promotes the resource
// into matching status.
func (s *Store) SetClassified(ctx context.Context, id primitive.ObjectID, category string, specs map[string]interface{}) error {
	_, err := s.resources.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{
			"category":       category,
			"specifications": specs,
			"status":         models.ResourceMatching,
			"updatedAt":      time.Now().UTC(),
		}},
	)
	if err != nil {
		return fmt.Errorf("store classification for %s: %w", id.Hex(), err)
	}
	return nil
}

// SetClassificationFailed parks the resource with the failure message so it
// is excluded from matching until re-submitted.
func (s *Store) SetClassificationFailed(ctx context.Context, id primitive.ObjectID, message string) error {
	_, err := s.resources.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{
			"status":       models.ResourceClassificationFailed,
			"errorMessage": message,
			"updatedAt":    time.Now().UTC(),
		}},
	)
	if err != nil {
		return fmt.Errorf("mark classification failed for %s: %w", id.Hex(), err)
	}
	return nil
}

// RecentServiceRequests returns unassigned service-requests touched within
// the window, up to limit.
func (s *Store) RecentServiceRequests(ctx context.Context, window time.Duration, limit int64) ([]models.Resource, error) {
	since := time.Now().UTC().Add(-window)
	cur, err := s.resources.Find(ctx, bson.M{
		"type":             models.TypeServiceRequest,
		"status":           bson.M{"$in": []models.ResourceStatus{models.ResourceSubmitted, models.ResourceMatching}},
		"assignedErrandId": bson.M{"$exists": false},
		"$or": []bson.M{
			{"createdAt": bson.M{"$gte": since}},
			{"updatedAt": bson.M{"$gte": since}},
		},
	}, options.Find().SetLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("find recent service requests: %w", err)
	}
	var out []models.Resource
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode recent service requests: %w", err)
	}
	return out, nil
}

// RecentServiceOffers returns live service-offers touched within the window.
func (s *Store) RecentServiceOffers(ctx context.Context, window time.Duration, limit int64) ([]models.Resource, error) {
	since := time.Now().UTC().Add(-window)
	cur, err := s.resources.Find(ctx, bson.M{
		"type":   models.TypeServiceOffer,
		"status": bson.M{"$in": []models.ResourceStatus{models.ResourceActive, models.ResourceAvailable}},
		"$or": []bson.M{
			{"createdAt": bson.M{"$gte": since}},
			{"updatedAt": bson.M{"$gte": since}},
		},
	}, options.Find().SetLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("find recent service offers: %w", err)
	}
	var out []models.Resource
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode recent service offers: %w", err)
	}
	return out, nil
}

// PendingServiceRequests returns assignable service-requests, oldest first.
func (s *Store) PendingServiceRequests(ctx context.Context, limit int64) ([]models.Resource, error) {
	cur, err := s.resources.Find(ctx, bson.M{
		"type":             models.TypeServiceRequest,
		"status":           models.ResourceMatching,
		"assignedErrandId": bson.M{"$exists": false},
	}, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}).SetLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("find pending service requests: %w", err)
	}
	var out []models.Resource
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode pending service requests: %w", err)
	}
	return out, nil
}

// IncMatchAttempts bumps the attempt counter so failed requests are not
// starved forever by the scheduler.
func (s *Store) IncMatchAttempts(ctx context.Context, id primitive.ObjectID) error {
	_, err := s.resources.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{
			"$inc": bson.M{"matchAttempts": 1},
			"$set": bson.M{"updatedAt": time.Now().UTC()},
		},
	)
	if err != nil {
		return fmt.Errorf("increment match attempts for %s: %w", id.Hex(), err)
	}
	return nil
}

// AssignErrand promotes a service-request into matched with its errand link.
// Part of the assignment transaction.
func (s *Store) AssignErrand(ctx context.Context, requestID, errandID primitive.ObjectID) error {
	res, err := s.resources.UpdateOne(ctx,
		bson.M{"_id": requestID},
		bson.M{
			"$set": bson.M{
				"status":           models.ResourceMatched,
				"assignedErrandId": errandID,
				"updatedAt":        time.Now().UTC(),
			},
			"$inc": bson.M{"matchAttempts": 1},
		},
	)
	if err != nil {
		return fmt.Errorf("assign errand to request %s: %w", requestID.Hex(), err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
