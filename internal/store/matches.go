package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/orz-miniprogram/NeptuneHub-Public/internal/models"
)

// InsertMatches bulk-inserts the matches created by one pass. Failure fails
// the whole pass; the queue re-runs it against the persisted state.
func (s *Store) InsertMatches(ctx context.Context, matches []models.Match) error {
	if len(matches) == 0 {
		return nil
	}
	docs := make([]interface{}, len(matches))
	for i := range matches {
		docs[i] = matches[i]
	}
	if _, err := s.matches.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("insert %d matches: %w", len(matches), err)
	}
	return nil
}

// FindMatch fetches one match by id.
func (s *Store) FindMatch(ctx context.Context, id primitive.ObjectID) (*models.Match, error) {
	var m models.Match
	err := s.matches.FindOne(ctx, bson.M{"_id": id}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find match %s: %w", id.Hex(), err)
	}
	return &m, nil
}

// TimedOutAcceptance finds pending matches whose acceptance window has
// lapsed: one side accepted, the other never answered.
func (s *Store) TimedOutAcceptance(ctx context.Context, window time.Duration) ([]models.Match, error) {
	cutoff := time.Now().UTC().Add(-window)
	cur, err := s.matches.Find(ctx, bson.M{
		"status":              models.MatchPending,
		"firstAcceptanceTime": bson.M{"$ne": nil, "$lt": cutoff},
	})
	if err != nil {
		return nil, fmt.Errorf("find acceptance-window timeouts: %w", err)
	}
	var out []models.Match
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode acceptance-window timeouts: %w", err)
	}
	return out, nil
}

// TimedOutInitialPending finds pending matches nobody acted on within the
// initial window.
func (s *Store) TimedOutInitialPending(ctx context.Context, window time.Duration) ([]models.Match, error) {
	cutoff := time.Now().UTC().Add(-window)
	cur, err := s.matches.Find(ctx, bson.M{
		"status":              models.MatchPending,
		"firstAcceptanceTime": nil,
		"createdAt":           bson.M{"$lt": cutoff},
	})
	if err != nil {
		return nil, fmt.Errorf("find initial-pending timeouts: %w", err)
	}
	var out []models.Match
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode initial-pending timeouts: %w", err)
	}
	return out, nil
}

// CancelPending cancels a match if it is still pending. Returns false when a
// concurrent handler already moved it, which makes the sweep idempotent.
func (s *Store) CancelPending(ctx context.Context, id primitive.ObjectID, reason string, penaltyTo *primitive.ObjectID) (bool, error) {
	set := bson.M{
		"status":             models.MatchCancelled,
		"cancellationReason": reason,
		"updatedAt":          time.Now().UTC(),
	}
	if penaltyTo != nil {
		set["timeoutPenaltyAppliedTo"] = *penaltyTo
	}
	res, err := s.matches.UpdateOne(ctx,
		bson.M{"_id": id, "status": models.MatchPending},
		bson.M{"$set": set},
	)
	if err != nil {
		return false, fmt.Errorf("cancel match %s: %w", id.Hex(), err)
	}
	return res.ModifiedCount == 1, nil
}

// NegotiationUpdate carries the fields a negotiation step may change. Nil
// pointers leave the stored value untouched.
type NegotiationUpdate struct {
	RequesterAcceptedSuggestedPrice *bool
	OwnerAcceptedSuggestedPrice     *bool
	FirstAcceptanceTime             *time.Time
	Status                          *models.MatchStatus
	Resource1Payment                *float64
	Resource2Receipt                *float64
	RejectedBy                      *primitive.ObjectID
	CancellationReason              string

	// When set, the pending-only filter additionally requires the stored
	// acceptance flags to still hold these values, so a write based on a
	// stale read loses instead of landing.
	ExpectRequesterAccepted *bool
	ExpectOwnerAccepted     *bool
}

// UpdatePendingMatch applies a negotiation update conditionally on the match
// still being pending. Returns false when the match already left pending.
func (s *Store) UpdatePendingMatch(ctx context.Context, id primitive.ObjectID, u NegotiationUpdate) (bool, error) {
	set := bson.M{"updatedAt": time.Now().UTC()}
	if u.RequesterAcceptedSuggestedPrice != nil {
		set["requesterAcceptedSuggestedPrice"] = *u.RequesterAcceptedSuggestedPrice
	}
	if u.OwnerAcceptedSuggestedPrice != nil {
		set["ownerAcceptedSuggestedPrice"] = *u.OwnerAcceptedSuggestedPrice
	}
	if u.FirstAcceptanceTime != nil {
		set["firstAcceptanceTime"] = *u.FirstAcceptanceTime
	}
	if u.Status != nil {
		set["status"] = *u.Status
	}
	if u.Resource1Payment != nil {
		set["resource1Payment"] = *u.Resource1Payment
	}
	if u.Resource2Receipt != nil {
		set["resource2Receipt"] = *u.Resource2Receipt
	}
	if u.RejectedBy != nil {
		set["rejectedBy"] = *u.RejectedBy
	}
	if u.CancellationReason != "" {
		set["cancellationReason"] = u.CancellationReason
	}
	filter := bson.M{"_id": id, "status": models.MatchPending}
	if u.ExpectRequesterAccepted != nil {
		filter["requesterAcceptedSuggestedPrice"] = *u.ExpectRequesterAccepted
	}
	if u.ExpectOwnerAccepted != nil {
		filter["ownerAcceptedSuggestedPrice"] = *u.ExpectOwnerAccepted
	}
	res, err := s.matches.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return false, fmt.Errorf("update pending match %s: %w", id.Hex(), err)
	}
	return res.ModifiedCount == 1, nil
}

// ErrandingMatchRow joins an erranding match with its service-request
// resource and the completed errand.
type ErrandingMatchRow struct {
	models.Match `bson:",inline"`

	Request models.Resource `bson:"request"`
	Errand  models.Errand   `bson:"errand"`
}

// ErrandingPastCompletion joins erranding matches against their request and
// errand, keeping rows whose errand completed at or before the cutoff.
func (s *Store) ErrandingPastCompletion(ctx context.Context, cutoff time.Time) ([]ErrandingMatchRow, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"status": models.MatchErranding}}},
		{{Key: "$lookup", Value: bson.M{
			"from":         "resources",
			"localField":   "serviceRequest",
			"foreignField": "_id",
			"as":           "request",
		}}},
		{{Key: "$unwind", Value: "$request"}},
		{{Key: "$lookup", Value: bson.M{
			"from":         "errands",
			"localField":   "request.assignedErrandId",
			"foreignField": "_id",
			"as":           "errand",
		}}},
		{{Key: "$unwind", Value: "$errand"}},
		{{Key: "$match", Value: bson.M{
			"errand.completedAt": bson.M{"$ne": nil, "$lte": cutoff},
		}}},
	}
	cur, err := s.matches.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate erranding matches: %w", err)
	}
	var rows []ErrandingMatchRow
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode erranding matches: %w", err)
	}
	return rows, nil
}

// MarkCompleted finishes an erranding match. Conditional on status so the
// auto-completer stays idempotent across re-runs.
func (s *Store) MarkCompleted(ctx context.Context, id primitive.ObjectID) (bool, error) {
	res, err := s.matches.UpdateOne(ctx,
		bson.M{"_id": id, "status": models.MatchErranding},
		bson.M{"$set": bson.M{"status": models.MatchCompleted, "updatedAt": time.Now().UTC()}},
	)
	if err != nil {
		return false, fmt.Errorf("complete match %s: %w", id.Hex(), err)
	}
	return res.ModifiedCount == 1, nil
}
