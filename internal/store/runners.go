package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/orz-miniprogram/NeptuneHub-Public/internal/models"
)

// RunnerProfilesByUserIDs fetches the profiles behind a set of offer authors.
func (s *Store) RunnerProfilesByUserIDs(ctx context.Context, userIDs []primitive.ObjectID) ([]models.RunnerProfile, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	cur, err := s.runnerProfiles.Find(ctx, bson.M{"userId": bson.M{"$in": userIDs}})
	if err != nil {
		return nil, fmt.Errorf("find runner profiles: %w", err)
	}
	var out []models.RunnerProfile
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode runner profiles: %w", err)
	}
	return out, nil
}

// CandidatesForRequest returns assignable runners holding a cached potential
// match for the request.
func (s *Store) CandidatesForRequest(ctx context.Context, requestID primitive.ObjectID) ([]models.RunnerProfile, error) {
	cur, err := s.runnerProfiles.Find(ctx, bson.M{
		"potentialErrandRequests.requestId": requestID,
		"currentActiveErrand":               bson.M{"$exists": false},
	})
	if err != nil {
		return nil, fmt.Errorf("find candidates for request %s: %w", requestID.Hex(), err)
	}
	var out []models.RunnerProfile
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode candidates for request %s: %w", requestID.Hex(), err)
	}
	return out, nil
}

// PotentialUpsert pairs a runner profile with the entry to upsert into its
// potentialErrandRequests array.
type PotentialUpsert struct {
	ProfileID primitive.ObjectID
	Entry     models.PotentialErrandRequest
}

// UpsertPotentialMatches writes scored (request, offer) entries into runner
// profiles. Duplicate (profile, request) pairs are collapsed to their best
// score first; each survivor becomes two ordered bulk operations: an
// array-filtered $set refreshing an existing entry for the requestId, and a
// guarded $push that only fires when no such entry exists. Together they are
// an in-array upsert that keeps entries unique per requestId.
func (s *Store) UpsertPotentialMatches(ctx context.Context, upserts []PotentialUpsert) error {
	if len(upserts) == 0 {
		return nil
	}
	upserts = dedupePotentialUpserts(upserts)
	now := time.Now().UTC()
	writes := make([]mongo.WriteModel, 0, len(upserts)*2)
	for _, u := range upserts {
		writes = append(writes,
			mongo.NewUpdateOneModel().
				SetFilter(bson.M{
					"_id":                               u.ProfileID,
					"potentialErrandRequests.requestId": u.Entry.RequestID,
				}).
				SetUpdate(bson.M{"$set": bson.M{
					"potentialErrandRequests.$[entry]": u.Entry,
					"lastPotentialMatchUpdate":         now,
					"updatedAt":                        now,
				}}).
				SetArrayFilters(options.ArrayFilters{Filters: []interface{}{
					bson.M{"entry.requestId": u.Entry.RequestID},
				}}),
			mongo.NewUpdateOneModel().
				SetFilter(bson.M{
					"_id":                               u.ProfileID,
					"potentialErrandRequests.requestId": bson.M{"$ne": u.Entry.RequestID},
				}).
				SetUpdate(bson.M{
					"$push": bson.M{"potentialErrandRequests": u.Entry},
					"$set": bson.M{
						"lastPotentialMatchUpdate": now,
						"updatedAt":                now,
					},
				}),
		)
	}
	_, err := s.runnerProfiles.BulkWrite(ctx, writes)
	if err != nil {
		return fmt.Errorf("upsert %d potential matches: %w", len(upserts), err)
	}
	return nil
}

// dedupePotentialUpserts keeps the best-scoring entry per (profile, request)
// pair. The guarded $push is only correct when each pair appears at most once
// in a batch, or two pushes could both pass the $ne filter.
func dedupePotentialUpserts(upserts []PotentialUpsert) []PotentialUpsert {
	type pair struct {
		profile primitive.ObjectID
		request primitive.ObjectID
	}
	index := make(map[pair]int, len(upserts))
	out := make([]PotentialUpsert, 0, len(upserts))
	for _, u := range upserts {
		k := pair{profile: u.ProfileID, request: u.Entry.RequestID}
		if i, ok := index[k]; ok {
			if u.Entry.Score > out[i].Entry.Score {
				out[i] = u
			}
			continue
		}
		index[k] = len(out)
		out = append(out, u)
	}
	return out
}

// ClaimErrand locks the chosen runner onto the new errand: drop the cached
// entry and set currentActiveErrand. Conditional on the runner still being
// free; part of the assignment transaction.
func (s *Store) ClaimErrand(ctx context.Context, profileID, requestID, errandID primitive.ObjectID) error {
	res, err := s.runnerProfiles.UpdateOne(ctx,
		bson.M{"_id": profileID, "currentActiveErrand": bson.M{"$exists": false}},
		bson.M{
			"$pull": bson.M{"potentialErrandRequests": bson.M{"requestId": requestID}},
			"$set": bson.M{
				"currentActiveErrand": errandID,
				"updatedAt":           time.Now().UTC(),
			},
		},
	)
	if err != nil {
		return fmt.Errorf("claim errand for profile %s: %w", profileID.Hex(), err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("claim errand for profile %s: runner no longer assignable", profileID.Hex())
	}
	return nil
}

// PruneRequest drops a deleted request's weak references from every runner
// profile.
func (s *Store) PruneRequest(ctx context.Context, requestID primitive.ObjectID) error {
	_, err := s.runnerProfiles.UpdateMany(ctx,
		bson.M{"potentialErrandRequests.requestId": requestID},
		bson.M{
			"$pull": bson.M{"potentialErrandRequests": bson.M{"requestId": requestID}},
			"$set":  bson.M{"updatedAt": time.Now().UTC()},
		},
	)
	if err != nil {
		return fmt.Errorf("prune request %s from runner profiles: %w", requestID.Hex(), err)
	}
	return nil
}
