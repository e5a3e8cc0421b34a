// Package errandflow implements the two-phase errand pipeline: the populator
// caches scored (request, offer) pairs on runner profiles, and the assigner
// promotes each request to a concrete errand with the best cached runner.
package errandflow

import (
	"context"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/orz-miniprogram/NeptuneHub-Public/internal/models"
	"github.com/orz-miniprogram/NeptuneHub-Public/internal/scoring"
	"github.com/orz-miniprogram/NeptuneHub-Public/internal/store"
)

// recentWindow bounds which requests and offers one populator run considers.
// It matches the run cadence so nothing is scored twice needlessly.
const recentWindow = 10 * time.Minute

// PopulatorStore is the persistence surface the populator needs.
type PopulatorStore interface {
	RecentServiceRequests(ctx context.Context, window time.Duration, limit int64) ([]models.Resource, error)
	RecentServiceOffers(ctx context.Context, window time.Duration, limit int64) ([]models.Resource, error)
	RunnerProfilesByUserIDs(ctx context.Context, userIDs []primitive.ObjectID) ([]models.RunnerProfile, error)
	UpsertPotentialMatches(ctx context.Context, upserts []store.PotentialUpsert) error
}

// Populator scores recent request-offer pairs and caches the eligible ones
// on runner profiles for the assigner to pick from.
type Populator struct {
	store     PopulatorStore
	batchSize int64
	minScore  int
	logger    *log.Logger
	now       func() time.Time
}

func NewPopulator(st PopulatorStore, batchSize int64, minScore int) *Populator {
	return &Populator{
		store:     st,
		batchSize: batchSize,
		minScore:  minScore,
		logger:    log.New(log.Writer(), "[POPULATOR] ", log.LstdFlags),
		now:       time.Now,
	}
}

// Run scores every recent request against every recent offer's runner and
// upserts entries scoring at or above the threshold. Returns the number of
// entries written.
func (p *Populator) Run(ctx context.Context) (int, error) {
	requests, err := p.store.RecentServiceRequests(ctx, recentWindow, p.batchSize)
	if err != nil {
		return 0, err
	}
	offers, err := p.store.RecentServiceOffers(ctx, recentWindow, p.batchSize)
	if err != nil {
		return 0, err
	}
	if len(requests) == 0 || len(offers) == 0 {
		p.logger.Printf("nothing to populate (%d requests, %d offers)", len(requests), len(offers))
		return 0, nil
	}

	userIDs := make([]primitive.ObjectID, 0, len(offers))
	for _, offer := range offers {
		userIDs = append(userIDs, offer.UserID)
	}
	profiles, err := p.store.RunnerProfilesByUserIDs(ctx, userIDs)
	if err != nil {
		return 0, err
	}
	profileByUser := make(map[primitive.ObjectID]*models.RunnerProfile, len(profiles))
	for i := range profiles {
		profileByUser[profiles[i].UserID] = &profiles[i]
	}

	now := p.now().UTC()
	var upserts []store.PotentialUpsert
	for i := range requests {
		request := &requests[i]
		for j := range offers {
			offer := &offers[j]
			profile, ok := profileByUser[offer.UserID]
			if !ok {
				continue // offer author never registered as a runner
			}
			score := scoring.ErrandScore(request, offer, profile)
			if score < p.minScore {
				continue
			}
			upserts = append(upserts, store.PotentialUpsert{
				ProfileID: profile.ID,
				Entry: models.PotentialErrandRequest{
					RequestID: request.ID,
					OfferID:   offer.ID,
					Score:     score,
					MatchedAt: now,
				},
			})
		}
	}
	if len(upserts) == 0 {
		return 0, nil
	}
	if err := p.store.UpsertPotentialMatches(ctx, upserts); err != nil {
		return 0, err
	}
	p.logger.Printf("upserted %d potential matches from %d requests x %d offers", len(upserts), len(requests), len(offers))
	return len(upserts), nil
}
