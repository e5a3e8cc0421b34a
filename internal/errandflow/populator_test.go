package errandflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/orz-miniprogram/NeptuneHub-Public/internal/models"
	"github.com/orz-miniprogram/NeptuneHub-Public/internal/store"
)

type fakePopulatorStore struct {
	requests []models.Resource
	offers   []models.Resource
	profiles []models.RunnerProfile
	upserts  []store.PotentialUpsert
}

func (f *fakePopulatorStore) RecentServiceRequests(context.Context, time.Duration, int64) ([]models.Resource, error) {
	return f.requests, nil
}

func (f *fakePopulatorStore) RecentServiceOffers(context.Context, time.Duration, int64) ([]models.Resource, error) {
	return f.offers, nil
}

func (f *fakePopulatorStore) RunnerProfilesByUserIDs(context.Context, []primitive.ObjectID) ([]models.RunnerProfile, error) {
	return f.profiles, nil
}

func (f *fakePopulatorStore) UpsertPotentialMatches(_ context.Context, upserts []store.PotentialUpsert) error {
	f.upserts = append(f.upserts, upserts...)
	return nil
}

func oid(n byte) primitive.ObjectID {
	var id primitive.ObjectID
	id[11] = n
	return id
}

func serviceRequest(n byte, specs map[string]interface{}) models.Resource {
	return models.Resource{
		ID:             oid(n),
		UserID:         oid(n + 100),
		Name:           "pick up my package",
		Type:           models.TypeServiceRequest,
		Specifications: specs,
		Status:         models.ResourceMatching,
	}
}

func serviceOffer(n byte, specs map[string]interface{}) models.Resource {
	return models.Resource{
		ID:             oid(n),
		UserID:         oid(n + 100),
		Name:           "available for errands",
		Type:           models.TypeServiceOffer,
		Specifications: specs,
		Status:         models.ResourceAvailable,
	}
}

func TestPopulatorCachesEligiblePairs(t *testing.T) {
	request := serviceRequest(1, map[string]interface{}{
		"from_address": map[string]interface{}{"buildingName": "Library", "campusZone": "north"},
	})
	inZone := serviceOffer(2, map[string]interface{}{"availabilityCampusZone": "north"})
	farAway := serviceOffer(3, map[string]interface{}{"availabilityCampusZone": "west"})

	inZoneProfile := models.RunnerProfile{
		ID:                   oid(20),
		UserID:               inZone.UserID,
		OperatingCampusZones: []string{"north"},
	}
	farProfile := models.RunnerProfile{
		ID:     oid(30),
		UserID: farAway.UserID,
	}

	fs := &fakePopulatorStore{
		requests: []models.Resource{request},
		offers:   []models.Resource{inZone, farAway},
		profiles: []models.RunnerProfile{inZoneProfile, farProfile},
	}
	p := NewPopulator(fs, 100, 5)
	fixed := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	n, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the in-zone offer clears the threshold")
	require.Len(t, fs.upserts, 1)

	up := fs.upserts[0]
	assert.Equal(t, inZoneProfile.ID, up.ProfileID)
	assert.Equal(t, request.ID, up.Entry.RequestID)
	assert.Equal(t, inZone.ID, up.Entry.OfferID)
	assert.Equal(t, 30, up.Entry.Score)
	assert.True(t, up.Entry.MatchedAt.Equal(fixed))
}

func TestPopulatorSkipsOffersWithoutProfile(t *testing.T) {
	request := serviceRequest(1, map[string]interface{}{
		"from_address": map[string]interface{}{"campusZone": "north"},
	})
	offer := serviceOffer(2, map[string]interface{}{"availabilityCampusZone": "north"})

	fs := &fakePopulatorStore{
		requests: []models.Resource{request},
		offers:   []models.Resource{offer},
		// No runner profile for the offer's author.
	}
	p := NewPopulator(fs, 100, 5)

	n, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, fs.upserts)
}

func TestPopulatorNoWorkWithoutOffers(t *testing.T) {
	fs := &fakePopulatorStore{
		requests: []models.Resource{serviceRequest(1, nil)},
	}
	p := NewPopulator(fs, 100, 5)

	n, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
