package errandflow

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/orz-miniprogram/NeptuneHub-Public/internal/models"
)

// AssignerStore is the persistence surface one assignment run needs.
type AssignerStore interface {
	PendingServiceRequests(ctx context.Context, limit int64) ([]models.Resource, error)
	CandidatesForRequest(ctx context.Context, requestID primitive.ObjectID) ([]models.RunnerProfile, error)
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	InsertErrand(ctx context.Context, errand *models.Errand) (primitive.ObjectID, error)
	AssignErrand(ctx context.Context, requestID, errandID primitive.ObjectID) error
	ClaimErrand(ctx context.Context, profileID, requestID, errandID primitive.ObjectID) error
	IncMatchAttempts(ctx context.Context, id primitive.ObjectID) error
}

// Notifier delivers best-effort user notifications after commit.
type Notifier interface {
	NotifyUser(ctx context.Context, userID primitive.ObjectID, message string, data map[string]interface{})
}

// Assigner promotes pending service-requests into errands, one transaction
// per request. A failed request is attempt-counted and skipped; the next
// scheduled run re-picks it.
type Assigner struct {
	store     AssignerStore
	notifier  Notifier
	batchSize int64
	minScore  int
	logger    *log.Logger
	now       func() time.Time
}

func NewAssigner(st AssignerStore, notifier Notifier, batchSize int64, minScore int) *Assigner {
	return &Assigner{
		store:     st,
		notifier:  notifier,
		batchSize: batchSize,
		minScore:  minScore,
		logger:    log.New(log.Writer(), "[ASSIGNER] ", log.LstdFlags),
		now:       time.Now,
	}
}

// rankedCandidate pairs a runner profile with its cached entry for the
// request being assigned.
type rankedCandidate struct {
	profile models.RunnerProfile
	entry   models.PotentialErrandRequest
}

// Run walks assignable requests oldest-first and assigns each to its best
// available runner. Returns the number of errands created.
func (a *Assigner) Run(ctx context.Context) (int, error) {
	requests, err := a.store.PendingServiceRequests(ctx, a.batchSize)
	if err != nil {
		return 0, err
	}

	assigned := 0
	for i := range requests {
		request := &requests[i]
		if err := a.assignOne(ctx, request); err != nil {
			a.logger.Printf("assignment failed for request %s: %v", request.ID.Hex(), err)
			if err := a.store.IncMatchAttempts(ctx, request.ID); err != nil {
				a.logger.Printf("failed to bump match attempts for %s: %v", request.ID.Hex(), err)
			}
			continue
		}
		assigned++
	}
	return assigned, nil
}

// errNoCandidates marks a request nobody can serve yet.
var errNoCandidates = fmt.Errorf("no eligible runner candidates")

func (a *Assigner) assignOne(ctx context.Context, request *models.Resource) error {
	profiles, err := a.store.CandidatesForRequest(ctx, request.ID)
	if err != nil {
		return err
	}

	var candidates []rankedCandidate
	for _, profile := range profiles {
		for _, entry := range profile.PotentialErrandRequests {
			if entry.RequestID == request.ID && entry.Score >= a.minScore {
				candidates = append(candidates, rankedCandidate{profile: profile, entry: entry})
				break
			}
		}
	}
	if len(candidates) == 0 {
		return errNoCandidates
	}

	// Best score first; among equals the freshest entry, then profile id
	// for a stable total order.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].entry.Score != candidates[j].entry.Score {
			return candidates[i].entry.Score > candidates[j].entry.Score
		}
		if !candidates[i].entry.MatchedAt.Equal(candidates[j].entry.MatchedAt) {
			return candidates[i].entry.MatchedAt.After(candidates[j].entry.MatchedAt)
		}
		return candidates[i].profile.ID.Hex() < candidates[j].profile.ID.Hex()
	})
	chosen := candidates[0]

	errand := a.errandFromRequest(request, chosen.profile.UserID)
	var errandID primitive.ObjectID
	err = a.store.WithTransaction(ctx, func(txCtx context.Context) error {
		id, err := a.store.InsertErrand(txCtx, errand)
		if err != nil {
			return err
		}
		errandID = id
		if err := a.store.AssignErrand(txCtx, request.ID, errandID); err != nil {
			return err
		}
		return a.store.ClaimErrand(txCtx, chosen.profile.ID, request.ID, errandID)
	})
	if err != nil {
		return err
	}

	a.logger.Printf("assigned request %s to runner %s (errand %s, score %d)",
		request.ID.Hex(), chosen.profile.UserID.Hex(), errandID.Hex(), chosen.entry.Score)

	// Best-effort: the assignment stands even if the runner never hears
	// about it here, the client polls too.
	if a.notifier != nil {
		a.notifier.NotifyUser(ctx, chosen.profile.UserID,
			fmt.Sprintf("You have been assigned a new errand: '%s'. Please accept to confirm.", request.Name),
			map[string]interface{}{
				"errandId":          errandID.Hex(),
				"resourceId":        request.ID.Hex(),
				"pickupLocation":    errand.PickupLocation,
				"dropoffLocation":   errand.DropoffLocation,
				"expectedTimeframe": errand.ExpectedTimeframeString,
			})
	}
	return nil
}

// errandFromRequest derives the errand document from the request's
// structured specs.
func (a *Assigner) errandFromRequest(request *models.Resource, runnerUserID primitive.ObjectID) *models.Errand {
	specs := request.Specifications
	errand := &models.Errand{
		ResourceRequestID: request.ID,
		ErrandRunner:      runnerUserID,
		CurrentStatus:     models.ErrandPending,
		PickupLocation:    models.AddressFromSpec(specs, "from_address"),
		DropoffLocation:   models.AddressFromSpec(specs, "to_address"),
		RunnerAssignedAt:  a.now().UTC(),
	}
	if v, ok := specs["door_delivery"].(bool); ok {
		errand.IsDeliveryToDoor = v
	}
	if v, ok := specNumber(specs, "door_delivery_units"); ok {
		errand.DoorDeliveryUnits = int(v)
	}
	if v, ok := specNumber(specs, "delivery_fee"); ok {
		errand.DeliveryFee = v
	}
	if t, ok := specTime(specs, "expectedStartTime"); ok {
		errand.ExpectedStartTime = &t
	}
	if t, ok := specTime(specs, "expectedEndTime"); ok {
		errand.ExpectedEndTime = &t
	}
	if s, ok := specs["expectedTimeframeString"].(string); ok {
		errand.ExpectedTimeframeString = s
	}
	return errand
}

func specNumber(specs map[string]interface{}, key string) (float64, bool) {
	switch v := specs[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func specTime(specs map[string]interface{}, key string) (time.Time, bool) {
	switch v := specs[key].(type) {
	case time.Time:
		return v, true
	case string:
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	default:
		return time.Time{}, false
	}
}
