package lifecycle

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

type fakeNegotiationStore struct {
	match   models.Match
	updates []store.NegotiationUpdate
	raced   bool
	onFind  func(f *fakeNegotiationStore) // mutates state after the read
}

func (f *fakeNegotiationStore) FindMatch(_ context.Context, id primitive.ObjectID) (*models.Match, error) {
	if id != f.match.ID {
		return nil, store.ErrNotFound
	}
	m := f.match
	if f.onFind != nil {
		f.onFind(f)
	}
	return &m, nil
}

func (f *fakeNegotiationStore) UpdatePendingMatch(_ context.Context, _ primitive.ObjectID, u store.NegotiationUpdate) (bool, error) {
	if f.raced {
		return false, nil
	}
	if u.ExpectRequesterAccepted != nil && *u.ExpectRequesterAccepted != f.match.RequesterAcceptedSuggestedPrice {
		return false, nil
	}
	if u.ExpectOwnerAccepted != nil && *u.ExpectOwnerAccepted != f.match.OwnerAcceptedSuggestedPrice {
		return false, nil
	}
	f.updates = append(f.updates, u)
	return true, nil
}

func negotiableMatch() models.Match {
	requesterPays, ownerGets := 70.0, 60.0
	return models.Match{
		ID:                      oid(1),
		Requester:               oid(11),
		Owner:                   oid(21),
		Status:                  models.MatchPending,
		SuggestedPriceRequester: &requesterPays,
		SuggestedPriceOwner:     &ownerGets,
	}
}

func TestAcceptFirstSideStartsWindow(t *testing.T) {
	fs := &fakeNegotiationStore{match: negotiableMatch()}
	n := NewNegotiator(fs)
	fixed := time.Date(2026, 8, 24, 15, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return fixed }

	require.NoError(t, n.AcceptSuggestedPrice(context.Background(), oid(1), oid(11)))
	require.Len(t, fs.updates, 1)

	u := fs.updates[0]
	require.NotNil(t, u.RequesterAcceptedSuggestedPrice)
	assert.True(t, *u.RequesterAcceptedSuggestedPrice)
	require.NotNil(t, u.FirstAcceptanceTime)
	assert.True(t, u.FirstAcceptanceTime.Equal(fixed))
	assert.Nil(t, u.Status, "one acceptance must not move the match")
	assert.Nil(t, u.Resource1Payment)
	require.NotNil(t, u.ExpectOwnerAccepted)
	assert.False(t, *u.ExpectOwnerAccepted, "write must be guarded on the flag as read")
}

func TestAcceptSecondSideLocksPrices(t *testing.T) {
	m := negotiableMatch()
	m.RequesterAcceptedSuggestedPrice = true
	first := time.Date(2026, 8, 24, 14, 0, 0, 0, time.UTC)
	m.FirstAcceptanceTime = &first

	fs := &fakeNegotiationStore{match: m}
	n := NewNegotiator(fs)

	require.NoError(t, n.AcceptSuggestedPrice(context.Background(), oid(1), oid(21)))
	require.Len(t, fs.updates, 1)

	u := fs.updates[0]
	require.NotNil(t, u.OwnerAcceptedSuggestedPrice)
	assert.True(t, *u.OwnerAcceptedSuggestedPrice)
	assert.Nil(t, u.FirstAcceptanceTime, "window already started")
	require.NotNil(t, u.Status)
	assert.Equal(t, models.MatchErranding, *u.Status)
	require.NotNil(t, u.Resource1Payment)
	assert.InDelta(t, 70, *u.Resource1Payment, 1e-9)
	require.NotNil(t, u.Resource2Receipt)
	assert.InDelta(t, 60, *u.Resource2Receipt, 1e-9)
	require.NotNil(t, u.ExpectRequesterAccepted)
	assert.True(t, *u.ExpectRequesterAccepted)
}

func TestAcceptIsIdempotent(t *testing.T) {
	m := negotiableMatch()
	m.RequesterAcceptedSuggestedPrice = true
	first := time.Now()
	m.FirstAcceptanceTime = &first

	fs := &fakeNegotiationStore{match: m}
	n := NewNegotiator(fs)

	require.NoError(t, n.AcceptSuggestedPrice(context.Background(), oid(1), oid(11)))
	assert.Empty(t, fs.updates, "re-accepting must not write")
}

func TestAcceptRejectsOutsiders(t *testing.T) {
	fs := &fakeNegotiationStore{match: negotiableMatch()}
	n := NewNegotiator(fs)

	err := n.AcceptSuggestedPrice(context.Background(), oid(1), oid(99))
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestAcceptRequiresPending(t *testing.T) {
	m := negotiableMatch()
	m.Status = models.MatchCancelled
	fs := &fakeNegotiationStore{match: m}
	n := NewNegotiator(fs)

	err := n.AcceptSuggestedPrice(context.Background(), oid(1), oid(11))
	assert.ErrorIs(t, err, ErrNotPending)
}

func TestAcceptLosesConditionalWrite(t *testing.T) {
	fs := &fakeNegotiationStore{match: negotiableMatch(), raced: true}
	n := NewNegotiator(fs)

	err := n.AcceptSuggestedPrice(context.Background(), oid(1), oid(11))
	assert.ErrorIs(t, err, ErrNotPending)
}

func TestAcceptConcurrentFirstAcceptanceLoses(t *testing.T) {
	// The owner's acceptance lands between the requester's read and write.
	// The guarded write must lose rather than leave both flags set with the
	// match stuck in pending.
	fs := &fakeNegotiationStore{match: negotiableMatch()}
	fs.onFind = func(f *fakeNegotiationStore) {
		f.match.OwnerAcceptedSuggestedPrice = true
		now := time.Now()
		f.match.FirstAcceptanceTime = &now
	}
	n := NewNegotiator(fs)

	err := n.AcceptSuggestedPrice(context.Background(), oid(1), oid(11))
	assert.ErrorIs(t, err, ErrNotPending)
	assert.Empty(t, fs.updates, "a write based on a stale read must not land")
}

func TestReject(t *testing.T) {
	fs := &fakeNegotiationStore{match: negotiableMatch()}
	n := NewNegotiator(fs)

	require.NoError(t, n.Reject(context.Background(), oid(1), oid(21)))
	require.Len(t, fs.updates, 1)

	u := fs.updates[0]
	require.NotNil(t, u.Status)
	assert.Equal(t, models.MatchCancelled, *u.Status)
	require.NotNil(t, u.RejectedBy)
	assert.Equal(t, oid(21), *u.RejectedBy)
	assert.Contains(t, u.CancellationReason, oid(21).Hex())
}

func TestRejectRejectsOutsiders(t *testing.T) {
	fs := &fakeNegotiationStore{match: negotiableMatch()}
	n := NewNegotiator(fs)

	assert.ErrorIs(t, n.Reject(context.Background(), oid(1), oid(99)), ErrNotParticipant)
}
