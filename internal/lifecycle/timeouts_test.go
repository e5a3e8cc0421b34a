package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/orz-miniprogram/NeptuneHub-Public/internal/metrics"
	"github.com/orz-miniprogram/NeptuneHub-Public/internal/models"
)

func oid(n byte) primitive.ObjectID {
	var id primitive.ObjectID
	id[11] = n
	return id
}

type cancelCall struct {
	id        primitive.ObjectID
	reason    string
	penaltyTo *primitive.ObjectID
}

type fakeCleanerStore struct {
	acceptance []models.Match
	initial    []models.Match

	cancels     []cancelCall
	points      map[primitive.ObjectID]int
	cancelLosts map[primitive.ObjectID]bool // ids whose conditional cancel races out
}

func newFakeCleanerStore() *fakeCleanerStore {
	return &fakeCleanerStore{
		points:      map[primitive.ObjectID]int{},
		cancelLosts: map[primitive.ObjectID]bool{},
	}
}

func (f *fakeCleanerStore) TimedOutAcceptance(context.Context, time.Duration) ([]models.Match, error) {
	return f.acceptance, nil
}

func (f *fakeCleanerStore) TimedOutInitialPending(context.Context, time.Duration) ([]models.Match, error) {
	return f.initial, nil
}

func (f *fakeCleanerStore) CancelPending(_ context.Context, id primitive.ObjectID, reason string, penaltyTo *primitive.ObjectID) (bool, error) {
	if f.cancelLosts[id] {
		return false, nil
	}
	f.cancels = append(f.cancels, cancelCall{id: id, reason: reason, penaltyTo: penaltyTo})
	return true, nil
}

func (f *fakeCleanerStore) IncPoints(_ context.Context, userID primitive.ObjectID, delta int) error {
	f.points[userID] += delta
	return nil
}

type broadcastCall struct {
	recipients []primitive.ObjectID
	messageKey string
	data       map[string]interface{}
}

type fakeBroadcaster struct {
	sent []broadcastCall
}

func (f *fakeBroadcaster) Broadcast(_ context.Context, recipients []primitive.ObjectID, messageKey string, data map[string]interface{}) {
	f.sent = append(f.sent, broadcastCall{recipients: recipients, messageKey: messageKey, data: data})
}

func pendingMatch(n byte) models.Match {
	return models.Match{
		ID:        oid(n),
		Requester: oid(n + 10),
		Owner:     oid(n + 20),
		Status:    models.MatchPending,
	}
}

func TestCleanerPenalizesSilentOwner(t *testing.T) {
	m := pendingMatch(1)
	m.RequesterAcceptedSuggestedPrice = true

	fs := newFakeCleanerStore()
	fs.acceptance = []models.Match{m}
	notifier := &fakeBroadcaster{}
	c := NewCleaner(fs, notifier, 24*time.Hour, nil)

	n, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, fs.cancels, 1)
	assert.Equal(t, "Acceptance window expired", fs.cancels[0].reason)
	require.NotNil(t, fs.cancels[0].penaltyTo)
	assert.Equal(t, m.Owner, *fs.cancels[0].penaltyTo)
	assert.Equal(t, -5, fs.points[m.Owner])
	assert.Zero(t, fs.points[m.Requester])

	require.Len(t, notifier.sent, 1)
	assert.Equal(t, "match_timed_out_penalty", notifier.sent[0].messageKey)
	assert.ElementsMatch(t, []primitive.ObjectID{m.Requester, m.Owner}, notifier.sent[0].recipients)
	assert.Equal(t, m.Owner.Hex(), notifier.sent[0].data["penalizedUserId"])
}

func TestCleanerPenalizesSilentRequester(t *testing.T) {
	m := pendingMatch(1)
	m.OwnerAcceptedSuggestedPrice = true

	fs := newFakeCleanerStore()
	fs.acceptance = []models.Match{m}
	c := NewCleaner(fs, nil, 24*time.Hour, nil)

	_, err := c.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, fs.cancels, 1)
	assert.Equal(t, m.Requester, *fs.cancels[0].penaltyTo)
	assert.Equal(t, -5, fs.points[m.Requester])
}

func TestCleanerInitialPendingNoPenalty(t *testing.T) {
	m := pendingMatch(1)

	fs := newFakeCleanerStore()
	fs.initial = []models.Match{m}
	notifier := &fakeBroadcaster{}
	c := NewCleaner(fs, notifier, 24*time.Hour, nil)

	n, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, fs.cancels, 1)
	assert.Equal(t, "Initial pending window expired", fs.cancels[0].reason)
	assert.Nil(t, fs.cancels[0].penaltyTo)
	assert.Empty(t, fs.points)

	require.Len(t, notifier.sent, 1)
	assert.Equal(t, "match_cancelled_no_action", notifier.sent[0].messageKey)
	assert.Equal(t, m.ID.Hex(), notifier.sent[0].data["matchId"])
}

func TestCleanerSkipsRacedCancellations(t *testing.T) {
	m := pendingMatch(1)
	m.RequesterAcceptedSuggestedPrice = true

	fs := newFakeCleanerStore()
	fs.acceptance = []models.Match{m}
	fs.cancelLosts[m.ID] = true
	notifier := &fakeBroadcaster{}
	c := NewCleaner(fs, notifier, 24*time.Hour, nil)

	n, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, fs.points, "losing the conditional write must not penalize")
	assert.Empty(t, notifier.sent)
}

func TestCleanerCountsBothSweeps(t *testing.T) {
	accepted := pendingMatch(1)
	accepted.RequesterAcceptedSuggestedPrice = true
	untouched := pendingMatch(2)

	fs := newFakeCleanerStore()
	fs.acceptance = []models.Match{accepted}
	fs.initial = []models.Match{untouched}
	c := NewCleaner(fs, nil, 24*time.Hour, nil)

	n, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCleanerRecordsCancellationMetrics(t *testing.T) {
	accepted := pendingMatch(1)
	accepted.RequesterAcceptedSuggestedPrice = true
	untouched := pendingMatch(2)
	raced := pendingMatch(3)
	raced.RequesterAcceptedSuggestedPrice = true

	fs := newFakeCleanerStore()
	fs.acceptance = []models.Match{accepted, raced}
	fs.initial = []models.Match{untouched}
	fs.cancelLosts[raced.ID] = true

	set := metrics.NewSet(prometheus.NewRegistry())
	c := NewCleaner(fs, nil, 24*time.Hour, set)

	_, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.InDelta(t, 1, testutil.ToFloat64(set.MatchesCancelled.WithLabelValues("acceptance_window")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(set.MatchesCancelled.WithLabelValues("initial_pending")), 1e-9)
}
