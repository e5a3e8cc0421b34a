package matching

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/orz-miniprogram/NeptuneHub-Public/internal/models"
)

type fakeEngineStore struct {
	resources []models.Resource
	statuses  map[primitive.ObjectID]models.ResourceStatus
	inserted  []models.Match
	marked    []primitive.ObjectID
}

func newFakeEngineStore(resources ...models.Resource) *fakeEngineStore {
	f := &fakeEngineStore{
		resources: resources,
		statuses:  map[primitive.ObjectID]models.ResourceStatus{},
	}
	for _, r := range resources {
		f.statuses[r.ID] = r.Status
	}
	return f
}

func (f *fakeEngineStore) DistinctMatchingCategories(context.Context) ([]string, error) {
	set := map[string]struct{}{}
	for _, r := range f.resources {
		if r.Status == models.ResourceMatching {
			set[r.Category] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeEngineStore) MatchingBatch(_ context.Context, category string, skip, limit int64) ([]models.Resource, error) {
	var pool []models.Resource
	for _, r := range f.resources {
		if r.Category != category || r.Status != models.ResourceMatching {
			continue
		}
		goods := false
		for _, t := range models.GoodsTypes {
			if r.Type == t {
				goods = true
			}
		}
		if goods {
			pool = append(pool, r)
		}
	}
	sort.Slice(pool, func(i, j int) bool { return *pool[i].Price < *pool[j].Price })
	if skip >= int64(len(pool)) {
		return nil, nil
	}
	pool = pool[skip:]
	if limit < int64(len(pool)) {
		pool = pool[:limit]
	}
	return pool, nil
}

func (f *fakeEngineStore) StatusMap(_ context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]models.ResourceStatus, error) {
	out := map[primitive.ObjectID]models.ResourceStatus{}
	for _, id := range ids {
		out[id] = f.statuses[id]
	}
	return out, nil
}

func (f *fakeEngineStore) InsertMatches(_ context.Context, matches []models.Match) error {
	f.inserted = append(f.inserted, matches...)
	return nil
}

func (f *fakeEngineStore) MarkMatched(_ context.Context, ids []primitive.ObjectID) error {
	f.marked = append(f.marked, ids...)
	return nil
}

func oid(n byte) primitive.ObjectID {
	var id primitive.ObjectID
	id[11] = n
	return id
}

func goodsResource(n byte, typ models.ResourceType, name string, price float64) models.Resource {
	return models.Resource{
		ID:       oid(n),
		UserID:   oid(n + 100),
		Name:     name,
		Type:     typ,
		Category: "Books",
		Price:    &price,
		Status:   models.ResourceMatching,
	}
}

func fullSimilarity(_ context.Context, _, _ string) float64 { return 1 }

func TestRunMatchPassUniqueWinner(t *testing.T) {
	store := newFakeEngineStore(
		goodsResource(1, models.TypeBuy, "calculus textbook", 50),
		goodsResource(2, models.TypeSell, "calculus textbook", 40),
	)
	// batchSize 1 also exercises paging through gatherCategory.
	engine := NewEngine(store, fullSimilarity, 1, 5)

	n, err := engine.RunMatchPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, store.inserted, 1)

	m := store.inserted[0]
	assert.Equal(t, oid(1), m.Resource1)
	assert.Equal(t, oid(2), m.Resource2)
	assert.Equal(t, oid(101), m.Requester)
	assert.Equal(t, oid(102), m.Owner)
	assert.Equal(t, models.MatchPending, m.Status)

	// Sole candidate in the top tier: fee-adjusted suggestions, not VCG.
	require.NotNil(t, m.SuggestedPriceRequester)
	require.NotNil(t, m.SuggestedPriceOwner)
	assert.InDelta(t, 42, *m.SuggestedPriceRequester, 1e-9)
	assert.InDelta(t, 48, *m.SuggestedPriceOwner, 1e-9)
	assert.InDelta(t, 50, *m.OriginalPriceRequester, 1e-9)
	assert.InDelta(t, 40, *m.OriginalPriceOwner, 1e-9)

	assert.ElementsMatch(t, []primitive.ObjectID{oid(1), oid(2)}, store.marked)
}

func TestRunMatchPassVCGTier(t *testing.T) {
	store := newFakeEngineStore(
		goodsResource(1, models.TypeBuy, "desk lamp", 100),
		goodsResource(2, models.TypeBuy, "desk lamp", 90),
		goodsResource(3, models.TypeSell, "desk lamp", 60),
		goodsResource(4, models.TypeSell, "desk lamp", 70),
	)
	engine := NewEngine(store, fullSimilarity, 100, 5)

	n, err := engine.RunMatchPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, store.inserted, 2)

	byBuyer := map[primitive.ObjectID]models.Match{}
	for _, m := range store.inserted {
		byBuyer[m.Resource1] = m
	}

	m1, ok := byBuyer[oid(1)]
	require.True(t, ok, "100-buyer must be matched")
	assert.Equal(t, oid(3), m1.Resource2, "highest bid pairs with lowest ask")
	m2, ok := byBuyer[oid(2)]
	require.True(t, ok, "90-buyer must be matched")
	assert.Equal(t, oid(4), m2.Resource2)

	// Second-lowest ask in the tier pool is 70: both buyers pay it, sellers
	// receive their own asks.
	assert.InDelta(t, 70, *m1.SuggestedPriceRequester, 1e-9)
	assert.InDelta(t, 60, *m1.SuggestedPriceOwner, 1e-9)
	assert.InDelta(t, 70, *m2.SuggestedPriceRequester, 1e-9)
	assert.InDelta(t, 70, *m2.SuggestedPriceOwner, 1e-9)
}

func TestRunMatchPassHonorsLiveStatus(t *testing.T) {
	store := newFakeEngineStore(
		goodsResource(1, models.TypeBuy, "desk lamp", 50),
		goodsResource(2, models.TypeSell, "desk lamp", 40),
	)
	// The seller was matched between snapshot and resolution.
	store.statuses[oid(2)] = models.ResourceMatched
	engine := NewEngine(store, fullSimilarity, 100, 5)

	n, err := engine.RunMatchPass(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, store.inserted)
	assert.Empty(t, store.marked)
}

func TestRunMatchPassScoreThreshold(t *testing.T) {
	store := newFakeEngineStore(
		goodsResource(1, models.TypeBuy, "alpha", 50),
		goodsResource(2, models.TypeSell, "omega", 40),
	)
	engine := NewEngine(store, nil, 100, 5)

	n, err := engine.RunMatchPass(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, store.inserted)
}

func TestRunMatchPassInvariants(t *testing.T) {
	cross := goodsResource(6, models.TypeSell, "desk lamp", 10)
	cross.Category = "Electronics"

	store := newFakeEngineStore(
		goodsResource(1, models.TypeBuy, "desk lamp", 100),
		goodsResource(2, models.TypeBuy, "desk lamp", 90),
		goodsResource(3, models.TypeBuy, "desk lamp", 30), // below every ask + fee
		goodsResource(4, models.TypeSell, "desk lamp", 60),
		goodsResource(5, models.TypeSell, "desk lamp", 70),
		cross, // same name, different category: must never pair
	)
	engine := NewEngine(store, fullSimilarity, 100, 5)

	_, err := engine.RunMatchPass(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, store.inserted)

	seen := map[primitive.ObjectID]struct{}{}
	byID := map[primitive.ObjectID]models.Resource{}
	for _, r := range store.resources {
		byID[r.ID] = r
	}
	for _, m := range store.inserted {
		for _, id := range []primitive.ObjectID{m.Resource1, m.Resource2} {
			_, dup := seen[id]
			assert.False(t, dup, "resource %s appears in two matches", id.Hex())
			seen[id] = struct{}{}
		}
		buyer, seller := byID[m.Resource1], byID[m.Resource2]
		assert.True(t, buyer.Type.BuyerSide())
		counterpart, ok := buyer.Type.Counterpart()
		require.True(t, ok)
		assert.Equal(t, counterpart, seller.Type)
		assert.Equal(t, buyer.Category, seller.Category)
		assert.GreaterOrEqual(t, *m.OriginalPriceRequester, *m.OriginalPriceOwner+2)
		assert.GreaterOrEqual(t, m.Score, 5)
	}
	_, crossed := seen[oid(6)]
	assert.False(t, crossed, "cross-category seller must stay unmatched")
	_, cheap := seen[oid(3)]
	assert.False(t, cheap, "price-incompatible buyer must stay unmatched")
}

func TestVCGPricesReversedOrientation(t *testing.T) {
	second := 85.0
	buyerPays, sellerGets := vcgPrices(80, 60, &second, nil, true)
	assert.InDelta(t, 85, buyerPays, 1e-9, "reversed: buyer raised to second-best bid")
	assert.InDelta(t, 60, sellerGets, 1e-9)

	lower := 75.0
	buyerPays, _ = vcgPrices(80, 60, &lower, nil, true)
	assert.InDelta(t, 80, buyerPays, 1e-9, "never raised below own bid")
}
