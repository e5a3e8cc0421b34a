// Package matching implements the goods-match pass: batched candidate
// enumeration per category, a global score-descending tier walk with
// conflict-free selection, and VCG-style pricing on tie tiers.
package matching

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/orz-miniprogram/NeptuneHub-Public/internal/models"
	"github.com/orz-miniprogram/NeptuneHub-Public/internal/scoring"
)

// EngineStore is the persistence surface one match pass needs.
type EngineStore interface {
	DistinctMatchingCategories(ctx context.Context) ([]string, error)
	MatchingBatch(ctx context.Context, category string, skip, limit int64) ([]models.Resource, error)
	StatusMap(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]models.ResourceStatus, error)
	InsertMatches(ctx context.Context, matches []models.Match) error
	MarkMatched(ctx context.Context, ids []primitive.ObjectID) error
}

// Engine runs the global goods-matching pass. One pass is a logical critical
// section; the queue's one-handler-per-job semantics keep two passes from
// racing, and conditional status updates make overlap harmless anyway.
type Engine struct {
	store     EngineStore
	semantic  scoring.SemanticFunc
	batchSize int64
	minScore  int
	logger    *log.Logger
	now       func() time.Time
}

// NewEngine wires a match engine. semantic may be nil, which zeroes the
// semantic component of every name score.
func NewEngine(store EngineStore, semantic scoring.SemanticFunc, batchSize int64, minScore int) *Engine {
	return &Engine{
		store:     store,
		semantic:  semantic,
		batchSize: batchSize,
		minScore:  minScore,
		logger:    log.New(log.Writer(), "[MATCH-ENGINE] ", log.LstdFlags),
		now:       time.Now,
	}
}

// candidate is one scored, price-compatible buyer-seller pair. Resources are
// held by value: the pass works against its snapshot, the live statusMap
// guards against staleness.
type candidate struct {
	score  int
	buyer  models.Resource
	seller models.Resource
}

// RunMatchPass finds, resolves and persists all goods matches derivable from
// the current matching-status resources. Returns the number of matches
// created. An insert failure fails the pass; the queue re-runs it against
// persisted state.
func (e *Engine) RunMatchPass(ctx context.Context) (int, error) {
	categories, err := e.store.DistinctMatchingCategories(ctx)
	if err != nil {
		return 0, err
	}
	e.logger.Printf("match pass over %d categories", len(categories))

	var candidates []candidate
	for _, category := range categories {
		resources, err := e.gatherCategory(ctx, category)
		if err != nil {
			return 0, err
		}
		candidates = append(candidates, e.enumerate(ctx, resources)...)
	}
	if len(candidates) == 0 {
		e.logger.Printf("no candidates this pass")
		return 0, nil
	}

	// Global tier sort: score descending, then resource ids so equal-score
	// runs are processed in a fixed order.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		if candidates[i].buyer.ID != candidates[j].buyer.ID {
			return candidates[i].buyer.ID.Hex() < candidates[j].buyer.ID.Hex()
		}
		return candidates[i].seller.ID.Hex() < candidates[j].seller.ID.Hex()
	})

	statusMap, err := e.store.StatusMap(ctx, candidateResourceIDs(candidates))
	if err != nil {
		return 0, err
	}

	matches := e.resolveTiers(candidates, statusMap)
	if len(matches) == 0 {
		return 0, nil
	}

	if err := e.store.InsertMatches(ctx, matches); err != nil {
		return 0, fmt.Errorf("persist matches: %w", err)
	}
	ids := make([]primitive.ObjectID, 0, len(matches)*2)
	for _, m := range matches {
		ids = append(ids, m.Resource1, m.Resource2)
	}
	if err := e.store.MarkMatched(ctx, ids); err != nil {
		return 0, fmt.Errorf("mark resources matched: %w", err)
	}
	e.logger.Printf("created %d matches", len(matches))
	return len(matches), nil
}

// gatherCategory pages through one category's matching resources, cheapest
// first, until the store runs dry.
func (e *Engine) gatherCategory(ctx context.Context, category string) ([]models.Resource, error) {
	var all []models.Resource
	for skip := int64(0); ; {
		batch, err := e.store.MatchingBatch(ctx, category, skip, e.batchSize)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}
		all = append(all, batch...)
		skip += int64(len(batch))
	}
	return all, nil
}

// enumerate scores every compatible buyer-seller pair in one category. Each
// unordered pair is visited once, oriented buyer-to-seller.
func (e *Engine) enumerate(ctx context.Context, resources []models.Resource) []candidate {
	byType := map[models.ResourceType][]models.Resource{}
	for _, r := range resources {
		byType[r.Type] = append(byType[r.Type], r)
	}

	var out []candidate
	for _, buyer := range resources {
		if !buyer.Type.BuyerSide() {
			continue
		}
		counterpart, ok := buyer.Type.Counterpart()
		if !ok {
			continue
		}
		for _, seller := range byType[counterpart] {
			if seller.ID == buyer.ID || seller.Category != buyer.Category {
				continue
			}
			if !scoring.PriceCompatible(&buyer, &seller) {
				continue
			}
			score := scoring.Score(ctx, e.semantic, &buyer, &seller)
			if score < e.minScore {
				continue
			}
			out = append(out, candidate{score: score, buyer: buyer, seller: seller})
		}
	}
	return out
}

// resolveTiers walks the sorted candidates by equal-score runs. The first
// tier with exactly one available candidate becomes a plain suggested-price
// match; every other tier goes through the bipartite matcher with VCG-style
// pricing over the tier pool.
func (e *Engine) resolveTiers(candidates []candidate, statusMap map[primitive.ObjectID]models.ResourceStatus) []models.Match {
	var matches []models.Match
	matchedThisPass := map[primitive.ObjectID]struct{}{}

	available := func(c candidate) bool {
		if _, done := matchedThisPass[c.buyer.ID]; done {
			return false
		}
		if _, done := matchedThisPass[c.seller.ID]; done {
			return false
		}
		return statusMap[c.buyer.ID] == models.ResourceMatching &&
			statusMap[c.seller.ID] == models.ResourceMatching
	}
	claim := func(c candidate) {
		statusMap[c.buyer.ID] = models.ResourceMatched
		statusMap[c.seller.ID] = models.ResourceMatched
		matchedThisPass[c.buyer.ID] = struct{}{}
		matchedThisPass[c.seller.ID] = struct{}{}
	}

	firstTier := true
	for i := 0; i < len(candidates); {
		j := i
		for j < len(candidates) && candidates[j].score == candidates[i].score {
			j++
		}
		tier := candidates[i:j]

		var avail []candidate
		for _, c := range tier {
			if available(c) {
				avail = append(avail, c)
			}
		}

		switch {
		case len(avail) == 0:
			// Nothing left in this tier.
		case firstTier && len(avail) == 1:
			c := avail[0]
			m := e.newPendingMatch(c)
			suggestedRequester := *c.seller.Price + scoring.ErrandFee
			suggestedOwner := *c.buyer.Price - scoring.ErrandFee
			m.SuggestedPriceRequester = &suggestedRequester
			m.SuggestedPriceOwner = &suggestedOwner
			matches = append(matches, m)
			claim(c)
			e.logger.Printf("unique winner at score %d: %s <-> %s", c.score, c.buyer.ID.Hex(), c.seller.ID.Hex())
		default:
			matches = append(matches, e.resolveVCGTier(avail, available, claim)...)
		}

		firstTier = false
		i = j
	}
	return matches
}

// resolveVCGTier runs max-weight bipartite selection over the tier and prices
// the winners against the whole tier pool's second-best participants.
func (e *Engine) resolveVCGTier(avail []candidate, available func(candidate) bool, claim func(candidate)) []models.Match {
	byEdge := map[string]candidate{}
	var edges []Edge
	for _, c := range avail {
		u := nodeID(&c.buyer)
		v := nodeID(&c.seller)
		w := *c.buyer.Price - *c.seller.Price
		if w <= 0 {
			continue
		}
		key := u + "|" + v
		if _, dup := byEdge[key]; !dup {
			byEdge[key] = c
			edges = append(edges, Edge{U: u, V: v, Weight: w})
		}
	}
	if len(edges) == 0 {
		return nil
	}

	selected := MaxWeightMatching(edges)
	secondBestBuyer, secondBestSeller := tierSecondBest(avail)

	var matches []models.Match
	for _, edge := range selected {
		c := byEdge[edge.U+"|"+edge.V]
		if !available(c) {
			continue
		}
		buyerPays, sellerGets := vcgPrices(*c.buyer.Price, *c.seller.Price, secondBestBuyer, secondBestSeller, false)
		m := e.newPendingMatch(c)
		m.SuggestedPriceRequester = &buyerPays
		m.SuggestedPriceOwner = &sellerGets
		matches = append(matches, m)
		claim(c)
	}
	return matches
}

// tierSecondBest extracts the second-highest buyer price and second-lowest
// seller price from the tier pool, duplicates removed. nil when the pool has
// fewer than two distinct prices on that side.
func tierSecondBest(pool []candidate) (secondBestBuyer, secondBestSeller *float64) {
	buyerSet := map[float64]struct{}{}
	sellerSet := map[float64]struct{}{}
	for _, c := range pool {
		buyerSet[*c.buyer.Price] = struct{}{}
		sellerSet[*c.seller.Price] = struct{}{}
	}
	buyers := sortedPrices(buyerSet)
	sellers := sortedPrices(sellerSet)
	if n := len(buyers); n > 1 {
		secondBestBuyer = &buyers[n-2] // second largest
	}
	if len(sellers) > 1 {
		secondBestSeller = &sellers[1] // second smallest
	}
	return secondBestBuyer, secondBestSeller
}

// sortedPrices returns the keys of the set in ascending order.
func sortedPrices(set map[float64]struct{}) []float64 {
	prices := make([]float64, 0, len(set))
	for p := range set {
		prices = append(prices, p)
	}
	sort.Float64s(prices)
	return prices
}

// vcgPrices applies the second-price rule. Normal orientation: the buyer pays
// min(bid, second-best ask) and the seller receives their ask. Reversed
// orientation prices the buyer at max(bid, second-best bid) instead.
func vcgPrices(buyerPrice, sellerPrice float64, secondBestBuyer, secondBestSeller *float64, reversed bool) (buyerPays, sellerGets float64) {
	buyerPays = buyerPrice
	sellerGets = sellerPrice
	if reversed {
		if secondBestBuyer != nil && *secondBestBuyer > buyerPays {
			buyerPays = *secondBestBuyer
		}
		return buyerPays, sellerGets
	}
	if secondBestSeller != nil && *secondBestSeller < buyerPays {
		buyerPays = *secondBestSeller
	}
	return buyerPays, sellerGets
}

func (e *Engine) newPendingMatch(c candidate) models.Match {
	now := e.now().UTC()
	return models.Match{
		ID:                     primitive.NewObjectID(),
		Resource1:              c.buyer.ID,
		Resource2:              c.seller.ID,
		Requester:              c.buyer.UserID,
		Owner:                  c.seller.UserID,
		Score:                  c.score,
		OriginalPriceRequester: c.buyer.Price,
		OriginalPriceOwner:     c.seller.Price,
		Status:                 models.MatchPending,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
}

func nodeID(r *models.Resource) string {
	return fmt.Sprintf("resource_%s_type_%s", r.ID.Hex(), r.Type)
}

func candidateResourceIDs(candidates []candidate) []primitive.ObjectID {
	seen := map[primitive.ObjectID]struct{}{}
	var ids []primitive.ObjectID
	for _, c := range candidates {
		for _, id := range []primitive.ObjectID{c.buyer.ID, c.seller.ID} {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	return ids
}
