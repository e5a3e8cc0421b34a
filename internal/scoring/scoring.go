// Package scoring computes pairwise match scores and price compatibility for
// goods postings, and the runner-fit score for errand requests.
package scoring

import (
	"context"
	"encoding/json"
	"math"
	"strings"

	"github.com/orz-miniprogram/NeptuneHub-Public/internal/models"
	"github.com/orz-miniprogram/NeptuneHub-Public/internal/similarity"
)

const (
	// MinMatchScore gates match creation and runner eligibility.
	MinMatchScore = 5

	// ErrandFee is the fixed spread between suggested buyer and seller prices.
	ErrandFee = 2

	// SemanticSimilarityWeight converts cosine similarity into points.
	SemanticSimilarityWeight = 5
)

// SemanticFunc returns the cosine similarity of two names' embeddings.
// Implementations return 0 when the embedding model is unavailable.
type SemanticFunc func(ctx context.Context, a, b string) float64

// Compatible reports whether two resource types pair up for goods matching.
// Same category is checked separately by the caller.
func Compatible(a, b models.ResourceType) bool {
	c, ok := a.Counterpart()
	return ok && c == b
}

// NameScore is semantic-cosine × weight plus the Levenshtein proximity bonus
// over the lowercased names.
func NameScore(ctx context.Context, semantic SemanticFunc, name1, name2 string) float64 {
	var sem float64
	if semantic != nil {
		sem = semantic(ctx, name1, name2)
	}
	d := similarity.Levenshtein(strings.ToLower(name1), strings.ToLower(name2))
	return sem*SemanticSimilarityWeight + float64(similarity.LevenshteinBonus(d))
}

// SpecScore is 2 points per key whose values serialize identically under
// canonical (sorted-key) JSON in both spec maps.
func SpecScore(a, b map[string]interface{}) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	matched := 0
	for k, av := range a {
		bv, ok := b[k]
		if !ok {
			continue
		}
		if canonicalJSON(av) == canonicalJSON(bv) {
			matched++
		}
	}
	return 2 * matched
}

// canonicalJSON renders a spec value with deterministic key order. The
// standard marshaller already sorts map keys; values that fail to marshal
// compare unequal to everything.
func canonicalJSON(v interface{}) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return "\x00unmarshalable"
	}
	return string(raw)
}

// Score is the total pair score, rounded to an integer so equal-score tiers
// are meaningful during the match pass.
func Score(ctx context.Context, semantic SemanticFunc, a, b *models.Resource) int {
	total := NameScore(ctx, semantic, a.Name, b.Name) + float64(SpecScore(a.Specifications, b.Specifications))
	return int(math.Round(total))
}

// PriceCompatible reports whether the buyer-side price covers the seller-side
// ask plus the errand fee. Resources with no numeric price never qualify.
func PriceCompatible(a, b *models.Resource) bool {
	if a.Price == nil || b.Price == nil {
		return false
	}
	buyer, seller := a, b
	if !a.Type.BuyerSide() {
		buyer, seller = b, a
	}
	return *buyer.Price >= *seller.Price+ErrandFee
}
