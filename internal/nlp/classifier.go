// Package nlp classifies resource postings into categories and extracts
// specification keys from free text. The embedding model behind it is an
// external service; everything here degrades gracefully when it is absent.
package nlp

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"unicode"

	"github.com/orz-miniprogram/NeptuneHub-Public/internal/similarity"
)

// Broad categories scored against embedding centroids.
var BroadCategories = []string{"Electronics", "Books", "Errands", "Furniture"}

// CategoryClassificationError is returned when an internal stage fails in a
// way the caller cannot interpret; the resource keeps its user specs.
const CategoryClassificationError = "ClassificationError"

// CategoryMisc is both the errand fallback bucket and the degraded-mode
// category when embeddings are unavailable.
const CategoryMisc = "misc"

// errandBuckets maps each granular errand category to its keyword list.
// Order matters: ties resolve to the first bucket reached.
var errandBucketOrder = []string{"takeout", "package", "documents", "ride", "purchase", "misc"}

var errandBuckets = map[string][]string{
	"takeout":   {"food", "takeout", "meal", "lunch", "dinner", "奶茶", "外卖"},
	"package":   {"package", "express", "parcel", "快递", "取件"},
	"documents": {"document", "paper", "report", "打印", "文档", "资料"},
	"ride":      {"ride", "car", "pickup", "接送", "顺风车", "代步"},
	"purchase":  {"buy", "purchase", "带", "买", "帮我买", "便利店", "纸", "厕纸", "超市", "矿泉水"},
	"misc":      {},
}

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "i": {}, "me": {}, "my": {}, "to": {},
	"of": {}, "for": {}, "and": {}, "or": {}, "in": {}, "on": {}, "at": {},
	"is": {}, "it": {}, "be": {}, "can": {}, "please": {}, "need": {},
	"的": {}, "了": {}, "是": {}, "我": {}, "你": {}, "一个": {},
}

// Result carries the classifier output: the final category (granular errand
// bucket for errands) and the merged specification map.
type Result struct {
	Category       string
	Specifications map[string]interface{}
}

// Classifier maps (name, description) onto a category and extracted specs.
// Centroids are computed lazily on first use so a slow embedding service
// does not block startup.
type Classifier struct {
	embedder Embedder
	logger   *log.Logger

	mu        sync.Mutex
	centroids map[string][]float64
}

// NewClassifier builds a classifier over the given embedder. A nil embedder
// is valid and puts the classifier in degraded mode.
func NewClassifier(embedder Embedder) *Classifier {
	return &Classifier{
		embedder: embedder,
		logger:   log.New(log.Writer(), "[CLASSIFIER] ", log.LstdFlags),
	}
}

// initCentroids embeds each broad category name once. Returns false when the
// embedder is unavailable or errors.
func (c *Classifier) initCentroids(ctx context.Context) bool {
	if c.embedder == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.centroids != nil {
		return true
	}
	centroids := make(map[string][]float64, len(BroadCategories))
	for _, cat := range BroadCategories {
		vec, err := c.embedder.Encode(ctx, cat)
		if err != nil {
			c.logger.Printf("failed to initialize category centroids: %v", err)
			return false
		}
		centroids[cat] = vec
	}
	c.centroids = centroids
	return true
}

// Classify classifies the resource text and merges extracted specs with the
// user-provided ones; user values win on key collision.
//
// Degradation: no embeddings -> category "misc", specs untouched; an internal
// failure -> CategoryClassificationError, specs untouched.
func (c *Classifier) Classify(ctx context.Context, name, description string, userSpecs map[string]interface{}) Result {
	if userSpecs == nil {
		userSpecs = map[string]interface{}{}
	}
	text := strings.TrimSpace(name + " " + description)

	broad, err := c.broadCategory(ctx, text)
	if err != nil {
		c.logger.Printf("classification failed for %q: %v", truncate(text, 60), err)
		return Result{Category: CategoryClassificationError, Specifications: userSpecs}
	}

	finalCategory := broad
	extracted := map[string]interface{}{}

	switch broad {
	case CategoryMisc:
		// Degraded mode: no spec extraction, specs pass through untouched.
		return Result{Category: CategoryMisc, Specifications: userSpecs}
	case "Errands":
		finalCategory = ClassifyErrandBucket(text)
		extracted = ExtractErrandSpecs(text)
	default:
		extracted = ExtractSpecsByCategory(broad, text)
	}

	merged := make(map[string]interface{}, len(extracted)+len(userSpecs))
	for k, v := range extracted {
		merged[k] = v
	}
	for k, v := range userSpecs {
		merged[k] = v
	}
	return Result{Category: finalCategory, Specifications: merged}
}

// broadCategory picks the centroid with maximum cosine similarity. Returns
// "misc" (not an error) when embeddings are unavailable.
func (c *Classifier) broadCategory(ctx context.Context, text string) (string, error) {
	if !c.initCentroids(ctx) {
		return CategoryMisc, nil
	}
	vec, err := c.embedder.Encode(ctx, text)
	if err != nil {
		// Centroids exist but this encode failed: treat as degraded, the
		// job can still store user specs under misc.
		c.logger.Printf("encode failed, falling back to misc: %v", err)
		return CategoryMisc, nil
	}
	if len(vec) == 0 {
		return "", fmt.Errorf("empty embedding for classification text")
	}

	best := ""
	bestScore := -2.0
	for _, cat := range BroadCategories {
		score := similarity.Cosine(c.centroids[cat], vec)
		if score > bestScore {
			best = cat
			bestScore = score
		}
	}
	return best, nil
}

// ClassifyErrandBucket scores stop-word-filtered tokens of the lowercased
// text against the six errand keyword buckets. Ties resolve to the first
// bucket in declaration order; zero everywhere yields "misc".
func ClassifyErrandBucket(text string) string {
	tokens := tokenize(strings.ToLower(text))

	scores := map[string]int{}
	for _, bucket := range errandBucketOrder {
		for _, token := range tokens {
			for _, keyword := range errandBuckets[bucket] {
				if strings.Contains(token, keyword) {
					scores[bucket]++
				}
			}
		}
	}

	best := CategoryMisc
	bestScore := 0
	for _, bucket := range errandBucketOrder {
		if scores[bucket] > bestScore {
			best = bucket
			bestScore = scores[bucket]
		}
	}
	return best
}

// tokenize splits on spaces and punctuation and drops stop words. CJK runs
// survive as single tokens; bucket keywords match by containment.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || (unicode.IsPunct(r) && r != '-')
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, stop := stopWords[f]; stop {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
