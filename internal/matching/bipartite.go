package matching

import (
	"math"
	"sort"
)

// Edge is one weighted buyer-seller pairing in the tier graph.
type Edge struct {
	U      string // buyer node
	V      string // seller node
	Weight float64
}

const costEpsilon = 1e-9

// MaxWeightMatching computes a maximum-weight matching on a bipartite graph
// with no cardinality constraint: edges are only taken while they add weight.
// Ties are broken deterministically — shorter augmenting paths win, and nodes
// are always visited in lexicographic order — so equal inputs always produce
// the same selection.
//
// Implementation: successive augmenting paths over the residual graph with
// edge cost -weight, found by Bellman-Ford (costs go negative). The search
// stops as soon as the cheapest augmenting path no longer improves total
// weight.
func MaxWeightMatching(edges []Edge) []Edge {
	if len(edges) == 0 {
		return nil
	}

	// Parallel edges collapse to their heaviest weight.
	weight := map[string]map[string]float64{}
	for _, e := range edges {
		if weight[e.U] == nil {
			weight[e.U] = map[string]float64{}
		}
		if w, ok := weight[e.U][e.V]; !ok || e.Weight > w {
			weight[e.U][e.V] = e.Weight
		}
	}

	buyers := sortedKeys(weight)
	sellerSet := map[string]struct{}{}
	for _, u := range buyers {
		for v := range weight[u] {
			sellerSet[v] = struct{}{}
		}
	}
	sellers := make([]string, 0, len(sellerSet))
	for v := range sellerSet {
		sellers = append(sellers, v)
	}
	sort.Strings(sellers)

	matchU := map[string]string{}
	matchV := map[string]string{}

	for {
		v, prev, ok := cheapestAugmentingPath(buyers, weight, matchU, matchV)
		if !ok {
			break
		}
		// Flip matched status along the path back to a free buyer. Each
		// intermediate buyer hands its old seller to the next step.
		for {
			u := prev[v]
			oldSeller, wasMatched := matchU[u]
			matchU[u] = v
			matchV[v] = u
			if !wasMatched {
				break
			}
			v = oldSeller
		}
	}

	var selected []Edge
	for _, u := range buyers {
		if v, ok := matchU[u]; ok {
			selected = append(selected, Edge{U: u, V: v, Weight: weight[u][v]})
		}
	}
	return selected
}

// cheapestAugmentingPath runs Bellman-Ford from all free buyers and returns
// the free seller ending the cheapest (most weight-adding) augmenting path,
// together with the predecessor map. ok is false when no path adds weight.
func cheapestAugmentingPath(
	buyers []string,
	weight map[string]map[string]float64,
	matchU, matchV map[string]string,
) (string, map[string]string, bool) {
	dist := map[string]float64{}
	hops := map[string]int{}
	prev := map[string]string{}

	free := 0
	for _, u := range buyers {
		if _, matched := matchU[u]; !matched {
			dist[u] = 0
			free++
		}
	}
	if free == 0 {
		return "", nil, false
	}

	nodes := len(buyers) + len(matchV) + len(weight) // generous relaxation bound
	for iter := 0; iter < nodes; iter++ {
		changed := false
		for _, u := range buyers {
			du, reachable := dist[u]
			if !reachable {
				continue
			}
			for _, v := range sortedKeys(weight[u]) {
				w := weight[u][v]
				if matchU[u] == v {
					continue // matched edges are only traversed seller-to-buyer
				}
				nd := du - w
				nh := hops[u] + 1
				if better(nd, nh, dist, hops, v) {
					dist[v] = nd
					hops[v] = nh
					prev[v] = u
					changed = true
					// A matched seller opens its backward edge to its buyer.
					if owner, matched := matchV[v]; matched {
						bd := nd + weight[owner][v]
						bh := nh + 1
						if better(bd, bh, dist, hops, owner) {
							dist[owner] = bd
							hops[owner] = bh
							prev[owner] = v
						}
					}
				}
			}
		}
		if !changed {
			break
		}
	}

	best := ""
	bestDist := math.Inf(1)
	bestHops := 0
	sellers := sortedKeys(dist)
	for _, v := range sellers {
		if _, isBuyer := weight[v]; isBuyer {
			continue
		}
		if _, matched := matchV[v]; matched {
			continue
		}
		d := dist[v]
		if d < bestDist-costEpsilon ||
			(math.Abs(d-bestDist) <= costEpsilon && hops[v] < bestHops) {
			best = v
			bestDist = d
			bestHops = hops[v]
		}
	}
	if best == "" || bestDist >= -costEpsilon {
		return "", nil, false
	}
	return best, prev, true
}

func better(nd float64, nh int, dist map[string]float64, hops map[string]int, node string) bool {
	d, ok := dist[node]
	if !ok {
		return true
	}
	if nd < d-costEpsilon {
		return true
	}
	return math.Abs(nd-d) <= costEpsilon && nh < hops[node]
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
