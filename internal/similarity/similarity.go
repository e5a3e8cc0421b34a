// Package similarity provides the two kernels the scoring layer is built on:
// cosine similarity over embedding vectors and classical Levenshtein edit
// distance over names.
package similarity

import "math"

// Cosine returns the cosine similarity of two vectors in [-1, 1].
// Mismatched lengths, empty vectors and zero-norm vectors all yield 0.
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Levenshtein computes the minimum number of single-rune edits (insertions,
// deletions, substitutions) turning s1 into s2. Operates on runes so CJK
// names distance correctly.
func Levenshtein(s1, s2 string) int {
	r1 := []rune(s1)
	r2 := []rune(s2)
	if len(r1) == 0 {
		return len(r2)
	}
	if len(r2) == 0 {
		return len(r1)
	}

	prev := make([]int, len(r2)+1)
	curr := make([]int, len(r2)+1)
	for j := 0; j <= len(r2); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(r1); i++ {
		curr[0] = i
		for j := 1; j <= len(r2); j++ {
			cost := 1
			if r1[i-1] == r2[j-1] {
				cost = 0
			}
			curr[j] = min3(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}
	return prev[len(r2)]
}

// LevenshteinBonus maps an edit distance to name-score points:
// identical names are worth 3, distance 1 is worth 2, distance 2 is worth 1.
func LevenshteinBonus(distance int) int {
	switch {
	case distance == 0:
		return 3
	case distance > 0 && distance <= 2:
		return 2 - distance + 1
	default:
		return 0
	}
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
