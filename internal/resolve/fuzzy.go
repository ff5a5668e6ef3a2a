// Package resolve decides how session draft concepts relate to the
// global graph: deterministic shortcuts for near-identical pairs, a
// batched LLM classification for the ambiguous middle band.
package resolve

import (
	"sort"
	"strings"
)

// FuzzyRatio scores label similarity 0-100: both labels are lowercased,
// token-sorted, and compared by Levenshtein edit distance, so word order
// and casing differences do not count against a match.
func FuzzyRatio(a, b string) int {
	na, nb := tokenSort(a), tokenSort(b)
	if na == "" && nb == "" {
		return 100
	}
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 100
	}
	total := len(na) + len(nb)
	dist := levenshtein(na, nb)
	score := int(float64(total-2*dist) / float64(total) * 100)
	if score < 0 {
		score = 0
	}
	return score
}

func tokenSort(s string) string {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(s)))
	sort.Strings(fields)
	return strings.Join(fields, " ")
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min3(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
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
