package chatbot

import (
	"sort"
	"strings"

	"github.com/smartclass/backend/internal/storage/models"
)

// Candidate pairs a preview with its overlap score and its position in the listing.
type Candidate struct {
	Preview models.DocumentPreview
	Score   int
	Index   int
}

// Tokenize returns the distinct lowercase whitespace-delimited tokens of s.
func Tokenize(s string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(s))
	tokens := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		tokens[f] = struct{}{}
	}
	return tokens
}

func overlap(a, b map[string]struct{}) int {
	if len(b) < len(a) {
		a, b = b, a
	}
	n := 0
	for t := range a {
		if _, ok := b[t]; ok {
			n++
		}
	}
	return n
}

// Score ranks previews by the number of tokens they share with question and returns at most k
// of them. Zero-score previews are never returned; equal scores keep listing order.
func Score(question string, previews []models.DocumentPreview, k int) []Candidate {
	if k <= 0 || len(previews) == 0 {
		return nil
	}

	q := Tokenize(question)
	if len(q) == 0 {
		return nil
	}

	candidates := make([]Candidate, 0, len(previews))
	for i, p := range previews {
		score := overlap(q, Tokenize(p.TextPreview))
		if score == 0 {
			continue
		}
		candidates = append(candidates, Candidate{Preview: p, Score: score, Index: i})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates
}
