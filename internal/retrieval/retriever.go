// Package retrieval ranks vendor records against a free-text query with
// plain lexical matching. No embeddings, no fuzziness: scoring must stay
// deterministic so the poisoning attack and its mitigation reproduce exactly.
package retrieval

import (
	"sort"
	"strings"
	"unicode"

	"github.com/ragguard-ai/ragguard/internal/vendorstore"
)

// Candidate pairs a record with its lexical score.
type Candidate struct {
	Record vendorstore.VendorRecord
	Score  float64
}

// Weights are the scoring policy. A term occurrence in the name field counts
// NameWeight, an occurrence in notes counts NotesWeight. The defaults double
// the name field so stuffing notes alone cannot outrank a name match.
type Weights struct {
	Name  float64
	Notes float64
}

// DefaultWeights mirror the config defaults.
func DefaultWeights() Weights {
	return Weights{Name: 2.0, Notes: 1.0}
}

// Retriever scores and ranks records.
type Retriever struct {
	weights Weights
}

func New(w Weights) *Retriever {
	if w.Name <= 0 {
		w.Name = 2.0
	}
	if w.Notes <= 0 {
		w.Notes = 1.0
	}
	return &Retriever{weights: w}
}

// Search scores every record against the query and returns candidates in
// descending score order. Ties keep insertion order (the order of the input
// slice), so repeated identical queries against an unchanged store always
// return the same ranking. Records that match nothing are omitted; an empty
// result is a distinct "no vendor found" outcome for the caller.
func (r *Retriever) Search(query string, records []vendorstore.VendorRecord) []Candidate {
	terms := Tokenize(query)
	if len(terms) == 0 {
		return nil
	}

	var out []Candidate
	for _, rec := range records {
		nameCounts := tokenCounts(Tokenize(rec.Name))
		notesCounts := tokenCounts(Tokenize(rec.Notes))

		score := 0.0
		for _, t := range terms {
			score += r.weights.Name * float64(nameCounts[t])
			score += r.weights.Notes * float64(notesCounts[t])
		}
		if score > 0 {
			out = append(out, Candidate{Record: rec, Score: score})
		}
	}

	// Stable keeps insertion order for equal scores.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

// Tokenize lowercases the text and splits it into whitespace-delimited terms
// with punctuation stripped. Terms that are pure punctuation disappear.
func Tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		trimmed := strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func tokenCounts(tokens []string) map[string]int {
	counts := make(map[string]int, len(tokens))
	for _, t := range tokens {
		counts[t]++
	}
	return counts
}
