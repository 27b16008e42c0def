package mcp

import (
	"sort"
	"strings"

	"github.com/inbetweenies/homegraph/internal/graph"
)

// stopwords are dropped during tokenization; they carry no signal in
// home-automation names
var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "from": true,
	"this": true, "that": true, "are": true, "was": true, "has": true,
	"have": true, "not": true, "all": true, "its": true,
}

// tokenize lowercases, splits on non-alphanumerics, and keeps tokens of at
// least three letters that are not stopwords
func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 3 || stopwords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

func tokenSet(tokens []string) map[string]bool {
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return set
}

// jaccard is intersection over union of two token sets; two empty sets have
// zero similarity
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if b[t] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// entityTokens collects tokens from an entity's name and its flattened
// content values
func entityTokens(e *graph.Entity) map[string]bool {
	tokens := tokenize(e.Name)
	for _, v := range graph.FlattenContent(e.Content) {
		tokens = append(tokens, tokenize(v)...)
	}
	return tokenSet(tokens)
}

// similarity scores two entities in [0, 1]: same type contributes 0.3,
// token overlap the remaining 0.7
func similarity(a, b *graph.Entity) float64 {
	score := 0.0
	if a.EntityType == b.EntityType {
		score += 0.3
	}
	score += 0.7 * jaccard(entityTokens(a), entityTokens(b))
	return score
}

// Similarity exposes the pairwise score to other consumers of the scoring
// model, the HTTP similar-entities endpoint among them
func Similarity(a, b *graph.Entity) float64 {
	return similarity(a, b)
}

// searchScore ranks an entity against a free-text query. Name evidence
// outweighs content evidence outweighs type match; any candidate that made
// it here keeps a small floor score.
func searchScore(e *graph.Entity, query string, queryTokens []string) float64 {
	q := strings.ToLower(query)
	name := strings.ToLower(e.Name)
	score := 0.0

	if q != "" && strings.Contains(name, q) {
		score += 3.0
	}
	if len(queryTokens) > 0 {
		nameSet := tokenSet(tokenize(e.Name))
		hits := 0
		for _, t := range queryTokens {
			if nameSet[t] {
				hits++
			}
		}
		score += 2.0 * float64(hits) / float64(len(queryTokens))
	}

	var contentSet map[string]bool
	contentHit := false
	for _, v := range graph.FlattenContent(e.Content) {
		if q != "" && strings.Contains(strings.ToLower(v), q) {
			contentHit = true
		}
	}
	if contentHit {
		score += 1.5
	}
	if len(queryTokens) > 0 {
		contentSet = tokenSet(nil)
		for _, v := range graph.FlattenContent(e.Content) {
			for _, t := range tokenize(v) {
				contentSet[t] = true
			}
		}
		hits := 0
		for _, t := range queryTokens {
			if contentSet[t] {
				hits++
			}
		}
		score += float64(hits) / float64(len(queryTokens))
	}

	typ := strings.ToLower(string(e.EntityType))
	if typ == q {
		score += 1.0
	} else {
		for _, t := range queryTokens {
			if typ == t {
				score += 1.0
				break
			}
		}
	}

	if score < 0.1 {
		score = 0.1
	}
	return score
}

// searchHighlights names the fields the query matched on, in a fixed order,
// so callers can show where a hit came from
func searchHighlights(e *graph.Entity, query string, queryTokens []string) []string {
	q := strings.ToLower(query)
	hl := []string{}

	nameHit := q != "" && strings.Contains(strings.ToLower(e.Name), q)
	if !nameHit {
		nameSet := tokenSet(tokenize(e.Name))
		for _, t := range queryTokens {
			if nameSet[t] {
				nameHit = true
				break
			}
		}
	}
	if nameHit {
		hl = append(hl, "name")
	}

	contentHit := false
	contentSet := tokenSet(nil)
	for _, v := range graph.FlattenContent(e.Content) {
		if q != "" && strings.Contains(strings.ToLower(v), q) {
			contentHit = true
		}
		for _, t := range tokenize(v) {
			contentSet[t] = true
		}
	}
	if !contentHit {
		for _, t := range queryTokens {
			if contentSet[t] {
				contentHit = true
				break
			}
		}
	}
	if contentHit {
		hl = append(hl, "content")
	}

	typ := strings.ToLower(string(e.EntityType))
	typeHit := typ == q
	if !typeHit {
		for _, t := range queryTokens {
			if typ == t {
				typeHit = true
				break
			}
		}
	}
	if typeHit {
		hl = append(hl, "entity_type")
	}
	return hl
}

// scored pairs an entity with its score for ranked results
type scored struct {
	Entity *graph.Entity `json:"entity"`
	Score  float64       `json:"score"`
}

// rank sorts by descending score, ties by id for determinism
func rank(items []scored) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].Entity.ID < items[j].Entity.ID
	})
}
