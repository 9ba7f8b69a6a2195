package memory

import (
	"errors"
	"sort"
	"strings"
	"unicode"

	"github.com/hupe1980/conclave/core"
)

// ErrNotFound is returned when deleting an unknown memory id.
var ErrNotFound = errors.New("memory not found")

// minKeywordLen drops short stop-word-like tokens from relevance matching.
const minKeywordLen = 3

// FormatExchange renders an input/response pair as stored content.
func FormatExchange(input, response string) string {
	return "Q: " + input + "\nA: " + response
}

// Keywords returns the distinct lower-cased word tokens of s that are at
// least three runes long.
func Keywords(s string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, f := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len([]rune(f)) >= minKeywordLen {
			out[f] = struct{}{}
		}
	}
	return out
}

func overlap(query map[string]struct{}, content string) int {
	if len(query) == 0 {
		return 0
	}
	n := 0
	for w := range Keywords(content) {
		if _, ok := query[w]; ok {
			n++
		}
	}
	return n
}

// rank orders records by keyword overlap with query, then by recency. With a
// non-empty keyword set, records without any overlap are dropped.
func rank(query string, recs []record) []core.MemoryItem {
	keywords := Keywords(query)

	type scored struct {
		rec   record
		score int
	}

	candidates := make([]scored, 0, len(recs))
	for _, rec := range recs {
		s := overlap(keywords, rec.item.Content+" "+rec.item.Key)
		if len(keywords) > 0 && s == 0 {
			continue
		}
		candidates = append(candidates, scored{rec: rec, score: s})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].rec.seq > candidates[j].rec.seq
	})

	out := make([]core.MemoryItem, len(candidates))
	for i, c := range candidates {
		out[i] = cloneItem(c.rec.item)
	}

	return out
}
