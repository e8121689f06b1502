package retrieval

import (
	"context"
	"sort"
	"strings"
)

// Reranker rescores candidate chunks against the query and returns the top k
// ordered by the new score. The score it assigns is the one that feeds the
// final confidence estimate, so implementations must stay in [0,1].
// The default is lexical; a model-backed cross-encoder can satisfy the same
// interface.
type Reranker interface {
	Rerank(ctx context.Context, query, language string, chunks []Chunk, k int) []Chunk
}

// OverlapReranker scores a chunk by the fraction of the query's content
// tokens it contains. Deterministic and language-aware through per-language
// stopword lists.
type OverlapReranker struct{}

// NewOverlapReranker returns the default reranker.
func NewOverlapReranker() *OverlapReranker { return &OverlapReranker{} }

// Rerank implements Reranker.
func (r *OverlapReranker) Rerank(_ context.Context, query, language string, chunks []Chunk, k int) []Chunk {
	queryTokens := contentTokens(query, language)

	rescored := make([]Chunk, len(chunks))
	for i, c := range chunks {
		rescored[i] = c
		rescored[i].Score = overlapScore(queryTokens, c.Text, language)
	}
	sort.SliceStable(rescored, func(i, j int) bool {
		return rescored[i].Score > rescored[j].Score
	})

	if k > 0 && len(rescored) > k {
		rescored = rescored[:k]
	}
	return rescored
}

// overlapScore is the fraction of query content tokens present in the text.
// Returns 0 when the query has no content tokens.
func overlapScore(queryTokens map[string]bool, text, language string) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	textTokens := contentTokens(text, language)
	hits := 0
	for tok := range queryTokens {
		if textTokens[tok] {
			hits++
		}
	}
	return float64(hits) / float64(len(queryTokens))
}

// contentTokens lowercases, splits on non-letter/digit runs, and strips
// stopwords for the given language tag.
func contentTokens(text, language string) map[string]bool {
	stop := stopwords[language]
	out := make(map[string]bool)
	for _, tok := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !isWordRune(r)
	}) {
		if len(tok) < 2 || stop[tok] {
			continue
		}
		out[tok] = true
	}
	return out
}

func isWordRune(r rune) bool {
	return r == '\'' ||
		(r >= '0' && r <= '9') ||
		(r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		r > 127 // keep non-ASCII letters whole
}

// stopwords per language tag. Small on purpose: reranking only needs the
// highest-frequency function words out of the way.
var stopwords = map[string]map[string]bool{
	"en": wordSet("a an and are as at be by for from has he in is it its of on or that the to was were will with what when which who how why"),
	"de": wordSet("der die das ein eine und oder ist sind war waren zu von mit für auf im in den dem des was wann wer wie warum"),
	"fr": wordSet("le la les un une et ou est sont était à de du des dans pour sur avec que qui quand comment pourquoi quel quelle"),
}

func wordSet(words string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(words) {
		set[w] = true
	}
	return set
}
