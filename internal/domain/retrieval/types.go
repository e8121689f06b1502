// Package retrieval implements the evidence retrieval engine: query
// embedding, vector index search, reranking, and evidence window assembly,
// with a fingerprint-keyed result cache.
package retrieval

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Chunk is a single unit of retrieved evidence. Immutable after creation.
type Chunk struct {
	ID          string  `json:"id"`
	DocumentID  string  `json:"document_id"`
	Source      string  `json:"source"` // source set identifier, e.g. "municipal"
	SourceURL   string  `json:"source_url"`
	ContentType string  `json:"content_type,omitempty"`
	PublishedAt string  `json:"published_at,omitempty"` // ISO 8601 date
	Text        string  `json:"text"`
	Score       float64 `json:"score"` // rerank relevance in [0,1]
	Language    string  `json:"language"`
}

// MatchesFilters reports whether the chunk satisfies the given filters.
// Used when reusing cached candidates under a changed filter set.
func (c Chunk) MatchesFilters(f Filters) bool {
	if len(f.Sources) > 0 && !containsString(f.Sources, c.Source) {
		return false
	}
	if len(f.ContentTypes) > 0 && !containsString(f.ContentTypes, c.ContentType) {
		return false
	}
	// ISO 8601 dates compare correctly as strings.
	if f.DateFrom != "" && c.PublishedAt != "" && c.PublishedAt < f.DateFrom {
		return false
	}
	if f.DateTo != "" && c.PublishedAt != "" && c.PublishedAt > f.DateTo {
		return false
	}
	return true
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// Filters constrain a vector index search.
type Filters struct {
	Sources      []string `json:"sources,omitempty"`
	ContentTypes []string `json:"content_types,omitempty"`
	DateFrom     string   `json:"date_from,omitempty"` // ISO 8601 date
	DateTo       string   `json:"date_to,omitempty"`
}

// IsZero reports whether no filter constraint is set.
func (f Filters) IsZero() bool {
	return len(f.Sources) == 0 && len(f.ContentTypes) == 0 && f.DateFrom == "" && f.DateTo == ""
}

// key returns a canonical string representation used in cache fingerprints.
// Slices are sorted so logically equal filters produce equal keys.
func (f Filters) key() string {
	sources := append([]string(nil), f.Sources...)
	types := append([]string(nil), f.ContentTypes...)
	sort.Strings(sources)
	sort.Strings(types)

	var b strings.Builder
	b.WriteString("src=")
	b.WriteString(strings.Join(sources, ","))
	b.WriteString(";type=")
	b.WriteString(strings.Join(types, ","))
	b.WriteString(";from=")
	b.WriteString(f.DateFrom)
	b.WriteString(";to=")
	b.WriteString(f.DateTo)
	return b.String()
}

// Result is the outcome of one retrieval call.
type Result struct {
	Chunks     []Chunk
	Confidence float64 // top rerank score, normalized to [0,1]
	Cached     bool
}

// Fingerprint derives the cache key for a (query, language) pair.
// Query text is normalized (lowercased, whitespace-collapsed) so trivially
// different phrasings of the same query share an entry.
func Fingerprint(query, language string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	sum := sha256.Sum256([]byte(language + "\x00" + normalized))
	return hex.EncodeToString(sum[:])
}
