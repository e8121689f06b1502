package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrIndexUnavailable is returned when the vector index cannot be reached.
// The orchestrator must not attempt generation without evidence and degrades
// to the fallback response.
var ErrIndexUnavailable = errors.New("retrieval: vector index unavailable")

const (
	defaultTopK    = 20
	maxTopK        = 100
	defaultRerankK = 5
	maxRerankK     = 20
)

// Searcher is the evidence source contract, implemented by the external
// vector index client.
type Searcher interface {
	Search(ctx context.Context, embedding []float32, filters Filters, k int) ([]Chunk, error)
}

// Embedder embeds a query into the corpus vector space.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config tunes the engine.
type Config struct {
	TopK                int
	RerankK             int
	EvidenceTokenBudget int
	Timeout             time.Duration
	CacheSize           int
	CacheTTL            time.Duration
}

// Engine retrieves, reranks, and windows evidence for a query.
type Engine struct {
	searcher Searcher
	embedder Embedder
	reranker Reranker
	cache    *resultCache
	group    singleflight.Group
	cfg      Config
	logger   *zap.Logger
}

// NewEngine creates an Engine. A nil reranker gets the lexical default.
func NewEngine(searcher Searcher, embedder Embedder, reranker Reranker, cfg Config, logger *zap.Logger) *Engine {
	if reranker == nil {
		reranker = NewOverlapReranker()
	}
	if cfg.EvidenceTokenBudget <= 0 {
		cfg.EvidenceTokenBudget = 2048
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Engine{
		searcher: searcher,
		embedder: embedder,
		reranker: reranker,
		cache:    newResultCache(cfg.CacheSize, cfg.CacheTTL),
		cfg:      cfg,
		logger:   logger,
	}
}

// Retrieve runs the full retrieval pipeline for a query. topK and rerankK
// fall back to configured defaults when zero. The returned Result is safe to
// share: chunks are never mutated after creation.
func (e *Engine) Retrieve(ctx context.Context, query, language string, filters Filters, topK, rerankK int) (*Result, error) {
	topK = resolveK(topK, e.cfg.TopK, defaultTopK, maxTopK)
	rerankK = resolveK(rerankK, e.cfg.RerankK, defaultRerankK, maxRerankK)

	fp := Fingerprint(query, language)
	fkey := filters.key()

	if entry, ok := e.cache.get(fp); ok {
		if entry.filtersKey == fkey {
			res := entry.result
			res.Cached = true
			return &res, nil
		}
		// Same query, different filters: skip embedding and index search,
		// refilter the cached candidates and rerank fresh.
		candidates := applyFilters(entry.candidates, filters)
		res := e.rank(ctx, query, language, candidates, rerankK)
		res.Cached = true
		return res, nil
	}

	// Coalesce identical cold queries so a stampede triggers one embedding
	// and one index search.
	v, err, _ := e.group.Do(fp+"|"+fkey, func() (any, error) {
		return e.retrieveCold(ctx, query, language, filters, topK, rerankK, fp, fkey)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

// InvalidateAll drops the whole cache. Called after the index receives a new
// document batch.
func (e *Engine) InvalidateAll() {
	n := e.cache.len()
	e.cache.purge()
	e.logger.Info("retrieval cache invalidated", zap.Int("entries", n))
}

func (e *Engine) retrieveCold(ctx context.Context, query, language string, filters Filters, topK, rerankK int, fp, fkey string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	embedding, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embed: %v", ErrIndexUnavailable, err)
	}

	candidates, err := e.searcher.Search(ctx, embedding, filters, topK)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}

	result := e.rank(ctx, query, language, candidates, rerankK)
	e.cache.put(fp, cacheEntry{
		candidates: candidates,
		result:     *result,
		filtersKey: fkey,
	})

	e.logger.Debug("retrieval cold path",
		zap.Int("candidates", len(candidates)),
		zap.Int("selected", len(result.Chunks)),
		zap.Float64("confidence", result.Confidence),
	)
	return result, nil
}

// rank reranks candidates and assembles the token-bounded evidence window.
func (e *Engine) rank(ctx context.Context, query, language string, candidates []Chunk, rerankK int) *Result {
	reranked := e.reranker.Rerank(ctx, query, language, candidates, rerankK)
	windowed := evidenceWindow(reranked, e.cfg.EvidenceTokenBudget)

	confidence := 0.0
	if len(windowed) > 0 {
		confidence = clamp01(windowed[0].Score)
	}
	return &Result{Chunks: windowed, Confidence: confidence}
}

// evidenceWindow keeps reranked chunks in order until the token budget is
// reached; lowest-ranked chunks are dropped first. If the top chunk alone
// exceeds the budget its text is trimmed rather than dropped, so the window
// is never empty when evidence exists.
func evidenceWindow(chunks []Chunk, tokenBudget int) []Chunk {
	out := make([]Chunk, 0, len(chunks))
	used := 0
	for i, c := range chunks {
		tokens := estimateTokens(c.Text)
		if used+tokens > tokenBudget {
			if i == 0 {
				c.Text = trimToTokens(c.Text, tokenBudget)
				out = append(out, c)
			}
			break
		}
		used += tokens
		out = append(out, c)
	}
	return out
}

// estimateTokens approximates the token count of a text at ~4 chars/token.
func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}

func trimToTokens(text string, tokenBudget int) string {
	limit := tokenBudget * 4
	if len(text) <= limit {
		return text
	}
	return text[:limit]
}

func applyFilters(chunks []Chunk, filters Filters) []Chunk {
	if filters.IsZero() {
		return chunks
	}
	out := make([]Chunk, 0, len(chunks))
	for _, c := range chunks {
		if c.MatchesFilters(filters) {
			out = append(out, c)
		}
	}
	return out
}

func resolveK(requested, configured, fallback, max int) int {
	k := requested
	if k <= 0 {
		k = configured
	}
	if k <= 0 {
		k = fallback
	}
	if k > max {
		k = max
	}
	return k
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
