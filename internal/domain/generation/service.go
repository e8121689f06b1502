// Package generation turns a retrieved evidence window into a grounded,
// cited answer. It borrows a model from the pool for exactly one completion,
// routes between capability classes, and runs the guardrail battery on
// everything it emits.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/archiva-labs/archiva/internal/domain/guardrail"
	"github.com/archiva-labs/archiva/internal/domain/modelpool"
	"github.com/archiva-labs/archiva/internal/domain/retrieval"
	"github.com/archiva-labs/archiva/internal/infra/runtime"
)

// ErrTimeout is returned when a completion exceeds the configured deadline.
var ErrTimeout = errors.New("generation: timed out")

// Pool is the slice of the model pool the service needs.
type Pool interface {
	Checkout(ctx context.Context, class modelpool.Class) (*modelpool.Handle, error)
	Release(h *modelpool.Handle)
}

// Message is one prior conversation turn, oldest first.
type Message struct {
	Role    string // "user" | "assistant"
	Content string
}

// Request carries everything needed to produce one answer.
type Request struct {
	Query    string
	Language string
	Evidence []retrieval.Chunk
	History  []Message
}

// Citation points at one evidence chunk referenced by the answer.
type Citation struct {
	Index      int    `json:"index"` // 1-based marker used in the answer text
	ChunkID    string `json:"chunk_id"`
	DocumentID string `json:"document_id"`
	Source     string `json:"source"`
	SourceURL  string `json:"source_url,omitempty"`
}

// Result is a finished, guardrail-checked answer.
type Result struct {
	Answer                 string
	ModelID                string
	FinishReason           string
	Citations              []Citation
	HallucinationSuspected bool
	ToxicityBlocked        bool
}

// Config tunes the generation service.
type Config struct {
	Timeout            time.Duration
	MaxTokens          int
	Temperature        float32
	LongContextTokens  int
	HistoryTokenBudget int
	// Fallback supplies the per-language replacement text used when the
	// model's own output fails the toxicity check.
	Fallback func(language string) string
}

// Service is the generation service. Safe for concurrent use.
type Service struct {
	pool   Pool
	gen    runtime.Generator
	guard  *guardrail.Pipeline
	cfg    Config
	logger *zap.Logger
}

// NewService creates a Service.
func NewService(pool Pool, gen runtime.Generator, guard *guardrail.Pipeline, cfg Config, logger *zap.Logger) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	if cfg.LongContextTokens <= 0 {
		cfg.LongContextTokens = 3000
	}
	if cfg.HistoryTokenBudget <= 0 {
		cfg.HistoryTokenBudget = 1024
	}
	return &Service{pool: pool, gen: gen, guard: guard, cfg: cfg, logger: logger}
}

// Route decides the capability class for a request. Pure: same inputs, same
// class. Image references win over evidence size; everything else is general.
func Route(query string, evidenceTokens, longContextThreshold int) modelpool.Class {
	if hasImageRef(query) {
		return modelpool.ClassMultimodal
	}
	if evidenceTokens > longContextThreshold {
		return modelpool.ClassLongContext
	}
	return modelpool.ClassGeneral
}

// RouteRequest applies Route to a full request.
func (s *Service) RouteRequest(req Request) modelpool.Class {
	return Route(req.Query, evidenceTokens(req.Evidence), s.cfg.LongContextTokens)
}

// Collect produces a complete answer in one call. The model handle is held
// only for the duration of the completion.
func (s *Service) Collect(ctx context.Context, req Request) (*Result, error) {
	h, err := s.pool.Checkout(ctx, s.RouteRequest(req))
	if err != nil {
		return nil, err
	}
	defer s.pool.Release(h)

	gctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	resp, err := s.gen.Chat(gctx, runtime.ChatRequest{
		Model:       h.ModelID(),
		Messages:    buildMessages(req, s.cfg.HistoryTokenBudget),
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: model %s", ErrTimeout, h.ModelID())
		}
		return nil, fmt.Errorf("generation: chat on %s: %w", h.ModelID(), err)
	}

	return s.finalize(req, h.ModelID(), resp.Content, resp.FinishReason), nil
}

// finalize runs the output guardrails and assembles the Result. A toxicity
// failure replaces the whole answer with the fixed fallback text; PII
// redaction and hallucination flagging keep the answer.
func (s *Service) finalize(req Request, modelID, answer, finishReason string) *Result {
	verdict := s.guard.CheckOutput(answer, req.Language, evidenceTexts(req.Evidence))

	res := &Result{
		ModelID:                modelID,
		FinishReason:           finishReason,
		HallucinationSuspected: !verdict.ClaimSupport.Pass,
	}

	if !verdict.Toxicity.Pass {
		res.Answer = s.fallbackText(req.Language)
		res.ToxicityBlocked = true
		s.logger.Warn("toxic model output replaced",
			zap.String("model", modelID),
			zap.Float64("score", verdict.Toxicity.Score),
		)
		return res
	}

	res.Answer = verdict.Text
	res.Citations = extractCitations(verdict.Text, req.Evidence)
	return res
}

func (s *Service) fallbackText(language string) string {
	if s.cfg.Fallback != nil {
		return s.cfg.Fallback(language)
	}
	return "I cannot provide that answer. Please contact support for help."
}

func evidenceTexts(chunks []retrieval.Chunk) []string {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	return texts
}

func evidenceTokens(chunks []retrieval.Chunk) int {
	total := 0
	for _, c := range chunks {
		total += estimateTokens(c.Text)
	}
	return total
}

// hasImageRef reports whether the query references an image the multimodal
// model should inspect: an image URL or a markdown image embed.
func hasImageRef(query string) bool {
	if strings.Contains(query, "![") {
		return true
	}
	lower := strings.ToLower(query)
	for _, ext := range []string{".png", ".jpg", ".jpeg", ".gif", ".webp", ".tiff"} {
		if idx := strings.Index(lower, ext); idx >= 0 {
			return strings.Contains(lower[:idx], "http") || strings.Contains(lower[:idx], "/")
		}
	}
	return false
}

// estimateTokens approximates the token count of a text at four characters
// per token, rounded up. Matches the estimator used for the evidence window.
func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}
