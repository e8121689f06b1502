// Package orchestrator drives one query through the pipeline: guardrail the
// input, retrieve evidence, decide between generation and the fixed fallback,
// and persist the exchange on the session. It owns the request lifecycle
// states and the stable error codes the API surfaces.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/archiva-labs/archiva/internal/domain/generation"
	"github.com/archiva-labs/archiva/internal/domain/guardrail"
	"github.com/archiva-labs/archiva/internal/domain/modelpool"
	"github.com/archiva-labs/archiva/internal/domain/retrieval"
	"github.com/archiva-labs/archiva/internal/domain/session"
	"github.com/archiva-labs/archiva/pkg/uuid"
)

// State is the lifecycle state of one request.
type State string

const (
	StateReceived   State = "received"
	StateAuthorized State = "authorized"
	StateRetrieving State = "retrieving"
	StateGenerating State = "generating"
	StateFiltering  State = "filtering"
	StateCompleted  State = "completed"
	StateErrored    State = "errored"
)

// Stable error codes surfaced to API clients.
const (
	CodeRetrievalUnavailable = "RETRIEVAL_UNAVAILABLE"
	CodeModelLoading         = "MODEL_LOADING"
	CodeModelLoadFailed      = "MODEL_LOAD_FAILED"
	CodeGenerationTimeout    = "GENERATION_TIMEOUT"
	CodeSessionNotFound      = "SESSION_NOT_FOUND"
)

// ReasonLowConfidence marks fallback answers caused by weak evidence.
const ReasonLowConfidence = "LOW_CONFIDENCE_FALLBACK"

// Error is a pipeline failure with a stable code.
type Error struct {
	Code string
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %v", e.Code, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Retriever is the slice of the retrieval engine the orchestrator needs.
type Retriever interface {
	Retrieve(ctx context.Context, query, language string, filters Filters, topK, rerankK int) (*retrieval.Result, error)
	InvalidateAll()
}

// Filters is re-exported so API code does not import the retrieval package
// for request decoding alone.
type Filters = retrieval.Filters

// Request is one query to answer.
type Request struct {
	RequestID string
	Query     string
	Language  string
	SessionID string // empty starts a new session
	Filters   Filters
	TopK      int
	RerankK   int
}

// Answer is the completed response to one request.
type Answer struct {
	RequestID              string
	SessionID              string
	Answer                 string
	Citations              []generation.Citation
	Confidence             float64
	ModelID                string
	FallbackUsed           bool
	FallbackReason         string
	HallucinationSuspected bool
	RetrievalCached        bool
}

// Config tunes the orchestrator.
type Config struct {
	ConfidenceThreshold float64
	SessionMaxTurns     int
	SessionTokenBudget  int
	// Fallback supplies the fixed per-language fallback text.
	Fallback func(language string) string
}

// Orchestrator coordinates the pipeline components. Safe for concurrent use.
type Orchestrator struct {
	retriever Retriever
	generator *generation.Service
	guard     *guardrail.Pipeline
	sessions  session.Store
	cfg       Config
	logger    *zap.Logger
}

// New creates an Orchestrator.
func New(retriever Retriever, generator *generation.Service, guard *guardrail.Pipeline, sessions session.Store, cfg Config, logger *zap.Logger) *Orchestrator {
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = 0.35
	}
	if cfg.SessionMaxTurns <= 0 {
		cfg.SessionMaxTurns = 20
	}
	if cfg.SessionTokenBudget <= 0 {
		cfg.SessionTokenBudget = 4096
	}
	return &Orchestrator{
		retriever: retriever,
		generator: generator,
		guard:     guard,
		sessions:  sessions,
		cfg:       cfg,
		logger:    logger,
	}
}

// Ask answers one request end to end.
func (o *Orchestrator) Ask(ctx context.Context, req Request) (*Answer, error) {
	prep, err := o.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	if prep.fallback {
		ans := o.fallbackAnswer(prep)
		if err := o.commit(ctx, prep, ans); err != nil {
			return nil, err
		}
		return ans, nil
	}

	o.transition(prep.req.RequestID, StateGenerating)
	res, err := o.generator.Collect(ctx, prep.genRequest())
	if err != nil {
		return nil, o.mapGenerationError(prep.req.RequestID, err)
	}
	o.transition(prep.req.RequestID, StateFiltering)

	ans := o.answerFrom(prep, res)
	if err := o.commit(ctx, prep, ans); err != nil {
		return nil, err
	}
	return ans, nil
}

// prepared carries the per-request state between pipeline stages.
type prepared struct {
	req      Request
	sess     *session.Session
	evidence *retrieval.Result
	fallback bool
}

// prepare runs the stages shared by Ask and AskStream: input guardrail,
// session resolution, retrieval, and the confidence gate.
func (o *Orchestrator) prepare(ctx context.Context, req Request) (*prepared, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewV7().String()
	}
	o.transition(req.RequestID, StateReceived)

	// Input PII never reaches the index, the cache, or the prompt.
	redacted, check := o.guard.CheckInput(req.Query, req.Language)
	if !check.Pass {
		o.logger.Info("query redacted", zap.String("request_id", req.RequestID))
	}
	req.Query = redacted

	sess, err := o.resolveSession(ctx, &req)
	if err != nil {
		return nil, err
	}

	o.transition(req.RequestID, StateRetrieving)
	evidence, err := o.retriever.Retrieve(ctx, req.Query, req.Language, req.Filters, req.TopK, req.RerankK)
	if err != nil {
		return nil, o.fail(req.RequestID, CodeRetrievalUnavailable, err)
	}

	return &prepared{
		req:      req,
		sess:     sess,
		evidence: evidence,
		fallback: len(evidence.Chunks) == 0 || evidence.Confidence < o.cfg.ConfidenceThreshold,
	}, nil
}

// resolveSession loads the named session or starts a fresh one. An unknown
// session id is a client error, not an implicit new conversation.
func (o *Orchestrator) resolveSession(ctx context.Context, req *Request) (*session.Session, error) {
	if req.SessionID == "" {
		now := time.Now().UTC()
		req.SessionID = uuid.NewV7().String()
		return &session.Session{
			ID:           req.SessionID,
			Language:     req.Language,
			LastActivity: now,
			CreatedAt:    now,
		}, nil
	}

	sess, err := o.sessions.Get(ctx, req.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, o.fail(req.RequestID, CodeSessionNotFound, err)
		}
		return nil, fmt.Errorf("orchestrator: load session %s: %w", req.SessionID, err)
	}
	return sess, nil
}

func (p *prepared) genRequest() generation.Request {
	history := make([]generation.Message, 0, len(p.sess.Turns))
	for _, t := range p.sess.Turns {
		history = append(history, generation.Message{Role: t.Role, Content: t.Content})
	}
	return generation.Request{
		Query:    p.req.Query,
		Language: p.req.Language,
		Evidence: p.evidence.Chunks,
		History:  history,
	}
}

// fallbackAnswer builds the fixed low-confidence response. Generation is
// never invoked and no citations are attached.
func (o *Orchestrator) fallbackAnswer(p *prepared) *Answer {
	o.logger.Info("low confidence fallback",
		zap.String("request_id", p.req.RequestID),
		zap.Float64("confidence", p.evidence.Confidence),
		zap.Int("chunks", len(p.evidence.Chunks)),
	)
	return &Answer{
		RequestID:       p.req.RequestID,
		SessionID:       p.req.SessionID,
		Answer:          o.fallbackText(p.req.Language),
		Confidence:      p.evidence.Confidence,
		FallbackUsed:    true,
		FallbackReason:  ReasonLowConfidence,
		RetrievalCached: p.evidence.Cached,
	}
}

// answerFrom assembles the Answer from a generation result, enforcing that
// every citation points into the evidence window that was retrieved.
func (o *Orchestrator) answerFrom(p *prepared, res *generation.Result) *Answer {
	evidenceIDs := make(map[string]bool, len(p.evidence.Chunks))
	for _, c := range p.evidence.Chunks {
		evidenceIDs[c.ID] = true
	}
	citations := res.Citations[:0:0]
	for _, c := range res.Citations {
		if evidenceIDs[c.ChunkID] {
			citations = append(citations, c)
		}
	}

	ans := &Answer{
		RequestID:              p.req.RequestID,
		SessionID:              p.req.SessionID,
		Answer:                 res.Answer,
		Citations:              citations,
		Confidence:             p.evidence.Confidence,
		ModelID:                res.ModelID,
		HallucinationSuspected: res.HallucinationSuspected,
		RetrievalCached:        p.evidence.Cached,
	}
	if res.ToxicityBlocked {
		ans.FallbackUsed = true
		ans.Citations = nil
	}
	return ans
}

// commit appends the exchange to the session, truncates it to its caps, and
// persists it.
func (o *Orchestrator) commit(ctx context.Context, p *prepared, ans *Answer) error {
	now := time.Now().UTC()
	citationIDs := make([]string, 0, len(ans.Citations))
	for _, c := range ans.Citations {
		citationIDs = append(citationIDs, c.ChunkID)
	}

	p.sess.Append(
		session.Turn{Role: "user", Content: p.req.Query, Language: p.req.Language, CreatedAt: now},
		session.Turn{
			Role:       "assistant",
			Content:    ans.Answer,
			Language:   p.req.Language,
			Citations:  citationIDs,
			ModelID:    ans.ModelID,
			Confidence: ans.Confidence,
			CreatedAt:  now,
		},
	)
	p.sess.Truncate(o.cfg.SessionMaxTurns, o.cfg.SessionTokenBudget)

	if err := o.sessions.Put(ctx, p.sess); err != nil {
		return fmt.Errorf("orchestrator: persist session %s: %w", p.sess.ID, err)
	}
	o.transition(p.req.RequestID, StateCompleted)
	return nil
}

// mapGenerationError translates component errors into stable codes.
func (o *Orchestrator) mapGenerationError(requestID string, err error) error {
	switch {
	case errors.Is(err, modelpool.ErrModelLoading):
		return o.fail(requestID, CodeModelLoading, err)
	case errors.Is(err, modelpool.ErrModelLoadFailed):
		return o.fail(requestID, CodeModelLoadFailed, err)
	case errors.Is(err, generation.ErrTimeout):
		return o.fail(requestID, CodeGenerationTimeout, err)
	default:
		return fmt.Errorf("orchestrator: generation: %w", err)
	}
}

func (o *Orchestrator) fail(requestID, code string, err error) error {
	o.transition(requestID, StateErrored)
	o.logger.Warn("request failed",
		zap.String("request_id", requestID),
		zap.String("code", code),
		zap.Error(err),
	)
	return &Error{Code: code, Err: err}
}

func (o *Orchestrator) transition(requestID string, state State) {
	o.logger.Debug("request state",
		zap.String("request_id", requestID),
		zap.String("state", string(state)),
	)
}

func (o *Orchestrator) fallbackText(language string) string {
	if o.cfg.Fallback != nil {
		return o.cfg.Fallback(language)
	}
	return "I could not find a reliable answer. Please contact support for help."
}

// InvalidateRetrievalCache purges cached retrieval results. Called after the
// index ingests a new document batch.
func (o *Orchestrator) InvalidateRetrievalCache() {
	o.retriever.InvalidateAll()
}

// Session returns a stored session for the read-side API.
func (o *Orchestrator) Session(ctx context.Context, id string) (*session.Session, error) {
	sess, err := o.sessions.Get(ctx, id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, &Error{Code: CodeSessionNotFound, Err: err}
		}
		return nil, err
	}
	return sess, nil
}
