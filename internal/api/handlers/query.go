package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/archiva-labs/archiva/internal/domain/generation"
	"github.com/archiva-labs/archiva/internal/domain/orchestrator"
)

const maxQueryLength = 2000

// QueryHandler answers archive questions, batch or streamed.
type QueryHandler struct {
	orch   *orchestrator.Orchestrator
	logger *zap.Logger
}

// NewQueryHandler creates a QueryHandler.
func NewQueryHandler(orch *orchestrator.Orchestrator, logger *zap.Logger) *QueryHandler {
	return &QueryHandler{orch: orch, logger: logger}
}

// QueryRequest is the POST /api/v1/query body.
type QueryRequest struct {
	Query     string       `json:"query"`
	Language  string       `json:"language"`
	SessionID string       `json:"session_id,omitempty"`
	Filters   QueryFilters `json:"filters,omitempty"`
	TopK      int          `json:"top_k,omitempty"`
	RerankK   int          `json:"rerank_k,omitempty"`
	Stream    bool         `json:"stream,omitempty"`
}

// QueryFilters restricts retrieval to a slice of the corpus.
type QueryFilters struct {
	Sources      []string `json:"sources,omitempty"`
	ContentTypes []string `json:"content_types,omitempty"`
	DateFrom     string   `json:"date_from,omitempty"` // ISO 8601 date
	DateTo       string   `json:"date_to,omitempty"`
}

// QueryResponse is the batch answer body and the final SSE event payload.
type QueryResponse struct {
	RequestID              string                `json:"request_id"`
	SessionID              string                `json:"session_id"`
	Answer                 string                `json:"answer"`
	Citations              []generation.Citation `json:"citations"`
	Confidence             float64               `json:"confidence"`
	ModelID                string                `json:"model_id,omitempty"`
	FallbackUsed           bool                  `json:"fallback_used"`
	FallbackReason         string                `json:"fallback_reason,omitempty"`
	HallucinationSuspected bool                  `json:"hallucination_suspected,omitempty"`
	RetrievalCached        bool                  `json:"retrieval_cached"`
}

// Answer handles POST /api/v1/query. A request with "stream": true (or an
// Accept: text/event-stream header) switches to SSE delivery.
func (h *QueryHandler) Answer(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	if req.Stream || r.Header.Get("Accept") == "text/event-stream" {
		h.answerStream(w, r, req)
		return
	}

	ans, err := h.orch.Ask(r.Context(), toPipelineRequest(req))
	if err != nil {
		writePipelineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(ans))
}

// answerStream delivers the answer as SSE: zero or more "fragment" events,
// one final "answer" event with the same body as the batch response. Errors
// after the stream has started become an "error" event, since the status
// line is already on the wire.
func (h *QueryHandler) answerStream(w http.ResponseWriter, r *http.Request, req QueryRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, codeInternal, "streaming unsupported by connection")
		return
	}

	as, err := h.orch.AskStream(r.Context(), toPipelineRequest(req))
	if err != nil {
		writePipelineError(w, r, err)
		return
	}
	defer as.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for {
		frag, err := as.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			h.logger.Warn("stream aborted", zap.Error(err))
			writeEvent(w, flusher, "error", map[string]string{"message": "stream aborted"})
			return
		}
		writeEvent(w, flusher, "fragment", map[string]string{"text": frag})
	}

	writeEvent(w, flusher, "answer", toResponse(as.Answer()))
}

func (h *QueryHandler) decode(w http.ResponseWriter, r *http.Request) (QueryRequest, bool) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, codeInvalidRequest, "invalid JSON body")
		return req, false
	}
	if req.Query == "" {
		writeError(w, r, codeInvalidRequest, "query is required")
		return req, false
	}
	if len(req.Query) > maxQueryLength {
		writeError(w, r, codeInvalidRequest, fmt.Sprintf("query exceeds %d characters", maxQueryLength))
		return req, false
	}
	if req.Language == "" {
		req.Language = "en"
	}
	return req, true
}

func toPipelineRequest(req QueryRequest) orchestrator.Request {
	return orchestrator.Request{
		Query:     req.Query,
		Language:  req.Language,
		SessionID: req.SessionID,
		Filters: orchestrator.Filters{
			Sources:      req.Filters.Sources,
			ContentTypes: req.Filters.ContentTypes,
			DateFrom:     req.Filters.DateFrom,
			DateTo:       req.Filters.DateTo,
		},
		TopK:    req.TopK,
		RerankK: req.RerankK,
	}
}

func toResponse(ans *orchestrator.Answer) QueryResponse {
	citations := ans.Citations
	if citations == nil {
		citations = []generation.Citation{}
	}
	return QueryResponse{
		RequestID:              ans.RequestID,
		SessionID:              ans.SessionID,
		Answer:                 ans.Answer,
		Citations:              citations,
		Confidence:             ans.Confidence,
		ModelID:                ans.ModelID,
		FallbackUsed:           ans.FallbackUsed,
		FallbackReason:         ans.FallbackReason,
		HallucinationSuspected: ans.HallucinationSuspected,
		RetrievalCached:        ans.RetrievalCached,
	}
}

// writeEvent emits one SSE event and flushes it immediately.
func writeEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	flusher.Flush()
}
