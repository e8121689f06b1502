package generation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/archiva-labs/archiva/internal/domain/modelpool"
	"github.com/archiva-labs/archiva/internal/infra/runtime"
)

// Stream is a pull-based sequence of answer fragments. Each fragment has
// already passed PII redaction; the full-text checks run once the stream
// ends, after which Result returns the finished answer. Close cancels the
// completion and returns the model to the pool; it is safe to call at any
// time and more than once.
type Stream struct {
	svc     *Service
	req     Request
	modelID string
	ts      runtime.TokenStream
	handle  *modelpool.Handle
	cancel  context.CancelFunc
	parent  context.Context

	buf     strings.Builder
	done    bool
	cleanup sync.Once
	result  *Result
}

// Stream starts a streaming completion. The model handle stays checked out
// until the stream ends or is closed.
func (s *Service) Stream(ctx context.Context, req Request) (*Stream, error) {
	h, err := s.pool.Checkout(ctx, s.RouteRequest(req))
	if err != nil {
		return nil, err
	}

	gctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	ts, err := s.gen.ChatStream(gctx, runtime.ChatRequest{
		Model:       h.ModelID(),
		Messages:    buildMessages(req, s.cfg.HistoryTokenBudget),
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
	})
	if err != nil {
		cancel()
		s.pool.Release(h)
		return nil, fmt.Errorf("generation: start stream on %s: %w", h.ModelID(), err)
	}

	return &Stream{
		svc:     s,
		req:     req,
		modelID: h.ModelID(),
		ts:      ts,
		handle:  h,
		cancel:  cancel,
		parent:  ctx,
	}, nil
}

// Recv returns the next redacted fragment. It returns io.EOF when the model
// is done, at which point Result is valid. Any other error ends the stream.
func (st *Stream) Recv() (string, error) {
	if st.done {
		return "", io.EOF
	}

	frag, err := st.ts.Recv()
	if err != nil {
		st.done = true
		if errors.Is(err, io.EOF) {
			st.result = st.svc.finalize(st.req, st.modelID, st.buf.String(), st.ts.FinishReason())
			st.release()
			return "", io.EOF
		}
		st.release()
		if errors.Is(err, context.DeadlineExceeded) && st.parent.Err() == nil {
			return "", fmt.Errorf("%w: model %s", ErrTimeout, st.modelID)
		}
		return "", fmt.Errorf("generation: stream on %s: %w", st.modelID, err)
	}

	st.buf.WriteString(frag)
	redacted, _ := st.svc.guard.RedactPII(frag, st.req.Language)
	return redacted, nil
}

// Result returns the finished answer, or nil before Recv has returned io.EOF.
// The answer text is re-checked as a whole, so redactions that straddle
// fragment boundaries are still applied here.
func (st *Stream) Result() *Result {
	return st.result
}

// Close cancels the completion and releases the model handle.
func (st *Stream) Close() error {
	st.done = true
	st.release()
	return nil
}

func (st *Stream) release() {
	st.cleanup.Do(func() {
		st.cancel()
		_ = st.ts.Close()
		st.svc.pool.Release(st.handle)
	})
}
