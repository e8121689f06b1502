package orchestrator

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/archiva-labs/archiva/internal/domain/generation"
)

// AnswerStream delivers answer fragments for one request. Recv returns
// io.EOF when the answer is complete; Answer is valid after that, including
// session persistence. Close abandons the stream without persisting.
type AnswerStream struct {
	o    *Orchestrator
	prep *prepared
	ctx  context.Context

	gen      *generation.Stream // nil on the fallback path
	fallback string             // pending fallback fragment
	done     bool
	answer   *Answer
}

// AskStream answers one request as a fragment stream. A low-confidence
// request still streams: it yields the fixed fallback text as a single
// fragment, without touching the model pool.
func (o *Orchestrator) AskStream(ctx context.Context, req Request) (*AnswerStream, error) {
	prep, err := o.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	as := &AnswerStream{o: o, prep: prep, ctx: ctx}
	if prep.fallback {
		as.fallback = o.fallbackText(prep.req.Language)
		return as, nil
	}

	o.transition(prep.req.RequestID, StateGenerating)
	gs, err := o.generator.Stream(ctx, prep.genRequest())
	if err != nil {
		return nil, o.mapGenerationError(prep.req.RequestID, err)
	}
	as.gen = gs
	return as, nil
}

// Recv returns the next fragment, or io.EOF once the answer is complete.
func (as *AnswerStream) Recv() (string, error) {
	if as.done {
		return "", io.EOF
	}

	if as.gen == nil {
		if as.fallback == "" {
			return "", as.finishFallback()
		}
		frag := as.fallback
		as.fallback = ""
		return frag, nil
	}

	frag, err := as.gen.Recv()
	if err == nil {
		return frag, nil
	}
	as.done = true
	if !errors.Is(err, io.EOF) {
		return "", as.o.mapGenerationError(as.prep.req.RequestID, err)
	}

	as.o.transition(as.prep.req.RequestID, StateFiltering)
	ans := as.o.answerFrom(as.prep, as.gen.Result())
	if err := as.o.commit(as.ctx, as.prep, ans); err != nil {
		return "", err
	}
	as.answer = ans
	return "", io.EOF
}

func (as *AnswerStream) finishFallback() error {
	as.done = true
	ans := as.o.fallbackAnswer(as.prep)
	if err := as.o.commit(as.ctx, as.prep, ans); err != nil {
		return err
	}
	as.answer = ans
	return io.EOF
}

// Answer returns the finished answer, or nil before Recv returned io.EOF.
// For a replaced toxic answer the streamed fragments and the final text
// differ; clients must render this value.
func (as *AnswerStream) Answer() *Answer {
	return as.answer
}

// Close abandons the stream and releases the model handle. The exchange is
// not persisted on the session.
func (as *AnswerStream) Close() error {
	as.done = true
	if as.gen != nil {
		return as.gen.Close()
	}
	return nil
}

// StreamedText drains a stream into a single string, for callers that want
// the streaming semantics exercised but a whole answer back.
func StreamedText(as *AnswerStream) (string, error) {
	defer as.Close()
	var b strings.Builder
	for {
		frag, err := as.Recv()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return "", err
		}
		b.WriteString(frag)
	}
}
