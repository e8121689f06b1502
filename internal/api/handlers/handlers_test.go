package handlers

import (
	"context"
	"io"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/archiva-labs/archiva/internal/domain/generation"
	"github.com/archiva-labs/archiva/internal/domain/guardrail"
	"github.com/archiva-labs/archiva/internal/domain/modelpool"
	"github.com/archiva-labs/archiva/internal/domain/orchestrator"
	"github.com/archiva-labs/archiva/internal/domain/retrieval"
	"github.com/archiva-labs/archiva/internal/domain/session"
	"github.com/archiva-labs/archiva/internal/infra/runtime"
	"github.com/archiva-labs/archiva/internal/infra/sqlite"
)

// The handler tests run against a fully wired pipeline with the two external
// systems stubbed out.

type stubSearcher struct {
	chunks []retrieval.Chunk
	err    error
}

func (s *stubSearcher) Search(context.Context, []float32, retrieval.Filters, int) ([]retrieval.Chunk, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.chunks, nil
}

type stubEmbedder struct{}

func (stubEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{0.1}, nil
}

type stubRuntime struct{ answer string }

func (g *stubRuntime) Chat(context.Context, runtime.ChatRequest) (*runtime.ChatResponse, error) {
	return &runtime.ChatResponse{Content: g.answer, FinishReason: "stop"}, nil
}

func (g *stubRuntime) ChatStream(ctx context.Context, req runtime.ChatRequest) (runtime.TokenStream, error) {
	return &singleFragmentStream{text: g.answer}, nil
}

type singleFragmentStream struct {
	text string
	sent bool
}

func (s *singleFragmentStream) Recv() (string, error) {
	if s.sent {
		return "", io.EOF
	}
	s.sent = true
	return s.text, nil
}

func (s *singleFragmentStream) FinishReason() string { return "stop" }
func (s *singleFragmentStream) Close() error         { return nil }

type nopLoader struct{}

func (nopLoader) Load(context.Context, string, int) error { return nil }
func (nopLoader) Unload(context.Context, string) error    { return nil }

func archiveChunks() []retrieval.Chunk {
	return []retrieval.Chunk{
		{ID: "c1", DocumentID: "d1", Source: "municipal", Text: "The archive was established in 1923 by the city council.", Language: "en"},
	}
}

func newTestOrchestrator(t *testing.T, searcher *stubSearcher, answer string) *orchestrator.Orchestrator {
	t.Helper()
	logger := zap.NewNop()

	engine := retrieval.NewEngine(searcher, stubEmbedder{}, nil, retrieval.Config{CacheTTL: time.Minute}, logger)
	pool := modelpool.NewManager(nopLoader{}, modelpool.Config{
		MemoryBudgetMB: 4000,
		LoadTimeout:    time.Second,
		Models: []modelpool.Spec{
			{ID: "answer-7b", Class: modelpool.ClassGeneral, MemoryMB: 800, MaxContextTokens: 8192},
		},
	}, logger)

	guard := guardrail.NewPipeline(guardrail.Config{}, nil)
	fallback := func(lang string) string { return "fallback:" + lang }
	gen := generation.NewService(pool, &stubRuntime{answer: answer}, guard, generation.Config{Fallback: fallback}, logger)

	db, err := sqlite.NewDB(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := sqlite.MigrateUp(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store := session.NewSQLiteStore(db, logger)

	return orchestrator.New(engine, gen, guard, store, orchestrator.Config{
		ConfidenceThreshold: 0.35,
		Fallback:            fallback,
	}, logger)
}
