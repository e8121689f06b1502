package generation

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/archiva-labs/archiva/internal/domain/guardrail"
	"github.com/archiva-labs/archiva/internal/domain/modelpool"
	"github.com/archiva-labs/archiva/internal/domain/retrieval"
	"github.com/archiva-labs/archiva/internal/infra/runtime"
)

// nopLoader satisfies the pool's weights contract without a runtime.
type nopLoader struct{}

func (nopLoader) Load(context.Context, string, int) error { return nil }
func (nopLoader) Unload(context.Context, string) error    { return nil }

// countingPool wraps a real pool manager and counts releases.
type countingPool struct {
	m        *modelpool.Manager
	released atomic.Int64
}

func (p *countingPool) Checkout(ctx context.Context, class modelpool.Class) (*modelpool.Handle, error) {
	return p.m.Checkout(ctx, class)
}

func (p *countingPool) Release(h *modelpool.Handle) {
	p.released.Add(1)
	p.m.Release(h)
}

// stubGenerator returns canned completions.
type stubGenerator struct {
	answer string
	frags  []string
	block  bool // block until ctx is done
}

func (g *stubGenerator) Chat(ctx context.Context, req runtime.ChatRequest) (*runtime.ChatResponse, error) {
	if g.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return &runtime.ChatResponse{Content: g.answer, FinishReason: "stop"}, nil
}

func (g *stubGenerator) ChatStream(ctx context.Context, req runtime.ChatRequest) (runtime.TokenStream, error) {
	return &stubTokenStream{frags: g.frags}, nil
}

type stubTokenStream struct {
	frags  []string
	pos    int
	closed bool
}

func (s *stubTokenStream) Recv() (string, error) {
	if s.pos >= len(s.frags) {
		return "", io.EOF
	}
	f := s.frags[s.pos]
	s.pos++
	return f, nil
}

func (s *stubTokenStream) FinishReason() string { return "stop" }
func (s *stubTokenStream) Close() error         { s.closed = true; return nil }

func testEvidence() []retrieval.Chunk {
	return []retrieval.Chunk{
		{ID: "c1", DocumentID: "d1", Source: "municipal", SourceURL: "https://archive.example/d1", Text: "The archive was established in 1923 by the city council."},
		{ID: "c2", DocumentID: "d2", Source: "press", Text: "Annual visitor numbers grew steadily through the decade."},
	}
}

func newTestService(t *testing.T, gen runtime.Generator, cfg Config) (*Service, *countingPool) {
	t.Helper()
	pool := &countingPool{m: modelpool.NewManager(nopLoader{}, modelpool.Config{
		MemoryBudgetMB: 4000,
		LoadTimeout:    time.Second,
		Models: []modelpool.Spec{
			{ID: "gen-a", Class: modelpool.ClassGeneral, MemoryMB: 800, MaxContextTokens: 8192},
			{ID: "long-b", Class: modelpool.ClassLongContext, MemoryMB: 1200, MaxContextTokens: 32768},
			{ID: "vl-c", Class: modelpool.ClassMultimodal, MemoryMB: 1000, MaxContextTokens: 8192},
		},
	}, zap.NewNop())}
	guard := guardrail.NewPipeline(guardrail.Config{}, nil)
	if cfg.Fallback == nil {
		cfg.Fallback = func(lang string) string { return "fallback:" + lang }
	}
	return NewService(pool, gen, guard, cfg, zap.NewNop()), pool
}

func TestRoute(t *testing.T) {
	tests := []struct {
		name           string
		query          string
		evidenceTokens int
		want           modelpool.Class
	}{
		{name: "small evidence", query: "when was the archive established", evidenceTokens: 500, want: modelpool.ClassGeneral},
		{name: "large evidence", query: "summarize the minutes", evidenceTokens: 5000, want: modelpool.ClassLongContext},
		{name: "image url", query: "what is shown in https://archive.example/scans/plan.png", evidenceTokens: 500, want: modelpool.ClassMultimodal},
		{name: "image beats evidence size", query: "describe ![scan](/scans/map.jpg)", evidenceTokens: 5000, want: modelpool.ClassMultimodal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Route(tt.query, tt.evidenceTokens, 3000)
			if got != tt.want {
				t.Errorf("Route = %s, want %s", got, tt.want)
			}
			if again := Route(tt.query, tt.evidenceTokens, 3000); again != got {
				t.Errorf("Route not deterministic: %s then %s", got, again)
			}
		})
	}
}

func TestCollect_CitesMarkedEvidence(t *testing.T) {
	gen := &stubGenerator{answer: "The archive was established in 1923 [1]."}
	svc, pool := newTestService(t, gen, Config{})

	res, err := svc.Collect(context.Background(), Request{
		Query:    "When was the archive established?",
		Language: "en",
		Evidence: testEvidence(),
	})
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	if res.ModelID != "gen-a" {
		t.Errorf("ModelID = %s, want gen-a", res.ModelID)
	}
	if len(res.Citations) != 1 || res.Citations[0].ChunkID != "c1" {
		t.Errorf("Citations = %+v, want exactly chunk c1", res.Citations)
	}
	if res.Citations[0].SourceURL != "https://archive.example/d1" {
		t.Errorf("citation missing source url: %+v", res.Citations[0])
	}
	if res.HallucinationSuspected {
		t.Error("grounded answer flagged as hallucination")
	}
	if res.ToxicityBlocked {
		t.Error("benign answer blocked")
	}
	if pool.released.Load() != 1 {
		t.Errorf("handle released %d times, want 1", pool.released.Load())
	}
}

func TestCollect_UnmarkedAnswerCitesWholeWindow(t *testing.T) {
	gen := &stubGenerator{answer: "The archive was established in 1923 and visitor numbers grew steadily."}
	svc, _ := newTestService(t, gen, Config{})

	res, err := svc.Collect(context.Background(), Request{Query: "history?", Language: "en", Evidence: testEvidence()})
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if len(res.Citations) != 2 {
		t.Errorf("got %d citations, want the whole evidence window", len(res.Citations))
	}
}

func TestCollect_ToxicOutputReplaced(t *testing.T) {
	gen := &stubGenerator{answer: "You are a worthless idiot and your question is trash."}
	svc, _ := newTestService(t, gen, Config{})

	res, err := svc.Collect(context.Background(), Request{Query: "anything", Language: "en", Evidence: testEvidence()})
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if !res.ToxicityBlocked {
		t.Fatal("toxic answer not blocked")
	}
	if res.Answer != "fallback:en" {
		t.Errorf("Answer = %q, want fallback text", res.Answer)
	}
	if len(res.Citations) != 0 {
		t.Errorf("blocked answer carries citations: %+v", res.Citations)
	}
}

func TestCollect_UnsupportedClaimFlagged(t *testing.T) {
	gen := &stubGenerator{answer: "The director embezzled municipal pension funds during the war."}
	svc, _ := newTestService(t, gen, Config{})

	res, err := svc.Collect(context.Background(), Request{Query: "anything", Language: "en", Evidence: testEvidence()})
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if !res.HallucinationSuspected {
		t.Error("ungrounded answer not flagged")
	}
	if res.Answer == "" {
		t.Error("flagged answer must still be returned")
	}
}

func TestCollect_Timeout(t *testing.T) {
	gen := &stubGenerator{block: true}
	svc, pool := newTestService(t, gen, Config{Timeout: 30 * time.Millisecond})

	_, err := svc.Collect(context.Background(), Request{Query: "anything", Language: "en", Evidence: testEvidence()})
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
	if pool.released.Load() != 1 {
		t.Errorf("handle released %d times after timeout, want 1", pool.released.Load())
	}
}

func TestStream_DeliversFragmentsAndFinalizes(t *testing.T) {
	gen := &stubGenerator{frags: []string{"The archive was established ", "in 1923 [1]."}}
	svc, pool := newTestService(t, gen, Config{})

	st, err := svc.Stream(context.Background(), Request{Query: "when?", Language: "en", Evidence: testEvidence()})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}

	var got strings.Builder
	for {
		frag, err := st.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Recv failed: %v", err)
		}
		got.WriteString(frag)
	}

	if got.String() != "The archive was established in 1923 [1]." {
		t.Errorf("streamed text = %q", got.String())
	}
	res := st.Result()
	if res == nil {
		t.Fatal("Result nil after EOF")
	}
	if len(res.Citations) != 1 || res.Citations[0].ChunkID != "c1" {
		t.Errorf("Citations = %+v, want chunk c1", res.Citations)
	}
	if pool.released.Load() != 1 {
		t.Errorf("handle released %d times, want 1", pool.released.Load())
	}
}

func TestStream_FragmentPIIRedacted(t *testing.T) {
	gen := &stubGenerator{frags: []string{"Write to curator@archive.example for scans."}}
	svc, _ := newTestService(t, gen, Config{})

	st, err := svc.Stream(context.Background(), Request{Query: "contact?", Language: "en", Evidence: testEvidence()})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	defer st.Close()

	frag, err := st.Recv()
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if strings.Contains(frag, "curator@") {
		t.Errorf("fragment not redacted: %q", frag)
	}
}

func TestStream_CloseReleasesHandleOnce(t *testing.T) {
	gen := &stubGenerator{frags: []string{"a", "b", "c"}}
	svc, pool := newTestService(t, gen, Config{})

	st, err := svc.Stream(context.Background(), Request{Query: "q", Language: "en", Evidence: testEvidence()})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	if _, err := st.Recv(); err != nil {
		t.Fatalf("Recv failed: %v", err)
	}

	if err := st.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	_ = st.Close() // second close must be a no-op

	if pool.released.Load() != 1 {
		t.Errorf("handle released %d times, want exactly 1", pool.released.Load())
	}
	if st.Result() != nil {
		t.Error("Result must stay nil for an abandoned stream")
	}
	if _, err := st.Recv(); !errors.Is(err, io.EOF) {
		t.Errorf("Recv after Close = %v, want io.EOF", err)
	}
}
