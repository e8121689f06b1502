// Package runtime adapts an OpenAI-compatible inference server to the
// interfaces the pipeline consumes: embeddings, chat completion (batch and
// streaming), and explicit model load/unload through the server's admin
// extension. The application is never coupled to the vendor SDK outside
// this package.
package runtime

import "context"

// Message represents a single turn in a chat completion request.
type Message struct {
	Role    string // "system" | "user" | "assistant"
	Content string
}

// ChatRequest is the input for a chat completion.
type ChatRequest struct {
	Model       string
	Messages    []Message
	Temperature float32
	MaxTokens   int
}

// ChatResponse is the output of a non-streaming chat completion.
type ChatResponse struct {
	Content      string
	FinishReason string // "stop" | "length" | ...
}

// TokenStream is a pull-based, cancellable sequence of output fragments.
// Recv returns io.EOF when the model is done; FinishReason is valid after
// that. Close releases the underlying connection and may be called at any
// time to cancel the stream.
type TokenStream interface {
	Recv() (string, error)
	FinishReason() string
	Close() error
}

// Embedder computes a dense vector for a text in the corpus vector space.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Generator produces chat completions on an already-loaded model.
type Generator interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	ChatStream(ctx context.Context, req ChatRequest) (TokenStream, error)
}

// WeightsLoader is the model weights contract consumed by the pool manager.
// memoryMB is the device-memory reservation the runtime should honor when
// placing the weights; a smaller value permits quantized or offloaded loads.
type WeightsLoader interface {
	Load(ctx context.Context, modelID string, memoryMB int) error
	Unload(ctx context.Context, modelID string) error
}
