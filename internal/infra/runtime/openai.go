package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Client talks to an OpenAI-compatible inference server (vLLM, LM Studio,
// llama.cpp server). Inference goes through the standard /v1 API; explicit
// load/unload uses the server's admin extension.
type Client struct {
	oai        *openai.Client
	embedModel string
	adminURL   string
	http       *http.Client
}

// Config configures the runtime client.
type Config struct {
	BaseURL    string // e.g. http://localhost:8000/v1
	APIKey     string
	EmbedModel string
}

// NewClient creates a runtime Client.
func NewClient(cfg Config) *Client {
	oaiCfg := openai.DefaultConfig(cfg.APIKey)
	oaiCfg.BaseURL = cfg.BaseURL

	return &Client{
		oai:        openai.NewClientWithConfig(oaiCfg),
		embedModel: cfg.EmbedModel,
		adminURL:   strings.TrimSuffix(cfg.BaseURL, "/v1"),
		http:       &http.Client{Timeout: 2 * time.Minute},
	}
}

// Embed computes the embedding for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.oai.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.embedModel),
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("runtime embed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("runtime embed: empty response")
	}
	return resp.Data[0].Embedding, nil
}

// Chat performs a non-streaming chat completion.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	resp, err := c.oai.CreateChatCompletion(ctx, toOpenAIRequest(req))
	if err != nil {
		return nil, fmt.Errorf("runtime chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("runtime chat: empty response")
	}
	return &ChatResponse{
		Content:      resp.Choices[0].Message.Content,
		FinishReason: string(resp.Choices[0].FinishReason),
	}, nil
}

// ChatStream starts a streaming chat completion. The returned stream must be
// closed by the caller; closing cancels generation server-side.
func (c *Client) ChatStream(ctx context.Context, req ChatRequest) (TokenStream, error) {
	stream, err := c.oai.CreateChatCompletionStream(ctx, toOpenAIRequest(req))
	if err != nil {
		return nil, fmt.Errorf("runtime chat stream: %w", err)
	}
	return &openaiStream{stream: stream}, nil
}

// Load asks the runtime to place the model's weights into device memory.
// The reservation lets the runtime pick a quantized or offloaded placement
// when the full-precision weights would not fit.
func (c *Client) Load(ctx context.Context, modelID string, memoryMB int) error {
	body := map[string]any{"model": modelID, "memory_mb": memoryMB}
	if err := c.postAdmin(ctx, "/admin/models/load", body); err != nil {
		return fmt.Errorf("runtime load %s: %w", modelID, err)
	}
	return nil
}

// Unload asks the runtime to release the model's device memory.
func (c *Client) Unload(ctx context.Context, modelID string) error {
	body := map[string]any{"model": modelID}
	if err := c.postAdmin(ctx, "/admin/models/unload", body); err != nil {
		return fmt.Errorf("runtime unload %s: %w", modelID, err)
	}
	return nil
}

// Healthy reports whether the runtime answers the models listing.
func (c *Client) Healthy(ctx context.Context) error {
	if _, err := c.oai.ListModels(ctx); err != nil {
		return fmt.Errorf("runtime health: %w", err)
	}
	return nil
}

func (c *Client) postAdmin(ctx context.Context, path string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.adminURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

func toOpenAIRequest(req ChatRequest) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	return openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
}

// openaiStream adapts the SDK stream to TokenStream.
type openaiStream struct {
	stream       *openai.ChatCompletionStream
	finishReason string
}

// Recv returns the next non-empty delta. Chunks without choices (role
// preludes, usage frames) are skipped.
func (s *openaiStream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if err != nil {
			return "", err // io.EOF on normal completion
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		if choice.FinishReason != "" {
			s.finishReason = string(choice.FinishReason)
		}
		if choice.Delta.Content == "" {
			continue
		}
		return choice.Delta.Content, nil
	}
}

func (s *openaiStream) FinishReason() string { return s.finishReason }

func (s *openaiStream) Close() error { return s.stream.Close() }
