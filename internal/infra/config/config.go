// Package config provides application-wide configuration loaded from an
// optional YAML file with environment variable overrides. All fields have
// safe defaults so the binary runs locally without any setup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds runtime configuration for Archiva.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Index      IndexConfig      `yaml:"index"`
	Runtime    RuntimeConfig    `yaml:"runtime"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	ModelPool  ModelPoolConfig  `yaml:"model_pool"`
	Generation GenerationConfig `yaml:"generation"`
	Guardrail  GuardrailConfig  `yaml:"guardrail"`
	Session    SessionConfig    `yaml:"session"`
	Clients    []ClientConfig   `yaml:"clients"`
	Fallback   FallbackConfig   `yaml:"fallback"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	Debug        bool          `yaml:"debug"`
}

// IndexConfig points at the external vector index.
type IndexConfig struct {
	URL        string        `yaml:"url"`         // ARCHIVA_INDEX_URL
	APIKey     string        `yaml:"api_key"`     // ARCHIVA_INDEX_API_KEY
	Collection string        `yaml:"collection"`  // ARCHIVA_INDEX_COLLECTION
	Timeout    time.Duration `yaml:"timeout"`     // retrieval-level timeout
}

// RuntimeConfig points at the OpenAI-compatible inference runtime.
type RuntimeConfig struct {
	BaseURL    string `yaml:"base_url"`    // ARCHIVA_RUNTIME_URL
	APIKey     string `yaml:"api_key"`     // ARCHIVA_RUNTIME_API_KEY
	EmbedModel string `yaml:"embed_model"` // ARCHIVA_EMBED_MODEL
}

// RetrievalConfig tunes the retrieval engine.
type RetrievalConfig struct {
	TopK                int           `yaml:"top_k"`
	RerankK             int           `yaml:"rerank_k"`
	EvidenceTokenBudget int           `yaml:"evidence_token_budget"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold"`
	CacheSize           int           `yaml:"cache_size"`
	CacheTTL            time.Duration `yaml:"cache_ttl"`
}

// ModelSpec describes one generation model managed by the pool.
type ModelSpec struct {
	ID       string `yaml:"id"`
	Class    string `yaml:"class"` // general | long_context | multimodal
	MemoryMB int    `yaml:"memory_mb"`
	MaxCtx   int    `yaml:"max_context_tokens"`
	Pinned   bool   `yaml:"pinned"`
}

// ModelPoolConfig tunes the model pool manager.
type ModelPoolConfig struct {
	MemoryBudgetMB int           `yaml:"memory_budget_mb"`
	LoadTimeout    time.Duration `yaml:"load_timeout"`
	Models         []ModelSpec   `yaml:"models"`
}

// GenerationConfig tunes the generation service.
type GenerationConfig struct {
	Timeout            time.Duration `yaml:"timeout"`
	MaxTokens          int           `yaml:"max_tokens"`
	Temperature        float32       `yaml:"temperature"`
	LongContextTokens  int           `yaml:"long_context_tokens"`  // evidence above this routes long-context
	HistoryTokenBudget int           `yaml:"history_token_budget"` // conversation history window
}

// GuardrailConfig tunes content filtering.
type GuardrailConfig struct {
	ClaimSupportThreshold float64             `yaml:"claim_support_threshold"`
	ToxicityThreshold     float64             `yaml:"toxicity_threshold"`
	ExtraToxicTerms       map[string][]string `yaml:"extra_toxic_terms"` // per language tag
}

// SessionConfig tunes conversational state.
type SessionConfig struct {
	DBPath      string        `yaml:"db_path"`
	MaxTurns    int           `yaml:"max_turns"`
	TokenBudget int           `yaml:"token_budget"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// ClientConfig is one API client allowed to request tokens.
// SecretHash is a bcrypt hash; plaintext secrets never live in config.
type ClientConfig struct {
	ID         string `yaml:"id"`
	SecretHash string `yaml:"secret_hash"`
}

// FallbackConfig carries the fixed fallback messages, keyed by language tag.
type FallbackConfig struct {
	Messages map[string]string `yaml:"messages"`
}

const (
	envIndexURL        = "ARCHIVA_INDEX_URL"
	envIndexAPIKey     = "ARCHIVA_INDEX_API_KEY"
	envIndexCollection = "ARCHIVA_INDEX_COLLECTION"
	envRuntimeURL      = "ARCHIVA_RUNTIME_URL"
	envRuntimeAPIKey   = "ARCHIVA_RUNTIME_API_KEY"
	envEmbedModel      = "ARCHIVA_EMBED_MODEL"
	envServerPort      = "ARCHIVA_PORT"
	envSessionDBPath   = "ARCHIVA_SESSION_DB"
)

// Default returns the built-in configuration used when no file is supplied.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second, // streaming responses outlive batch ones
			IdleTimeout:  60 * time.Second,
		},
		Index: IndexConfig{
			URL:        "http://localhost:6333",
			Collection: "archive_chunks",
			Timeout:    5 * time.Second,
		},
		Runtime: RuntimeConfig{
			BaseURL:    "http://localhost:8000/v1",
			APIKey:     "not-needed",
			EmbedModel: "nomic-embed-text",
		},
		Retrieval: RetrievalConfig{
			TopK:                20,
			RerankK:             5,
			EvidenceTokenBudget: 2048,
			ConfidenceThreshold: 0.35,
			CacheSize:           512,
			CacheTTL:            5 * time.Minute,
		},
		ModelPool: ModelPoolConfig{
			MemoryBudgetMB: 24576,
			LoadTimeout:    90 * time.Second,
			Models: []ModelSpec{
				{ID: "answer-7b", Class: "general", MemoryMB: 8192, MaxCtx: 8192, Pinned: true},
				{ID: "answer-7b-32k", Class: "long_context", MemoryMB: 12288, MaxCtx: 32768},
				{ID: "answer-vl-8b", Class: "multimodal", MemoryMB: 10240, MaxCtx: 8192},
			},
		},
		Generation: GenerationConfig{
			Timeout:            45 * time.Second,
			MaxTokens:          512,
			Temperature:        0.2,
			LongContextTokens:  3000,
			HistoryTokenBudget: 1024,
		},
		Guardrail: GuardrailConfig{
			ClaimSupportThreshold: 0.5,
			ToxicityThreshold:     0.5,
		},
		Session: SessionConfig{
			DBPath:      "archiva.db",
			MaxTurns:    20,
			TokenBudget: 4096,
			IdleTimeout: 30 * time.Minute,
		},
		Fallback: FallbackConfig{
			Messages: map[string]string{
				"en": "I could not find a reliable answer in the archive. Please contact support for help.",
				"de": "Ich konnte keine verlässliche Antwort im Archiv finden. Bitte wenden Sie sich an den Support.",
				"fr": "Je n'ai pas trouvé de réponse fiable dans les archives. Veuillez contacter le support.",
			},
		},
	}
}

// Load reads configuration from an optional YAML file, then applies
// environment variable overrides on top of the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// applyEnvOverrides replaces fields that have a matching env variable set.
func applyEnvOverrides(cfg *Config) {
	cfg.Index.URL = envOr(envIndexURL, cfg.Index.URL)
	cfg.Index.APIKey = envOr(envIndexAPIKey, cfg.Index.APIKey)
	cfg.Index.Collection = envOr(envIndexCollection, cfg.Index.Collection)
	cfg.Runtime.BaseURL = envOr(envRuntimeURL, cfg.Runtime.BaseURL)
	cfg.Runtime.APIKey = envOr(envRuntimeAPIKey, cfg.Runtime.APIKey)
	cfg.Runtime.EmbedModel = envOr(envEmbedModel, cfg.Runtime.EmbedModel)
	cfg.Session.DBPath = envOr(envSessionDBPath, cfg.Session.DBPath)

	if port, err := strconv.Atoi(os.Getenv(envServerPort)); err == nil && port > 0 {
		cfg.Server.Port = port
	}
}

// FallbackMessage returns the fixed fallback text for a language tag,
// defaulting to English when the language has no configured message.
func (c Config) FallbackMessage(language string) string {
	if msg, ok := c.Fallback.Messages[language]; ok {
		return msg
	}
	if msg, ok := c.Fallback.Messages["en"]; ok {
		return msg
	}
	return "I could not find a reliable answer. Please contact support for help."
}

// envOr returns the value of the environment variable key, or fallback if not set.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
