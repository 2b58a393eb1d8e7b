// Package llmclient provides a unified interface for the language model
// providers the Specification Synthesizer and Flow Triager dispatch
// single-turn, JSON-only prompts to. Supports OpenAI-compatible APIs,
// Anthropic, a local Ollama server, and a deterministic mock for tests.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Request is a single-turn completion request: a fixed system prompt plus a
// template-rendered user prompt.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	Model        string
	MaxTokens    int
	Temperature  float64
}

// Response carries back the raw model text. Callers are responsible for
// parsing it as JSON per the prompt family's contract.
type Response struct {
	Text  string
	Model string
}

// Provider is implemented by every backend this package supports.
type Provider interface {
	// Generate sends one single-turn request and returns the raw text.
	Generate(ctx context.Context, req Request) (*Response, error)
	// Name returns the provider identifier, used in diagnostics.
	Name() string
}

// Config configures a Provider. The model client reads its API key from the
// process environment under a documented name; Config.APIKey, when set,
// takes precedence over the environment.
type Config struct {
	Type         string // "openai", "anthropic", "ollama", "mock"
	BaseURL      string
	APIKey       string
	DefaultModel string
	Timeout      time.Duration
	MaxRetries   int
}

// New constructs a Provider from cfg. Supported types: "openai", "anthropic",
// "ollama", "mock".
//
// Environment variables:
//   - OPENAI_API_KEY, OPENAI_BASE_URL, OPENAI_MODEL
//   - ANTHROPIC_API_KEY, ANTHROPIC_BASE_URL, ANTHROPIC_MODEL
//   - OLLAMA_HOST, OLLAMA_MODEL
func New(cfg Config) (Provider, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}

	switch strings.ToLower(cfg.Type) {
	case "openai", "openai-compatible":
		return newOpenAIProvider(cfg), nil
	case "anthropic", "claude":
		return newAnthropicProvider(cfg), nil
	case "ollama", "local":
		return newOllamaProvider(cfg), nil
	case "mock", "test", "":
		return NewMockProvider(nil), nil
	default:
		return nil, fmt.Errorf("llmclient: unknown provider type %q (supported: openai, anthropic, ollama, mock)", cfg.Type)
	}
}

// --- OpenAI ---

type openaiProvider struct {
	baseURL      string
	apiKey       string
	defaultModel string
	client       *http.Client
}

func newOpenAIProvider(cfg Config) *openaiProvider {
	baseURL := firstNonEmpty(cfg.BaseURL, os.Getenv("OPENAI_BASE_URL"), "https://api.openai.com/v1")
	apiKey := firstNonEmpty(cfg.APIKey, os.Getenv("OPENAI_API_KEY"))
	model := firstNonEmpty(cfg.DefaultModel, os.Getenv("OPENAI_MODEL"))
	return &openaiProvider{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		apiKey:       apiKey,
		defaultModel: model,
		client:       &http.Client{Timeout: cfg.Timeout},
	}
}

func (p *openaiProvider) Name() string { return "openai" }

func (p *openaiProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	model := firstNonEmpty(req.Model, p.defaultModel)
	if model == "" {
		return nil, fmt.Errorf("openai: model not specified (set OPENAI_MODEL or pass Request.Model)")
	}
	if p.apiKey == "" {
		return nil, fmt.Errorf("openai: OPENAI_API_KEY not set")
	}

	payload := map[string]any{
		"model": model,
		"messages": []map[string]string{
			{"role": "system", "content": req.SystemPrompt},
			{"role": "user", "content": req.UserPrompt},
		},
		"response_format": map[string]string{"type": "json_object"},
	}
	if req.MaxTokens > 0 {
		payload["max_tokens"] = req.MaxTokens
	}
	if req.Temperature > 0 {
		payload["temperature"] = req.Temperature
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai generate: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openai generate error (status %d): %s", resp.StatusCode, string(raw))
	}

	var decoded struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("openai decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty choices in response")
	}
	return &Response{Text: decoded.Choices[0].Message.Content, Model: decoded.Model}, nil
}

// --- Anthropic ---

type anthropicProvider struct {
	baseURL      string
	apiKey       string
	defaultModel string
	client       *http.Client
}

func newAnthropicProvider(cfg Config) *anthropicProvider {
	baseURL := firstNonEmpty(cfg.BaseURL, os.Getenv("ANTHROPIC_BASE_URL"), "https://api.anthropic.com/v1")
	apiKey := firstNonEmpty(cfg.APIKey, os.Getenv("ANTHROPIC_API_KEY"))
	model := firstNonEmpty(cfg.DefaultModel, os.Getenv("ANTHROPIC_MODEL"))
	return &anthropicProvider{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		apiKey:       apiKey,
		defaultModel: model,
		client:       &http.Client{Timeout: cfg.Timeout},
	}
}

func (p *anthropicProvider) Name() string { return "anthropic" }

func (p *anthropicProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	model := firstNonEmpty(req.Model, p.defaultModel)
	if model == "" {
		return nil, fmt.Errorf("anthropic: model not specified (set ANTHROPIC_MODEL or pass Request.Model)")
	}
	if p.apiKey == "" {
		return nil, fmt.Errorf("anthropic: ANTHROPIC_API_KEY not set")
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}
	payload := map[string]any{
		"model":      model,
		"system":     req.SystemPrompt,
		"max_tokens": maxTokens,
		"messages": []map[string]string{
			{"role": "user", "content": req.UserPrompt},
		},
	}
	if req.Temperature > 0 {
		payload["temperature"] = req.Temperature
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic generate: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("anthropic generate error (status %d): %s", resp.StatusCode, string(raw))
	}

	var decoded struct {
		Model   string `json:"model"`
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("anthropic decode response: %w", err)
	}
	if len(decoded.Content) == 0 {
		return nil, fmt.Errorf("anthropic: empty content in response")
	}
	return &Response{Text: decoded.Content[0].Text, Model: decoded.Model}, nil
}

// --- Ollama ---

type ollamaProvider struct {
	baseURL      string
	defaultModel string
	client       *http.Client
}

func newOllamaProvider(cfg Config) *ollamaProvider {
	baseURL := firstNonEmpty(cfg.BaseURL, os.Getenv("OLLAMA_HOST"), "http://localhost:11434")
	model := firstNonEmpty(cfg.DefaultModel, os.Getenv("OLLAMA_MODEL"))
	return &ollamaProvider{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		defaultModel: model,
		client:       &http.Client{Timeout: cfg.Timeout},
	}
}

func (p *ollamaProvider) Name() string { return "ollama" }

func (p *ollamaProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	model := firstNonEmpty(req.Model, p.defaultModel)
	if model == "" {
		return nil, fmt.Errorf("ollama: model not specified (set OLLAMA_MODEL or pass Request.Model)")
	}

	payload := map[string]any{
		"model":  model,
		"system": req.SystemPrompt,
		"prompt": req.UserPrompt,
		"format": "json",
		"stream": false,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama generate: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama generate error (status %d): %s", resp.StatusCode, string(raw))
	}

	var decoded struct {
		Model    string `json:"model"`
		Response string `json:"response"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("ollama decode response: %w", err)
	}
	return &Response{Text: decoded.Response, Model: decoded.Model}, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
