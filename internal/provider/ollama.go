package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ragguard-ai/ragguard/internal/inference"
)

// ollamaProvider implements Provider for a local Ollama daemon.
type ollamaProvider struct {
	baseURL          string
	client           *http.Client
	maxResponseBytes int64
}

// NewOllama creates a provider that talks to Ollama's /api/chat endpoint.
func NewOllama(baseURL string, timeout time.Duration, maxResponseBytes int64) Provider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if maxResponseBytes <= 0 {
		maxResponseBytes = 4 * 1024 * 1024
	}

	return &ollamaProvider{
		baseURL:          baseURL,
		maxResponseBytes: maxResponseBytes,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Model           string            `json:"model"`
	Message         ollamaChatMessage `json:"message"`
	Done            bool              `json:"done"`
	PromptEvalCount int               `json:"prompt_eval_count"`
	EvalCount       int               `json:"eval_count"`
	Error           string            `json:"error"`
}

func (p *ollamaProvider) ChatCompletion(ctx context.Context, req *inference.Request) (*inference.Response, error) {
	olReq := ollamaChatRequest{
		Model:    req.Model,
		Messages: make([]ollamaChatMessage, 0, len(req.Messages)),
		Stream:   false,
	}
	for _, m := range req.Messages {
		olReq.Messages = append(olReq.Messages, ollamaChatMessage{Role: m.Role, Content: m.Content})
	}

	body, err := json.Marshal(olReq)
	if err != nil {
		return nil, fmt.Errorf("marshal ollama request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		fmt.Sprintf("%s/api/chat", p.baseURL),
		bytes.NewReader(body),
	)
	if err != nil {
		return nil, fmt.Errorf("create ollama request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call ollama: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := readBounded(resp.Body, p.maxResponseBytes)
	if err != nil {
		return nil, fmt.Errorf("read ollama response (status %d): %w", resp.StatusCode, err)
	}

	var olResp ollamaChatResponse
	if err := json.Unmarshal(respBody, &olResp); err != nil {
		return nil, fmt.Errorf("decode ollama response: %w", err)
	}
	if resp.StatusCode >= 400 || olResp.Error != "" {
		return nil, fmt.Errorf("ollama error (status %d): %s", resp.StatusCode, olResp.Error)
	}

	return &inference.Response{
		Message: inference.Message{
			Role:    olResp.Message.Role,
			Content: olResp.Message.Content,
		},
		Usage: inference.Usage{
			PromptTokens:     olResp.PromptEvalCount,
			CompletionTokens: olResp.EvalCount,
			TotalTokens:      olResp.PromptEvalCount + olResp.EvalCount,
		},
	}, nil
}
