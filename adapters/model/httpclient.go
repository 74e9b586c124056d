package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ljxpython/noteai/domain/reconcile"
)

// maxResponseSize limits the response body to prevent memory exhaustion.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

// System messages per operation. The output-format contract here is what
// the reconciler's strict parse expects; everything after that is damage
// control.
const (
	optimizeSystemMessage = `You are a professional text optimization assistant. Improve grammar,
expression and structure while preserving the original meaning and tone.
Respond with a JSON object inside a json code fence containing:
optimized_text (string), suggestions (array of {type, original, optimized,
explanation, confidence}), confidence (0-1), summary (string).`

	classifySystemMessage = `You are a content classification assistant. Analyze the note and suggest
categories. Respond with a JSON object inside a json code fence containing:
suggestions (array of {category_name, confidence, reasoning, is_existing},
1 to 3 entries), detected_topics (array), key_phrases (array),
content_type (string), summary (string).`
)

// HTTPClient calls an OpenAI-compatible chat-completions endpoint.
// DeepSeek exposes the same wire format, so one client serves both.
type HTTPClient struct {
	cfg        Config
	httpClient *http.Client
}

func newHTTPClient(cfg Config) *HTTPClient {
	return &HTTPClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Generate sends the prompt and returns the raw completion text.
func (c *HTTPClient) Generate(ctx context.Context, prompt string, op reconcile.Operation) (string, error) {
	payload := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemMessageFor(op)},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("model: marshal request: %w", err)
	}

	url := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("model: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("model: %s call: %w", c.cfg.Provider, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("model: read response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("model: decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := "unknown error"
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return "", fmt.Errorf("model: %s returned status %d: %s", c.cfg.Provider, resp.StatusCode, msg)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("model: %s returned no choices", c.cfg.Provider)
	}

	return parsed.Choices[0].Message.Content, nil
}

func systemMessageFor(op reconcile.Operation) string {
	if op == reconcile.OpClassify {
		return classifySystemMessage
	}
	return optimizeSystemMessage
}
