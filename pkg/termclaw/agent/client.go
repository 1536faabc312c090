// Package agent – client.go implements the LLM client for chat completions
// with function calling / tool use support. Uses the OpenAI-compatible API
// format, which works with OpenAI, OpenRouter, Groq, local Ollama, and any
// compatible endpoint.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ErrEmptyResponse is returned when the provider answers with no choices at
// all. The session treats this as transport-fatal.
var ErrEmptyResponse = errors.New("empty response from model")

// Request is the fully assembled model request handed to the client.
type Request struct {
	Messages    []Turn
	Tools       []ToolDefinition
	Temperature float64
	MaxTokens   int
	JSONMode    bool
}

// Response holds the parsed reply from a chat completion.
type Response struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        Usage
}

// Usage holds token usage information from the API response.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ModelClient is the collaborator that executes an assembled request.
// The production implementation is Client; tests substitute a stub.
type ModelClient interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// APIError is an error-shaped payload from the provider. The session
// surfaces it as the informational reply instead of aborting.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("API returned %d: %s", e.StatusCode, truncate(e.Message, 200))
	}
	return fmt.Sprintf("API error: %s", truncate(e.Message, 200))
}

// ---------- Wire types (OpenAI-compatible) ----------

// chatMessage represents a message in the OpenAI chat format.
type chatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// responseFormat requests structured output from providers that support it.
type responseFormat struct {
	Type string `json:"type"` // "json_object"
}

// chatRequest is the OpenAI-compatible chat completions request.
type chatRequest struct {
	Model          string           `json:"model"`
	Messages       []chatMessage    `json:"messages"`
	Tools          []ToolDefinition `json:"tools,omitempty"`
	Temperature    *float64         `json:"temperature,omitempty"`
	MaxTokens      *int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat  `json:"response_format,omitempty"`
}

// chatResponse is the OpenAI-compatible chat completions response.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   string     `json:"content"`
			ToolCalls []ToolCall `json:"tool_calls,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// ---------- Client ----------

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	baseURL    string
	provider   string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a model client from config.
func NewClient(cfg *Config, logger *slog.Logger) *Client {
	baseURL := strings.TrimRight(cfg.API.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	provider := detectProvider(baseURL)
	if provider == "openai" && cfg.API.Provider != "" && cfg.API.Provider != "openai" {
		provider = cfg.API.Provider
	}

	return &Client{
		baseURL:  baseURL,
		provider: provider,
		apiKey:   cfg.API.APIKey,
		model:    cfg.Model,
		httpClient: &http.Client{
			// No global timeout — large contexts can take minutes; per-call
			// control belongs to the caller's context.
			Transport: &http.Transport{
				MaxIdleConns:          10,
				MaxIdleConnsPerHost:   5,
				IdleConnTimeout:       120 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 180 * time.Second,
			},
		},
		logger: logger.With("component", "llm", "provider", provider),
	}
}

// detectProvider infers the provider from the base URL.
func detectProvider(baseURL string) string {
	switch {
	case strings.Contains(baseURL, "openai.com"):
		return "openai"
	case strings.Contains(baseURL, "openrouter.ai"):
		return "openrouter"
	case strings.Contains(baseURL, "api.groq.com"):
		return "groq"
	case strings.Contains(baseURL, "mistral.ai"):
		return "mistral"
	case strings.Contains(baseURL, "api.x.ai"):
		return "xai"
	case strings.Contains(baseURL, "localhost:11434"),
		strings.Contains(baseURL, "127.0.0.1:11434"),
		strings.Contains(baseURL, "ollama"):
		return "ollama"
	default:
		return "openai" // assume OpenAI-compatible
	}
}

// chatEndpoint returns the chat completions URL.
func (c *Client) chatEndpoint() string {
	return c.baseURL + "/chat/completions"
}

// supportsJSONMode reports whether the provider accepts response_format.
func (c *Client) supportsJSONMode() bool {
	switch c.provider {
	case "openai", "openrouter", "groq", "mistral", "ollama":
		return true
	default:
		return false
	}
}

// Complete sends the assembled request and returns the structured reply.
// An HTTP-level or error-body failure is returned as *APIError; a reply
// with no choices is ErrEmptyResponse.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	reqBody := chatRequest{
		Model:    c.model,
		Messages: toWireMessages(req.Messages),
	}
	if len(req.Tools) > 0 {
		reqBody.Tools = req.Tools
	}
	if req.Temperature > 0 {
		t := req.Temperature
		reqBody.Temperature = &t
	}
	if req.MaxTokens > 0 {
		m := req.MaxTokens
		reqBody.MaxTokens = &m
	}
	// Structured output cannot be combined with tool definitions: providers
	// reject json_object when the model may emit tool calls.
	if req.JSONMode && len(req.Tools) == 0 && c.supportsJSONMode() {
		reqBody.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.chatEndpoint(), bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	c.logger.Debug("sending chat completion",
		"model", c.model,
		"messages", len(req.Messages),
		"tools", len(req.Tools),
	)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("API error",
			"model", c.model,
			"status", resp.StatusCode,
			"body", truncate(string(respBody), 500),
		)
		return nil, &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}

	if chatResp.Error != nil {
		return nil, &APIError{Message: chatResp.Error.Message}
	}
	if len(chatResp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	choice := chatResp.Choices[0]

	c.logger.Info("chat completion done",
		"model", c.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", chatResp.Usage.PromptTokens,
		"completion_tokens", chatResp.Usage.CompletionTokens,
		"finish_reason", choice.FinishReason,
		"tool_calls", len(choice.Message.ToolCalls),
	)

	return &Response{
		Content:      strings.TrimSpace(choice.Message.Content),
		ToolCalls:    choice.Message.ToolCalls,
		FinishReason: choice.FinishReason,
		Usage: Usage{
			PromptTokens:     chatResp.Usage.PromptTokens,
			CompletionTokens: chatResp.Usage.CompletionTokens,
			TotalTokens:      chatResp.Usage.TotalTokens,
		},
	}, nil
}

// toWireMessages converts conversation turns to the OpenAI wire shape.
// encoding/json escapes quotes, backslashes, newlines, and control
// characters, so free text embeds safely in the transport payload.
func toWireMessages(turns []Turn) []chatMessage {
	msgs := make([]chatMessage, 0, len(turns))
	for _, t := range turns {
		msgs = append(msgs, chatMessage{
			Role:       string(t.Role),
			Content:    t.Content,
			ToolCalls:  t.ToolCalls,
			ToolCallID: t.ToolCallID,
		})
	}
	return msgs
}

// truncate shortens s to max bytes, appending an ellipsis marker.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
