// Package openai_compat talks to OpenAI-compatible chat completion APIs, which
// covers Gemini, Groq, Mistral and OpenAI itself.
package openai_compat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"askthemall/internal/providers"
)

const (
	GeminiBaseURL  = "https://generativelanguage.googleapis.com/v1beta/openai"
	GroqBaseURL    = "https://api.groq.com/openai/v1"
	MistralBaseURL = "https://api.mistral.ai/v1"
)

type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	HTTPClient  *http.Client
	MaxRetries  int
	BackoffBase time.Duration
}

type Client struct {
	cfg Config
	api *openai.Client
}

func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 400 * time.Millisecond
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if base := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/"); base != "" {
		oc.BaseURL = base
	}
	oc.HTTPClient = cfg.HTTPClient
	return &Client{cfg: cfg, api: openai.NewClientWithConfig(oc)}
}

var _ providers.Completer = (*Client)(nil)

func (c *Client) Complete(ctx context.Context, messages []providers.Message) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:    c.cfg.Model,
		Messages: toChatMessages(messages),
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		text, retry, err := c.callOnce(ctx, req)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !retry || attempt == c.cfg.MaxRetries {
			break
		}
		backoff := c.cfg.BackoffBase * (1 << attempt)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
	}
	return "", lastErr
}

func (c *Client) callOnce(ctx context.Context, req openai.ChatCompletionRequest) (text string, retry bool, err error) {
	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return "", false, ctx.Err()
		}
		return "", isTemporary(err), fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", false, fmt.Errorf("empty choices in chat completion response")
	}
	content := resp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", false, fmt.Errorf("missing message content in chat completion response")
	}
	return content, false, nil
}

func isTemporary(err error) bool {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	default:
		return true
	}
	return status >= 500 || status == http.StatusTooManyRequests
}

func toChatMessages(messages []providers.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := openai.ChatMessageRoleUser
		if m.Role == providers.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}
