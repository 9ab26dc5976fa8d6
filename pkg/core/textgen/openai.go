package textgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/vango-go/partyline/pkg/core"
)

const (
	// DefaultOpenAIBaseURL is LM Studio's local server.
	DefaultOpenAIBaseURL = "http://localhost:1234/v1"
	defaultMaxTokens     = 150
)

// OpenAICompat talks to any OpenAI-compatible chat completions endpoint.
type OpenAICompat struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
}

// OpenAIOption configures OpenAICompat.
type OpenAIOption func(*OpenAICompat)

func WithBaseURL(url string) OpenAIOption {
	return func(c *OpenAICompat) {
		if url != "" {
			c.baseURL = url
		}
	}
}

func WithAPIKey(key string) OpenAIOption {
	return func(c *OpenAICompat) { c.apiKey = key }
}

func WithTemperature(t float64) OpenAIOption {
	return func(c *OpenAICompat) { c.temperature = t }
}

func WithMaxTokens(n int) OpenAIOption {
	return func(c *OpenAICompat) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

func WithHTTPClient(client *http.Client) OpenAIOption {
	return func(c *OpenAICompat) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func NewOpenAICompat(model string, opts ...OpenAIOption) *OpenAICompat {
	c := &OpenAICompat{
		baseURL:     DefaultOpenAIBaseURL,
		model:       model,
		temperature: 0.7,
		maxTokens:   defaultMaxTokens,
		httpClient:  &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type chatError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (c *OpenAICompat) Generate(ctx context.Context, system, user string) (string, error) {
	reqBody := chatRequest{
		Model:       c.model,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	if system != "" {
		reqBody.Messages = append(reqBody.Messages, chatMessage{Role: "system", Content: system})
	}
	reqBody.Messages = append(reqBody.Messages, chatMessage{Role: "user", Content: user})

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", core.NewGenerationError("openai", fmt.Errorf("marshal request: %w", err))
	}

	url := strings.TrimRight(c.baseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", core.NewGenerationError("openai", fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", core.NewGenerationError("openai", fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", core.NewGenerationError("openai", fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode >= 400 {
		return "", core.NewGenerationError("openai", parseChatError(resp.StatusCode, respBody))
	}

	var out chatResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", core.NewGenerationError("openai", fmt.Errorf("unmarshal response: %w", err))
	}
	if len(out.Choices) == 0 {
		return "", core.NewGenerationError("openai", errors.New("no choices in response"))
	}
	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return "", core.NewGenerationError("openai", errors.New("empty completion"))
	}
	return text, nil
}

func parseChatError(status int, body []byte) error {
	var e chatError
	if err := json.Unmarshal(body, &e); err == nil && e.Error.Message != "" {
		return fmt.Errorf("status %d: %s", status, e.Error.Message)
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(status)
	}
	return fmt.Errorf("status %d: %s", status, msg)
}
