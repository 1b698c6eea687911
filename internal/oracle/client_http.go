package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"codeframe/internal/logging"
)

// HTTPClient implements Client against any OpenAI-compatible
// chat-completions endpoint.
type HTTPClient struct {
	apiKey      string
	baseURL     string
	model       string
	maxRetries  int
	minInterval time.Duration
	httpClient  *http.Client
	mu          sync.Mutex
	lastRequest time.Time
}

// HTTPConfig holds configuration for the HTTP oracle client.
type HTTPConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	MaxRetries  int
	MinInterval time.Duration
}

// DefaultHTTPConfig returns sensible defaults.
func DefaultHTTPConfig(apiKey string) HTTPConfig {
	return HTTPConfig{
		APIKey:      apiKey,
		BaseURL:     "https://api.openai.com/v1",
		Model:       "gpt-4o-mini",
		Timeout:     120 * time.Second,
		MaxRetries:  3,
		MinInterval: 600 * time.Millisecond,
	}
}

// NewHTTPClient creates a new HTTP oracle client with default config.
func NewHTTPClient(apiKey string) *HTTPClient {
	return NewHTTPClientWithConfig(DefaultHTTPConfig(apiKey))
}

// NewHTTPClientWithConfig creates a new HTTP oracle client with custom config.
func NewHTTPClientWithConfig(config HTTPConfig) *HTTPClient {
	maxRetries := config.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &HTTPClient{
		apiKey:      config.APIKey,
		baseURL:     strings.TrimSuffix(config.BaseURL, "/"),
		model:       config.Model,
		maxRetries:  maxRetries,
		minInterval: config.MinInterval,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// chatRequest represents the API request structure.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

// chatMessage represents a message in the conversation.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse represents the API response structure.
type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// Classify sends one question group to the oracle and parses the reply.
func (c *HTTPClient) Classify(ctx context.Context, req ClassificationRequest) (*ClassificationResult, error) {
	timer := logging.StartTimer(logging.CategoryOracle, "HTTPClient.Classify")
	defer timer.Stop()

	prompt, err := BuildClassifyPrompt(req)
	if err != nil {
		return nil, err
	}

	raw, err := c.complete(ctx, classifySystemPrompt, prompt)
	if err != nil {
		return nil, err
	}

	return ParseResult(raw)
}

// Summarize sends a free-text prompt and returns the completion verbatim.
func (c *HTTPClient) Summarize(ctx context.Context, prompt string) (string, error) {
	return c.complete(ctx, "", prompt)
}

// complete sends a chat completion with an optional system message.
func (c *HTTPClient) complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("API key not configured")
	}

	// Pacing: keep a minimum interval between requests to respect external
	// rate limits.
	c.mu.Lock()
	if c.minInterval > 0 {
		elapsed := time.Since(c.lastRequest)
		if elapsed < c.minInterval {
			time.Sleep(c.minInterval - elapsed)
		}
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()

	messages := make([]chatMessage, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: userPrompt})

	reqBody := chatRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   8192,
		Temperature: 0.1, // Low temperature for structured output
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	// Retry loop for 429 and transient transport errors
	var lastErr error
	for i := 0; i <= c.maxRetries; i++ {
		if i > 0 {
			// Exponential backoff: 1s, 2s, 4s
			select {
			case <-time.After(time.Duration(1<<uint(i-1)) * time.Second):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
		if err != nil {
			return "", fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limit exceeded (429)")
			continue
		}

		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
		}

		var chatResp chatResponse
		if err := json.Unmarshal(body, &chatResp); err != nil {
			return "", fmt.Errorf("failed to parse response: %w", err)
		}

		if chatResp.Error != nil {
			return "", fmt.Errorf("API error: %s", chatResp.Error.Message)
		}

		if len(chatResp.Choices) == 0 {
			return "", fmt.Errorf("no completion returned")
		}

		return strings.TrimSpace(chatResp.Choices[0].Message.Content), nil
	}

	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}

// SetModel changes the model used for completions.
func (c *HTTPClient) SetModel(model string) {
	c.model = model
}

// GetModel returns the current model.
func (c *HTTPClient) GetModel() string {
	return c.model
}
