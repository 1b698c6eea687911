package oracle

import (
	"context"
	"fmt"
	"strings"

	"codeframe/internal/logging"

	"google.golang.org/genai"
)

// GeminiClient implements Client on the Google GenAI SDK.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// GeminiConfig holds configuration for the Gemini oracle client.
type GeminiConfig struct {
	APIKey string
	Model  string
}

// DefaultGeminiConfig returns sensible defaults.
func DefaultGeminiConfig(apiKey string) GeminiConfig {
	return GeminiConfig{
		APIKey: apiKey,
		Model:  "gemini-2.5-flash",
	}
}

// NewGeminiClient creates a new Gemini oracle client.
func NewGeminiClient(apiKey string) (*GeminiClient, error) {
	return NewGeminiClientWithConfig(DefaultGeminiConfig(apiKey))
}

// NewGeminiClientWithConfig creates a new Gemini oracle client with custom
// config.
func NewGeminiClientWithConfig(config GeminiConfig) (*GeminiClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}

	model := strings.TrimSpace(config.Model)
	if model == "" {
		model = "gemini-2.5-flash"
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: config.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{client: client, model: model}, nil
}

// Classify sends one question group to Gemini and parses the JSON reply.
func (c *GeminiClient) Classify(ctx context.Context, req ClassificationRequest) (*ClassificationResult, error) {
	timer := logging.StartTimer(logging.CategoryOracle, "GeminiClient.Classify")
	defer timer.Stop()

	prompt, err := BuildClassifyPrompt(req)
	if err != nil {
		return nil, err
	}

	logging.OracleDebug("Classify group type=%s columns=%d", req.QuestionType, len(req.Columns))

	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}

	temperature := float32(0.1)
	result, err := c.client.Models.GenerateContent(ctx, c.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(classifySystemPrompt, genai.RoleUser),
		Temperature:       &temperature,
		ResponseMIMEType:  "application/json",
	})
	if err != nil {
		return nil, fmt.Errorf("Gemini classify failed: %w", err)
	}

	text := result.Text()
	if text == "" {
		return nil, fmt.Errorf("no completion returned")
	}

	return ParseResult(text)
}

// Summarize sends a free-text prompt and returns the completion verbatim.
func (c *GeminiClient) Summarize(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}

	result, err := c.client.Models.GenerateContent(ctx, c.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("Gemini summarize failed: %w", err)
	}

	text := strings.TrimSpace(result.Text())
	if text == "" {
		return "", fmt.Errorf("no completion returned")
	}
	return text, nil
}

// GetModel returns the current model.
func (c *GeminiClient) GetModel() string {
	return c.model
}
