// Package completion provides the optional text generation backend
// used to rephrase advisory labels. Nothing in the decision paths
// depends on it; every caller must tolerate its absence.
package completion

import (
	"context"
	"fmt"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
)

// DefaultModel is used when no model is configured.
const DefaultModel = goopenai.GPT4oMini

// Config holds provider settings.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// OpenAIProvider generates short completions via the OpenAI chat
// API.
type OpenAIProvider struct {
	client  *goopenai.Client
	model   string
	timeout time.Duration
}

// NewOpenAIProvider creates a provider.
func NewOpenAIProvider(cfg Config) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("completion: API key is required")
	}
	clientConfig := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &OpenAIProvider{
		client:  goopenai.NewClientWithConfig(clientConfig),
		model:   model,
		timeout: timeout,
	}, nil
}

// Generate returns a single completion for the prompt.
func (p *OpenAIProvider) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model: p.model,
		Messages: []goopenai.ChatCompletionMessage{
			{
				Role:    goopenai.ChatMessageRoleSystem,
				Content: "You rewrite internal banking support labels into short human-readable phrases. Reply with the phrase only.",
			},
			{
				Role:    goopenai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		MaxTokens:   64,
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("completion: empty response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
