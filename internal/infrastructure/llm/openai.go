package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"BillScanner/internal/ports"
)

// ErrEmptyCompletion means the API answered without any choice or content.
var ErrEmptyCompletion = errors.New("completion has no content")

// Options configures the chat-completion endpoint.
type Options struct {
	APIKey  string
	BaseURL string
}

// OpenAIClient implements ports.ChatClient over go-openai.
type OpenAIClient struct {
	client *openai.Client
}

var _ ports.ChatClient = (*OpenAIClient)(nil)

// NewOpenAIClient routes every call through doer, normally the rate-limited client.
func NewOpenAIClient(opts Options, doer openai.HTTPDoer) *OpenAIClient {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	if doer != nil {
		cfg.HTTPClient = doer
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg)}
}

// Complete sends one system and one user message at temperature 0.
func (c *OpenAIClient) Complete(ctx context.Context, model, system, user string) (string, error) {
	if c == nil || c.client == nil {
		return "", fmt.Errorf("openai client is nil")
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		// zero is dropped by omitempty, the smallest float is sent as 0
		Temperature: math.SmallestNonzeroFloat32,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion %s: %w", model, err)
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", ErrEmptyCompletion
	}
	return resp.Choices[0].Message.Content, nil
}
