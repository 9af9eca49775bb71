// Package completion wraps the external chat completion service behind a
// small interface so the conversation orchestrator can be tested without
// network access.
package completion

import (
	"context"
	"fmt"

	openai "github.com/meguminnnnnnnnn/go-openai"

	"github.com/yann6182/Projet-chat-back/internal/config"
)

// Message is one turn of the prompt sent to the completion service.
type Message struct {
	Role    string
	Content string
}

// Client generates a completion from an ordered list of messages.
type Client interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// OpenAIClient talks to any OpenAI-compatible chat completion endpoint
// (the production deployment points it at Mistral's API).
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient creates a completion client from configuration.
func NewOpenAIClient(cfg config.CompletionConfig) *OpenAIClient {
	c := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		c.BaseURL = cfg.BaseURL
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(c),
		model:  cfg.Model,
	}
}

// Complete sends the messages and returns the first choice's content.
func (c *OpenAIClient) Complete(ctx context.Context, messages []Message) (string, error) {
	req := openai.ChatCompletionRequest{Model: c.model}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

var _ Client = (*OpenAIClient)(nil)
