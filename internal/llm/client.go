// Package llm builds the prompts and chat-completion calls for stance
// classification, keyword generation and prompt evolution.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/ajiayi-debug/referencesfinder/internal/auth"
	"github.com/ajiayi-debug/referencesfinder/internal/model"
)

// Chatter is a single-turn chat completion. The evolution engine and the
// query generator depend on this rather than on a concrete client.
type Chatter interface {
	Chat(ctx context.Context, system, user string) (string, error)
}

// Client issues chat completions through the credential broker's shared
// handle. Temperature is fixed by configuration; classification expects
// deterministic sampling (0).
type Client struct {
	broker      *auth.Broker
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
}

// NewClient builds a client bound to the broker.
func NewClient(broker *auth.Broker, cfg model.LLMConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		broker:      broker,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     timeout,
	}
}

// Chat sends one system+user exchange and returns the completion text.
// The client handle is fetched per call; handles are invalid across
// credential refreshes.
func (c *Client) Chat(ctx context.Context, system, user string) (string, error) {
	handle, err := c.broker.Client(ctx)
	if err != nil {
		return "", err
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	}

	resp, err := handle.CreateChatCompletion(ctxWithTimeout, req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in completion")
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
