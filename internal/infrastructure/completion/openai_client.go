// Package completion implements the chat.CompletionClient collaborator
// against an OpenAI-compatible endpoint.
package completion

import (
	"context"
	"errors"
	"io"

	"github.com/sashabaranov/go-openai"

	"github.com/bodhiapp/chat-core/internal/domain/chat"
	"github.com/bodhiapp/chat-core/internal/utils/functional"
)

// Client streams chat completions and lists models.
type Client struct {
	api *openai.Client
}

var _ chat.CompletionClient = (*Client)(nil)

// NewClient creates a client for the given OpenAI-compatible base URL.
func NewClient(baseURL, apiKey string) *Client {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	return &Client{api: openai.NewClientWithConfig(cfg)}
}

// StreamCompletion implements chat.CompletionClient. Deltas carry both
// content and reasoning side-channel text; ctx cancellation aborts the
// stream.
func (c *Client) StreamCompletion(ctx context.Context, req chat.CompletionRequest, onDelta func(chat.Delta) error) error {
	stream, err := c.api.CreateChatCompletionStream(ctx, buildRequest(req))
	if err != nil {
		return err
	}
	defer stream.Close()

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			// Surface the caller's cancellation rather than the wrapped
			// transport error it causes.
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content == "" && choice.Delta.ReasoningContent == "" {
				continue
			}
			delta := chat.Delta{
				Content:          choice.Delta.Content,
				ReasoningContent: choice.Delta.ReasoningContent,
			}
			if err := onDelta(delta); err != nil {
				return err
			}
		}
	}
}

// ListModels implements chat.CompletionClient.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	list, err := c.api.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	return functional.Map(list.Models, func(m openai.Model) string {
		return m.ID
	}), nil
}

// buildRequest maps the domain request onto the OpenAI wire shape. Only
// parameters the protocol carries are mapped; llama.cpp-style extras
// (top_k, min_p, repeat_penalty) have no field on this API and are
// dropped here rather than guessed at.
func buildRequest(req chat.CompletionRequest) openai.ChatCompletionRequest {
	messages := functional.Map(req.Messages, func(m chat.CompletionMessage) openai.ChatCompletionMessage {
		return openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		}
	})

	out := openai.ChatCompletionRequest{
		Model:            req.Model,
		Messages:         messages,
		Stream:           true,
		Temperature:      float32(req.Params.Temperature),
		TopP:             float32(req.Params.TopP),
		PresencePenalty:  float32(req.Params.PresencePenalty),
		FrequencyPenalty: float32(req.Params.FrequencyPenalty),
	}
	if req.Params.MaxTokens > 0 {
		out.MaxTokens = req.Params.MaxTokens
	}
	return out
}
