package chat

import (
	"context"

	"github.com/bodhiapp/chat-core/internal/domain/conversation"
)

// Delta is one incremental chunk of a streaming completion.
type Delta struct {
	Content          string
	ReasoningContent string
}

// CompletionMessage is one turn of history sent to the completion
// endpoint.
type CompletionMessage struct {
	Role    conversation.Role
	Content string
}

// GenerationParams are the sampling parameters carried on every
// completion request.
type GenerationParams struct {
	Temperature      float64 `json:"temperature"`
	TopP             float64 `json:"top_p"`
	TopK             int     `json:"top_k"`
	MinP             float64 `json:"min_p"`
	TypP             float64 `json:"typ_p"`
	MaxTokens        int     `json:"max_tokens"`
	RepeatLastN      int     `json:"repeat_last_n"`
	RepeatPenalty    float64 `json:"repeat_penalty"`
	PresencePenalty  float64 `json:"presence_penalty"`
	FrequencyPenalty float64 `json:"frequency_penalty"`
}

// CompletionRequest is a full streaming completion request: the ordered
// history (already prefixed with a system message when one is
// configured), the model to use and the generation parameters.
type CompletionRequest struct {
	Model    string
	Messages []CompletionMessage
	Params   GenerationParams
}

// CompletionClient is the external collaborator that produces streamed
// assistant output and lists available models. Streaming must honor ctx
// cancellation; onDelta returning an error stops the stream.
//
// Implementations map GenerationParams onto their wire format; fields
// the endpoint's protocol has no slot for (the llama.cpp extras top_k,
// min_p, typ_p, repeat_last_n and repeat_penalty on a plain OpenAI
// endpoint) are dropped rather than guessed at.
type CompletionClient interface {
	StreamCompletion(ctx context.Context, req CompletionRequest, onDelta func(Delta) error) error
	ListModels(ctx context.Context) ([]string, error)
}
