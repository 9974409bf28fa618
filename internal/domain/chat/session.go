package chat

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/bodhiapp/chat-core/internal/domain/auth"
	"github.com/bodhiapp/chat-core/internal/domain/conversation"
	"github.com/bodhiapp/chat-core/internal/infrastructure/logger"
	"github.com/bodhiapp/chat-core/internal/utils/apperrors"
)

// MessageError is a per-message failure attached to an assistant turn.
type MessageError struct {
	Message   string
	Retryable bool
}

// SessionMessage is one in-memory turn of the active conversation.
type SessionMessage struct {
	ID               string
	Role             conversation.Role
	Content          string
	ReasoningContent string
	Model            string
	Err              *MessageError
}

// Session holds the live, in-memory state of one chat conversation:
// the ordered message list, the streaming flag, the model selection and
// session-level errors. State changes only through explicit commands
// (SendMessage, Stop, Reset, ...), never through background sync.
type Session struct {
	client   CompletionClient
	identity auth.Identity
	log      zerolog.Logger

	mu            sync.Mutex
	messages      []SessionMessage
	streaming     bool
	selectedModel string
	models        []string
	sessionErr    string
	systemMessage string
	params        GenerationParams
	cancelStream  context.CancelFunc

	modelLoad singleflight.Group
}

// NewSession creates a session bound to a completion client and identity
// bridge.
func NewSession(client CompletionClient, identity auth.Identity) *Session {
	return &Session{
		client:   client,
		identity: identity,
		log:      logger.For("chat-session"),
	}
}

// ===============================================
// Accessors
// ===============================================

// Messages returns a copy of the current message list.
func (s *Session) Messages() []SessionMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SessionMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

// IsStreaming reports whether an assistant response is being streamed.
func (s *Session) IsStreaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

// SelectedModel returns the model used for the next send.
func (s *Session) SelectedModel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectedModel
}

// SetSelectedModel changes the model used for the next send.
func (s *Session) SetSelectedModel(model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectedModel = model
}

// Models returns the last loaded model list.
func (s *Session) Models() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.models))
	copy(out, s.models)
	return out
}

// Err returns the session-level error message, or "".
func (s *Session) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionErr
}

// ClearError resets the session-level error.
func (s *Session) ClearError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionErr = ""
}

// SetSystemMessage configures the system prompt prefixed to every
// completion request. Empty disables it.
func (s *Session) SetSystemMessage(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.systemMessage = msg
}

// SetParams configures the generation parameters for future sends.
func (s *Session) SetParams(params GenerationParams) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params = params
}

// SetMessages replaces the in-memory message list wholesale. Used when
// hydrating a stored conversation.
func (s *Session) SetMessages(messages []SessionMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abortLocked()
	s.messages = append([]SessionMessage(nil), messages...)
	s.sessionErr = ""
}

// ===============================================
// Streaming
// ===============================================

// SendMessage appends the user prompt and an assistant placeholder, then
// streams the completion into the placeholder. It blocks until the
// stream finishes, fails or is aborted. Cancellation is silent; an
// auth-shaped failure removes the placeholder and asks for re-login; any
// other failure attaches a retryable error to the placeholder.
func (s *Session) SendMessage(ctx context.Context, prompt string) error {
	s.mu.Lock()
	if s.selectedModel == "" {
		s.sessionErr = "Please select a model first"
		s.mu.Unlock()
		return apperrors.New(apperrors.LayerDomain, apperrors.KindValidation, "no model selected", nil)
	}
	s.abortLocked()
	s.sessionErr = ""
	s.streaming = true

	model := s.selectedModel
	s.messages = append(s.messages,
		SessionMessage{Role: conversation.RoleUser, Content: prompt, Model: model},
		SessionMessage{Role: conversation.RoleAssistant, Model: model},
	)
	req := s.buildRequestLocked()

	streamCtx, cancel := context.WithCancel(ctx)
	s.cancelStream = cancel
	s.mu.Unlock()

	err := s.client.StreamCompletion(streamCtx, req, func(delta Delta) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		last := len(s.messages) - 1
		if last < 0 || s.messages[last].Role != conversation.RoleAssistant {
			return nil
		}
		s.messages[last].Content += delta.Content
		s.messages[last].ReasoningContent += delta.ReasoningContent
		return nil
	})

	aborted := errors.Is(streamCtx.Err(), context.Canceled)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.streaming = false
	s.cancelStream = nil
	cancel()

	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled) || aborted:
		// Intentional abort: keep whatever was accumulated, no error.
		return nil
	case isAuthShaped(err):
		s.dropLastAssistantLocked()
		s.sessionErr = "Your session has expired. Please log in again."
		s.log.Warn().Err(err).Msg("streaming failed with auth error")
		return apperrors.New(apperrors.LayerDomain, apperrors.KindUnauthenticated, s.sessionErr, err)
	default:
		last := len(s.messages) - 1
		if last >= 0 && s.messages[last].Role == conversation.RoleAssistant {
			s.messages[last].Err = &MessageError{Message: err.Error(), Retryable: true}
		}
		s.log.Error().Err(err).Msg("streaming failed")
		return apperrors.New(apperrors.LayerDomain, apperrors.KindExternal, "failed to stream completion", err)
	}
}

// buildRequestLocked assembles the completion request from all messages
// preceding the assistant placeholder, prefixed with the configured
// system message.
func (s *Session) buildRequestLocked() CompletionRequest {
	history := make([]CompletionMessage, 0, len(s.messages))
	if s.systemMessage != "" {
		history = append(history, CompletionMessage{Role: conversation.RoleSystem, Content: s.systemMessage})
	}
	for _, m := range s.messages[:len(s.messages)-1] {
		history = append(history, CompletionMessage{Role: m.Role, Content: m.Content})
	}
	return CompletionRequest{
		Model:    s.selectedModel,
		Messages: history,
		Params:   s.params,
	}
}

// Stop aborts the in-flight stream, if any. The partial assistant
// content accumulated so far stays in the message list.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abortLocked()
}

func (s *Session) abortLocked() {
	if s.cancelStream != nil {
		s.cancelStream()
		s.cancelStream = nil
	}
}

func (s *Session) dropLastAssistantLocked() {
	last := len(s.messages) - 1
	if last >= 0 && s.messages[last].Role == conversation.RoleAssistant {
		s.messages = s.messages[:last]
	}
}

// ===============================================
// Retry / Regenerate
// ===============================================

// RetryMessage re-issues the user prompt preceding the assistant message
// at index. The failed assistant turn and its user turn are dropped and
// the prompt is resent, so the list ends with a single fresh exchange.
func (s *Session) RetryMessage(ctx context.Context, index int) error {
	s.mu.Lock()
	if index <= 0 || index >= len(s.messages) || s.messages[index-1].Role != conversation.RoleUser {
		s.mu.Unlock()
		return apperrors.New(apperrors.LayerDomain, apperrors.KindValidation, "no user message to retry", nil)
	}
	prompt := s.messages[index-1].Content
	s.messages = s.messages[:index-1]
	s.mu.Unlock()

	return s.SendMessage(ctx, prompt)
}

// RegenerateLastMessage drops the last assistant turn and resends the
// user prompt before it.
func (s *Session) RegenerateLastMessage(ctx context.Context) error {
	s.mu.Lock()
	n := len(s.messages)
	if n < 2 || s.messages[n-2].Role != conversation.RoleUser {
		s.mu.Unlock()
		return apperrors.New(apperrors.LayerDomain, apperrors.KindValidation, "nothing to regenerate", nil)
	}
	s.mu.Unlock()
	return s.RetryMessage(ctx, n-1)
}

// ===============================================
// Models
// ===============================================

// LoadModels fetches the available model list. Concurrent calls share a
// single in-flight load. When no model is selected yet, the first
// returned model is selected automatically.
func (s *Session) LoadModels(ctx context.Context) error {
	_, err, _ := s.modelLoad.Do("models", func() (any, error) {
		if !s.identity.IsAuthenticated() {
			s.mu.Lock()
			s.sessionErr = "Please log in to load models"
			s.mu.Unlock()
			return nil, apperrors.New(apperrors.LayerDomain, apperrors.KindUnauthenticated, "not authenticated", nil)
		}

		models, err := s.client.ListModels(ctx)
		if err != nil {
			s.mu.Lock()
			s.sessionErr = "Failed to fetch models"
			s.mu.Unlock()
			s.log.Error().Err(err).Msg("failed to fetch models")
			return nil, apperrors.New(apperrors.LayerDomain, apperrors.KindExternal, "failed to fetch models", err)
		}

		s.mu.Lock()
		s.models = models
		if s.selectedModel == "" && len(models) > 0 {
			s.selectedModel = models[0]
		}
		s.sessionErr = ""
		s.mu.Unlock()
		return nil, nil
	})
	return err
}

// ===============================================
// Lifecycle
// ===============================================

// ClearMessages resets the in-memory message list and error without
// touching persisted data.
func (s *Session) ClearMessages() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abortLocked()
	s.messages = nil
	s.sessionErr = ""
}

// Reset clears all session state on logout: messages, models, selection
// and errors, aborting any in-flight stream.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abortLocked()
	s.messages = nil
	s.models = nil
	s.selectedModel = ""
	s.sessionErr = ""
}

// isAuthShaped reports whether an error looks like an authentication
// failure from the completion endpoint.
func isAuthShaped(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "401") ||
		strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "token")
}
