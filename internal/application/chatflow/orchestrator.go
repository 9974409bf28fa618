// Package chatflow binds the in-memory chat session to persisted
// conversation records. It is the only place that decides when a
// conversation record is created.
package chatflow

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/bodhiapp/chat-core/internal/domain/auth"
	"github.com/bodhiapp/chat-core/internal/domain/chat"
	"github.com/bodhiapp/chat-core/internal/domain/conversation"
	"github.com/bodhiapp/chat-core/internal/infrastructure/logger"
	"github.com/bodhiapp/chat-core/internal/utils/apperrors"
)

// NoticeFunc receives non-fatal, user-visible notices such as the
// quota-cleanup signal. It must not block.
type NoticeFunc func(text string)

// Orchestrator drives the active-conversation state machine:
// none --SendMessage--> active(id); active --StartNewConversation/
// Logout--> none; any --LoadConversation(id')--> active(id').
type Orchestrator struct {
	session  *chat.Session
	convs    *conversation.Service
	identity auth.Identity
	notify   NoticeFunc
	log      zerolog.Logger

	mu            sync.Mutex
	currentConvID string
	loading       bool
}

// NewOrchestrator composes the session and persistence service. notify
// may be nil when the host has no notice surface.
func NewOrchestrator(session *chat.Session, convs *conversation.Service, identity auth.Identity, notify NoticeFunc) *Orchestrator {
	return &Orchestrator{
		session:  session,
		convs:    convs,
		identity: identity,
		notify:   notify,
		log:      logger.For("chatflow"),
	}
}

// CurrentConversationID returns the active conversation id, or "" when
// the session is unbound.
func (o *Orchestrator) CurrentConversationID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.currentConvID
}

// IsLoading reports whether a stored conversation is being hydrated.
func (o *Orchestrator) IsLoading() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.loading
}

// Session exposes the in-memory session for rendering.
func (o *Orchestrator) Session() *chat.Session {
	return o.session
}

// SendMessage persists the user turn (creating the conversation lazily on
// the first send), streams the completion, and persists the assistant
// turn once streaming has completed. Unauthenticated sends drive the
// in-memory session only.
func (o *Orchestrator) SendMessage(ctx context.Context, prompt string) error {
	userID := o.identity.UserID()

	// The no-model rejection must fire before any record is created,
	// otherwise an orphaned one-message conversation is left behind.
	if o.session.SelectedModel() == "" {
		return o.session.SendMessage(ctx, prompt)
	}

	if o.identity.IsAuthenticated() {
		convID, err := o.ensureConversation(ctx, userID, prompt)
		if err != nil {
			return err
		}
		userMsg := conversation.Message{
			Role:    conversation.RoleUser,
			Content: prompt,
			Model:   o.session.SelectedModel(),
		}
		if err := o.persist(ctx, userID, convID, userMsg); err != nil {
			return err
		}
	}

	if err := o.session.SendMessage(ctx, prompt); err != nil {
		return err
	}

	return o.persistCompletedAssistant(ctx, userID)
}

// ensureConversation returns the active conversation id, creating the
// record on first send with a title derived from the prompt.
func (o *Orchestrator) ensureConversation(ctx context.Context, userID, prompt string) (string, error) {
	o.mu.Lock()
	convID := o.currentConvID
	o.mu.Unlock()
	if convID != "" {
		return convID, nil
	}

	title := conversation.GenerateConversationTitle(prompt)
	conv, err := o.convs.CreateConversation(ctx, userID, title)
	if err != nil {
		return "", o.userFacing(err, "Could not save this conversation")
	}

	o.mu.Lock()
	o.currentConvID = conv.ID
	o.mu.Unlock()
	return conv.ID, nil
}

// persist writes one message, surfacing the quota-cleanup signal as a
// notice instead of an error.
func (o *Orchestrator) persist(ctx context.Context, userID, convID string, msg conversation.Message) error {
	result, err := o.convs.SaveMessage(ctx, userID, convID, msg)
	if err != nil {
		return o.userFacing(err, "Could not save your message")
	}
	if result.EvictedConversations > 0 && o.notify != nil {
		o.notify("Freed up space by removing old conversations")
	}
	return nil
}

// persistCompletedAssistant writes the assistant turn after the stream
// has finished. This is the sole point where assistant output reaches
// storage; failed placeholders (per-message error set) are not persisted.
func (o *Orchestrator) persistCompletedAssistant(ctx context.Context, userID string) error {
	o.mu.Lock()
	convID := o.currentConvID
	o.mu.Unlock()
	if convID == "" || !o.identity.IsAuthenticated() {
		return nil
	}

	msgs := o.session.Messages()
	if len(msgs) == 0 {
		return nil
	}
	last := msgs[len(msgs)-1]
	if last.Role != conversation.RoleAssistant || last.Err != nil {
		return nil
	}

	assistantMsg := conversation.Message{
		Role:    conversation.RoleAssistant,
		Content: last.Content,
		Model:   last.Model,
	}
	if last.ReasoningContent != "" {
		assistantMsg.Extra = map[string]any{"reasoning_content": last.ReasoningContent}
	}
	return o.persist(ctx, userID, convID, assistantMsg)
}

// RetryMessage resends the user prompt behind the assistant turn at
// index and persists the fresh answer once the stream completes. The
// user turn was already stored by the send that failed, so only the
// assistant turn is written.
func (o *Orchestrator) RetryMessage(ctx context.Context, index int) error {
	if err := o.session.RetryMessage(ctx, index); err != nil {
		return err
	}
	return o.persistCompletedAssistant(ctx, o.identity.UserID())
}

// RegenerateLastMessage replaces the last assistant turn. The stored row
// is dropped up front so the regenerated answer takes its place instead
// of piling up next to it.
func (o *Orchestrator) RegenerateLastMessage(ctx context.Context) error {
	userID := o.identity.UserID()
	if o.identity.IsAuthenticated() {
		if convID := o.CurrentConversationID(); convID != "" {
			if err := o.dropStoredTrailingAssistant(ctx, userID, convID); err != nil {
				return err
			}
		}
	}
	if err := o.session.RegenerateLastMessage(ctx); err != nil {
		return err
	}
	return o.persistCompletedAssistant(ctx, userID)
}

// dropStoredTrailingAssistant removes the stored assistant row a
// regeneration is about to replace. A conversation ending on a user row
// (the previous stream failed) has nothing to drop.
func (o *Orchestrator) dropStoredTrailingAssistant(ctx context.Context, userID, convID string) error {
	msgs, err := o.convs.LoadMessages(ctx, userID, convID)
	if err != nil {
		return o.userFacing(err, "Could not load that conversation")
	}
	if len(msgs) == 0 {
		return nil
	}
	last := msgs[len(msgs)-1]
	if last.Role != conversation.RoleAssistant {
		return nil
	}
	if err := o.convs.DeleteMessageCascade(ctx, userID, convID, last.ID); err != nil {
		return o.userFacing(err, "Could not replace the previous answer")
	}
	return nil
}

// LoadConversation replaces the session's message list with the stored
// conversation and makes it current.
func (o *Orchestrator) LoadConversation(ctx context.Context, id string) error {
	o.mu.Lock()
	o.loading = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.loading = false
		o.mu.Unlock()
	}()

	msgs, err := o.convs.LoadMessages(ctx, o.identity.UserID(), id)
	if err != nil {
		return o.userFacing(err, "Could not load that conversation")
	}

	session := make([]chat.SessionMessage, 0, len(msgs))
	for _, m := range msgs {
		session = append(session, chat.SessionMessage{
			ID:               m.ID,
			Role:             m.Role,
			Content:          m.Content,
			ReasoningContent: m.ReasoningContent(),
			Model:            m.Model,
		})
	}
	o.session.SetMessages(session)

	o.mu.Lock()
	o.currentConvID = id
	o.mu.Unlock()
	return nil
}

// StartNewConversation clears the in-memory session and unbinds the
// current id. No record is created until a message is actually sent.
func (o *Orchestrator) StartNewConversation() {
	o.session.ClearMessages()
	o.mu.Lock()
	o.currentConvID = ""
	o.mu.Unlock()
}

// DeleteConversation removes a stored conversation; deleting the active
// one also resets the session.
func (o *Orchestrator) DeleteConversation(ctx context.Context, id string) error {
	if err := o.convs.DeleteConversation(ctx, o.identity.UserID(), id); err != nil {
		return o.userFacing(err, "Could not delete that conversation")
	}
	if o.CurrentConversationID() == id {
		o.StartNewConversation()
	}
	return nil
}

// UpdateMessage edits a stored message in place and refreshes the
// session so the edited content is what the user sees.
func (o *Orchestrator) UpdateMessage(ctx context.Context, messageID, content string) error {
	convID := o.CurrentConversationID()
	if convID == "" {
		return apperrors.New(apperrors.LayerApplication, apperrors.KindValidation, "no active conversation", nil)
	}
	if err := o.convs.UpdateMessage(ctx, o.identity.UserID(), convID, messageID, content); err != nil {
		return o.userFacing(err, "Could not save your edit")
	}
	return o.LoadConversation(ctx, convID)
}

// DeleteMessageCascade removes a stored message and everything after it,
// then refreshes the session.
func (o *Orchestrator) DeleteMessageCascade(ctx context.Context, messageID string) error {
	convID := o.CurrentConversationID()
	if convID == "" {
		return apperrors.New(apperrors.LayerApplication, apperrors.KindValidation, "no active conversation", nil)
	}
	if err := o.convs.DeleteMessageCascade(ctx, o.identity.UserID(), convID, messageID); err != nil {
		return o.userFacing(err, "Could not delete those messages")
	}
	return o.LoadConversation(ctx, convID)
}

// OnLogin loads the user's most recently modified conversation when the
// session is not already bound to one.
func (o *Orchestrator) OnLogin(ctx context.Context) error {
	if o.CurrentConversationID() != "" {
		return nil
	}
	convs, err := o.convs.ListConversations(ctx, o.identity.UserID())
	if err != nil {
		return o.userFacing(err, "Could not load your conversations")
	}
	if len(convs) == 0 {
		return nil
	}
	latest := convs[0]
	for _, c := range convs[1:] {
		if c.LastModified.After(latest.LastModified) {
			latest = c
		}
	}
	return o.LoadConversation(ctx, latest.ID)
}

// OnLogout clears all in-memory state. Persisted data is untouched.
func (o *Orchestrator) OnLogout() {
	o.session.Reset()
	o.mu.Lock()
	o.currentConvID = ""
	o.mu.Unlock()
}

// userFacing logs the raw failure and returns an error whose message is
// presentable to the user, preserving the original classification and
// trace ID.
func (o *Orchestrator) userFacing(err error, message string) error {
	o.log.Error().Err(err).Msg(message)
	return apperrors.Wrap(apperrors.LayerApplication, err, message)
}
