package conversation

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/bodhiapp/chat-core/internal/infrastructure/logger"
	"github.com/bodhiapp/chat-core/internal/utils/apperrors"
	"github.com/bodhiapp/chat-core/internal/utils/functional"
	"github.com/bodhiapp/chat-core/internal/utils/idgen"
)

// QuotaEvictionBatch is how many of the user's oldest unpinned
// conversations are removed when a write hits the storage quota.
const QuotaEvictionBatch = 3

// Service owns all mutations and scoped reads over conversations and
// messages: per-user isolation, cascade consistency, pin ordering and
// quota-exceeded recovery.
type Service struct {
	repo Repository
	log  zerolog.Logger
}

// NewService creates a persistence service over the given repository.
func NewService(repo Repository) *Service {
	return &Service{
		repo: repo,
		log:  logger.For("persistence"),
	}
}

// ===============================================
// Conversation Operations
// ===============================================

// CreateConversation creates a conversation owned by userID. Fails with
// an unauthenticated error when no user identity is present.
func (s *Service) CreateConversation(ctx context.Context, userID, name string) (*Conversation, error) {
	if userID == "" {
		return nil, apperrors.New(apperrors.LayerDomain, apperrors.KindUnauthenticated, "cannot create conversation without a user", nil)
	}

	id, err := idgen.GenerateSecureID("conv", 16)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.LayerDomain, err, "failed to generate conversation ID")
	}

	now := time.Now()
	conv := &Conversation{
		ID:           id,
		UserID:       userID,
		Name:         name,
		Pinned:       false,
		LastModified: now,
		CreatedAt:    now,
	}
	if err := s.repo.CreateConversation(ctx, conv); err != nil {
		return nil, apperrors.Wrap(apperrors.LayerDomain, err, "failed to create conversation")
	}
	return conv, nil
}

// GetConversation retrieves a conversation owned by userID. A foreign or
// unknown id behaves identically: not found.
func (s *Service) GetConversation(ctx context.Context, userID, id string) (*Conversation, error) {
	conv, err := s.repo.GetConversation(ctx, id)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.LayerDomain, err, "failed to load conversation")
	}
	if conv == nil || conv.UserID != userID {
		return nil, apperrors.New(apperrors.LayerDomain, apperrors.KindNotFound, "conversation not found", nil)
	}
	return conv, nil
}

// DeleteConversation transactionally removes the conversation and all of
// its messages. It never leaves orphaned messages behind.
func (s *Service) DeleteConversation(ctx context.Context, userID, id string) error {
	if _, err := s.GetConversation(ctx, userID, id); err != nil {
		return err
	}
	if err := s.repo.DeleteConversationCascade(ctx, id); err != nil {
		return apperrors.Wrap(apperrors.LayerDomain, err, "failed to delete conversation")
	}
	return nil
}

// RenameConversation sets a new display name and bumps recency.
func (s *Service) RenameConversation(ctx context.Context, userID, id, name string) error {
	if _, err := s.GetConversation(ctx, userID, id); err != nil {
		return err
	}
	now := time.Now()
	update := ConversationUpdate{Name: &name, LastModified: &now}
	if err := s.repo.UpdateConversation(ctx, id, update); err != nil {
		return apperrors.Wrap(apperrors.LayerDomain, err, "failed to rename conversation")
	}
	return nil
}

// TogglePin flips the pinned flag and returns the new state. Pinning does
// not bump lastModified: it reorders by the pinned-group rule only.
func (s *Service) TogglePin(ctx context.Context, userID, id string) (bool, error) {
	conv, err := s.GetConversation(ctx, userID, id)
	if err != nil {
		return false, err
	}
	pinned := !conv.Pinned
	if err := s.repo.UpdateConversation(ctx, id, ConversationUpdate{Pinned: &pinned}); err != nil {
		return false, apperrors.Wrap(apperrors.LayerDomain, err, "failed to toggle pin")
	}
	return pinned, nil
}

// ListConversations returns all conversations owned by userID, pinned
// ones first, each group ordered by lastModified descending.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]*Conversation, error) {
	if userID == "" {
		return nil, apperrors.New(apperrors.LayerDomain, apperrors.KindUnauthenticated, "cannot list conversations without a user", nil)
	}
	convs, err := s.repo.ListConversationsByUser(ctx, userID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.LayerDomain, err, "failed to list conversations")
	}
	sort.SliceStable(convs, func(i, j int) bool {
		if convs[i].Pinned != convs[j].Pinned {
			return convs[i].Pinned
		}
		return convs[i].LastModified.After(convs[j].LastModified)
	})
	return convs, nil
}

// ===============================================
// Message Operations
// ===============================================

// SaveMessageResult reports the stored message id and, when the quota
// recovery protocol ran, how many old conversations were evicted.
type SaveMessageResult struct {
	MessageID            string
	EvictedConversations int
}

// SaveMessage inserts a message row and bumps the owning conversation's
// lastModified, inside one transaction. When the write fails because the
// storage quota is exhausted, the service evicts up to QuotaEvictionBatch
// of the user's oldest unpinned conversations and retries once; a
// successful retry is reported through EvictedConversations rather than
// as an error.
func (s *Service) SaveMessage(ctx context.Context, userID, convID string, msg Message) (*SaveMessageResult, error) {
	if userID == "" {
		return nil, apperrors.New(apperrors.LayerDomain, apperrors.KindUnauthenticated, "cannot save message without a user", nil)
	}
	if _, err := s.GetConversation(ctx, userID, convID); err != nil {
		return nil, err
	}

	if msg.ID == "" {
		id, err := idgen.GenerateSecureID("msg", 16)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.LayerDomain, err, "failed to generate message ID")
		}
		msg.ID = id
	}
	msg.ConvID = convID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	write := func(ctx context.Context) error {
		return s.repo.InTransaction(ctx, func(txCtx context.Context) error {
			if err := s.repo.CreateMessage(txCtx, &msg); err != nil {
				return err
			}
			now := time.Now()
			return s.repo.UpdateConversation(txCtx, convID, ConversationUpdate{LastModified: &now})
		})
	}

	err := write(ctx)
	if err == nil {
		return &SaveMessageResult{MessageID: msg.ID}, nil
	}
	if !apperrors.IsQuotaExceeded(err) {
		return nil, apperrors.Wrap(apperrors.LayerDomain, err, "failed to save message")
	}

	evicted, evictErr := s.evictOldestUnpinned(ctx, userID, convID)
	if evictErr != nil {
		s.log.Error().Err(evictErr).Str("conv_id", convID).Msg("quota eviction failed")
		return nil, apperrors.Wrap(apperrors.LayerDomain, err, "storage quota exhausted")
	}
	s.log.Info().Int("evicted", evicted).Str("user_id", userID).Msg("evicted old conversations to free storage")

	if retryErr := write(ctx); retryErr != nil {
		return nil, apperrors.Wrap(apperrors.LayerDomain, retryErr, "failed to save message after freeing storage")
	}
	return &SaveMessageResult{MessageID: msg.ID, EvictedConversations: evicted}, nil
}

// evictOldestUnpinned cascade-deletes up to QuotaEvictionBatch of the
// user's oldest unpinned conversations, never touching the conversation
// currently being written to.
func (s *Service) evictOldestUnpinned(ctx context.Context, userID, keepConvID string) (int, error) {
	convs, err := s.repo.ListConversationsByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	candidates := functional.Filter(convs, func(c *Conversation) bool {
		return !c.Pinned && c.ID != keepConvID
	})
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].LastModified.Before(candidates[j].LastModified)
	})

	evicted := 0
	for _, c := range candidates {
		if evicted >= QuotaEvictionBatch {
			break
		}
		if err := s.repo.DeleteConversationCascade(ctx, c.ID); err != nil {
			return evicted, err
		}
		evicted++
	}
	return evicted, nil
}

// LoadMessages returns the user/assistant rows of a conversation ordered
// by createdAt ascending, with ids and side-channel data intact so the
// in-memory session can be rehydrated exactly.
func (s *Service) LoadMessages(ctx context.Context, userID, convID string) ([]*Message, error) {
	if _, err := s.GetConversation(ctx, userID, convID); err != nil {
		return nil, err
	}
	msgs, err := s.repo.ListMessages(ctx, convID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.LayerDomain, err, "failed to load messages")
	}
	return functional.Filter(msgs, func(m *Message) bool {
		return m.Role == RoleUser || m.Role == RoleAssistant
	}), nil
}

// UpdateMessage replaces a message's content in place and bumps the
// owning conversation's lastModified.
func (s *Service) UpdateMessage(ctx context.Context, userID, convID, messageID, content string) error {
	if _, err := s.GetConversation(ctx, userID, convID); err != nil {
		return err
	}
	return s.repo.InTransaction(ctx, func(txCtx context.Context) error {
		updated, err := s.repo.UpdateMessageContent(txCtx, convID, messageID, content)
		if err != nil {
			return apperrors.Wrap(apperrors.LayerDomain, err, "failed to update message")
		}
		if updated == 0 {
			return apperrors.New(apperrors.LayerDomain, apperrors.KindNotFound, "message not found", nil)
		}
		now := time.Now()
		return s.repo.UpdateConversation(txCtx, convID, ConversationUpdate{LastModified: &now})
	})
}

// messagesFrom returns the ordered slice of messages starting at the
// target message. Count and cascade delete both derive from this single
// scan so the previewed blast radius always matches the deleted set.
func (s *Service) messagesFrom(ctx context.Context, convID, messageID string) ([]*Message, error) {
	msgs, err := s.repo.ListMessages(ctx, convID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.LayerDomain, err, "failed to scan messages")
	}
	for i, m := range msgs {
		if m.ID == messageID {
			return msgs[i:], nil
		}
	}
	return nil, nil
}

// CascadeCount returns how many messages a cascade delete at messageID
// would remove: the target plus every later message in the conversation.
// Returns 0 when the message is not part of the conversation.
func (s *Service) CascadeCount(ctx context.Context, userID, convID, messageID string) (int, error) {
	if _, err := s.GetConversation(ctx, userID, convID); err != nil {
		return 0, err
	}
	tail, err := s.messagesFrom(ctx, convID, messageID)
	if err != nil {
		return 0, err
	}
	return len(tail), nil
}

// DeleteMessageCascade deletes the target message and every later message
// in the same conversation, then bumps lastModified. A message id that is
// not part of the conversation is a no-op.
func (s *Service) DeleteMessageCascade(ctx context.Context, userID, convID, messageID string) error {
	if _, err := s.GetConversation(ctx, userID, convID); err != nil {
		return err
	}
	tail, err := s.messagesFrom(ctx, convID, messageID)
	if err != nil {
		return err
	}
	if len(tail) == 0 {
		return nil
	}
	ids := functional.Map(tail, func(m *Message) string { return m.ID })

	return s.repo.InTransaction(ctx, func(txCtx context.Context) error {
		if err := s.repo.BulkDeleteMessages(txCtx, ids); err != nil {
			return apperrors.Wrap(apperrors.LayerDomain, err, "failed to cascade delete messages")
		}
		now := time.Now()
		return s.repo.UpdateConversation(txCtx, convID, ConversationUpdate{LastModified: &now})
	})
}
