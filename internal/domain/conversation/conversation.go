package conversation

import (
	"context"
	"strings"
	"time"
)

// ===============================================
// Conversation Types
// ===============================================

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Conversation is a named, timestamped, ownable container of ordered
// messages. All reads and mutations are scoped to the owning user.
type Conversation struct {
	ID           string
	UserID       string
	Name         string
	Pinned       bool
	LastModified time.Time
	CreatedAt    time.Time
}

// Message is a single turn inside a conversation. Extra carries
// side-channel data (at minimum "reasoning_content") and must round-trip
// through storage untouched.
type Message struct {
	ID        string
	ConvID    string
	Role      Role
	Content   string
	Extra     map[string]any
	Model     string
	CreatedAt time.Time
}

// ReasoningContent returns the "thinking" side-channel text, if any.
func (m *Message) ReasoningContent() string {
	if m.Extra == nil {
		return ""
	}
	if rc, ok := m.Extra["reasoning_content"].(string); ok {
		return rc
	}
	return ""
}

// ===============================================
// Repository
// ===============================================

// ConversationUpdate describes a partial conversation update. Nil fields
// are left untouched.
type ConversationUpdate struct {
	Name         *string
	Pinned       *bool
	LastModified *time.Time
}

// Repository defines storage operations for conversations and messages.
// Implementations must make DeleteConversationCascade atomic and honor a
// transaction carried in ctx for the remaining write operations.
type Repository interface {
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	UpdateConversation(ctx context.Context, id string, update ConversationUpdate) error
	// DeleteConversationCascade removes the conversation and all of its
	// messages in one transaction.
	DeleteConversationCascade(ctx context.Context, id string) error
	ListConversationsByUser(ctx context.Context, userID string) ([]*Conversation, error)

	CreateMessage(ctx context.Context, msg *Message) error
	// ListMessages returns all messages of a conversation ordered by
	// createdAt ascending, ties broken by insertion order.
	ListMessages(ctx context.Context, convID string) ([]*Message, error)
	// UpdateMessageContent replaces the content of a message belonging to
	// convID and returns the number of rows updated.
	UpdateMessageContent(ctx context.Context, convID, messageID, content string) (int64, error)
	BulkDeleteMessages(ctx context.Context, ids []string) error

	// InTransaction runs fn with a transaction bound to the context it
	// receives; any error rolls the whole write set back.
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// ===============================================
// Title Generation
// ===============================================

// TitleMaxLength is the display-title budget before truncation.
const TitleMaxLength = 50

// GenerateConversationTitle derives a display title from the first user
// message: trimmed, and truncated to TitleMaxLength characters with an
// "..." suffix when it does not fit.
func GenerateConversationTitle(firstMessage string) string {
	title := strings.TrimSpace(firstMessage)
	runes := []rune(title)
	if len(runes) <= TitleMaxLength {
		return title
	}
	return string(runes[:TitleMaxLength]) + "..."
}
