package dbschema

import (
	"time"

	"gorm.io/datatypes"

	"github.com/bodhiapp/chat-core/internal/domain/conversation"
)

// Conversation represents the stored shape of a conversation.
type Conversation struct {
	ID           string    `gorm:"type:varchar(50);primaryKey"`
	UserID       string    `gorm:"type:varchar(64);index:idx_conversation_user;not null"`
	Name         string    `gorm:"type:varchar(256);not null"`
	Pinned       bool      `gorm:"not null;default:false"`
	LastModified time.Time `gorm:"index;not null"`
	CreatedAt    time.Time

	Messages []Message `gorm:"foreignKey:ConvID"`
}

// Message represents the stored shape of a message. Extra round-trips
// side-channel fields (reasoning_content and future keys) untouched.
type Message struct {
	ID        string            `gorm:"type:varchar(50);primaryKey"`
	ConvID    string            `gorm:"type:varchar(50);index:idx_message_conv_created;not null"`
	Role      string            `gorm:"type:varchar(20);not null"`
	Content   string            `gorm:"type:text"`
	Extra     datatypes.JSONMap `gorm:"type:json"`
	Model     string            `gorm:"type:varchar(128)"`
	CreatedAt time.Time         `gorm:"index:idx_message_conv_created;not null"`

	// Seq breaks createdAt ties deterministically within a conversation.
	Seq uint `gorm:"autoIncrement;uniqueIndex"`
}

// NewSchemaConversation creates a stored row from the domain conversation.
func NewSchemaConversation(c *conversation.Conversation) *Conversation {
	return &Conversation{
		ID:           c.ID,
		UserID:       c.UserID,
		Name:         c.Name,
		Pinned:       c.Pinned,
		LastModified: c.LastModified,
		CreatedAt:    c.CreatedAt,
	}
}

// EtoD converts the stored row to the domain conversation (Entity to Domain).
func (c *Conversation) EtoD() *conversation.Conversation {
	return &conversation.Conversation{
		ID:           c.ID,
		UserID:       c.UserID,
		Name:         c.Name,
		Pinned:       c.Pinned,
		LastModified: c.LastModified,
		CreatedAt:    c.CreatedAt,
	}
}

// NewSchemaMessage creates a stored row from the domain message.
func NewSchemaMessage(m *conversation.Message) *Message {
	return &Message{
		ID:        m.ID,
		ConvID:    m.ConvID,
		Role:      string(m.Role),
		Content:   m.Content,
		Extra:     datatypes.JSONMap(m.Extra),
		Model:     m.Model,
		CreatedAt: m.CreatedAt,
	}
}

// EtoD converts the stored row to the domain message (Entity to Domain).
func (m *Message) EtoD() *conversation.Message {
	return &conversation.Message{
		ID:        m.ID,
		ConvID:    m.ConvID,
		Role:      conversation.Role(m.Role),
		Content:   m.Content,
		Extra:     map[string]any(m.Extra),
		Model:     m.Model,
		CreatedAt: m.CreatedAt,
	}
}
