package conversationrepo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/bodhiapp/chat-core/internal/domain/conversation"
	"github.com/bodhiapp/chat-core/internal/infrastructure/database"
	"github.com/bodhiapp/chat-core/internal/infrastructure/database/dbschema"
	"github.com/bodhiapp/chat-core/internal/infrastructure/database/transaction"
	"github.com/bodhiapp/chat-core/internal/utils/apperrors"
	"github.com/bodhiapp/chat-core/internal/utils/functional"
)

// ConversationGormRepository stores conversations and messages in the
// embedded sqlite database.
type ConversationGormRepository struct {
	db *transaction.Database
}

var _ conversation.Repository = (*ConversationGormRepository)(nil)

func NewConversationGormRepository(db *transaction.Database) conversation.Repository {
	return &ConversationGormRepository{db}
}

// writeError classifies a failed write: storage exhaustion becomes the
// distinguishable quota-exceeded kind, everything else a database error.
func writeError(err error, message string) error {
	if database.IsStorageFull(err) {
		return apperrors.New(apperrors.LayerRepository, apperrors.KindQuotaExceeded, message, err)
	}
	return apperrors.New(apperrors.LayerRepository, apperrors.KindDatabaseError, message, err)
}

// CreateConversation implements conversation.Repository.
func (repo *ConversationGormRepository) CreateConversation(ctx context.Context, conv *conversation.Conversation) error {
	model := dbschema.NewSchemaConversation(conv)
	if err := repo.db.GetDB(ctx).WithContext(ctx).Create(model).Error; err != nil {
		return writeError(err, "failed to create conversation")
	}
	return nil
}

// GetConversation implements conversation.Repository. A missing row
// yields (nil, nil); ownership checks live in the domain service.
func (repo *ConversationGormRepository) GetConversation(ctx context.Context, id string) (*conversation.Conversation, error) {
	var entity dbschema.Conversation
	err := repo.db.GetDB(ctx).WithContext(ctx).
		Where("id = ?", id).
		First(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.New(apperrors.LayerRepository, apperrors.KindDatabaseError, "failed to find conversation", err)
	}
	return entity.EtoD(), nil
}

// UpdateConversation implements conversation.Repository.
func (repo *ConversationGormRepository) UpdateConversation(ctx context.Context, id string, update conversation.ConversationUpdate) error {
	fields := map[string]any{}
	if update.Name != nil {
		fields["name"] = *update.Name
	}
	if update.Pinned != nil {
		fields["pinned"] = *update.Pinned
	}
	if update.LastModified != nil {
		fields["last_modified"] = *update.LastModified
	}
	if len(fields) == 0 {
		return nil
	}
	err := repo.db.GetDB(ctx).WithContext(ctx).
		Model(&dbschema.Conversation{}).
		Where("id = ?", id).
		Updates(fields).Error
	if err != nil {
		return writeError(err, "failed to update conversation")
	}
	return nil
}

// DeleteConversationCascade implements conversation.Repository: messages
// first, then the conversation row, in one transaction so a failure
// leaves no orphans.
func (repo *ConversationGormRepository) DeleteConversationCascade(ctx context.Context, id string) error {
	return repo.db.InTransaction(ctx, func(txCtx context.Context) error {
		tx := repo.db.GetDB(txCtx).WithContext(txCtx)
		if err := tx.Where("conv_id = ?", id).Delete(&dbschema.Message{}).Error; err != nil {
			return writeError(err, "failed to delete conversation messages")
		}
		if err := tx.Where("id = ?", id).Delete(&dbschema.Conversation{}).Error; err != nil {
			return writeError(err, "failed to delete conversation")
		}
		return nil
	})
}

// ListConversationsByUser implements conversation.Repository.
func (repo *ConversationGormRepository) ListConversationsByUser(ctx context.Context, userID string) ([]*conversation.Conversation, error) {
	var rows []*dbschema.Conversation
	err := repo.db.GetDB(ctx).WithContext(ctx).
		Where("user_id = ?", userID).
		Order("pinned DESC").
		Order("last_modified DESC").
		Find(&rows).Error
	if err != nil {
		return nil, apperrors.New(apperrors.LayerRepository, apperrors.KindDatabaseError, "failed to list conversations", err)
	}
	return functional.Map(rows, func(row *dbschema.Conversation) *conversation.Conversation {
		return row.EtoD()
	}), nil
}

// CreateMessage implements conversation.Repository.
func (repo *ConversationGormRepository) CreateMessage(ctx context.Context, msg *conversation.Message) error {
	model := dbschema.NewSchemaMessage(msg)
	if err := repo.db.GetDB(ctx).WithContext(ctx).Create(model).Error; err != nil {
		return writeError(err, "failed to create message")
	}
	return nil
}

// ListMessages implements conversation.Repository: createdAt ascending,
// insertion order breaking ties.
func (repo *ConversationGormRepository) ListMessages(ctx context.Context, convID string) ([]*conversation.Message, error) {
	var rows []*dbschema.Message
	err := repo.db.GetDB(ctx).WithContext(ctx).
		Where("conv_id = ?", convID).
		Order("created_at ASC").
		Order("seq ASC").
		Find(&rows).Error
	if err != nil {
		return nil, apperrors.New(apperrors.LayerRepository, apperrors.KindDatabaseError, "failed to list messages", err)
	}
	return functional.Map(rows, func(row *dbschema.Message) *conversation.Message {
		return row.EtoD()
	}), nil
}

// UpdateMessageContent implements conversation.Repository.
func (repo *ConversationGormRepository) UpdateMessageContent(ctx context.Context, convID, messageID, content string) (int64, error) {
	result := repo.db.GetDB(ctx).WithContext(ctx).
		Model(&dbschema.Message{}).
		Where("id = ? AND conv_id = ?", messageID, convID).
		Update("content", content)
	if result.Error != nil {
		return 0, writeError(result.Error, "failed to update message content")
	}
	return result.RowsAffected, nil
}

// BulkDeleteMessages implements conversation.Repository.
func (repo *ConversationGormRepository) BulkDeleteMessages(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	err := repo.db.GetDB(ctx).WithContext(ctx).
		Where("id IN ?", ids).
		Delete(&dbschema.Message{}).Error
	if err != nil {
		return writeError(err, "failed to bulk delete messages")
	}
	return nil
}

// InTransaction implements conversation.Repository.
func (repo *ConversationGormRepository) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return repo.db.InTransaction(ctx, fn)
}
