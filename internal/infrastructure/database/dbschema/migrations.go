package dbschema

import (
	"gorm.io/gorm"

	"github.com/bodhiapp/chat-core/internal/infrastructure/database"
)

// Migrations returns the ordered schema version chain. Each step is
// idempotent so a partially upgraded store can be re-run safely.
func Migrations() []database.Migration {
	return []database.Migration{
		{
			// Initial store: conversations and messages.
			Version: "001_conversations_messages",
			Migrate: func(db *gorm.DB) error {
				return db.AutoMigrate(&Conversation{}, &Message{})
			},
		},
		{
			// Per-user ownership and pinning. Stores created before this
			// version get the columns added and pinned backfilled to false.
			Version: "002_user_scope_and_pinning",
			Migrate: func(db *gorm.DB) error {
				migrator := db.Migrator()
				if !migrator.HasColumn(&Conversation{}, "UserID") {
					if err := migrator.AddColumn(&Conversation{}, "UserID"); err != nil {
						return err
					}
				}
				if !migrator.HasColumn(&Conversation{}, "Pinned") {
					if err := migrator.AddColumn(&Conversation{}, "Pinned"); err != nil {
						return err
					}
				}
				return db.Model(&Conversation{}).
					Where("pinned IS NULL").
					Update("pinned", false).Error
			},
		},
		{
			// Per-user settings blob.
			Version: "003_user_settings",
			Migrate: func(db *gorm.DB) error {
				return db.AutoMigrate(&UserSettings{})
			},
		},
	}
}
