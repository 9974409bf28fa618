package dbschema

import (
	"time"

	"gorm.io/datatypes"

	"github.com/bodhiapp/chat-core/internal/domain/usersettings"
)

// UserSettings stores one opaque settings blob per user.
type UserSettings struct {
	UserID       string         `gorm:"type:varchar(64);primaryKey"`
	Settings     datatypes.JSON `gorm:"type:json"`
	LastModified time.Time      `gorm:"not null"`
}

// NewSchemaUserSettings creates a stored row from the domain record.
func NewSchemaUserSettings(r *usersettings.Record) *UserSettings {
	return &UserSettings{
		UserID:       r.UserID,
		Settings:     datatypes.JSON(r.Settings),
		LastModified: r.LastModified,
	}
}

// EtoD converts the stored row to the domain record (Entity to Domain).
func (s *UserSettings) EtoD() *usersettings.Record {
	return &usersettings.Record{
		UserID:       s.UserID,
		Settings:     []byte(s.Settings),
		LastModified: s.LastModified,
	}
}
