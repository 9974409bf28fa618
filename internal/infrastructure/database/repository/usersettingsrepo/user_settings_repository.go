package usersettingsrepo

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bodhiapp/chat-core/internal/domain/usersettings"
	"github.com/bodhiapp/chat-core/internal/infrastructure/database"
	"github.com/bodhiapp/chat-core/internal/infrastructure/database/dbschema"
	"github.com/bodhiapp/chat-core/internal/infrastructure/database/transaction"
	"github.com/bodhiapp/chat-core/internal/utils/apperrors"
)

// UserSettingsGormRepository implements usersettings.Repository over the
// embedded store.
type UserSettingsGormRepository struct {
	db *transaction.Database
}

var _ usersettings.Repository = (*UserSettingsGormRepository)(nil)

func NewUserSettingsGormRepository(db *transaction.Database) usersettings.Repository {
	return &UserSettingsGormRepository{db: db}
}

// FindByUserID retrieves the settings row, or (nil, nil) when the user
// has none yet.
func (repo *UserSettingsGormRepository) FindByUserID(ctx context.Context, userID string) (*usersettings.Record, error) {
	var entity dbschema.UserSettings
	err := repo.db.GetDB(ctx).WithContext(ctx).
		Where("user_id = ?", userID).
		First(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.New(apperrors.LayerRepository, apperrors.KindDatabaseError, "failed to find user settings", err)
	}
	return entity.EtoD(), nil
}

// Upsert writes the settings row, replacing an existing one for the user.
func (repo *UserSettingsGormRepository) Upsert(ctx context.Context, record *usersettings.Record) error {
	model := dbschema.NewSchemaUserSettings(record)
	err := repo.db.GetDB(ctx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"settings", "last_modified"}),
		}).
		Create(model).Error
	if err != nil {
		if database.IsStorageFull(err) {
			return apperrors.New(apperrors.LayerRepository, apperrors.KindQuotaExceeded, "failed to save user settings", err)
		}
		return apperrors.New(apperrors.LayerRepository, apperrors.KindDatabaseError, "failed to save user settings", err)
	}
	return nil
}
