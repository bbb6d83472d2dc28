package gormrepo

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/database"
)

// SettingRepository stores raw key/value settings.
type SettingRepository struct {
	db *gorm.DB
}

// NewSettingRepository constructs a settings repository.
func NewSettingRepository(db *gorm.DB) (*SettingRepository, error) {
	if db == nil {
		return nil, errors.New("setting repository: db is required")
	}
	return &SettingRepository{db: db}, nil
}

// Get loads a setting by key.
func (r *SettingRepository) Get(ctx context.Context, key string) (domain.Setting, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.Setting{}, database.NotFound("settings.get")
	}
	var model settingModel
	if err := database.Conn(ctx, r.db).Where("setting_key = ?", key).Take(&model).Error; err != nil {
		return domain.Setting{}, database.WrapError("settings.get", err)
	}
	return domain.Setting{Key: model.Key, Value: model.Value, UpdatedAt: model.UpdatedAt}, nil
}

// Put inserts or overwrites a setting.
func (r *SettingRepository) Put(ctx context.Context, setting domain.Setting) error {
	key := strings.TrimSpace(setting.Key)
	if key == "" {
		return database.WrapError("settings.put", errors.New("setting key is required"))
	}
	model := settingModel{Key: key, Value: setting.Value, UpdatedAt: setting.UpdatedAt}
	err := database.Conn(ctx, r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "setting_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&model).Error
	if err != nil {
		return database.WrapError("settings.put", err)
	}
	return nil
}
