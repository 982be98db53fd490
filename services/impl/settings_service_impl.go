package impl

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/confluence-qa/models"
	"github.com/confluence-qa/services"
)

const instructionsKey = "assistant_instructions"

// DefaultInstructions is the system prompt used until an operator
// overrides it.
const DefaultInstructions = `You are a helpful assistant answering questions from the company wiki.
Ground every answer in the retrieved pages and cite page titles.
If the wiki does not cover the question, say so instead of guessing.`

type settingsServiceImpl struct {
	db *gorm.DB
}

func NewSettingsService(db *gorm.DB) services.SettingsService {
	return &settingsServiceImpl{db: db}
}

func (s *settingsServiceImpl) GetInstructions(ctx context.Context) (string, error) {
	var setting models.AppSetting
	err := s.db.WithContext(ctx).Where("key = ?", instructionsKey).First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return DefaultInstructions, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load instructions: %w", err)
	}
	return setting.Value, nil
}

func (s *settingsServiceImpl) SetInstructions(ctx context.Context, text string) error {
	setting := models.AppSetting{Key: instructionsKey, Value: text}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&setting).Error
	if err != nil {
		return fmt.Errorf("failed to save instructions: %w", err)
	}
	return nil
}

func (s *settingsServiceImpl) ResetInstructions(ctx context.Context) error {
	err := s.db.WithContext(ctx).Where("key = ?", instructionsKey).Delete(&models.AppSetting{}).Error
	if err != nil {
		return fmt.Errorf("failed to reset instructions: %w", err)
	}
	return nil
}
