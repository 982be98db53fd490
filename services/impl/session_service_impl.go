package impl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/confluence-qa/models"
	"github.com/confluence-qa/services"
)

type sessionServiceImpl struct {
	db *gorm.DB
}

func NewSessionService(db *gorm.DB) services.SessionService {
	return &sessionServiceImpl{db: db}
}

func (s *sessionServiceImpl) CreateSession(ctx context.Context, title string) (*models.ChatSession, error) {
	if title == "" {
		title = "New conversation"
	}

	session := &models.ChatSession{
		ID:    uuid.New().String(),
		Title: title,
	}
	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

func (s *sessionServiceImpl) GetSession(ctx context.Context, sessionID string) (*models.ChatSession, error) {
	var session models.ChatSession
	err := s.db.WithContext(ctx).
		Preload("Messages", func(db *gorm.DB) *gorm.DB {
			return db.Order("id ASC")
		}).
		Where("id = ?", sessionID).
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, services.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return &session, nil
}

func (s *sessionServiceImpl) ListSessions(ctx context.Context, limit int) ([]models.ChatSession, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var sessions []models.ChatSession
	err := s.db.WithContext(ctx).
		Order("updated_at DESC").
		Limit(limit).
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

func (s *sessionServiceImpl) DeleteSession(ctx context.Context, sessionID string) error {
	result := s.db.WithContext(ctx).Where("id = ?", sessionID).Delete(&models.ChatSession{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return services.ErrSessionNotFound
	}
	return nil
}

func (s *sessionServiceImpl) AddMessage(ctx context.Context, message *models.ChatMessage) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session models.ChatSession
		err := tx.Where("id = ?", message.SessionID).First(&session).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return services.ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load session: %w", err)
		}

		if err := tx.Create(message).Error; err != nil {
			return fmt.Errorf("failed to store message: %w", err)
		}

		return tx.Model(&models.ChatSession{}).
			Where("id = ?", message.SessionID).
			Update("updated_at", time.Now().UTC()).Error
	})
}

func (s *sessionServiceImpl) AddFeedback(ctx context.Context, feedback *models.MessageFeedback) error {
	var session models.ChatSession
	err := s.db.WithContext(ctx).Select("id").Where("id = ?", feedback.SessionID).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return services.ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}

	if err := s.db.WithContext(ctx).Create(feedback).Error; err != nil {
		return fmt.Errorf("failed to store feedback: %w", err)
	}
	return nil
}

func (s *sessionServiceImpl) GetMessages(ctx context.Context, sessionID string) ([]models.ChatMessage, error) {
	var messages []models.ChatMessage
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id ASC").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	return messages, nil
}
