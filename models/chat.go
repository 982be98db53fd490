package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ChatSession groups the messages of one conversation.
type ChatSession struct {
	ID        string    `json:"id" gorm:"type:varchar(64);primaryKey"`
	Title     string    `json:"title" gorm:"type:varchar(256);default:'New conversation'"`
	CreatedAt time.Time `json:"created_at" gorm:"not null;default:now()"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null;default:now()"`

	Messages []ChatMessage `json:"messages,omitempty" gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE"`
}

func (ChatSession) TableName() string {
	return "chat_sessions"
}

type ChatMessage struct {
	ID        int64          `json:"id" gorm:"primaryKey;autoIncrement"`
	SessionID string         `json:"session_id" gorm:"type:varchar(64);not null;index"`
	Role      string         `json:"role" gorm:"type:varchar(32);not null"` // user, assistant
	Content   string         `json:"content" gorm:"not null"`
	Sources   datatypes.JSON `json:"sources,omitempty" gorm:"type:jsonb"`
	Stats     datatypes.JSON `json:"stats,omitempty" gorm:"type:jsonb"`
	CreatedAt time.Time      `json:"created_at" gorm:"not null;default:now()"`
}

func (ChatMessage) TableName() string {
	return "chat_messages"
}

// UsageStats is a singleton row (id=1) of cumulative counters. Cost is
// stored in micro-dollars to keep the column integral.
type UsageStats struct {
	ID                      int       `json:"id" gorm:"primaryKey;default:1"`
	TotalRequests           int64     `json:"total_requests" gorm:"default:0"`
	TotalTokens             int64     `json:"total_tokens" gorm:"default:0"`
	TotalCostMicroUSD       int64     `json:"total_cost_micro_usd" gorm:"default:0"`
	TotalConfluenceRequests int64     `json:"total_confluence_requests" gorm:"default:0"`
	TotalDBRequests         int64     `json:"total_db_requests" gorm:"default:0"`
	UpdatedAt               time.Time `json:"updated_at" gorm:"not null;default:now()"`
}

func (UsageStats) TableName() string {
	return "usage_stats"
}

// AppSetting is one key-value application setting.
type AppSetting struct {
	Key       string    `json:"key" gorm:"type:varchar(128);primaryKey"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null;default:now()"`
}

func (AppSetting) TableName() string {
	return "app_settings"
}

type MessageFeedback struct {
	ID           int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	SessionID    string    `json:"session_id" gorm:"type:varchar(64);not null;index"`
	MessageIndex int       `json:"message_index" gorm:"not null"`
	Feedback     string    `json:"feedback" gorm:"type:varchar(16);not null"` // like, dislike
	Comment      string    `json:"comment"`
	CreatedAt    time.Time `json:"created_at" gorm:"not null;default:now()"`
}

func (MessageFeedback) TableName() string {
	return "message_feedback"
}

// GetOrCreateSyncState loads the singleton sync_state row, creating it on
// first use.
func GetOrCreateSyncState(db *gorm.DB) (*SyncState, error) {
	var state SyncState
	err := db.Where("id = ?", 1).FirstOrCreate(&state, SyncState{ID: 1}).Error
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// GetOrCreateUsageStats loads the singleton usage_stats row, creating it on
// first use.
func GetOrCreateUsageStats(db *gorm.DB) (*UsageStats, error) {
	var stats UsageStats
	err := db.Where("id = ?", 1).FirstOrCreate(&stats, UsageStats{ID: 1}).Error
	if err != nil {
		return nil, err
	}
	return &stats, nil
}
