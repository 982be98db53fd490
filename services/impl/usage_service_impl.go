package impl

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/confluence-qa/models"
	"github.com/confluence-qa/services"
)

type usageServiceImpl struct {
	db *gorm.DB
}

func NewUsageService(db *gorm.DB) services.UsageService {
	return &usageServiceImpl{db: db}
}

func (s *usageServiceImpl) RecordUsage(ctx context.Context, promptTokens, completionTokens int, costMicroUSD int64) error {
	db := s.db.WithContext(ctx)

	if _, err := models.GetOrCreateUsageStats(db); err != nil {
		return fmt.Errorf("failed to init usage stats: %w", err)
	}

	err := db.Model(&models.UsageStats{}).
		Where("id = ?", 1).
		Updates(map[string]any{
			"total_requests":       gorm.Expr("total_requests + 1"),
			"total_tokens":         gorm.Expr("total_tokens + ?", promptTokens+completionTokens),
			"total_cost_micro_usd": gorm.Expr("total_cost_micro_usd + ?", costMicroUSD),
			"updated_at":           time.Now().UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

func (s *usageServiceImpl) RecordRequests(ctx context.Context, wikiRequests, dbRequests int64) error {
	if wikiRequests == 0 && dbRequests == 0 {
		return nil
	}

	db := s.db.WithContext(ctx)
	if _, err := models.GetOrCreateUsageStats(db); err != nil {
		return fmt.Errorf("failed to init usage stats: %w", err)
	}

	err := db.Model(&models.UsageStats{}).
		Where("id = ?", 1).
		Updates(map[string]any{
			"total_confluence_requests": gorm.Expr("total_confluence_requests + ?", wikiRequests),
			"total_db_requests":         gorm.Expr("total_db_requests + ?", dbRequests),
			"updated_at":                time.Now().UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to record request counts: %w", err)
	}
	return nil
}

func (s *usageServiceImpl) GetUsage(ctx context.Context) (*models.UsageStats, error) {
	return models.GetOrCreateUsageStats(s.db.WithContext(ctx))
}
