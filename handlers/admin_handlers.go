package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/confluence-qa/config"
	"github.com/confluence-qa/models"
	"github.com/confluence-qa/services"
)

// WikiHealthChecker reports whether the upstream wiki API is reachable.
type WikiHealthChecker interface {
	Health(ctx context.Context) bool
}

type AdminHandlers struct {
	store           services.PageStore
	usageService    services.UsageService
	settingsService services.SettingsService
	wiki            WikiHealthChecker
	cfg             *config.Config
}

func NewAdminHandlers(
	store services.PageStore,
	usageService services.UsageService,
	settingsService services.SettingsService,
	wiki WikiHealthChecker,
	cfg *config.Config,
) *AdminHandlers {
	return &AdminHandlers{
		store:           store,
		usageService:    usageService,
		settingsService: settingsService,
		wiki:            wiki,
		cfg:             cfg,
	}
}

// Health checks the database and the upstream wiki. The service is degraded
// rather than down when the wiki is unreachable: searches over the already
// ingested corpus still work.
func (h *AdminHandlers) Health(c *gin.Context) {
	stats, err := h.store.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"database": "down",
			"details":  err.Error(),
		})
		return
	}

	wikiStatus := "ok"
	status := "healthy"
	if !h.wiki.Health(c.Request.Context()) {
		wikiStatus = "unreachable"
		status = "degraded"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   status,
		"database": "ok",
		"wiki":     wikiStatus,
		"pages":    stats.TotalPages,
		"chunks":   stats.TotalChunks,
		"embedded": stats.EmbeddedChunks,
	})
}

func (h *AdminHandlers) Stats(c *gin.Context) {
	corpus, err := h.store.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read corpus stats", "details": err.Error()})
		return
	}

	state, err := h.store.SyncState(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read sync state", "details": err.Error()})
		return
	}

	usage, err := h.usageService.GetUsage(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read usage stats", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"corpus": corpus,
		"sync":   state,
		"usage":  usage,
	})
}

func (h *AdminHandlers) ListPages(c *gin.Context) {
	filter := models.PageListFilter{
		SpaceKey: c.Query("space_key"),
	}
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	pages, total, err := h.store.ListPages(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list pages", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"pages": pages,
		"total": total,
	})
}

func (h *AdminHandlers) GetPageDetail(c *gin.Context) {
	pageID := c.Param("id")

	page, err := h.store.GetPageDetail(c.Request.Context(), pageID)
	if errors.Is(err, services.ErrPageNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Page not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load page", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, page)
}

func (h *AdminHandlers) ListSpaces(c *gin.Context) {
	spaces, err := h.store.SpacesWithCounts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list spaces", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"spaces": spaces,
		"count":  len(spaces),
	})
}

// GetConfig returns the effective runtime settings without credentials.
func (h *AdminHandlers) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"wiki_base_url":         h.cfg.Confluence.BaseURL,
		"embedding_model":       h.cfg.OpenAI.EmbeddingModel,
		"embedding_dimensions":  h.cfg.EmbeddingDimensions(),
		"sync_interval_minutes": h.cfg.Sync.IntervalMinutes,
		"chunking":              h.cfg.Chunking,
		"search":                h.cfg.Search,
		"embed_cache_enabled":   h.cfg.Redis.EnableEmbedCache,
	})
}

func (h *AdminHandlers) GetInstructions(c *gin.Context) {
	text, err := h.settingsService.GetInstructions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read instructions", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"instructions": text})
}

func (h *AdminHandlers) SetInstructions(c *gin.Context) {
	var req struct {
		Instructions string `json:"instructions" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if err := h.settingsService.SetInstructions(c.Request.Context(), req.Instructions); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save instructions", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"instructions": req.Instructions})
}

func (h *AdminHandlers) ResetInstructions(c *gin.Context) {
	if err := h.settingsService.ResetInstructions(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to reset instructions", "details": err.Error()})
		return
	}

	text, err := h.settingsService.GetInstructions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read instructions", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"instructions": text})
}
