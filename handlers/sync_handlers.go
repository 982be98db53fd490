package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/confluence-qa/models"
	"github.com/confluence-qa/services"
)

type SyncHandlers struct {
	syncService services.SyncService
}

func NewSyncHandlers(syncService services.SyncService) *SyncHandlers {
	return &SyncHandlers{syncService: syncService}
}

// RunSync starts a sync run in the background. Only one run may be in
// flight at a time.
func (h *SyncHandlers) RunSync(c *gin.Context) {
	var req models.SyncRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
			return
		}
	}

	if !h.syncService.Trigger(req.Full) {
		c.JSON(http.StatusConflict, gin.H{"error": services.ErrSyncRunning.Error()})
		return
	}

	mode := "incremental"
	if req.Full {
		mode = "full"
	}
	c.JSON(http.StatusAccepted, gin.H{
		"status": "started",
		"mode":   mode,
	})
}

func (h *SyncHandlers) SyncStatus(c *gin.Context) {
	status, err := h.syncService.Status(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read sync status", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}
