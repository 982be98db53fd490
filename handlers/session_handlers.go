package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/confluence-qa/models"
	"github.com/confluence-qa/services"
)

type SessionHandlers struct {
	sessionService services.SessionService
}

func NewSessionHandlers(sessionService services.SessionService) *SessionHandlers {
	return &SessionHandlers{sessionService: sessionService}
}

func (h *SessionHandlers) CreateSession(c *gin.Context) {
	var req struct {
		Title string `json:"title"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
			return
		}
	}

	session, err := h.sessionService.CreateSession(c.Request.Context(), req.Title)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create session", "details": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, session)
}

func (h *SessionHandlers) ListSessions(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	sessions, err := h.sessionService.ListSessions(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list sessions", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (h *SessionHandlers) GetSession(c *gin.Context) {
	session, err := h.sessionService.GetSession(c.Request.Context(), c.Param("id"))
	if errors.Is(err, services.ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load session", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *SessionHandlers) DeleteSession(c *gin.Context) {
	err := h.sessionService.DeleteSession(c.Request.Context(), c.Param("id"))
	if errors.Is(err, services.ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete session", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *SessionHandlers) AddFeedback(c *gin.Context) {
	var req struct {
		MessageIndex int    `json:"message_index"`
		Feedback     string `json:"feedback" binding:"required,oneof=like dislike"`
		Comment      string `json:"comment"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	feedback := &models.MessageFeedback{
		SessionID:    c.Param("id"),
		MessageIndex: req.MessageIndex,
		Feedback:     req.Feedback,
		Comment:      req.Comment,
	}
	err := h.sessionService.AddFeedback(c.Request.Context(), feedback)
	if errors.Is(err, services.ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store feedback", "details": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, feedback)
}
