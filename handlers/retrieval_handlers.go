package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/confluence-qa/models"
	"github.com/confluence-qa/services"
)

type RetrievalHandlers struct {
	retrievalService services.RetrievalService
	usageService     services.UsageService
}

func NewRetrievalHandlers(retrievalService services.RetrievalService, usageService services.UsageService) *RetrievalHandlers {
	return &RetrievalHandlers{
		retrievalService: retrievalService,
		usageService:     usageService,
	}
}

// Usage accounting must never fail a request.
func (h *RetrievalHandlers) countDBRequest(c *gin.Context) {
	if h.usageService == nil {
		return
	}
	if err := h.usageService.RecordRequests(c.Request.Context(), 0, 1); err != nil {
		log.Printf("retrieval: failed to record request count: %v", err)
	}
}

func (h *RetrievalHandlers) Search(c *gin.Context) {
	var req models.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	h.countDBRequest(c)
	results, err := h.retrievalService.Search(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Search failed", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"query":   req.Query,
		"results": results,
		"count":   len(results),
	})
}

func (h *RetrievalHandlers) FetchPages(c *gin.Context) {
	var req models.FetchPagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	if len(req.PageIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "page_ids must not be empty"})
		return
	}

	h.countDBRequest(c)
	pages, err := h.retrievalService.FetchPages(c.Request.Context(), req.PageIDs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch pages", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"pages": pages,
		"count": len(pages),
	})
}

func (h *RetrievalHandlers) Expand(c *gin.Context) {
	var req models.ExpandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	if len(req.PageIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "page_ids must not be empty"})
		return
	}

	h.countDBRequest(c)
	linked, err := h.retrievalService.Expand(c.Request.Context(), req.PageIDs, req.Limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to expand links", "details": err.Error()})
		return
	}
	if linked == nil {
		linked = []models.LinkedPage{}
	}

	c.JSON(http.StatusOK, gin.H{
		"linked_pages": linked,
		"count":        len(linked),
	})
}
