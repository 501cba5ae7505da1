package handlers

import (
	"log"
	"net/http"

	"plansight-backend/models"
	"plansight-backend/service"

	"github.com/gin-gonic/gin"
)

// AnalysisHandler handles HTTP requests for region analysis
type AnalysisHandler struct {
	analysisService *service.AnalysisService
}

// NewAnalysisHandler creates a new analysis handler
func NewAnalysisHandler(analysisService *service.AnalysisService) *AnalysisHandler {
	return &AnalysisHandler{
		analysisService: analysisService,
	}
}

// StreamAnalysisRequest represents the request body for starting an analysis
type StreamAnalysisRequest struct {
	RegionID string        `json:"regionId" binding:"required"`
	Bounds   models.Bounds `json:"bounds" binding:"required"`
	Council  string        `json:"council" binding:"required"`
	Corpus   string        `json:"corpus"`
	Force    bool          `json:"force"`
}

// StreamAnalysis handles POST /api/analysis/stream
//
// The response is a server-sent event stream; stages and suggestions are
// delivered as they are produced and the connection closes after the
// terminal complete or error event.
func (h *AnalysisHandler) StreamAnalysis(c *gin.Context) {
	var req StreamAnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": err.Error(),
			},
		})
		return
	}

	if req.Bounds.West >= req.Bounds.East || req.Bounds.South >= req.Bounds.North {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_BOUNDS",
				"message": "bounds must satisfy west < east and south < north",
			},
		})
		return
	}

	analysisReq := models.AnalysisRequest{
		RegionID: req.RegionID,
		Bounds:   req.Bounds,
		Council:  req.Council,
		Corpus:   req.Corpus,
		Force:    req.Force,
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	ctx := c.Request.Context()
	emit := func(event string, data interface{}) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		c.SSEvent(event, data)
		c.Writer.Flush()
		return nil
	}

	if err := h.analysisService.Run(ctx, analysisReq, emit); err != nil {
		// The terminal error event has already been emitted; nothing more
		// can be written to the stream.
		log.Printf("Warning: Analysis run failed for region %s: %v", req.RegionID, err)
	}
}

// GetAnalysis handles GET /api/analysis/:regionId
func (h *AnalysisHandler) GetAnalysis(c *gin.Context) {
	regionID := c.Param("regionId")

	cached, err := h.analysisService.GetCached(c.Request.Context(), regionID)
	if err != nil {
		log.Printf("Error fetching analysis for region %s: %v", regionID, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "FETCH_FAILED",
				"message": "Failed to fetch analysis",
			},
		})
		return
	}

	if cached == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "NOT_FOUND",
				"message": "No analysis cached for this region",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    cached,
	})
}

// ClearCache handles DELETE /api/analysis/cache
//
// With a ?region= query parameter only that region's record is removed;
// without it the whole cache is cleared.
func (h *AnalysisHandler) ClearCache(c *gin.Context) {
	var regionID *string
	scope := "all"
	if region := c.Query("region"); region != "" {
		regionID = &region
		scope = region
	}

	deleted, err := h.analysisService.ClearCache(c.Request.Context(), regionID)
	if err != nil {
		log.Printf("Error clearing analysis cache: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "CLEAR_FAILED",
				"message": "Failed to clear analysis cache",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"deleted": deleted,
			"scope":   scope,
		},
	})
}
