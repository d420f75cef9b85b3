// Package web exposes the HTTP API. Handlers translate between HTTP and the
// intake/status services; every domain rule lives below this layer.
package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"snapvalue/internal/apperrors"
	"snapvalue/internal/intake"
	"snapvalue/internal/ratelimit"
	"snapvalue/internal/state"
	"snapvalue/internal/status"
	"snapvalue/internal/store"
)

type RouteHandler struct {
	gateway     *intake.Gateway
	service     *status.Service
	coordinator *status.BatchCoordinator
}

func NewRouteHandler(gateway *intake.Gateway, service *status.Service, coordinator *status.BatchCoordinator) *RouteHandler {
	return &RouteHandler{
		gateway:     gateway,
		service:     service,
		coordinator: coordinator,
	}
}

// Router builds the gin engine with all API routes registered.
func (h *RouteHandler) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	router.POST("/appraisal/submit", h.Submit)
	router.POST("/appraisal/batch", h.SubmitBatch)
	router.GET("/appraisal/list", h.List)
	router.GET("/appraisal/batch/:id/status", h.BatchStatus)
	router.GET("/appraisal/:id", h.Result)
	router.GET("/appraisal/:id/status", h.Status)

	router.GET("/status/appraisal/:id/history", h.History)
	router.POST("/status/appraisal/:id/cancel", h.Cancel)
	router.GET("/status/queue", h.QueueStats)

	router.GET("/health", h.Health)

	return router
}

// writeError maps domain errors onto HTTP statuses with a stable error body.
func writeError(c *gin.Context, err error) {
	code := apperrors.Code(err)

	httpStatus := http.StatusInternalServerError
	switch {
	case apperrors.IsValidation(err):
		httpStatus = http.StatusBadRequest
	case apperrors.IsNotFound(err):
		httpStatus = http.StatusNotFound
	case apperrors.IsConflict(err):
		httpStatus = http.StatusConflict
	case apperrors.IsTransient(err):
		httpStatus = http.StatusBadGateway
	}

	c.JSON(httpStatus, gin.H{
		"error": gin.H{
			"code":    code,
			"message": err.Error(),
		},
	})
}

// clientIdentity resolves who is submitting for rate-limit accounting.
// Anonymous callers are keyed by source address.
func clientIdentity(c *gin.Context) (string, ratelimit.Tier) {
	clientID := c.GetHeader("X-Client-ID")
	if clientID == "" {
		clientID = c.ClientIP()
	}
	tier := ratelimit.Tier(c.GetHeader("X-Client-Tier"))
	if tier == "" {
		tier = ratelimit.TierDefault
	}
	return clientID, tier
}

func setRateLimitHeaders(c *gin.Context, standing *ratelimit.Result) {
	if standing == nil {
		return
	}
	c.Header("X-RateLimit-Limit", strconv.Itoa(standing.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(standing.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(standing.ResetAt.Unix(), 10))
}

func (h *RouteHandler) Submit(c *gin.Context) {
	var req intake.SubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.NewValidationError("body", err.Error()))
		return
	}

	clientID, tier := clientIdentity(c)
	receipt, standing, err := h.gateway.Submit(c.Request.Context(), clientID, tier, &req)
	setRateLimitHeaders(c, standing)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, receipt)
}

type batchRequest struct {
	Appraisals []*intake.SubmissionRequest `json:"appraisals" binding:"required"`
}

func (h *RouteHandler) SubmitBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.NewValidationError("body", err.Error()))
		return
	}

	clientID, tier := clientIdentity(c)
	receipt, standing, err := h.gateway.SubmitBatch(c.Request.Context(), clientID, tier, req.Appraisals)
	setRateLimitHeaders(c, standing)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, receipt)
}

func (h *RouteHandler) Status(c *gin.Context) {
	view, err := h.service.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *RouteHandler) Result(c *gin.Context) {
	result, err := h.service.GetResult(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *RouteHandler) History(c *gin.Context) {
	steps, err := h.service.GetHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"appraisal_id": c.Param("id"),
		"steps":        steps,
	})
}

func (h *RouteHandler) Cancel(c *gin.Context) {
	job, err := h.gateway.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"appraisal_id": job.ID,
		"status":       job.Status,
	})
}

func (h *RouteHandler) List(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		writeError(c, apperrors.NewValidationError("page", "must be a positive integer"))
		return
	}
	pageSize, err := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if err != nil || pageSize < 1 {
		writeError(c, apperrors.NewValidationError("page_size", "must be a positive integer"))
		return
	}

	filter := store.Filter{Category: c.Query("category")}
	if raw := c.Query("status"); raw != "" {
		filter.Status = state.JobStatus(raw)
		if !filter.Status.Known() {
			writeError(c, apperrors.NewValidationError("status", "unknown status "+raw))
			return
		}
	}
	if raw := c.Query("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(c, apperrors.NewValidationError("since", "must be an RFC 3339 timestamp"))
			return
		}
		filter.Since = since
	}

	result, err := h.service.List(c.Request.Context(), filter, page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *RouteHandler) BatchStatus(c *gin.Context) {
	view, err := h.coordinator.GetBatchStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *RouteHandler) QueueStats(c *gin.Context) {
	stats, err := h.service.QueueStats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *RouteHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
