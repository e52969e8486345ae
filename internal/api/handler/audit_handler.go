package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/site-audit/internal/api/dto"
	"github.com/cuongbtq/site-audit/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	defaultListLimit = 10
	maxListLimit     = 50
)

// CreateAudit handles POST /api/v1/audits
// Returns a recent audit of the same URL or starts a new one
func (h *AuditHandler) CreateAudit(c *gin.Context) {
	logger := h.requestLogger(c)

	var req dto.CreateAuditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": "Request body too large",
			})
			return
		}
		logger.Warn("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	result, err := h.audits.Submit(c.Request.Context(), req.URL)
	if err != nil {
		h.respondError(c, logger, "Failed to submit audit", err)
		return
	}

	status := http.StatusCreated
	if result.Reused {
		status = http.StatusOK
	}

	c.JSON(status, dto.CreateAuditResponse{
		ID:     result.ID,
		Reused: result.Reused,
		Status: string(result.Status),
	})
}

// GetAudit handles GET /api/v1/audits/:audit_id
func (h *AuditHandler) GetAudit(c *gin.Context) {
	logger := h.requestLogger(c)
	auditID := c.Param("audit_id")

	if _, err := uuid.Parse(auditID); err != nil {
		logger.Warn("Invalid audit_id format", slog.String("audit_id", auditID))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "audit_id must be a valid UUID",
		})
		return
	}

	job, err := h.audits.Get(c.Request.Context(), auditID)
	if err != nil {
		h.respondError(c, logger, "Failed to get audit", err)
		return
	}

	c.JSON(http.StatusOK, dto.NewAuditDTO(job))
}

// ListRecentAudits handles GET /api/v1/audits and GET /api/v1/audits/recent
// Lists audits most recently updated first
func (h *AuditHandler) ListRecentAudits(c *gin.Context) {
	logger := h.requestLogger(c)

	var req dto.ListAuditsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		logger.Warn("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	limit := clampLimit(req.Limit)

	cursor, err := DecodeAuditCursor(req.Cursor)
	if err != nil {
		logger.Warn("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	// Fetch one extra row to learn whether another page exists
	jobs, err := h.audits.Recent(c.Request.Context(), domain.RecentFilter{
		Limit:  limit + 1,
		Cursor: cursor,
	})
	if err != nil {
		h.respondError(c, logger, "Failed to list audits", err)
		return
	}

	hasMore := len(jobs) > limit
	if hasMore {
		jobs = jobs[:limit]
	}

	summaries := make([]dto.AuditSummaryDTO, len(jobs))
	for i := range jobs {
		summaries[i] = dto.NewAuditSummaryDTO(&jobs[i])
	}

	var nextCursor string
	if hasMore {
		last := jobs[len(jobs)-1]
		nextCursor = EncodeAuditCursor(&domain.Cursor{UpdatedAt: last.UpdatedAt, ID: last.ID})
	}

	c.JSON(http.StatusOK, dto.ListAuditsResponse{
		Audits:     summaries,
		NextCursor: nextCursor,
	})
}

func clampLimit(limit int) int {
	if limit == 0 {
		return defaultListLimit
	}
	if limit < 1 {
		return 1
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

// respondError maps the error taxonomy onto HTTP status codes
func (h *AuditHandler) respondError(c *gin.Context, logger *slog.Logger, msg string, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Audit not found"})
	case errors.Is(err, domain.ErrPersistence), errors.Is(err, domain.ErrScheduleFailed):
		logger.Error(msg, slog.String("error", err.Error()))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Service temporarily unavailable"})
	default:
		logger.Error(msg, slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func (h *AuditHandler) requestLogger(c *gin.Context) *slog.Logger {
	return h.logger.With(slog.String("request_id", c.GetString(RequestIDKey)))
}
