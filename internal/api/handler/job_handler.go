package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/sof-extractor/internal/api/dto"
	"github.com/cuongbtq/sof-extractor/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
)

const maxPageSize = 100

// Root handles GET /
func (h *JobHandler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "SoF Event Extractor API is running",
		"status":  "healthy",
	})
}

// Health handles GET /health
func (h *JobHandler) Health(c *gin.Context) {
	if h.health != nil {
		if err := h.health.HealthCheck(c.Request.Context()); err != nil {
			h.logger.Error("Health check failed", slog.String("error", err.Error()))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unhealthy",
				"service": "sof-extractor",
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "sof-extractor",
	})
}

// GetStatus handles GET /api/status/:job_id
func (h *JobHandler) GetStatus(c *gin.Context) {
	jobID := c.Param("job_id")

	h.logger.Info("GetStatus called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("job_id", jobID),
	)

	job, err := h.store.Get(c.Request.Context(), jobID)
	if err != nil {
		h.respondError(c, err, "Failed to get job")
		return
	}

	c.JSON(http.StatusOK, dto.NewJobDTO(job))
}

// GetResult handles GET /api/result/:job_id
// Returns the merged result, an in-progress notice or the failure detail
func (h *JobHandler) GetResult(c *gin.Context) {
	jobID := c.Param("job_id")

	h.logger.Info("GetResult called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("job_id", jobID),
	)

	job, err := h.store.Get(c.Request.Context(), jobID)
	if err != nil {
		h.respondError(c, err, "Failed to get job")
		return
	}

	c.JSON(http.StatusOK, dto.NewResult(job))
}

// CalculateLaytime handles POST /api/calculate-laytime
func (h *JobHandler) CalculateLaytime(c *gin.Context) {
	h.logger.Info("CalculateLaytime called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
	)

	var req dto.LaytimeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	if len(req.Events) == 0 {
		h.respondError(c, domain.NewValidationError(domain.ErrNoEvents, "No events provided for calculation"), "Laytime calculation failed")
		return
	}

	res, err := h.laytime.CalculateLaytime(c.Request.Context(), req.Summary, req.Events)
	if err != nil {
		h.respondError(c, err, "Laytime calculation failed")
		return
	}

	out := *res
	out.Log = lo.Ternary(out.Log == nil, []string{}, out.Log)
	out.Events = lo.Ternary(out.Events == nil, []domain.Event{}, out.Events)

	h.logger.Info("Laytime calculated",
		slog.Float64("allowed_days", out.AllowedDays),
		slog.Float64("consumed_days", out.ConsumedDays),
	)
	c.JSON(http.StatusOK, out)
}

// Export handles POST /api/export/:job_id?type=csv|json|xlsx
// An optional {"events": [...]} body replaces the stored events
func (h *JobHandler) Export(c *gin.Context) {
	jobID := c.Param("job_id")
	format := c.DefaultQuery("type", "csv")

	h.logger.Info("Export called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("job_id", jobID),
		slog.String("format", format),
	)

	var req dto.ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	art, err := h.exporter.Export(c.Request.Context(), jobID, format, req.Events)
	if err != nil {
		h.respondError(c, err, "Export failed")
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", art.Filename))
	c.Data(http.StatusOK, art.ContentType, art.Body)
}

// ListJobs handles GET /api/jobs
// Lists every job, or one page of them when page_size is given
func (h *JobHandler) ListJobs(c *gin.Context) {
	h.logger.Info("ListJobs called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("query", c.Request.URL.RawQuery),
	)

	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil || req.PageSize < 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	jobs, err := h.store.List(c.Request.Context())
	if err != nil {
		h.respondError(c, err, "Failed to list jobs")
		return
	}

	page, next := paginate(jobs, cursor, req.PageSize)

	resp := dto.ListJobsResponse{
		Jobs: lo.Map(page, func(job *domain.Job, _ int) dto.JobDTO { return dto.NewJobDTO(job) }),
	}
	if next != nil {
		resp.NextCursor = EncodeJobCursor(next)
	}
	c.JSON(http.StatusOK, resp)
}
