package reports

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"carbon-scribe/ghg-reporting/internal/emissions"
	"carbon-scribe/ghg-reporting/internal/frameworks"
)

// Handler handles HTTP requests for reporting operations
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new reports handler
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers reporting routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/frameworks", h.listFrameworks)

	reports := router.Group("/reports")
	{
		reports.POST("", h.generateReport)
		reports.GET("", h.listReports)
		reports.GET("/:id", h.getReport)
		reports.GET("/:id/download", h.downloadReport)
		reports.POST("/:id/finalize", h.finalizeReport)
	}
}

// =====================================================
// Report Endpoints
// =====================================================

// generateReport handles POST /api/v1/reports
func (h *Handler) generateReport(c *gin.Context) {
	var req GenerateReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	report, err := h.service.GenerateReport(c.Request.Context(), &req)
	if err != nil {
		h.logger.Error("Failed to generate report", zap.Error(err),
			zap.String("company_id", req.CompanyID.String()),
			zap.String("framework", string(req.Framework)),
		)
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, report)
}

// listReports handles GET /api/v1/reports
func (h *Handler) listReports(c *gin.Context) {
	filters := &ReportFilters{
		Page:     h.getIntParam(c, "page", 1),
		PageSize: h.getIntParam(c, "page_size", 20),
	}

	if companyID := c.Query("company_id"); companyID != "" {
		id, err := uuid.Parse(companyID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid company ID"})
			return
		}
		filters.CompanyID = &id
	}
	if framework := c.Query("framework"); framework != "" {
		fw := frameworks.ParseFrameworkID(framework)
		filters.Framework = &fw
	}
	if format := c.Query("format"); format != "" {
		f := frameworks.Format(format)
		filters.Format = &f
	}
	if status := c.Query("status"); status != "" {
		s := ReportStatus(status)
		filters.Status = &s
	}
	if year := h.getIntParam(c, "year", 0); year > 0 {
		p := emissions.NewCalendarYear(year)
		filters.Period = &p
	}

	response, err := h.service.ListReports(c.Request.Context(), filters)
	if err != nil {
		h.logger.Error("Failed to list reports", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, response)
}

// getReport handles GET /api/v1/reports/:id
func (h *Handler) getReport(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid report ID"})
		return
	}

	report, err := h.service.GetReport(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("Failed to get report", zap.Error(err), zap.String("report_id", id.String()))
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, report)
}

// downloadReport handles GET /api/v1/reports/:id/download. Archived reports
// redirect to a presigned URL; otherwise the stored payload is streamed.
func (h *Handler) downloadReport(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid report ID"})
		return
	}

	report, err := h.service.GetReport(c.Request.Context(), id)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	if report.StorageKey != "" {
		url, err := h.service.DownloadURL(c.Request.Context(), id, 15*time.Minute)
		if err == nil {
			c.Redirect(http.StatusTemporaryRedirect, url)
			return
		}
		h.logger.Warn("Failed to presign report download", zap.Error(err), zap.String("report_id", id.String()))
	}

	c.Header("Content-Disposition", "attachment; filename="+report.FileName())
	c.Header("X-Content-SHA256", report.PayloadHash)
	c.Data(http.StatusOK, report.ContentType, report.Payload)
}

// finalizeReport handles POST /api/v1/reports/:id/finalize
func (h *Handler) finalizeReport(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid report ID"})
		return
	}

	report, err := h.service.FinalizeReport(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("Failed to finalize report", zap.Error(err), zap.String("report_id", id.String()))
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, report)
}

// listFrameworks handles GET /api/v1/frameworks
func (h *Handler) listFrameworks(c *gin.Context) {
	type frameworkSummary struct {
		ID       frameworks.FrameworkID `json:"id"`
		Name     string                 `json:"name"`
		Version  string                 `json:"version"`
		Formats  []frameworks.Format    `json:"formats"`
		Sections int                    `json:"sections"`
		Rules    int                    `json:"rules"`
	}

	var out []frameworkSummary
	for _, f := range h.service.Frameworks() {
		sections := 0
		f.Walk(func(*frameworks.Section, int) { sections++ })
		out = append(out, frameworkSummary{
			ID:       f.ID,
			Name:     f.Name,
			Version:  f.Version,
			Formats:  f.Formats,
			Sections: sections,
			Rules:    f.RuleCount(),
		})
	}

	c.JSON(http.StatusOK, gin.H{"frameworks": out})
}

// =====================================================
// Helpers
// =====================================================

func statusFor(err error) int {
	switch {
	case errors.Is(err, frameworks.ErrUnknownFramework):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrReportNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) getIntParam(c *gin.Context, key string, defaultVal int) int {
	if val := c.Query(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
