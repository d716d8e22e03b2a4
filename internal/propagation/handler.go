package propagation

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"carbon-scribe/ghg-reporting/internal/emissions"
	"carbon-scribe/ghg-reporting/internal/emissions/factors"
	"carbon-scribe/ghg-reporting/internal/reports"
	"carbon-scribe/ghg-reporting/pkg/workflows"
)

// Handler exposes activities, results and factors over HTTP. Every write
// goes through the engine so it propagates.
type Handler struct {
	engine *Engine
	logger *zap.Logger
}

// NewHandler creates a new emissions handler
func NewHandler(engine *Engine, logger *zap.Logger) *Handler {
	return &Handler{
		engine: engine,
		logger: logger,
	}
}

// RegisterRoutes registers emissions routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	organizations := router.Group("/organizations")
	{
		organizations.PUT("/:id", h.upsertOrganization)
		organizations.GET("/:id", h.getOrganization)
		organizations.POST("/:id/recalculate", h.recalculateAll)
	}

	activities := router.Group("/activities")
	{
		activities.POST("", h.createActivity)
		activities.GET("", h.listActivities)
		activities.GET("/:id", h.getActivity)
		activities.PUT("/:id", h.updateActivity)
		activities.DELETE("/:id", h.archiveActivity)
		activities.POST("/:id/recalculate", h.recalculate)
		activities.GET("/:id/results", h.activityResults)
	}

	results := router.Group("/results")
	{
		results.GET("", h.listResults)
		results.GET("/:id", h.getResult)
		results.POST("/:id/approve", h.approveResult)
		results.POST("/:id/archive", h.archiveResult)
	}

	factors := router.Group("/factors")
	{
		factors.GET("", h.listFactors)
		factors.POST("", h.registerFactor)
		factors.GET("/:id", h.getFactor)
		factors.POST("/:id/versions", h.activateFactorVersion)
	}

	router.POST("/report-requests", h.requestReport)
}

// =====================================================
// Request/Response Types
// =====================================================

// ActivityRequest is the writable part of an activity record
type ActivityRequest struct {
	CompanyID    uuid.UUID                 `json:"company_id"`
	Scope        emissions.Scope           `json:"scope" binding:"required"`
	Category     string                    `json:"category" binding:"required"`
	Subcategory  *string                   `json:"subcategory,omitempty"`
	Amount       float64                   `json:"amount"`
	Unit         string                    `json:"unit" binding:"required"`
	Period       emissions.Period          `json:"period"`
	DataQuality  emissions.DataQualityTier `json:"data_quality"`
	Source       string                    `json:"source"`
	Location     *string                   `json:"location,omitempty"`
	Notes        *string                   `json:"notes,omitempty"`
	Scope2Method emissions.Scope2Method    `json:"scope2_method,omitempty"`
}

func (r *ActivityRequest) toActivity(id uuid.UUID) *emissions.ActivityData {
	quality := r.DataQuality
	if quality == "" {
		quality = emissions.DataQualityEstimated
	}
	return &emissions.ActivityData{
		ID:           id,
		CompanyID:    r.CompanyID,
		Scope:        r.Scope,
		Category:     r.Category,
		Subcategory:  r.Subcategory,
		Amount:       r.Amount,
		Unit:         r.Unit,
		Period:       r.Period,
		DataQuality:  quality,
		Source:       r.Source,
		Location:     r.Location,
		Notes:        r.Notes,
		Scope2Method: r.Scope2Method,
	}
}

// ActivityResponse is an activity with its lifecycle state and current result
type ActivityResponse struct {
	Activity *emissions.ActivityData   `json:"activity"`
	State    workflows.State           `json:"state"`
	Result   *emissions.EmissionResult `json:"result,omitempty"`
}

// ApproveRequest names the reviewer of a result
type ApproveRequest struct {
	Reviewer string `json:"reviewer" binding:"required"`
}

// FactorVersionRequest activates a new version of a factor
type FactorVersionRequest struct {
	Factor                 emissions.EmissionFactor `json:"factor"`
	AffectsExistingResults bool                     `json:"affects_existing_results"`
}

// =====================================================
// Organizations
// =====================================================

// upsertOrganization handles PUT /api/v1/organizations/:id
func (h *Handler) upsertOrganization(c *gin.Context) {
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}

	var org emissions.Organization
	if err := c.ShouldBindJSON(&org); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	org.ID = id
	if org.AssuranceLevel == "" {
		org.AssuranceLevel = emissions.AssuranceNone
	}
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now().UTC()
	}

	if err := h.engine.repo.UpsertOrganization(c.Request.Context(), &org); err != nil {
		h.logger.Error("Failed to save organization", zap.Error(err), zap.String("organization_id", id.String()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, org)
}

// getOrganization handles GET /api/v1/organizations/:id
func (h *Handler) getOrganization(c *gin.Context) {
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}

	org, err := h.engine.repo.GetOrganization(c.Request.Context(), id)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, org)
}

// recalculateAll handles POST /api/v1/organizations/:id/recalculate
func (h *Handler) recalculateAll(c *gin.Context) {
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}

	result, err := h.engine.RecalculateAll(c.Request.Context(), id, nil)
	if err != nil && result == nil {
		h.logger.Error("Failed to recalculate organization", zap.Error(err), zap.String("company_id", id.String()))
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

// =====================================================
// Activities
// =====================================================

// createActivity handles POST /api/v1/activities
func (h *Handler) createActivity(c *gin.Context) {
	var req ActivityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	activity, err := h.engine.CreateActivity(c.Request.Context(), req.toActivity(uuid.Nil))
	if activity == nil {
		h.logger.Error("Failed to create activity", zap.Error(err), zap.String("company_id", req.CompanyID.String()))
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.logger.Warn("Activity stored but propagation incomplete", zap.Error(err),
			zap.String("activity_id", activity.ID.String()))
	}

	c.JSON(http.StatusCreated, h.activityResponse(c, activity))
}

// listActivities handles GET /api/v1/activities
func (h *Handler) listActivities(c *gin.Context) {
	var filter emissions.ActivityFilter
	if !h.bindCommonFilters(c, &filter.CompanyID, &filter.Scope, &filter.Category, &filter.From, &filter.To) {
		return
	}
	filter.IncludeArchived = c.Query("include_archived") == "true"
	filter.Limit = h.getIntParam(c, "limit", 100)
	filter.Offset = h.getIntParam(c, "offset", 0)

	activities, err := h.engine.repo.ListActivities(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list activities", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"activities": activities, "count": len(activities)})
}

// getActivity handles GET /api/v1/activities/:id
func (h *Handler) getActivity(c *gin.Context) {
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}

	activity, err := h.engine.repo.GetActivity(c.Request.Context(), id)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, h.activityResponse(c, activity))
}

// updateActivity handles PUT /api/v1/activities/:id
func (h *Handler) updateActivity(c *gin.Context) {
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}

	var req ActivityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	activity, err := h.engine.UpdateActivity(c.Request.Context(), req.toActivity(id))
	if activity == nil {
		h.logger.Error("Failed to update activity", zap.Error(err), zap.String("activity_id", id.String()))
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.logger.Warn("Activity updated but propagation incomplete", zap.Error(err),
			zap.String("activity_id", id.String()))
	}

	c.JSON(http.StatusOK, h.activityResponse(c, activity))
}

// archiveActivity handles DELETE /api/v1/activities/:id
func (h *Handler) archiveActivity(c *gin.Context) {
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}

	if err := h.engine.ArchiveActivity(c.Request.Context(), id); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.Status(http.StatusNoContent)
}

// recalculate handles POST /api/v1/activities/:id/recalculate
func (h *Handler) recalculate(c *gin.Context) {
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}

	reason := c.DefaultQuery("reason", "manual recalculation")
	if err := h.engine.Recalculate(c.Request.Context(), id, reason); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	activity, err := h.engine.repo.GetActivity(c.Request.Context(), id)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.activityResponse(c, activity))
}

// activityResults handles GET /api/v1/activities/:id/results. Archived
// versions are included.
func (h *Handler) activityResults(c *gin.Context) {
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}

	results, err := h.engine.repo.ListResults(c.Request.Context(), emissions.ResultFilter{
		ActivityID:      &id,
		IncludeArchived: true,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"results": results, "count": len(results)})
}

// =====================================================
// Results
// =====================================================

// listResults handles GET /api/v1/results
func (h *Handler) listResults(c *gin.Context) {
	var filter emissions.ResultFilter
	if !h.bindCommonFilters(c, &filter.CompanyID, &filter.Scope, &filter.Category, &filter.From, &filter.To) {
		return
	}
	filter.IncludeArchived = c.Query("include_archived") == "true"
	if raw := c.Query("factor_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid factor ID"})
			return
		}
		filter.FactorID = &id
	}

	results, err := h.engine.repo.ListResults(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list results", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"results": results, "count": len(results)})
}

// getResult handles GET /api/v1/results/:id
func (h *Handler) getResult(c *gin.Context) {
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}

	result, err := h.engine.repo.GetResult(c.Request.Context(), id)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

// approveResult handles POST /api/v1/results/:id/approve
func (h *Handler) approveResult(c *gin.Context) {
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}

	var req ApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.engine.ApproveResult(c.Request.Context(), id, req.Reviewer)
	if err != nil {
		h.logger.Error("Failed to approve result", zap.Error(err), zap.String("result_id", id.String()))
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

// archiveResult handles POST /api/v1/results/:id/archive
func (h *Handler) archiveResult(c *gin.Context) {
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}

	if err := h.engine.ArchiveResult(c.Request.Context(), id); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.Status(http.StatusNoContent)
}

// =====================================================
// Factors
// =====================================================

// listFactors handles GET /api/v1/factors
func (h *Handler) listFactors(c *gin.Context) {
	activeOnly := c.DefaultQuery("active_only", "true") == "true"
	scope := c.Query("scope")
	category := c.Query("category")

	var out []*emissions.EmissionFactor
	for _, f := range h.engine.registry.List(activeOnly) {
		if scope != "" {
			s, err := emissions.ParseScope(scope)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			if f.Scope != s {
				continue
			}
		}
		if category != "" && f.Category != category {
			continue
		}
		out = append(out, f)
	}

	c.JSON(http.StatusOK, gin.H{"factors": out, "count": len(out)})
}

// getFactor handles GET /api/v1/factors/:id
func (h *Handler) getFactor(c *gin.Context) {
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}

	factor, err := h.engine.registry.Get(id)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, factor)
}

// registerFactor handles POST /api/v1/factors
func (h *Handler) registerFactor(c *gin.Context) {
	var factor emissions.EmissionFactor
	if err := c.ShouldBindJSON(&factor); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.engine.RegisterFactor(c.Request.Context(), &factor); err != nil {
		h.logger.Error("Failed to register factor", zap.Error(err), zap.String("name", factor.Name))
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, factor)
}

// activateFactorVersion handles POST /api/v1/factors/:id/versions
func (h *Handler) activateFactorVersion(c *gin.Context) {
	oldID, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}

	var req FactorVersionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	change, err := h.engine.ActivateFactorVersion(c.Request.Context(), &req.Factor, oldID, req.AffectsExistingResults)
	if change == nil {
		h.logger.Error("Failed to activate factor version", zap.Error(err), zap.String("factor_id", oldID.String()))
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.logger.Warn("Factor version active but propagation incomplete", zap.Error(err))
	}

	c.JSON(http.StatusCreated, change)
}

// =====================================================
// Reports
// =====================================================

// requestReport handles POST /api/v1/report-requests. Generation runs in
// the notification cascade; the report is pushed to dashboard clients.
func (h *Handler) requestReport(c *gin.Context) {
	var req reports.GenerateReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.engine.RequestReport(c.Request.Context(), &req); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// =====================================================
// Helpers
// =====================================================

func (h *Handler) activityResponse(c *gin.Context, activity *emissions.ActivityData) ActivityResponse {
	resp := ActivityResponse{Activity: activity, State: StateArchived}
	if activity.ArchivedAt != nil {
		return resp
	}

	ctx := c.Request.Context()
	if state, err := h.engine.State(ctx, activity.ID); err == nil {
		resp.State = state
	}
	if result, err := h.engine.currentResult(ctx, activity.ID); err == nil {
		resp.Result = result
	}
	return resp
}

func (h *Handler) bindCommonFilters(c *gin.Context, companyID **uuid.UUID, scope **emissions.Scope, category **string, from, to **time.Time) bool {
	if raw := c.Query("company_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid company ID"})
			return false
		}
		*companyID = &id
	}
	if raw := c.Query("scope"); raw != "" {
		s, err := emissions.ParseScope(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return false
		}
		*scope = &s
	}
	if raw := c.Query("category"); raw != "" {
		*category = &raw
	}
	if year := h.getIntParam(c, "year", 0); year > 0 {
		p := emissions.NewCalendarYear(year)
		*from = &p.Start
		*to = &p.End
	}
	return true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, emissions.ErrNotFound):
		return http.StatusNotFound
	case emissions.IsInputError(err), errors.Is(err, ErrInvalidRequest), errors.Is(err, factors.ErrInvalidFactor):
		return http.StatusBadRequest
	case errors.Is(err, emissions.ErrNoFactorFound):
		return http.StatusUnprocessableEntity
	case errors.Is(err, emissions.ErrActivityReferenced),
		errors.Is(err, emissions.ErrActivityArchived),
		errors.Is(err, emissions.ErrResultArchived),
		errors.Is(err, workflows.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) uuidParam(c *gin.Context, key string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(key))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + key})
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) getIntParam(c *gin.Context, key string, defaultVal int) int {
	if val := c.Query(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
