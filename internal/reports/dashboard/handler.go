package dashboard

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"carbon-scribe/ghg-reporting/internal/emissions"
	"carbon-scribe/ghg-reporting/internal/notifications/websocket"
)

// Handler serves inventory views and the dashboard push channel
type Handler struct {
	aggregator *Aggregator
	ws         *websocket.Manager
	logger     *zap.Logger
}

// NewHandler creates a new dashboard handler. ws may be nil, in which case
// the /ws route is not registered.
func NewHandler(aggregator *Aggregator, ws *websocket.Manager, logger *zap.Logger) *Handler {
	return &Handler{
		aggregator: aggregator,
		ws:         ws,
		logger:     logger,
	}
}

// RegisterRoutes registers dashboard routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	inventory := router.Group("/inventory")
	{
		inventory.GET("", h.getInventory)
		inventory.GET("/summary", h.getSummary)
	}

	if h.ws != nil {
		router.GET("/ws", h.connect)
	}
}

// getInventory handles GET /api/v1/inventory
func (h *Handler) getInventory(c *gin.Context) {
	companyID, period, ok := h.parseQuery(c)
	if !ok {
		return
	}

	inv, err := h.aggregator.Inventory(c.Request.Context(), companyID, period)
	if err != nil {
		h.logger.Error("Failed to build inventory", zap.Error(err), zap.String("company_id", companyID.String()))
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, inv)
}

// getSummary handles GET /api/v1/inventory/summary
func (h *Handler) getSummary(c *gin.Context) {
	companyID, period, ok := h.parseQuery(c)
	if !ok {
		return
	}

	summary, err := h.aggregator.Summary(c.Request.Context(), companyID, period)
	if err != nil {
		h.logger.Error("Failed to build inventory summary", zap.Error(err), zap.String("company_id", companyID.String()))
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, summary)
}

// connect handles GET /api/v1/ws
func (h *Handler) connect(c *gin.Context) {
	conn, err := h.ws.HandleConnection(c.Writer, c.Request)
	if err != nil {
		// the upgrader has already written the error response
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	h.logger.Debug("WebSocket connected", zap.String("connection_id", conn.ID), zap.String("ip", conn.IPAddress))
}

// parseQuery reads company_id plus either year or start/end dates
func (h *Handler) parseQuery(c *gin.Context) (uuid.UUID, emissions.Period, bool) {
	companyID, err := uuid.Parse(c.Query("company_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid company ID"})
		return uuid.Nil, emissions.Period{}, false
	}

	if start, end := c.Query("start"), c.Query("end"); start != "" || end != "" {
		from, err1 := time.Parse(time.DateOnly, start)
		to, err2 := time.Parse(time.DateOnly, end)
		if err1 != nil || err2 != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "start and end must be YYYY-MM-DD dates"})
			return uuid.Nil, emissions.Period{}, false
		}
		period := emissions.Period{Start: from, End: to.Add(24*time.Hour - time.Second)}
		return companyID, period, true
	}

	year := time.Now().UTC().Year() - 1
	if raw := c.Query("year"); raw != "" {
		y, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid year"})
			return uuid.Nil, emissions.Period{}, false
		}
		year = y
	}
	return companyID, emissions.NewCalendarYear(year), true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, emissions.ErrInvalidPeriod):
		return http.StatusBadRequest
	case errors.Is(err, emissions.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
