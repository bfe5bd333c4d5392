package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/RedHatInsights/notifications-backend-sub014/internal/dto"
	"github.com/RedHatInsights/notifications-backend-sub014/internal/service"
)

const healthTimeout = 2 * time.Second

// HealthChecker reports whether a dependency is reachable
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	eventService   service.EventServicer
	historyService service.HistoryServicer
	health         HealthChecker
	gatherer       prometheus.Gatherer
	router         *gin.Engine
	log            *zap.Logger
}

func NewHandler(eventService service.EventServicer, historyService service.HistoryServicer, health HealthChecker, gatherer prometheus.Gatherer, log *zap.Logger) *Handler {
	h := &Handler{
		eventService:   eventService,
		historyService: historyService,
		health:         health,
		gatherer:       gatherer,
		router:         gin.Default(),
		log:            log,
	}

	h.registerRoutes()

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.router.GET("/health", h.healthCheck)
	h.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	h.router.POST("/events", h.publishEvent)
	h.router.POST("/events/bulk", h.publishEventsBulk)
	h.router.GET("/history", h.getHistory)
	h.router.GET("/history/stats", h.getStats)
	h.router.POST("/aggregations/flush", h.triggerFlush)
}

// healthCheck handles GET /health
// @Summary Health check
// @Description Check that the history store is reachable
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 503 {object} map[string]string
// @Router /health [get]
func (h *Handler) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	if err := h.health.Ping(ctx); err != nil {
		h.log.Warn("Health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unavailable",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// publishEvent handles POST /events
// @Summary Publish a single event
// @Description Validate an event and enqueue it for dispatch
// @Tags events
// @Accept json
// @Produce json
// @Param event body dto.PublishEventRequest true "Event data"
// @Success 202 {object} dto.PublishEventResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /events [post]
func (h *Handler) publishEvent(c *gin.Context) {
	var req dto.PublishEventRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn("Invalid event request",
			zap.Error(err),
			zap.String("org_id", req.OrgID))
		validationError(c, err)
		return
	}

	eventID, err := h.eventService.ProcessEvent(c.Request.Context(), &req)
	if err != nil {
		h.log.Error("Failed to process event",
			zap.Error(err),
			zap.String("org_id", req.OrgID),
			zap.String("event_type", req.EventType))
		h.serviceError(c, err)
		return
	}

	h.log.Info("Event accepted",
		zap.String("event_id", eventID),
		zap.String("org_id", req.OrgID))

	c.JSON(http.StatusAccepted, dto.PublishEventResponse{
		EventID: eventID,
		Status:  "accepted",
	})
}

// publishEventsBulk handles POST /events/bulk
// @Summary Publish multiple events
// @Description Validate events and enqueue them for dispatch in bulk
// @Tags events
// @Accept json
// @Produce json
// @Param events body dto.PublishEventsBulkRequest true "Bulk events data"
// @Success 202 {object} dto.PublishBulkEventsResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /events/bulk [post]
func (h *Handler) publishEventsBulk(c *gin.Context) {
	var bulkRequest dto.PublishEventsBulkRequest

	if err := c.ShouldBindJSON(&bulkRequest); err != nil {
		h.log.Warn("Invalid bulk event request", zap.Error(err))
		validationError(c, err)
		return
	}

	eventIDs, errs, err := h.eventService.ProcessBulkEvents(c.Request.Context(), bulkRequest.Events)
	if err != nil {
		h.log.Error("Failed to process bulk events",
			zap.Error(err),
			zap.Int("event_count", len(bulkRequest.Events)))
		h.serviceError(c, err)
		return
	}

	h.log.Info("Bulk events processed",
		zap.Int("accepted", len(eventIDs)),
		zap.Int("rejected", len(errs)),
		zap.Int("total", len(bulkRequest.Events)))

	c.JSON(http.StatusAccepted, dto.PublishBulkEventsResponse{
		Accepted: len(eventIDs),
		Rejected: len(errs),
		EventIDs: eventIDs,
		Errors:   errs,
	})
}

// getHistory handles GET /history?event_id=
// @Summary Get delivery history
// @Description Retrieve the history records written for one event
// @Tags history
// @Produce json
// @Param event_id query string true "Event id"
// @Success 200 {object} dto.GetHistoryResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /history [get]
func (h *Handler) getHistory(c *gin.Context) {
	var req dto.GetHistoryRequest

	if err := c.ShouldBindQuery(&req); err != nil {
		h.log.Warn("Invalid history request", zap.Error(err))
		validationError(c, err)
		return
	}

	response, err := h.historyService.GetHistory(c.Request.Context(), &req)
	if err != nil {
		h.log.Error("Failed to get history",
			zap.Error(err),
			zap.String("event_id", req.EventID))
		h.serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, response)
}

// getStats handles GET /history/stats
// @Summary Get delivery statistics
// @Description Count history records in a time range with optional grouping
// @Tags history
// @Produce json
// @Param from query int true "Start timestamp (Unix epoch)" example:"1723475612"
// @Param to query int true "End timestamp (Unix epoch)" example:"1723562012"
// @Param group_by query string false "Field to group by" Enums(endpoint_type, status, hour, day)
// @Success 200 {object} dto.GetStatsResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /history/stats [get]
func (h *Handler) getStats(c *gin.Context) {
	var req dto.GetStatsRequest

	if err := c.ShouldBindQuery(&req); err != nil {
		h.log.Warn("Invalid stats request", zap.Error(err))
		validationError(c, err)
		return
	}

	response, err := h.historyService.GetStats(c.Request.Context(), &req)
	if err != nil {
		h.log.Error("Failed to get stats",
			zap.Error(err),
			zap.Int64("from", req.From),
			zap.Int64("to", req.To))
		h.serviceError(c, err)
		return
	}

	h.log.Info("Stats retrieved",
		zap.Uint64("total_count", response.TotalCount),
		zap.Uint64("failed_count", response.FailedCount))

	c.JSON(http.StatusOK, response)
}

// triggerFlush handles POST /aggregations/flush. An empty body flushes all due keys.
// @Summary Flush aggregations
// @Description Send pending daily digests for one key, all due keys or every key
// @Tags aggregations
// @Accept json
// @Produce json
// @Param request body dto.FlushRequest false "Key to flush"
// @Success 200 {object} dto.FlushResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /aggregations/flush [post]
func (h *Handler) triggerFlush(c *gin.Context) {
	var req dto.FlushRequest

	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.log.Warn("Invalid flush request", zap.Error(err))
			validationError(c, err)
			return
		}
	}

	response, err := h.historyService.TriggerFlush(c.Request.Context(), &req)
	if err != nil {
		h.serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, response)
}

func validationError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, dto.ErrorResponse{
		Error:   "validation_error",
		Message: err.Error(),
	})
}

func (h *Handler) serviceError(c *gin.Context, err error) {
	if errors.Is(err, service.ErrValidation) {
		validationError(c, err)
		return
	}
	c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
		Error:   "internal_error",
		Message: err.Error(),
	})
}
