package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BarkinBalci/lead-analytics-service/internal/domain"
	"github.com/BarkinBalci/lead-analytics-service/internal/dto"
	"github.com/BarkinBalci/lead-analytics-service/internal/lead"
	"github.com/BarkinBalci/lead-analytics-service/internal/service"
)

// Services groups the use cases exposed over HTTP
type Services struct {
	Events    service.EventServicer
	Leads     service.LeadServicer
	Counters  service.CounterServicer
	Reconcile service.ReconcileServicer
}

type Handler struct {
	services Services
	router   *gin.Engine
	log      *zap.Logger
}

// NewHandler builds the router. gatherer backs /metrics; nil uses the default registry.
func NewHandler(services Services, gatherer prometheus.Gatherer, log *zap.Logger) *Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	h := &Handler{
		services: services,
		router:   gin.Default(),
		log:      log,
	}

	h.registerRoutes(gatherer)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes(gatherer prometheus.Gatherer) {
	h.router.GET("/health", h.healthCheck)
	h.router.POST("/events", h.publishEvent)
	h.router.POST("/events/bulk", h.publishEventsBulk)
	h.router.POST("/leads", h.recordLead)
	h.router.GET("/counters", h.getCounter)
	h.router.GET("/counters/unique", h.getUniqueCounter)
	h.router.GET("/reconciliation", h.reconcile)
	h.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}

// healthCheck handles health check requests
// @Summary Health check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// publishEvent handles POST /events
// @Summary Publish a single raw event
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
			zap.String("event_name", req.EventName))
		h.validationError(c, err)
		return
	}

	eventID, err := h.services.Events.ProcessEvent(c.Request.Context(), &req)
	if err != nil {
		h.log.Error("Failed to process event",
			zap.Error(err),
			zap.String("event_name", req.EventName))
		h.writeError(c, err)
		return
	}

	h.log.Debug("Event accepted",
		zap.String("event_id", eventID),
		zap.String("event_name", req.EventName))

	c.JSON(http.StatusAccepted, dto.PublishEventResponse{
		EventID: eventID,
		Status:  "accepted",
	})
}

// publishEventsBulk handles POST /events/bulk
// @Summary Publish multiple raw events
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
		h.validationError(c, err)
		return
	}

	eventIDs, errs, err := h.services.Events.ProcessBulkEvents(c.Request.Context(), bulkRequest.Events)
	if err != nil {
		h.log.Error("Failed to process bulk events",
			zap.Error(err),
			zap.Int("event_count", len(bulkRequest.Events)))
		h.writeError(c, err)
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

// recordLead handles POST /leads
// @Summary Record a contact action
// @Description Appends the action to the lead for (context, seeker), creating it on first contact
// @Tags leads
// @Accept json
// @Produce json
// @Param lead body dto.RecordLeadRequest true "Lead action"
// @Success 200 {object} dto.LeadResponse
// @Success 201 {object} dto.LeadResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse
// @Router /leads [post]
func (h *Handler) recordLead(c *gin.Context) {
	var req dto.RecordLeadRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn("Invalid lead request", zap.Error(err))
		h.validationError(c, err)
		return
	}

	resp, err := h.services.Leads.RecordLead(c.Request.Context(), &req)
	if err != nil {
		h.log.Warn("Failed to record lead",
			zap.Error(err),
			zap.String("context_type", req.ContextType),
			zap.String("context_id", req.ContextID))
		h.writeError(c, err)
		return
	}

	status := http.StatusOK
	if resp.Created {
		status = http.StatusCreated
	}
	c.JSON(status, resp)
}

// getCounter handles GET /counters
// @Summary Read one daily counter
// @Tags counters
// @Produce json
// @Param subject_type query string true "listing, profile or development"
// @Param subject_id query string true "Subject id"
// @Param day query string true "UTC day, yyyy-mm-dd"
// @Param metric query string true "Metric name"
// @Param field query string false "Hash field, e.g. a share platform"
// @Success 200 {object} dto.CounterResponse
// @Failure 400 {object} dto.ErrorResponse
// @Router /counters [get]
func (h *Handler) getCounter(c *gin.Context) {
	var q dto.CounterQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.validationError(c, err)
		return
	}

	resp, err := h.services.Counters.GetCounter(c.Request.Context(), &q)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// getUniqueCounter handles GET /counters/unique
// @Summary Read one daily distinct count
// @Tags counters
// @Produce json
// @Success 200 {object} dto.CounterResponse
// @Failure 400 {object} dto.ErrorResponse
// @Router /counters/unique [get]
func (h *Handler) getUniqueCounter(c *gin.Context) {
	var q dto.CounterQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.validationError(c, err)
		return
	}

	resp, err := h.services.Counters.GetUnique(c.Request.Context(), &q)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// reconcile handles GET /reconciliation
// @Summary Compare replayed and stored aggregates
// @Description Read-only. Corrections are applied by the reconciler only.
// @Tags reconciliation
// @Produce json
// @Success 200 {object} reconcile.Report
// @Failure 400 {object} dto.ErrorResponse
// @Failure 502 {object} dto.ErrorResponse
// @Router /reconciliation [get]
func (h *Handler) reconcile(c *gin.Context) {
	var q dto.ReconciliationQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.validationError(c, err)
		return
	}

	report, err := h.services.Reconcile.Reconcile(c.Request.Context(), &q)
	if err != nil {
		h.log.Error("Reconciliation failed",
			zap.Error(err),
			zap.String("subject_type", q.SubjectType),
			zap.String("subject_id", q.SubjectID))
		h.writeError(c, err)
		return
	}

	h.log.Info("Reconciliation report served",
		zap.String("subject", report.Subject.String()),
		zap.Int("drifted_days", len(report.Drifted())),
		zap.Bool("partial", report.Partial))

	c.JSON(http.StatusOK, report)
}

func (h *Handler) validationError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, dto.ErrorResponse{
		Error:   "validation_error",
		Message: err.Error(),
	})
}

// writeError maps domain errors onto status codes
func (h *Handler) writeError(c *gin.Context, err error) {
	var (
		verr     *domain.ValidationError
		fetchErr *domain.SourceFetchError
	)
	switch {
	case errors.As(err, &verr):
		h.validationError(c, err)
	case errors.Is(err, lead.ErrVersionConflict):
		c.JSON(http.StatusConflict, dto.ErrorResponse{
			Error:   "conflict",
			Message: err.Error(),
		})
	case errors.As(err, &fetchErr):
		c.JSON(http.StatusBadGateway, dto.ErrorResponse{
			Error:   "upstream_error",
			Message: err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error:   "internal_error",
			Message: err.Error(),
		})
	}
}
