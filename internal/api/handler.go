package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"staybroker/internal/apperr"
	"staybroker/internal/pms"
	"staybroker/internal/service"
	"staybroker/internal/store"
	"staybroker/internal/util"
	"staybroker/internal/webhook"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	signatureHeader = "X-PMS-Signature"
	proxyFlag       = "admin_pms_proxy"

	maxWebhookBody = 1 << 20 // 1 MiB
)

// Handler contains HTTP handlers
type Handler struct {
	bookingService *service.BookingService
	proxyGate      *pms.ProxyGate
	pipeline       *webhook.Pipeline
	flags          *service.FlagCache
	store          *store.Store
	logger         *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	bookingService *service.BookingService,
	proxyGate *pms.ProxyGate,
	pipeline *webhook.Pipeline,
	flags *service.FlagCache,
	store *store.Store,
) *Handler {
	return &Handler{
		bookingService: bookingService,
		proxyGate:      proxyGate,
		pipeline:       pipeline,
		flags:          flags,
		store:          store,
		logger:         util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/bookings", h.requireCaller, h.createBooking)
		v1.POST("/bookings/quote", h.quote)
		v1.GET("/bookings/:id", h.requireCaller, h.getBooking)

		v1.POST("/admin/pms/proxy", h.requireAdmin, h.adminProxy)

		v1.POST("/webhooks/pms", h.pmsWebhook)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// requireCaller rejects requests without a caller identity. Authentication
// itself happens upstream at the gateway; this layer only needs the id.
func (h *Handler) requireCaller(c *gin.Context) {
	if c.GetHeader("X-Caller-ID") == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "caller identity required"})
		return
	}
	c.Next()
}

// requireAdmin additionally requires the elevated role header set by the
// gateway after its own checks.
func (h *Handler) requireAdmin(c *gin.Context) {
	if c.GetHeader("X-Caller-ID") == "" || c.GetHeader("X-Caller-Role") != "admin" {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin identity required"})
		return
	}
	c.Next()
}

// createBooking handles booking creation
func (h *Handler) createBooking(c *gin.Context) {
	var req service.CreateBookingRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	result, err := h.bookingService.Create(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.Data(result.StatusCode, "application/json", result.Body)
}

// quote handles read-only price quotes
func (h *Handler) quote(c *gin.Context) {
	var req service.QuoteRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	resp, err := h.bookingService.Quote(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// getBooking handles get booking by ID
func (h *Handler) getBooking(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid booking ID"})
		return
	}

	booking, err := h.bookingService.Get(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"booking": booking})
}

// adminProxy forwards an ad hoc admin call into the PMS
func (h *Handler) adminProxy(c *gin.Context) {
	if !h.flags.IsEnabled(c.Request.Context(), proxyFlag) {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin proxy is disabled"})
		return
	}

	var req pms.ProxyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}
	if !pms.ValidMethod(req.Method) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unsupported method"})
		return
	}

	result, err := h.proxyGate.Forward(c.Request.Context(), &req)

	if result != nil && result.Audit != nil {
		if auditErr := h.store.InsertProxyAuditEntry(c.Request.Context(), result.Audit); auditErr != nil {
			h.logger.Error("Failed to persist proxy audit entry", zap.Error(auditErr))
		}
	}

	if err != nil {
		h.writeError(c, err)
		return
	}

	c.Data(result.Status, "application/json", result.Body)
}

// pmsWebhook ingests an inbound PMS event. The 202 acknowledges durable
// acceptance, not processing.
func (h *Handler) pmsWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read body"})
		return
	}

	_, err = h.pipeline.Ingest(c.Request.Context(), c.GetHeader(signatureHeader), body)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// writeError maps service errors onto HTTP statuses. An in-flight duplicate
// (same idempotency key, first request not yet committed) gets 409 with a
// Retry-After hint; the retry replays the committed response.
func (h *Handler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError

	if errors.Is(err, apperr.ErrIdempotencyInProgress) {
		c.Header("Retry-After", "1")
	}

	switch {
	case errors.Is(err, apperr.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, apperr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperr.ErrInvalidSignature):
		status = http.StatusUnauthorized
	case errors.Is(err, apperr.ErrAuth):
		status = http.StatusUnauthorized
	case errors.Is(err, apperr.ErrProxyBlocked):
		status = http.StatusForbidden
	case errors.Is(err, apperr.ErrAvailabilityConflict),
		errors.Is(err, apperr.ErrIdempotencyConflict),
		errors.Is(err, apperr.ErrIdempotencyInProgress):
		status = http.StatusConflict
	case errors.Is(err, apperr.ErrModeLockViolation):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, apperr.ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, apperr.ErrDownstreamUnavailable):
		status = http.StatusBadGateway
	}

	c.JSON(status, gin.H{"error": err.Error()})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
