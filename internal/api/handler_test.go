package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"staybroker/internal/apperr"
	"staybroker/internal/models"
	"staybroker/internal/util"
	"staybroker/internal/webhook"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

const webhookTestSecret = "whsec-test"

type memoryEventStore struct {
	seen map[string]bool
}

func (m *memoryEventStore) EnqueueWebhookEvent(ctx context.Context, event *models.WebhookEvent) (bool, error) {
	if m.seen[event.EventID] {
		return false, nil
	}
	m.seen[event.EventID] = true
	return true, nil
}

func (m *memoryEventStore) ClaimDueWebhookEvents(ctx context.Context, limit int) ([]models.WebhookEvent, error) {
	return nil, nil
}

func (m *memoryEventStore) CompleteWebhookEvent(ctx context.Context, id int64) error { return nil }

func (m *memoryEventStore) RetryWebhookEvent(ctx context.Context, id int64, attempts int, lastError string, nextRetryAt time.Time) error {
	return nil
}

func (m *memoryEventStore) DeadLetterWebhookEvent(ctx context.Context, id int64, attempts int, lastError string) error {
	return nil
}

func (m *memoryEventStore) RequeueStaleProcessingEvents(ctx context.Context, olderThan time.Duration) (int64, error) {
	return 0, nil
}

func newWebhookRouter() (*gin.Engine, *memoryEventStore) {
	gin.SetMode(gin.TestMode)

	store := &memoryEventStore{seen: make(map[string]bool)}
	pipeline := webhook.NewPipeline(store, webhookTestSecret, 3, 30*time.Second, 30*time.Minute)

	h := &Handler{pipeline: pipeline, logger: util.GetLogger()}
	router := gin.New()
	router.POST("/api/v1/webhooks/pms", h.pmsWebhook)
	return router, store
}

func signWebhook(body []byte) string {
	mac := hmac.New(sha256.New, []byte(webhookTestSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func postWebhook(router *gin.Engine, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/pms", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-PMS-Signature", signature)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestPMSWebhookAccepted(t *testing.T) {
	router, store := newWebhookRouter()

	body := []byte(`{"event_id":"evt-1","type":"booking.confirmed","data":{"booking_ref":"PMS-1"}}`)
	w := postWebhook(router, body, signWebhook(body))

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.True(t, store.seen["evt-1"])
}

func TestPMSWebhookBadSignature(t *testing.T) {
	router, store := newWebhookRouter()

	body := []byte(`{"event_id":"evt-1","type":"booking.confirmed","data":{}}`)
	w := postWebhook(router, body, "deadbeef")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, store.seen, "unverified events are never persisted")
}

func TestPMSWebhookDuplicateStillAccepted(t *testing.T) {
	router, _ := newWebhookRouter()

	body := []byte(`{"event_id":"evt-1","type":"booking.confirmed","data":{}}`)
	signature := signWebhook(body)

	assert.Equal(t, http.StatusAccepted, postWebhook(router, body, signature).Code)
	assert.Equal(t, http.StatusAccepted, postWebhook(router, body, signature).Code)
}

func TestPMSWebhookMalformedBody(t *testing.T) {
	router, _ := newWebhookRouter()

	body := []byte(`{"type":"booking.confirmed","data":{}}`)
	w := postWebhook(router, body, signWebhook(body))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWriteErrorStatusMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := &Handler{logger: util.GetLogger()}

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", apperr.ErrValidation, http.StatusBadRequest},
		{"availability conflict", apperr.ErrAvailabilityConflict, http.StatusConflict},
		{"idempotency conflict", apperr.ErrIdempotencyConflict, http.StatusConflict},
		{"in progress", apperr.ErrIdempotencyInProgress, http.StatusConflict},
		{"mode lock", apperr.ErrModeLockViolation, http.StatusUnprocessableEntity},
		{"proxy blocked", apperr.ErrProxyBlocked, http.StatusForbidden},
		{"rate limited", apperr.ErrRateLimited, http.StatusTooManyRequests},
		{"downstream", apperr.ErrDownstreamUnavailable, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			h.writeError(c, fmt.Errorf("wrapped: %w", tt.err))
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestWriteErrorInProgressRetryAfter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := &Handler{logger: util.GetLogger()}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	h.writeError(c, fmt.Errorf("key k1: %w", apperr.ErrIdempotencyInProgress))

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	// Other conflicts carry no retry hint.
	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	h.writeError(c, apperr.ErrAvailabilityConflict)
	assert.Empty(t, w.Header().Get("Retry-After"))
}

func TestRequireCaller(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := &Handler{logger: util.GetLogger()}
	router := gin.New()
	router.GET("/protected", h.requireCaller, func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/protected", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("X-Caller-ID", "svc-web")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireAdmin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := &Handler{logger: util.GetLogger()}
	router := gin.New()
	router.GET("/admin", h.requireAdmin, func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("X-Caller-ID", "alice")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code, "caller without admin role")

	req.Header.Set("X-Caller-Role", "admin")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
