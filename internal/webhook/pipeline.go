package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"staybroker/internal/apperr"
	"staybroker/internal/models"
	"staybroker/internal/util"

	"go.uber.org/zap"
)

// EventStore is the persistent queue the pipeline reads and mutates.
// *store.Store implements it.
type EventStore interface {
	EnqueueWebhookEvent(ctx context.Context, event *models.WebhookEvent) (bool, error)
	ClaimDueWebhookEvents(ctx context.Context, limit int) ([]models.WebhookEvent, error)
	CompleteWebhookEvent(ctx context.Context, id int64) error
	RetryWebhookEvent(ctx context.Context, id int64, attempts int, lastError string, nextRetryAt time.Time) error
	DeadLetterWebhookEvent(ctx context.Context, id int64, attempts int, lastError string) error
	RequeueStaleProcessingEvents(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Handler processes one event type
type Handler func(ctx context.Context, event *models.WebhookEvent) error

// Pipeline verifies, enqueues and processes inbound PMS events. Ingestion
// acknowledges on durable enqueue; processing happens asynchronously with
// exponential backoff and dead-lettering.
type Pipeline struct {
	store       EventStore
	secret      []byte
	maxRetries  int
	backoffBase time.Duration
	backoffCap  time.Duration
	handlers    map[string]Handler
	logger      *zap.Logger
	now         func() time.Time
}

// NewPipeline creates a new webhook pipeline
func NewPipeline(store EventStore, secret string, maxRetries int, backoffBase, backoffCap time.Duration) *Pipeline {
	return &Pipeline{
		store:       store,
		secret:      []byte(secret),
		maxRetries:  maxRetries,
		backoffBase: backoffBase,
		backoffCap:  backoffCap,
		handlers:    make(map[string]Handler),
		logger:      util.GetLogger(),
		now:         time.Now,
	}
}

// RegisterHandler registers the handler for an event type
func (p *Pipeline) RegisterHandler(eventType string, handler Handler) {
	p.handlers[eventType] = handler
}

// VerifySignature checks the hex HMAC-SHA256 signature over the raw body.
func (p *Pipeline) VerifySignature(signature string, body []byte) bool {
	mac := hmac.New(sha256.New, p.secret)
	mac.Write(body)
	expected := mac.Sum(nil)

	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, provided)
}

// Ingest verifies the signature and durably enqueues the event. Nothing is
// persisted for an unverified request. Returns false for a duplicate event
// id, which callers still acknowledge.
func (p *Pipeline) Ingest(ctx context.Context, signature string, rawBody []byte) (bool, error) {
	if !p.VerifySignature(signature, rawBody) {
		util.WebhooksReceivedTotal.WithLabelValues("bad_signature").Inc()
		return false, apperr.ErrInvalidSignature
	}

	var envelope models.WebhookEnvelope
	if err := json.Unmarshal(rawBody, &envelope); err != nil {
		util.WebhooksReceivedTotal.WithLabelValues("malformed").Inc()
		return false, fmt.Errorf("malformed webhook body: %w", apperr.ErrValidation)
	}
	if envelope.EventID == "" || envelope.Type == "" {
		util.WebhooksReceivedTotal.WithLabelValues("malformed").Inc()
		return false, fmt.Errorf("event_id and type are required: %w", apperr.ErrValidation)
	}

	event := &models.WebhookEvent{
		EventID:    envelope.EventID,
		Type:       envelope.Type,
		Payload:    envelope.Data,
		MaxRetries: p.maxRetries,
	}

	inserted, err := p.store.EnqueueWebhookEvent(ctx, event)
	if err != nil {
		return false, fmt.Errorf("failed to enqueue webhook event: %w", err)
	}

	if !inserted {
		util.WebhooksReceivedTotal.WithLabelValues("duplicate").Inc()
		p.logger.Info("Duplicate webhook event acknowledged",
			zap.String("event_id", envelope.EventID))
		return false, nil
	}

	util.WebhooksReceivedTotal.WithLabelValues("accepted").Inc()
	return true, nil
}

// ClaimDue claims up to limit due events for processing
func (p *Pipeline) ClaimDue(ctx context.Context, limit int) ([]models.WebhookEvent, error) {
	return p.store.ClaimDueWebhookEvents(ctx, limit)
}

// RequeueStale returns events abandoned mid-processing to the queue
func (p *Pipeline) RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	return p.store.RequeueStaleProcessingEvents(ctx, olderThan)
}

// Process runs the registered handler for one claimed event and records the
// outcome: COMPLETED, PENDING with a later retry time, or DEAD_LETTER.
func (p *Pipeline) Process(ctx context.Context, event *models.WebhookEvent) error {
	start := time.Now()
	err := p.dispatch(ctx, event)
	util.WebhookProcessingLatency.Observe(time.Since(start).Seconds())

	if err == nil {
		util.WebhooksProcessedTotal.WithLabelValues("success").Inc()
		return p.store.CompleteWebhookEvent(ctx, event.ID)
	}

	attempts := event.Attempts + 1
	if attempts >= event.MaxRetries {
		util.WebhooksProcessedTotal.WithLabelValues("dead_letter").Inc()
		util.WebhooksDeadLetteredTotal.Inc()
		p.logger.Error("Webhook event dead-lettered",
			zap.String("event_id", event.EventID),
			zap.String("type", event.Type),
			zap.Int("attempts", attempts),
			zap.Error(err))
		return p.store.DeadLetterWebhookEvent(ctx, event.ID, attempts, err.Error())
	}

	nextRetryAt := p.now().Add(NextBackoff(p.backoffBase, p.backoffCap, attempts))
	util.WebhooksProcessedTotal.WithLabelValues("retry").Inc()
	p.logger.Warn("Webhook event failed, scheduling retry",
		zap.String("event_id", event.EventID),
		zap.Int("attempts", attempts),
		zap.Time("next_retry_at", nextRetryAt),
		zap.Error(err))
	return p.store.RetryWebhookEvent(ctx, event.ID, attempts, err.Error(), nextRetryAt)
}

func (p *Pipeline) dispatch(ctx context.Context, event *models.WebhookEvent) error {
	handler, ok := p.handlers[event.Type]
	if !ok {
		// Unknown types complete immediately rather than retrying forever.
		p.logger.Info("No handler for webhook event type, skipping",
			zap.String("type", event.Type))
		return nil
	}
	return handler(ctx, event)
}
