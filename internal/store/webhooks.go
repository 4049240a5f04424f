package store

import (
	"context"
	"database/sql"
	"time"

	"staybroker/internal/models"
)

// EnqueueWebhookEvent inserts a PENDING event keyed by the provider event id.
// Returns false when an event with that id already exists in any state, so
// ingestion stays idempotent without a read-then-write race.
func (s *Store) EnqueueWebhookEvent(ctx context.Context, event *models.WebhookEvent) (bool, error) {
	query := `
		INSERT INTO webhook_events
			(event_id, type, payload, status, attempts, max_retries, next_retry_at)
		VALUES ($1, $2, $3, $4, 0, $5, NOW())
		ON CONFLICT (event_id) DO NOTHING
		RETURNING id, created_at, updated_at`

	err := s.db.GetContext(ctx, event, query,
		event.EventID, event.Type, event.Payload, models.WebhookStatusPending, event.MaxRetries)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ClaimDueWebhookEvents atomically moves up to limit due PENDING events to
// PROCESSING and returns them. SKIP LOCKED lets concurrent workers claim
// disjoint batches.
func (s *Store) ClaimDueWebhookEvents(ctx context.Context, limit int) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	err := s.db.SelectContext(ctx, &events, `
		UPDATE webhook_events SET status = $1, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM webhook_events
			WHERE status = $2 AND next_retry_at <= NOW()
			ORDER BY next_retry_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *`,
		models.WebhookStatusProcessing, models.WebhookStatusPending, limit)
	return events, err
}

// CompleteWebhookEvent marks an event COMPLETED
func (s *Store) CompleteWebhookEvent(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE webhook_events
		SET status = $1, processed_at = NOW(), updated_at = NOW()
		WHERE id = $2`,
		models.WebhookStatusCompleted, id)
	return err
}

// RetryWebhookEvent returns a failed event to PENDING with the next attempt
// count and retry time recorded
func (s *Store) RetryWebhookEvent(ctx context.Context, id int64, attempts int, lastError string, nextRetryAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE webhook_events
		SET status = $1, attempts = $2, last_error = $3, next_retry_at = $4, updated_at = NOW()
		WHERE id = $5`,
		models.WebhookStatusPending, attempts, lastError, nextRetryAt, id)
	return err
}

// DeadLetterWebhookEvent terminally parks an event that exhausted its retries
func (s *Store) DeadLetterWebhookEvent(ctx context.Context, id int64, attempts int, lastError string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE webhook_events
		SET status = $1, attempts = $2, last_error = $3, updated_at = NOW()
		WHERE id = $4`,
		models.WebhookStatusDeadLetter, attempts, lastError, id)
	return err
}

// RequeueStaleProcessingEvents returns events stuck in PROCESSING (a crash
// between claim and outcome) to PENDING so they are picked up again.
func (s *Store) RequeueStaleProcessingEvents(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE webhook_events
		SET status = $1, updated_at = NOW()
		WHERE status = $2 AND updated_at < NOW() - $3 * INTERVAL '1 second'`,
		models.WebhookStatusPending, models.WebhookStatusProcessing, int(olderThan.Seconds()))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetWebhookEventByEventID retrieves an event by provider event id
func (s *Store) GetWebhookEventByEventID(ctx context.Context, eventID string) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	err := s.db.GetContext(ctx, &event, "SELECT * FROM webhook_events WHERE event_id = $1", eventID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// GetDeadLetteredEvents lists dead-lettered events for operator review
func (s *Store) GetDeadLetteredEvents(ctx context.Context, limit int) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	err := s.db.SelectContext(ctx, &events,
		"SELECT * FROM webhook_events WHERE status = $1 ORDER BY updated_at DESC LIMIT $2",
		models.WebhookStatusDeadLetter, limit)
	return events, err
}
