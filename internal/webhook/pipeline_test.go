package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"staybroker/internal/apperr"
	"staybroker/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec-test"

// fakeEventStore is an in-memory EventStore for pipeline tests.
type fakeEventStore struct {
	nextID   int64
	events   map[string]*models.WebhookEvent
	byID     map[int64]*models.WebhookEvent
	requeued int64
}

func newFakeEventStore() *fakeEventStore {
	return &fakeEventStore{
		events: make(map[string]*models.WebhookEvent),
		byID:   make(map[int64]*models.WebhookEvent),
	}
}

func (f *fakeEventStore) EnqueueWebhookEvent(ctx context.Context, event *models.WebhookEvent) (bool, error) {
	if _, ok := f.events[event.EventID]; ok {
		return false, nil
	}
	f.nextID++
	event.ID = f.nextID
	event.Status = models.WebhookStatusPending
	f.events[event.EventID] = event
	f.byID[event.ID] = event
	return true, nil
}

func (f *fakeEventStore) ClaimDueWebhookEvents(ctx context.Context, limit int) ([]models.WebhookEvent, error) {
	var claimed []models.WebhookEvent
	for _, e := range f.byID {
		if len(claimed) >= limit {
			break
		}
		if e.Status == models.WebhookStatusPending && !e.NextRetryAt.After(time.Now()) {
			e.Status = models.WebhookStatusProcessing
			claimed = append(claimed, *e)
		}
	}
	return claimed, nil
}

func (f *fakeEventStore) CompleteWebhookEvent(ctx context.Context, id int64) error {
	f.byID[id].Status = models.WebhookStatusCompleted
	return nil
}

func (f *fakeEventStore) RetryWebhookEvent(ctx context.Context, id int64, attempts int, lastError string, nextRetryAt time.Time) error {
	e := f.byID[id]
	e.Status = models.WebhookStatusPending
	e.Attempts = attempts
	e.LastError = lastError
	e.NextRetryAt = nextRetryAt
	return nil
}

func (f *fakeEventStore) DeadLetterWebhookEvent(ctx context.Context, id int64, attempts int, lastError string) error {
	e := f.byID[id]
	e.Status = models.WebhookStatusDeadLetter
	e.Attempts = attempts
	e.LastError = lastError
	return nil
}

func (f *fakeEventStore) RequeueStaleProcessingEvents(ctx context.Context, olderThan time.Duration) (int64, error) {
	return f.requeued, nil
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func newTestPipeline(store EventStore) *Pipeline {
	return NewPipeline(store, testSecret, 3, 30*time.Second, 30*time.Minute)
}

func TestIngestRejectsBadSignature(t *testing.T) {
	store := newFakeEventStore()
	p := newTestPipeline(store)

	body := []byte(`{"event_id":"evt-1","type":"booking.confirmed","data":{}}`)

	_, err := p.Ingest(context.Background(), "deadbeef", body)
	assert.True(t, errors.Is(err, apperr.ErrInvalidSignature))
	assert.Empty(t, store.events, "nothing persisted for an unverified request")

	_, err = p.Ingest(context.Background(), "not-even-hex", body)
	assert.True(t, errors.Is(err, apperr.ErrInvalidSignature))
}

func TestIngestRejectsTamperedBody(t *testing.T) {
	store := newFakeEventStore()
	p := newTestPipeline(store)

	body := []byte(`{"event_id":"evt-1","type":"booking.confirmed","data":{}}`)
	signature := sign(body)

	tampered := []byte(`{"event_id":"evt-1","type":"booking.cancelled","data":{}}`)
	_, err := p.Ingest(context.Background(), signature, tampered)
	assert.True(t, errors.Is(err, apperr.ErrInvalidSignature))
	assert.Empty(t, store.events)
}

func TestIngestEnqueuesAndDeduplicates(t *testing.T) {
	store := newFakeEventStore()
	p := newTestPipeline(store)

	body := []byte(`{"event_id":"evt-1","type":"booking.confirmed","data":{"booking_ref":"PMS-1"}}`)
	signature := sign(body)

	inserted, err := p.Ingest(context.Background(), signature, body)
	require.NoError(t, err)
	assert.True(t, inserted)

	// Redelivery of the same event id acknowledges without a second row.
	inserted, err = p.Ingest(context.Background(), signature, body)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Len(t, store.events, 1)

	event := store.events["evt-1"]
	assert.Equal(t, "booking.confirmed", event.Type)
	assert.Equal(t, 3, event.MaxRetries)
}

func TestIngestRejectsMalformedEnvelope(t *testing.T) {
	store := newFakeEventStore()
	p := newTestPipeline(store)

	for _, body := range [][]byte{
		[]byte(`not json`),
		[]byte(`{"type":"booking.confirmed","data":{}}`),
		[]byte(`{"event_id":"evt-1","data":{}}`),
	} {
		_, err := p.Ingest(context.Background(), sign(body), body)
		assert.True(t, errors.Is(err, apperr.ErrValidation), "body %s", body)
	}
	assert.Empty(t, store.events)
}

func TestProcessCompletesOnSuccess(t *testing.T) {
	store := newFakeEventStore()
	p := newTestPipeline(store)

	var handled int
	p.RegisterHandler("booking.confirmed", func(ctx context.Context, event *models.WebhookEvent) error {
		handled++
		return nil
	})

	event := enqueue(t, store, "evt-1", "booking.confirmed")
	require.NoError(t, p.Process(context.Background(), event))

	assert.Equal(t, 1, handled)
	assert.Equal(t, models.WebhookStatusCompleted, store.byID[event.ID].Status)
}

func TestProcessSchedulesRetryOnFailure(t *testing.T) {
	store := newFakeEventStore()
	p := newTestPipeline(store)
	fakeNow := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fakeNow }

	p.RegisterHandler("booking.confirmed", func(ctx context.Context, event *models.WebhookEvent) error {
		return fmt.Errorf("downstream hiccup")
	})

	event := enqueue(t, store, "evt-1", "booking.confirmed")
	require.NoError(t, p.Process(context.Background(), event))

	stored := store.byID[event.ID]
	assert.Equal(t, models.WebhookStatusPending, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	assert.Equal(t, "downstream hiccup", stored.LastError)
	assert.True(t, stored.NextRetryAt.After(fakeNow), "retry is scheduled in the future")
}

func TestProcessDeadLettersAfterMaxRetries(t *testing.T) {
	store := newFakeEventStore()
	p := newTestPipeline(store)

	p.RegisterHandler("booking.confirmed", func(ctx context.Context, event *models.WebhookEvent) error {
		return fmt.Errorf("permanent failure")
	})

	event := enqueue(t, store, "evt-1", "booking.confirmed")

	for i := 0; i < 3; i++ {
		require.NoError(t, p.Process(context.Background(), event))
		event = store.byID[event.ID]
	}

	assert.Equal(t, models.WebhookStatusDeadLetter, event.Status)
	assert.Equal(t, 3, event.Attempts)
	assert.Equal(t, "permanent failure", event.LastError)

	// Dead-lettered events are never claimed again.
	claimed, err := store.ClaimDueWebhookEvents(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestProcessUnknownTypeCompletes(t *testing.T) {
	store := newFakeEventStore()
	p := newTestPipeline(store)

	event := enqueue(t, store, "evt-1", "listing.archived")
	require.NoError(t, p.Process(context.Background(), event))
	assert.Equal(t, models.WebhookStatusCompleted, store.byID[event.ID].Status)
}

func enqueue(t *testing.T, store *fakeEventStore, eventID, eventType string) *models.WebhookEvent {
	t.Helper()
	event := &models.WebhookEvent{
		EventID:    eventID,
		Type:       eventType,
		Payload:    []byte(`{}`),
		MaxRetries: 3,
	}
	inserted, err := store.EnqueueWebhookEvent(context.Background(), event)
	require.NoError(t, err)
	require.True(t, inserted)
	return event
}
