package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"staybroker/internal/models"
	"staybroker/internal/webhook"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubEventStore hands out one batch of events and records the context
// state seen by each outcome write.
type stubEventStore struct {
	mu      sync.Mutex
	batch   []models.WebhookEvent
	claimed bool
	ctxErrs map[int64]error
}

func newStubEventStore(batch []models.WebhookEvent) *stubEventStore {
	return &stubEventStore{batch: batch, ctxErrs: make(map[int64]error)}
}

func (s *stubEventStore) EnqueueWebhookEvent(ctx context.Context, event *models.WebhookEvent) (bool, error) {
	return true, nil
}

func (s *stubEventStore) ClaimDueWebhookEvents(ctx context.Context, limit int) ([]models.WebhookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimed {
		return nil, nil
	}
	s.claimed = true
	return s.batch, nil
}

func (s *stubEventStore) CompleteWebhookEvent(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctxErrs[id] = ctx.Err()
	return nil
}

func (s *stubEventStore) RetryWebhookEvent(ctx context.Context, id int64, attempts int, lastError string, nextRetryAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctxErrs[id] = ctx.Err()
	return nil
}

func (s *stubEventStore) DeadLetterWebhookEvent(ctx context.Context, id int64, attempts int, lastError string) error {
	return nil
}

func (s *stubEventStore) RequeueStaleProcessingEvents(ctx context.Context, olderThan time.Duration) (int64, error) {
	return 0, nil
}

func (s *stubEventStore) outcomeCtxErr(id int64) (error, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	err, ok := s.ctxErrs[id]
	return err, ok
}

func TestWorkerDrainRecordsOutcomesAfterCancel(t *testing.T) {
	batch := []models.WebhookEvent{
		{ID: 1, EventID: "evt-1", Type: "booking.confirmed", Payload: []byte(`{}`), MaxRetries: 3},
		{ID: 2, EventID: "evt-2", Type: "booking.confirmed", Payload: []byte(`{}`), MaxRetries: 3},
	}
	store := newStubEventStore(batch)
	pipeline := webhook.NewPipeline(store, "whsec-test", 3, time.Second, time.Minute)

	started := make(chan struct{})
	release := make(chan struct{})
	pipeline.RegisterHandler("booking.confirmed", func(ctx context.Context, event *models.WebhookEvent) error {
		if event.ID == 1 {
			close(started)
			<-release
		}
		return nil
	})

	w := NewWebhookWorker(pipeline, 5*time.Millisecond, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = w.Start(ctx)
		close(done)
	}()

	// The single worker is mid-handler on the first event; the second sits
	// in the channel. Cancel before either outcome is written.
	<-started
	cancel()
	close(release)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not drain after cancel")
	}

	// The event dequeued after cancellation must have had its outcome
	// recorded off the cancelled context.
	ctxErr, ok := store.outcomeCtxErr(2)
	require.True(t, ok, "drained event outcome was never written")
	assert.NoError(t, ctxErr)
}
