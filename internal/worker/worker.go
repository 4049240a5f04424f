package worker

import (
	"context"
	"sync"
	"time"

	"staybroker/internal/models"
	"staybroker/internal/util"
	"staybroker/internal/webhook"

	"go.uber.org/zap"
)

const (
	claimBatchSize     = 32
	staleSweepInterval = time.Minute
	staleProcessingAge = 5 * time.Minute
	drainTimeout       = 10 * time.Second
)

// WebhookWorker drives the webhook pipeline: a poll loop claims due events
// from the persistent queue and a pool of workers processes them. Claiming
// uses SKIP LOCKED, so multiple service instances can run workers safely.
type WebhookWorker struct {
	pipeline     *webhook.Pipeline
	pollInterval time.Duration
	workers      int
	logger       *zap.Logger

	wg     sync.WaitGroup
	events chan models.WebhookEvent
}

// NewWebhookWorker creates a new webhook worker pool
func NewWebhookWorker(pipeline *webhook.Pipeline, pollInterval time.Duration, workers int) *WebhookWorker {
	if workers < 1 {
		workers = 1
	}
	return &WebhookWorker{
		pipeline:     pipeline,
		pollInterval: pollInterval,
		workers:      workers,
		logger:       util.GetLogger(),
		events:       make(chan models.WebhookEvent, claimBatchSize),
	}
}

// Start runs the poll loop until ctx is cancelled. Blocks.
func (w *WebhookWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting webhook worker",
		zap.Int("workers", w.workers),
		zap.Duration("poll_interval", w.pollInterval))

	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx)
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	stale := time.NewTicker(staleSweepInterval)
	defer stale.Stop()

	for {
		select {
		case <-ctx.Done():
			close(w.events)
			w.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			if err := w.claim(ctx); err != nil && ctx.Err() == nil {
				w.logger.Error("Failed to claim webhook events", zap.Error(err))
			}
		case <-stale.C:
			n, err := w.pipeline.RequeueStale(ctx, staleProcessingAge)
			if err != nil && ctx.Err() == nil {
				w.logger.Error("Failed to requeue stale webhook events", zap.Error(err))
			} else if n > 0 {
				w.logger.Warn("Requeued stale webhook events", zap.Int64("count", n))
			}
		}
	}
}

func (w *WebhookWorker) claim(ctx context.Context) error {
	events, err := w.pipeline.ClaimDue(ctx, claimBatchSize)
	if err != nil {
		return err
	}

	for _, event := range events {
		select {
		case w.events <- event:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (w *WebhookWorker) run(ctx context.Context) {
	defer w.wg.Done()

	for event := range w.events {
		w.process(ctx, &event)
	}
}

func (w *WebhookWorker) process(ctx context.Context, event *models.WebhookEvent) {
	if ctx.Err() != nil {
		// Shutdown drain: the outcome still has to reach the store, or the
		// claimed event sits in PROCESSING until the stale sweep after
		// restart. Record it under a detached deadline instead.
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
	}

	if err := w.pipeline.Process(ctx, event); err != nil {
		w.logger.Error("Failed to record webhook event outcome",
			zap.String("event_id", event.EventID),
			zap.Error(err))
	}
}

// Stop waits for in-flight events to drain. Start's context must already be
// cancelled.
func (w *WebhookWorker) Stop() {
	w.logger.Info("Stopping webhook worker")
}
