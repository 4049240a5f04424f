package broker

import (
	"context"
	"fmt"

	"staybroker/internal/models"
)

// EventPublisher publishes booking lifecycle events for downstream
// consumers (notifications, reporting). Events are keyed by booking so a
// single booking's history stays ordered within a partition.
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishBookingCreated publishes BookingCreated event
func (ep *EventPublisher) PublishBookingCreated(ctx context.Context, event *models.BookingCreatedEvent) error {
	key := fmt.Sprintf("booking-%d", event.BookingID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishBookingConfirmed publishes BookingConfirmed event
func (ep *EventPublisher) PublishBookingConfirmed(ctx context.Context, event *models.BookingConfirmedEvent) error {
	key := fmt.Sprintf("booking-%d", event.BookingID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishBookingCancelled publishes BookingCancelled event
func (ep *EventPublisher) PublishBookingCancelled(ctx context.Context, event *models.BookingCancelledEvent) error {
	key := fmt.Sprintf("booking-%d", event.BookingID)
	return ep.producer.PublishEvent(ctx, key, event)
}
