package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"staybroker/internal/broker"
	"staybroker/internal/models"
	"staybroker/internal/pms"
	"staybroker/internal/store"
	"staybroker/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handlers reconciles PMS events against local state. The PMS owns the
// authoritative calendar for integrated units; these handlers bring the
// local records in line and re-publish the transitions for downstream
// consumers.
type Handlers struct {
	store          *store.Store
	client         *pms.Client
	eventPublisher *broker.EventPublisher
	logger         *zap.Logger
}

// NewHandlers creates the reconciliation handlers
func NewHandlers(store *store.Store, client *pms.Client, eventPublisher *broker.EventPublisher) *Handlers {
	return &Handlers{
		store:          store,
		client:         client,
		eventPublisher: eventPublisher,
		logger:         util.GetLogger(),
	}
}

// RegisterAll wires every handler into the pipeline
func (h *Handlers) RegisterAll(p *Pipeline) {
	p.RegisterHandler(models.WebhookTypeBookingConfirmed, h.HandleBookingConfirmed)
	p.RegisterHandler(models.WebhookTypeBookingCancelled, h.HandleBookingCancelled)
	p.RegisterHandler(models.WebhookTypeCalendarUpdated, h.HandleCalendarUpdated)
	p.RegisterHandler(models.WebhookTypeMessageCreated, h.HandleMessageCreated)
}

// HandleBookingConfirmed transitions the local booking to CONFIRMED
func (h *Handlers) HandleBookingConfirmed(ctx context.Context, event *models.WebhookEvent) error {
	var payload models.BookingConfirmedPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal booking.confirmed payload: %w", err)
	}

	booking, err := h.findBooking(ctx, payload.BookingID, payload.PMSBookingRef)
	if err != nil {
		return err
	}

	if booking.Status == models.BookingStatusConfirmed {
		h.logger.Info("Booking already confirmed", zap.Int64("booking_id", booking.ID))
		return nil
	}

	if payload.PMSBookingRef != "" && booking.PMSBookingRef == "" {
		if err := h.store.SetBookingPMSRef(ctx, booking.ID, payload.PMSBookingRef); err != nil {
			return fmt.Errorf("failed to set PMS booking ref: %w", err)
		}
	}

	if err := h.store.UpdateBookingStatus(ctx, booking.ID, models.BookingStatusConfirmed); err != nil {
		return fmt.Errorf("failed to confirm booking: %w", err)
	}

	util.BookingsConfirmedTotal.Inc()

	confirmed := &models.BookingConfirmedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeBookingConfirmed,
			Timestamp: time.Now(),
		},
		BookingID:     booking.ID,
		PMSBookingRef: payload.PMSBookingRef,
	}
	if err := h.eventPublisher.PublishBookingConfirmed(ctx, confirmed); err != nil {
		h.logger.Error("Failed to publish BookingConfirmed event", zap.Error(err))
	}

	h.logger.Info("Booking confirmed", zap.Int64("booking_id", booking.ID))
	return nil
}

// HandleBookingCancelled transitions the local booking to CANCELLED
func (h *Handlers) HandleBookingCancelled(ctx context.Context, event *models.WebhookEvent) error {
	var payload models.BookingCancelledPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal booking.cancelled payload: %w", err)
	}

	booking, err := h.findBooking(ctx, payload.BookingID, payload.PMSBookingRef)
	if err != nil {
		return err
	}

	if booking.Status == models.BookingStatusCancelled {
		h.logger.Info("Booking already cancelled", zap.Int64("booking_id", booking.ID))
		return nil
	}

	if err := h.store.UpdateBookingStatus(ctx, booking.ID, models.BookingStatusCancelled); err != nil {
		return fmt.Errorf("failed to cancel booking: %w", err)
	}

	util.BookingsCancelledTotal.Inc()

	cancelled := &models.BookingCancelledEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeBookingCancelled,
			Timestamp: time.Now(),
		},
		BookingID: booking.ID,
		Reason:    payload.Reason,
	}
	if err := h.eventPublisher.PublishBookingCancelled(ctx, cancelled); err != nil {
		h.logger.Error("Failed to publish BookingCancelled event", zap.Error(err))
	}

	h.logger.Info("Booking cancelled", zap.Int64("booking_id", booking.ID),
		zap.String("reason", payload.Reason))
	return nil
}

// HandleCalendarUpdated re-reads the PMS calendar for the affected unit.
// A failed PMS read is retryable; the event stays in the queue.
func (h *Handlers) HandleCalendarUpdated(ctx context.Context, event *models.WebhookEvent) error {
	var payload models.CalendarUpdatedPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal calendar.updated payload: %w", err)
	}

	unit, err := h.store.GetUnitByPMSPropertyID(ctx, payload.PMSPropertyID)
	if err != nil {
		return err
	}

	days, err := h.client.GetCalendar(ctx, payload.PMSPropertyID, payload.From, payload.To)
	if err != nil {
		return fmt.Errorf("failed to fetch PMS calendar: %w", err)
	}

	h.logger.Info("Unit calendar refreshed from PMS",
		zap.Int64("unit_id", unit.ID),
		zap.String("pms_property_id", payload.PMSPropertyID),
		zap.Int("days", len(days)))
	return nil
}

// HandleMessageCreated mirrors a guest message locally
func (h *Handlers) HandleMessageCreated(ctx context.Context, event *models.WebhookEvent) error {
	var payload models.MessageCreatedPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal message.created payload: %w", err)
	}

	msg := &models.GuestMessage{
		PMSMessageID:  payload.MessageID,
		PMSBookingRef: payload.PMSBookingRef,
		Sender:        payload.Sender,
		Body:          payload.Body,
	}
	if err := h.store.InsertGuestMessage(ctx, msg); err != nil {
		return fmt.Errorf("failed to store guest message: %w", err)
	}

	h.logger.Info("Guest message mirrored",
		zap.String("pms_message_id", payload.MessageID),
		zap.String("pms_booking_ref", payload.PMSBookingRef))
	return nil
}

func (h *Handlers) findBooking(ctx context.Context, bookingID int64, pmsRef string) (*models.Booking, error) {
	if bookingID != 0 {
		return h.store.GetBookingByID(ctx, bookingID)
	}
	if pmsRef != "" {
		return h.store.GetBookingByPMSRef(ctx, pmsRef)
	}
	return nil, fmt.Errorf("event carries neither booking_id nor pms_booking_ref")
}
