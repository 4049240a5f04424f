package models

import (
	"encoding/json"
	"time"
)

// Outbound event types (published to Kafka)
const (
	EventTypeBookingCreated   = "BOOKING_CREATED"
	EventTypeBookingConfirmed = "BOOKING_CONFIRMED"
	EventTypeBookingCancelled = "BOOKING_CANCELLED"
)

// Inbound PMS webhook event types
const (
	WebhookTypeBookingConfirmed = "booking.confirmed"
	WebhookTypeBookingCancelled = "booking.cancelled"
	WebhookTypeCalendarUpdated  = "calendar.updated"
	WebhookTypeMessageCreated   = "message.created"
)

// BaseEvent contains common fields for all outbound events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// BookingCreatedEvent published when a booking lands PENDING
type BookingCreatedEvent struct {
	BaseEvent
	BookingID   int64     `json:"booking_id"`
	UnitID      int64     `json:"unit_id"`
	Brand       string    `json:"brand"`
	CheckIn     time.Time `json:"check_in"`
	CheckOut    time.Time `json:"check_out"`
	TotalAmount int64     `json:"total_amount"`
}

// BookingConfirmedEvent published when the PMS acknowledges a booking
type BookingConfirmedEvent struct {
	BaseEvent
	BookingID     int64  `json:"booking_id"`
	PMSBookingRef string `json:"pms_booking_ref"`
}

// BookingCancelledEvent published when a booking is cancelled
type BookingCancelledEvent struct {
	BaseEvent
	BookingID int64  `json:"booking_id"`
	Reason    string `json:"reason"`
}

// WebhookEnvelope is the wire shape of an inbound PMS webhook
type WebhookEnvelope struct {
	EventID string          `json:"event_id"`
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data"`
}

// BookingConfirmedPayload carried by booking.confirmed events
type BookingConfirmedPayload struct {
	BookingID     int64  `json:"booking_id"`
	PMSBookingRef string `json:"pms_booking_ref"`
}

// BookingCancelledPayload carried by booking.cancelled events
type BookingCancelledPayload struct {
	BookingID     int64  `json:"booking_id"`
	PMSBookingRef string `json:"pms_booking_ref"`
	Reason        string `json:"reason"`
}

// CalendarUpdatedPayload carried by calendar.updated events
type CalendarUpdatedPayload struct {
	PMSPropertyID string `json:"pms_property_id"`
	From          string `json:"from"`
	To            string `json:"to"`
}

// MessageCreatedPayload carried by message.created events
type MessageCreatedPayload struct {
	MessageID     string `json:"message_id"`
	PMSBookingRef string `json:"pms_booking_ref"`
	Sender        string `json:"sender"`
	Body          string `json:"body"`
}
