package models

import (
	"encoding/json"
	"time"
)

// Brand identifies which stay-length policy a unit is bound to.
// A unit is bound at onboarding and never changes brand.
const (
	BrandShortStay    = "short_stay"    // 1-27 nights
	BrandExtendedStay = "extended_stay" // 28-365 nights
)

// Night bounds per brand
const (
	ShortStayMinNights    = 1
	ShortStayMaxNights    = 27
	ExtendedStayMinNights = 28
	ExtendedStayMaxNights = 365
)

// Unit represents a rental unit
type Unit struct {
	ID            int64     `db:"id" json:"id"`
	Name          string    `db:"name" json:"name"`
	Brand         string    `db:"brand" json:"brand"`
	NightlyRate   int64     `db:"nightly_rate" json:"nightly_rate"`
	PMSPropertyID string    `db:"pms_property_id" json:"pms_property_id,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// PMSBacked reports whether the unit's calendar is mirrored in the PMS.
func (u *Unit) PMSBacked() bool {
	return u.PMSPropertyID != ""
}

// Booking represents a stay reservation for a unit
type Booking struct {
	ID             int64     `db:"id" json:"id"`
	UnitID         int64     `db:"unit_id" json:"unit_id"`
	Brand          string    `db:"brand" json:"brand"`
	GuestName      string    `db:"guest_name" json:"guest_name"`
	GuestEmail     string    `db:"guest_email" json:"guest_email"`
	Guests         int       `db:"guests" json:"guests"`
	CheckIn        time.Time `db:"check_in" json:"check_in"`
	CheckOut       time.Time `db:"check_out" json:"check_out"`
	TotalAmount    int64     `db:"total_amount" json:"total_amount"`
	Status         string    `db:"status" json:"status"`
	PaymentStatus  string    `db:"payment_status" json:"payment_status"`
	PaymentMethod  string    `db:"payment_method" json:"payment_method"`
	IdempotencyKey string    `db:"idempotency_key" json:"idempotency_key,omitempty"`
	PMSBookingRef  string    `db:"pms_booking_ref" json:"pms_booking_ref,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// Nights returns the number of nights covered by [CheckIn, CheckOut).
func (b *Booking) Nights() int {
	return int(b.CheckOut.Sub(b.CheckIn).Hours() / 24)
}

// Booking statuses
const (
	BookingStatusPending   = "PENDING"
	BookingStatusConfirmed = "CONFIRMED"
	BookingStatusCancelled = "CANCELLED"
)

// Payment statuses
const (
	PaymentStatusInitiated = "INITIATED"
	PaymentStatusCaptured  = "CAPTURED"
	PaymentStatusRefunded  = "REFUNDED"
)

// WebhookEvent is a queued inbound PMS event
type WebhookEvent struct {
	ID          int64           `db:"id" json:"id"`
	EventID     string          `db:"event_id" json:"event_id"`
	Type        string          `db:"type" json:"type"`
	Payload     json.RawMessage `db:"payload" json:"payload"`
	Status      string          `db:"status" json:"status"`
	Attempts    int             `db:"attempts" json:"attempts"`
	MaxRetries  int             `db:"max_retries" json:"max_retries"`
	LastError   string          `db:"last_error" json:"last_error,omitempty"`
	NextRetryAt time.Time       `db:"next_retry_at" json:"next_retry_at"`
	ProcessedAt *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// Webhook event statuses
const (
	WebhookStatusPending    = "PENDING"
	WebhookStatusProcessing = "PROCESSING"
	WebhookStatusCompleted  = "COMPLETED"
	WebhookStatusDeadLetter = "DEAD_LETTER"
)

// ProxyAuditEntry records one admin proxy invocation. Entries are
// append-only and never updated once written.
type ProxyAuditEntry struct {
	ID               int64           `db:"id" json:"id"`
	Method           string          `db:"method" json:"method"`
	Path             string          `db:"path" json:"path"`
	Query            string          `db:"query" json:"query,omitempty"`
	BodyRedacted     json.RawMessage `db:"body_redacted" json:"body_redacted,omitempty"`
	ResponseRedacted json.RawMessage `db:"response_redacted" json:"response_redacted,omitempty"`
	Status           int             `db:"status" json:"status"`
	DurationMs       int64           `db:"duration_ms" json:"duration_ms"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
}

// GuestMessage is an inbound guest message mirrored from the PMS
type GuestMessage struct {
	ID            int64     `db:"id" json:"id"`
	PMSMessageID  string    `db:"pms_message_id" json:"pms_message_id"`
	PMSBookingRef string    `db:"pms_booking_ref" json:"pms_booking_ref"`
	Sender        string    `db:"sender" json:"sender"`
	Body          string    `db:"body" json:"body"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}
