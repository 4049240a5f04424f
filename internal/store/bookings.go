package store

import (
	"context"
	"database/sql"
	"fmt"

	"staybroker/internal/apperr"
	"staybroker/internal/models"
)

// GetBookingByID retrieves a booking by ID
func (s *Store) GetBookingByID(ctx context.Context, id int64) (*models.Booking, error) {
	var booking models.Booking
	err := s.db.GetContext(ctx, &booking, "SELECT * FROM bookings WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("booking %d: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &booking, nil
}

// GetBookingByIdempotencyKey retrieves a booking by idempotency key.
// Returns (nil, nil) when no booking carries the key.
func (s *Store) GetBookingByIdempotencyKey(ctx context.Context, key string) (*models.Booking, error) {
	var booking models.Booking
	err := s.db.GetContext(ctx, &booking, "SELECT * FROM bookings WHERE idempotency_key = $1", key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &booking, nil
}

// GetBookingByPMSRef retrieves a booking by its PMS booking reference
func (s *Store) GetBookingByPMSRef(ctx context.Context, ref string) (*models.Booking, error) {
	var booking models.Booking
	err := s.db.GetContext(ctx, &booking, "SELECT * FROM bookings WHERE pms_booking_ref = $1", ref)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("booking with PMS ref %s: %w", ref, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &booking, nil
}

// UpdateBookingStatus updates booking status
func (s *Store) UpdateBookingStatus(ctx context.Context, bookingID int64, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE bookings SET status = $1, updated_at = NOW() WHERE id = $2",
		status, bookingID)
	return err
}

// SetBookingPMSRef records the PMS booking reference after the downstream push
func (s *Store) SetBookingPMSRef(ctx context.Context, bookingID int64, ref string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE bookings SET pms_booking_ref = $1, updated_at = NOW() WHERE id = $2",
		ref, bookingID)
	return err
}

// GetBookingsByUnitID retrieves non-cancelled bookings for a unit
func (s *Store) GetBookingsByUnitID(ctx context.Context, unitID int64) ([]models.Booking, error) {
	var bookings []models.Booking
	err := s.db.SelectContext(ctx, &bookings,
		"SELECT * FROM bookings WHERE unit_id = $1 AND status <> $2 ORDER BY check_in",
		unitID, models.BookingStatusCancelled)
	return bookings, err
}

// InsertProxyAuditEntry appends a proxy audit entry. Entries are write-once;
// there is deliberately no update path for this table.
func (s *Store) InsertProxyAuditEntry(ctx context.Context, entry *models.ProxyAuditEntry) error {
	query := `
		INSERT INTO proxy_audit_log
			(method, path, query, body_redacted, response_redacted, status, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`

	return s.db.GetContext(ctx, entry, query,
		entry.Method, entry.Path, entry.Query, entry.BodyRedacted,
		entry.ResponseRedacted, entry.Status, entry.DurationMs)
}

// InsertGuestMessage mirrors a PMS guest message locally
func (s *Store) InsertGuestMessage(ctx context.Context, msg *models.GuestMessage) error {
	query := `
		INSERT INTO guest_messages (pms_message_id, pms_booking_ref, sender, body)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (pms_message_id) DO NOTHING
		RETURNING id, created_at`

	err := s.db.GetContext(ctx, msg, query,
		msg.PMSMessageID, msg.PMSBookingRef, msg.Sender, msg.Body)
	if err == sql.ErrNoRows {
		// Already mirrored.
		return nil
	}
	return err
}
