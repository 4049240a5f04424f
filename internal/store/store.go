package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"staybroker/internal/apperr"
	"staybroker/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// GetUnitByID retrieves a unit by ID
func (s *Store) GetUnitByID(ctx context.Context, id int64) (*models.Unit, error) {
	var unit models.Unit
	err := s.db.GetContext(ctx, &unit, "SELECT * FROM units WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("unit %d: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &unit, nil
}

// GetUnitByPMSPropertyID retrieves the unit mirrored from a PMS property
func (s *Store) GetUnitByPMSPropertyID(ctx context.Context, pmsPropertyID string) (*models.Unit, error) {
	var unit models.Unit
	err := s.db.GetContext(ctx, &unit, "SELECT * FROM units WHERE pms_property_id = $1", pmsPropertyID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("unit for PMS property %s: %w", pmsPropertyID, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &unit, nil
}

// CreateBookingTx inserts a booking inside the per-unit critical section.
// A transaction-scoped advisory lock on the unit serializes the overlap
// check against the insert, so two concurrent creates for the same unit
// cannot both pass the check. The lock is released on commit/rollback.
func (s *Store) CreateBookingTx(ctx context.Context, booking *models.Booking) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", booking.UnitID); err != nil {
		return fmt.Errorf("failed to lock unit: %w", err)
	}

	var overlapping int
	err = tx.GetContext(ctx, &overlapping, `
		SELECT COUNT(*) FROM bookings
		WHERE unit_id = $1
		  AND status <> $2
		  AND check_in < $4
		  AND check_out > $3`,
		booking.UnitID, models.BookingStatusCancelled, booking.CheckIn, booking.CheckOut)
	if err != nil {
		return fmt.Errorf("failed to check availability: %w", err)
	}
	if overlapping > 0 {
		return fmt.Errorf("unit %d for [%s, %s): %w",
			booking.UnitID,
			booking.CheckIn.Format("2006-01-02"),
			booking.CheckOut.Format("2006-01-02"),
			apperr.ErrAvailabilityConflict)
	}

	query := `
		INSERT INTO bookings
			(unit_id, brand, guest_name, guest_email, guests, check_in, check_out,
			 total_amount, status, payment_status, payment_method, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at`

	err = tx.GetContext(ctx, booking, query,
		booking.UnitID, booking.Brand, booking.GuestName, booking.GuestEmail,
		booking.Guests, booking.CheckIn, booking.CheckOut, booking.TotalAmount,
		booking.Status, booking.PaymentStatus, booking.PaymentMethod, booking.IdempotencyKey)
	if err != nil {
		return fmt.Errorf("failed to insert booking: %w", err)
	}

	return tx.Commit()
}
