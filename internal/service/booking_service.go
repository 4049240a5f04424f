package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"staybroker/internal/apperr"
	"staybroker/internal/broker"
	"staybroker/internal/models"
	"staybroker/internal/pms"
	"staybroker/internal/redisclient"
	"staybroker/internal/store"
	"staybroker/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	dateLayout        = "2006-01-02"
	maxIdempotencyKey = 128
)

// BookingService orchestrates quote and create for rental bookings
type BookingService struct {
	store          *store.Store
	idem           IdempotencyStore
	idemTTL        time.Duration
	eventPublisher *broker.EventPublisher
	pmsClient      *pms.Client
	logger         *zap.Logger
}

// NewBookingService creates a new booking service
func NewBookingService(
	store *store.Store,
	idem IdempotencyStore,
	idemTTL time.Duration,
	eventPublisher *broker.EventPublisher,
	pmsClient *pms.Client,
) *BookingService {
	return &BookingService{
		store:          store,
		idem:           idem,
		idemTTL:        idemTTL,
		eventPublisher: eventPublisher,
		pmsClient:      pmsClient,
		logger:         util.GetLogger(),
	}
}

// CreateBookingRequest represents a request to create a booking
type CreateBookingRequest struct {
	UnitID         int64  `json:"unit_id" binding:"required"`
	Brand          string `json:"brand" binding:"required"`
	GuestName      string `json:"guest_name" binding:"required"`
	GuestEmail     string `json:"guest_email" binding:"required"`
	Guests         int    `json:"guests" binding:"required,min=1"`
	CheckIn        string `json:"check_in" binding:"required"`
	CheckOut       string `json:"check_out" binding:"required"`
	PaymentMethod  string `json:"payment_method" binding:"required"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// QuoteRequest represents a read-only price quote request
type QuoteRequest struct {
	UnitID   int64  `json:"unit_id" binding:"required"`
	Brand    string `json:"brand" binding:"required"`
	CheckIn  string `json:"check_in" binding:"required"`
	CheckOut string `json:"check_out" binding:"required"`
}

// QuoteResponse represents a price quote
type QuoteResponse struct {
	UnitID      int64  `json:"unit_id"`
	Brand       string `json:"brand"`
	Nights      int    `json:"nights"`
	NightlyRate int64  `json:"nightly_rate"`
	TotalAmount int64  `json:"total_amount"`
}

// BookingResponse wraps a booking for the API
type BookingResponse struct {
	Booking *models.Booking `json:"booking"`
}

// CreateBookingResult is the serialized outcome of a create. Replays carry
// the cached bytes verbatim so repeated calls observe the same response.
type CreateBookingResult struct {
	StatusCode int
	Body       json.RawMessage
	Replayed   bool
}

// CheckModeLock enforces the brand's night-count policy. The unit's bound
// brand decides the policy; requests under the wrong brand fail rather than
// being reinterpreted.
func CheckModeLock(brand string, nights int) error {
	switch brand {
	case models.BrandShortStay:
		if nights < models.ShortStayMinNights || nights > models.ShortStayMaxNights {
			return fmt.Errorf("%s allows %d-%d nights, got %d: %w",
				brand, models.ShortStayMinNights, models.ShortStayMaxNights, nights,
				apperr.ErrModeLockViolation)
		}
	case models.BrandExtendedStay:
		if nights < models.ExtendedStayMinNights || nights > models.ExtendedStayMaxNights {
			return fmt.Errorf("%s allows %d-%d nights, got %d: %w",
				brand, models.ExtendedStayMinNights, models.ExtendedStayMaxNights, nights,
				apperr.ErrModeLockViolation)
		}
	default:
		return fmt.Errorf("unknown brand %q: %w", brand, apperr.ErrValidation)
	}
	return nil
}

// createFailureReason labels a failed booking insert for metrics. Only a
// genuine date overlap counts as an availability conflict; everything else
// (connection loss, constraint errors) is a storage failure.
func createFailureReason(err error) string {
	if errors.Is(err, apperr.ErrAvailabilityConflict) {
		return "availability_conflict"
	}
	return "storage"
}

func parseStayDates(checkIn, checkOut string) (time.Time, time.Time, int, error) {
	ci, err := time.Parse(dateLayout, checkIn)
	if err != nil {
		return time.Time{}, time.Time{}, 0, fmt.Errorf("invalid check_in date: %w", apperr.ErrValidation)
	}
	co, err := time.Parse(dateLayout, checkOut)
	if err != nil {
		return time.Time{}, time.Time{}, 0, fmt.Errorf("invalid check_out date: %w", apperr.ErrValidation)
	}
	if !co.After(ci) {
		return time.Time{}, time.Time{}, 0, fmt.Errorf("check_out must be after check_in: %w", apperr.ErrValidation)
	}
	nights := int(co.Sub(ci).Hours() / 24)
	return ci, co, nights, nil
}

// Quote prices a stay without any mutation or locking
func (s *BookingService) Quote(ctx context.Context, req *QuoteRequest) (*QuoteResponse, error) {
	ctx, span := util.StartSpan(ctx, "BookingService.Quote")
	defer span.End()

	_, _, nights, err := parseStayDates(req.CheckIn, req.CheckOut)
	if err != nil {
		return nil, err
	}

	unit, err := s.store.GetUnitByID(ctx, req.UnitID)
	if err != nil {
		return nil, err
	}

	if req.Brand != unit.Brand {
		return nil, fmt.Errorf("unit %d is bound to %s: %w", unit.ID, unit.Brand, apperr.ErrModeLockViolation)
	}
	if err := CheckModeLock(unit.Brand, nights); err != nil {
		return nil, err
	}

	return &QuoteResponse{
		UnitID:      unit.ID,
		Brand:       unit.Brand,
		Nights:      nights,
		NightlyRate: unit.NightlyRate,
		TotalAmount: unit.NightlyRate * int64(nights),
	}, nil
}

// Create creates a booking exactly once per idempotency key. A duplicate
// that arrives while the first request is still in flight and has not yet
// committed gets ErrIdempotencyInProgress (409 with Retry-After at the API
// boundary); retrying with the same key converges on the first request's
// record once it lands.
func (s *BookingService) Create(ctx context.Context, req *CreateBookingRequest) (*CreateBookingResult, error) {
	ctx, span := util.StartSpan(ctx, "BookingService.Create")
	defer span.End()

	if len(req.IdempotencyKey) > maxIdempotencyKey {
		return nil, fmt.Errorf("idempotency key exceeds %d bytes: %w", maxIdempotencyKey, apperr.ErrValidation)
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.New().String()
	}

	checkIn, checkOut, nights, err := parseStayDates(req.CheckIn, req.CheckOut)
	if err != nil {
		util.BookingsFailedTotal.WithLabelValues("validation").Inc()
		return nil, err
	}

	claim, err := s.idem.ClaimIdempotencyKey(ctx, req.IdempotencyKey, RequestHash(req), s.idemTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to claim idempotency key: %w", err)
	}

	switch claim.State {
	case redisclient.ClaimStateReplay:
		util.IdempotentReplaysTotal.Inc()
		s.logger.Info("Duplicate booking request replayed",
			zap.String("idempotency_key", req.IdempotencyKey))
		return &CreateBookingResult{StatusCode: claim.Status, Body: claim.Body, Replayed: true}, nil
	case redisclient.ClaimStateConflict:
		util.BookingsFailedTotal.WithLabelValues("idempotency_conflict").Inc()
		return nil, fmt.Errorf("key %s: %w", req.IdempotencyKey, apperr.ErrIdempotencyConflict)
	case redisclient.ClaimStateInProgress:
		// The first request may already have committed; converge on its
		// record via the unique idempotency_key index.
		existing, err := s.store.GetBookingByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			body, err := json.Marshal(&BookingResponse{Booking: existing})
			if err != nil {
				return nil, err
			}
			util.IdempotentReplaysTotal.Inc()
			return &CreateBookingResult{StatusCode: http.StatusCreated, Body: body, Replayed: true}, nil
		}
		return nil, fmt.Errorf("key %s: %w", req.IdempotencyKey, apperr.ErrIdempotencyInProgress)
	}

	result, err := s.createLocked(ctx, req, checkIn, checkOut, nights)
	if err != nil {
		// A failed attempt leaves no record; release the placeholder so the
		// client can retry with the same key.
		if releaseErr := s.idem.ReleaseIdempotencyKey(ctx, req.IdempotencyKey); releaseErr != nil {
			s.logger.Error("Failed to release idempotency key",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.Error(releaseErr))
		}
		return nil, err
	}
	return result, nil
}

func (s *BookingService) createLocked(ctx context.Context, req *CreateBookingRequest, checkIn, checkOut time.Time, nights int) (*CreateBookingResult, error) {
	unit, err := s.store.GetUnitByID(ctx, req.UnitID)
	if err != nil {
		util.BookingsFailedTotal.WithLabelValues("unit_not_found").Inc()
		return nil, err
	}

	if req.Brand != unit.Brand {
		util.BookingsFailedTotal.WithLabelValues("mode_lock").Inc()
		return nil, fmt.Errorf("unit %d is bound to %s: %w", unit.ID, unit.Brand, apperr.ErrModeLockViolation)
	}
	if err := CheckModeLock(unit.Brand, nights); err != nil {
		util.BookingsFailedTotal.WithLabelValues("mode_lock").Inc()
		return nil, err
	}

	booking := &models.Booking{
		UnitID:         unit.ID,
		Brand:          unit.Brand,
		GuestName:      req.GuestName,
		GuestEmail:     req.GuestEmail,
		Guests:         req.Guests,
		CheckIn:        checkIn,
		CheckOut:       checkOut,
		TotalAmount:    unit.NightlyRate * int64(nights),
		Status:         models.BookingStatusPending,
		PaymentStatus:  models.PaymentStatusInitiated,
		PaymentMethod:  req.PaymentMethod,
		IdempotencyKey: req.IdempotencyKey,
	}

	if err := s.store.CreateBookingTx(ctx, booking); err != nil {
		util.BookingsFailedTotal.WithLabelValues(createFailureReason(err)).Inc()
		return nil, err
	}

	util.BookingsCreatedTotal.Inc()
	s.logger.Info("Booking created",
		zap.Int64("booking_id", booking.ID),
		zap.Int64("unit_id", unit.ID),
		zap.String("brand", unit.Brand),
		zap.Int("nights", nights))

	body, err := json.Marshal(&BookingResponse{Booking: booking})
	if err != nil {
		return nil, err
	}

	if err := s.idem.CompleteIdempotencyKey(ctx, req.IdempotencyKey, http.StatusCreated, body, s.idemTTL); err != nil {
		s.logger.Error("Failed to cache idempotent response",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.Error(err))
	}

	event := &models.BookingCreatedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeBookingCreated,
			Timestamp: time.Now(),
		},
		BookingID:   booking.ID,
		UnitID:      booking.UnitID,
		Brand:       booking.Brand,
		CheckIn:     booking.CheckIn,
		CheckOut:    booking.CheckOut,
		TotalAmount: booking.TotalAmount,
	}
	if err := s.eventPublisher.PublishBookingCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish BookingCreated event", zap.Error(err))
	}

	// Local record first; the PMS push is reconciled asynchronously via
	// webhook so the client never waits on PMS latency.
	if unit.PMSBacked() {
		go s.pushToPMS(booking, unit)
	}

	return &CreateBookingResult{StatusCode: http.StatusCreated, Body: body}, nil
}

func (s *BookingService) pushToPMS(booking *models.Booking, unit *models.Unit) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := s.pmsClient.CreateBooking(ctx, &pms.BookingRequest{
		PropertyID: unit.PMSPropertyID,
		GuestName:  booking.GuestName,
		GuestEmail: booking.GuestEmail,
		Guests:     booking.Guests,
		CheckIn:    booking.CheckIn.Format(dateLayout),
		CheckOut:   booking.CheckOut.Format(dateLayout),
		LocalRef:   fmt.Sprintf("stay-%d", booking.ID),
	})
	if err != nil {
		s.logger.Error("Failed to push booking to PMS, awaiting reconciliation",
			zap.Int64("booking_id", booking.ID),
			zap.Error(err))
		return
	}

	if err := s.store.SetBookingPMSRef(ctx, booking.ID, result.BookingRef); err != nil {
		s.logger.Error("Failed to record PMS booking ref",
			zap.Int64("booking_id", booking.ID),
			zap.Error(err))
		return
	}

	s.logger.Info("Booking pushed to PMS",
		zap.Int64("booking_id", booking.ID),
		zap.String("pms_booking_ref", result.BookingRef))
}

// Get retrieves a booking by ID
func (s *BookingService) Get(ctx context.Context, bookingID int64) (*models.Booking, error) {
	return s.store.GetBookingByID(ctx, bookingID)
}
