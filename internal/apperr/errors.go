package apperr

import "errors"

// Sentinel errors for the failure kinds the API maps to HTTP statuses.
// Wrap with fmt.Errorf("...: %w", Err...) to add context; handlers match
// with errors.Is.
var (
	ErrValidation            = errors.New("validation error")
	ErrIdempotencyConflict   = errors.New("idempotency key reused with different payload")
	ErrIdempotencyInProgress = errors.New("request with this idempotency key is in progress")
	ErrModeLockViolation     = errors.New("night count violates the unit's brand policy")
	ErrAvailabilityConflict  = errors.New("overlapping booking exists for unit")
	ErrAuth                  = errors.New("PMS rejected credentials")
	ErrProxyBlocked          = errors.New("path is on the proxy block list")
	ErrRateLimited           = errors.New("upstream rate limit exceeded")
	ErrDownstreamUnavailable = errors.New("PMS unreachable")
	ErrInvalidSignature      = errors.New("webhook signature mismatch")
	ErrNotFound              = errors.New("not found")
)
