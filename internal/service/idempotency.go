package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"staybroker/internal/redisclient"
)

// IdempotencyStore dedupes booking mutations by client-supplied key.
// *redisclient.Client implements it.
type IdempotencyStore interface {
	ClaimIdempotencyKey(ctx context.Context, key, requestHash string, ttl time.Duration) (*redisclient.ClaimResult, error)
	CompleteIdempotencyKey(ctx context.Context, key string, status int, body []byte, ttl time.Duration) error
	ReleaseIdempotencyKey(ctx context.Context, key string) error
}

// RequestHash fingerprints the normalized booking parameters. Two requests
// carrying the same idempotency key but different hashes are a conflict,
// not a replay.
func RequestHash(req *CreateBookingRequest) string {
	normalized := fmt.Sprintf("%d|%s|%s|%s|%d|%s|%s|%s",
		req.UnitID, req.Brand, req.CheckIn, req.CheckOut,
		req.Guests, req.GuestName, req.GuestEmail, req.PaymentMethod)
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
