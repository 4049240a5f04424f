package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/idempotency_claim.lua
var idempotencyClaimScript string

// Idempotency claim states returned by the Lua script
const (
	ClaimStateNew        = "NEW"
	ClaimStateReplay     = "REPLAY"
	ClaimStateConflict   = "CONFLICT"
	ClaimStateInProgress = "IN_PROGRESS"
)

// ClaimResult is the outcome of an idempotency claim. Status and Body are
// only populated for REPLAY.
type ClaimResult struct {
	State  string
	Status int
	Body   []byte
}

type Client struct {
	rdb         *redis.Client
	claimScript *redis.Script
}

// NewClient creates a new Redis client with the claim script loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:         rdb,
		claimScript: redis.NewScript(idempotencyClaimScript),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func idempotencyKey(key string) string {
	return fmt.Sprintf("idempotency:%s", key)
}

// ClaimIdempotencyKey atomically claims key for the given request hash, or
// reports what happened to the earlier request carrying the same key.
func (c *Client) ClaimIdempotencyKey(ctx context.Context, key, requestHash string, ttl time.Duration) (*ClaimResult, error) {
	result, err := c.claimScript.Run(ctx, c.rdb,
		[]string{idempotencyKey(key)}, requestHash, int(ttl.Seconds())).Result()
	if err != nil {
		return nil, fmt.Errorf("idempotency claim script failed: %w", err)
	}

	fields, ok := result.([]interface{})
	if !ok || len(fields) == 0 {
		return nil, fmt.Errorf("unexpected claim script result type")
	}

	state, _ := fields[0].(string)
	claim := &ClaimResult{State: state}

	if state == ClaimStateReplay && len(fields) == 3 {
		if s, ok := fields[1].(string); ok {
			claim.Status, _ = strconv.Atoi(s)
		}
		if b, ok := fields[2].(string); ok {
			claim.Body = []byte(b)
		}
	}

	return claim, nil
}

// CompleteIdempotencyKey overwrites the placeholder with the real response
// and refreshes the TTL
func (c *Client) CompleteIdempotencyKey(ctx context.Context, key string, status int, body []byte, ttl time.Duration) error {
	k := idempotencyKey(key)

	pipe := c.rdb.Pipeline()
	pipe.HSet(ctx, k, "state", "COMPLETED", "status", status, "body", body)
	pipe.Expire(ctx, k, ttl)

	_, err := pipe.Exec(ctx)
	return err
}

// ReleaseIdempotencyKey drops a placeholder after a failed attempt so the
// client can retry with the same key
func (c *Client) ReleaseIdempotencyKey(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, idempotencyKey(key)).Err()
}

// GetFlag reads a feature flag value. Missing keys read as disabled.
func (c *Client) GetFlag(ctx context.Context, name string) (bool, error) {
	val, err := c.rdb.Get(ctx, fmt.Sprintf("flag:%s", name)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return val == "1" || val == "true", nil
}
