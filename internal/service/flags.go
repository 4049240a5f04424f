package service

import (
	"context"
	"sync"
	"time"

	"staybroker/internal/util"

	"go.uber.org/zap"
)

// FlagSource is the persistent flag storage. *redisclient.Client implements it.
type FlagSource interface {
	GetFlag(ctx context.Context, name string) (bool, error)
}

type flagEntry struct {
	enabled   bool
	expiresAt time.Time
}

// FlagCache answers isEnabled checks with a short-TTL in-process cache in
// front of the flag store. Injected where needed instead of living as a
// process global.
type FlagCache struct {
	source FlagSource
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]flagEntry
}

// NewFlagCache creates a flag cache with the given TTL
func NewFlagCache(source FlagSource, ttl time.Duration) *FlagCache {
	return &FlagCache{
		source:  source,
		ttl:     ttl,
		logger:  util.GetLogger(),
		now:     time.Now,
		entries: make(map[string]flagEntry),
	}
}

// IsEnabled reports whether a flag is on. Lookup failures read as disabled.
func (f *FlagCache) IsEnabled(ctx context.Context, name string) bool {
	f.mu.Lock()
	entry, ok := f.entries[name]
	f.mu.Unlock()

	if ok && f.now().Before(entry.expiresAt) {
		return entry.enabled
	}

	enabled, err := f.source.GetFlag(ctx, name)
	if err != nil {
		f.logger.Warn("Flag lookup failed, treating as disabled",
			zap.String("flag", name), zap.Error(err))
		return false
	}

	f.mu.Lock()
	f.entries[name] = flagEntry{enabled: enabled, expiresAt: f.now().Add(f.ttl)}
	f.mu.Unlock()

	return enabled
}
