package webhook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextBackoffGrowth(t *testing.T) {
	base := 30 * time.Second
	limit := 30 * time.Minute

	for attempts, want := range map[int]time.Duration{
		0: 30 * time.Second,
		1: 60 * time.Second,
		2: 120 * time.Second,
		3: 240 * time.Second,
	} {
		got := NextBackoff(base, limit, attempts)
		assert.GreaterOrEqual(t, got, want, "attempts=%d", attempts)
		assert.Less(t, got, want+base, "attempts=%d includes at most one base of jitter", attempts)
	}
}

func TestNextBackoffCap(t *testing.T) {
	base := 30 * time.Second
	limit := 30 * time.Minute

	for _, attempts := range []int{10, 20, 63, 500} {
		got := NextBackoff(base, limit, attempts)
		assert.GreaterOrEqual(t, got, limit, "attempts=%d", attempts)
		assert.Less(t, got, limit+base, "attempts=%d", attempts)
	}
}

func TestNextBackoffZeroBase(t *testing.T) {
	got := NextBackoff(0, time.Minute, 0)
	assert.GreaterOrEqual(t, got, time.Second)
}
