package webhook

import (
	"math/rand"
	"time"
)

// NextBackoff computes the delay before the next retry:
// base * 2^attempts, capped, plus up to one base of jitter so herds of
// failed events do not retry in lockstep.
func NextBackoff(base, cap time.Duration, attempts int) time.Duration {
	if base <= 0 {
		base = time.Second
	}

	delay := base
	for i := 0; i < attempts; i++ {
		delay *= 2
		if delay >= cap || delay <= 0 {
			delay = cap
			break
		}
	}
	if cap > 0 && delay > cap {
		delay = cap
	}

	return delay + time.Duration(rand.Int63n(int64(base)))
}
