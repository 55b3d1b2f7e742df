package queue

import (
	"math/rand"
	"time"
)

// Backoff returns the pause before re-running a job that has failed
// `attempt` times: base doubled per prior attempt, up to 10% jitter so
// simultaneous failures fan out, capped at max.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	// 2^30 * base already dwarfs any sane cap
	shift := attempt - 1
	if shift > 30 {
		shift = 30
	}
	d := base << shift
	if max > 0 && d > max {
		d = max
	}
	if jitter := d / 10; jitter > 0 {
		d += time.Duration(rand.Int63n(int64(jitter)))
	}
	if max > 0 && d > max {
		d = max
	}
	return d
}
