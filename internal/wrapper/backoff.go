package wrapper

import "time"

// maxBackoff caps the restart delay.
const maxBackoff = 120 * time.Second

// Backoff computes the delay before restart number restartCount. The
// delay grows stepwise: every fifth restart lengthens it by the base
// delay, capped at two minutes. Early restarts are immediate.
func Backoff(restartCount int, baseDelay time.Duration) time.Duration {
	delay := baseDelay * time.Duration(restartCount/5)
	if delay > maxBackoff {
		return maxBackoff
	}
	return delay
}

// crashLimiter stops a crash loop: more than max crashes inside a
// rolling window means the supervisor gives up permanently.
type crashLimiter struct {
	window time.Duration
	max    int
	times  []time.Time
}

func newCrashLimiter(window time.Duration, max int) *crashLimiter {
	return &crashLimiter{window: window, max: max}
}

// Record notes a crash at t and reports whether the limit is now
// exceeded.
func (c *crashLimiter) Record(t time.Time) (exceeded bool) {
	cutoff := t.Add(-c.window)
	kept := c.times[:0]
	for _, ct := range c.times {
		if ct.After(cutoff) {
			kept = append(kept, ct)
		}
	}
	c.times = append(kept, t)
	return len(c.times) > c.max
}
