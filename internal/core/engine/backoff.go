package engine

import "time"

// backoff is the reconnect delay schedule: seed 1.2s, factor 1.6, cap 12s.
// Reset on every successful subscribe.
type backoff struct {
	seed    time.Duration
	factor  float64
	cap     time.Duration
	current time.Duration
}

func newBackoff(seed time.Duration, factor float64, cap time.Duration) *backoff {
	return &backoff{seed: seed, factor: factor, cap: cap}
}

// Next returns the delay for the upcoming attempt and advances the schedule.
func (b *backoff) Next() time.Duration {
	if b.current == 0 {
		b.current = b.seed
		return b.current
	}
	next := time.Duration(float64(b.current) * b.factor)
	if next > b.cap {
		next = b.cap
	}
	b.current = next
	return b.current
}

// Reset returns the schedule to its seed.
func (b *backoff) Reset() {
	b.current = 0
}
