package delivery

import "time"

// backoff is the truncated exponential retry delay of the delivery engine.
// current is the delay applied before the next write attempt.
type backoff struct {
	base    time.Duration
	max     time.Duration
	current time.Duration
	failing bool
}

func newBackoff(base, max time.Duration) backoff {
	return backoff{base: base, max: max, current: base}
}

// next advances the delay after a failure and returns it. The first failure
// after a reset or zero waits base, every further one doubles up to max.
func (b *backoff) next() time.Duration {
	if !b.failing || b.current < b.base {
		b.current = b.base
	} else {
		b.current *= 2
	}
	b.failing = true
	if b.current > b.max {
		b.current = b.max
	}
	return b.current
}

func (b *backoff) reset() {
	b.current = b.base
	b.failing = false
}

// zero removes the delay entirely until the next failure.
func (b *backoff) zero() {
	b.current = 0
	b.failing = false
}
