package retry

import (
	"math/rand/v2"
	"time"
)

const (
	defaultInitialBackoff = 10 * time.Millisecond
	defaultMaxBackoff     = 100 * time.Millisecond
	defaultBackoffFactor  = 2.0
)

// Backoff produces an exponentially growing, capped sequence of delays.
// It is not safe for concurrent use.
type Backoff struct {
	initial time.Duration
	max     time.Duration
	factor  float64
	jitter  bool
	current time.Duration
}

// NewBackoff creates a Backoff from cfg. Zero or negative fields fall back to
// 10ms initial, 100ms max and a factor of 2.
func NewBackoff(cfg Config) *Backoff {
	b := &Backoff{
		initial: cfg.InitialBackoff,
		max:     cfg.MaxBackoff,
		factor:  cfg.BackoffFactor,
		jitter:  cfg.Jitter,
	}
	if b.initial <= 0 {
		b.initial = defaultInitialBackoff
	}
	if b.max <= 0 {
		b.max = defaultMaxBackoff
	}
	if b.max < b.initial {
		b.max = b.initial
	}
	if b.factor <= 0 {
		b.factor = defaultBackoffFactor
	}
	b.current = b.initial
	return b
}

// Next returns the delay to wait before the next attempt and advances the
// sequence. With jitter enabled the returned delay lies in [d, 2d).
func (b *Backoff) Next() time.Duration {
	d := b.current

	next := time.Duration(float64(b.current) * b.factor)
	if next > b.max {
		next = b.max
	}
	b.current = next

	if b.jitter && d > 0 {
		d += rand.N(d)
	}
	return d
}

// Reset restarts the sequence at the initial delay.
func (b *Backoff) Reset() {
	b.current = b.initial
}
