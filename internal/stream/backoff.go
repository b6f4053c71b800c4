// ABOUTME: Exponential reconnect backoff between a floor and a ceiling
// ABOUTME: Doubles after every failure and resets on success

package stream

import "time"

const (
	// DefaultBackoffFloor is the first retry delay.
	DefaultBackoffFloor = time.Second
	// DefaultBackoffCeiling caps the retry delay.
	DefaultBackoffCeiling = 120 * time.Second
)

// Backoff computes reconnect delays.
type Backoff struct {
	floor   time.Duration
	ceiling time.Duration
	current time.Duration
}

// NewBackoff creates a backoff starting at floor. Zero values use the defaults.
func NewBackoff(floor, ceiling time.Duration) *Backoff {
	if floor <= 0 {
		floor = DefaultBackoffFloor
	}
	if ceiling < floor {
		ceiling = max(DefaultBackoffCeiling, floor)
	}
	return &Backoff{floor: floor, ceiling: ceiling, current: floor}
}

// Next returns the delay to wait now and doubles the following one.
func (b *Backoff) Next() time.Duration {
	d := b.current
	b.current = min(b.current*2, b.ceiling)
	return d
}

// Current returns the delay Next would return, without advancing.
func (b *Backoff) Current() time.Duration {
	return b.current
}

// Reset returns the delay to the floor.
func (b *Backoff) Reset() {
	b.current = b.floor
}
