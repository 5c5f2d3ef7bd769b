package client

import "time"

// Backoff describes the reconnect schedule as plain data so tests can assert
// the exact delays without sleeping.
type Backoff struct {
	// Initial is the delay before the first reconnect attempt.
	Initial time.Duration
	// MaxAttempts bounds how many reconnects are tried before the
	// controller gives up on push and stays on polling.
	MaxAttempts int
}

// DefaultBackoff doubles from one second and gives up after five attempts.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:     time.Second,
		MaxAttempts: 5,
	}
}

// Delay returns the wait before reconnect attempt n (zero-based): the
// initial delay doubled n times.
func (b Backoff) Delay(attempt int) time.Duration {
	delay := b.Initial
	for i := 0; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// Exhausted reports whether attempt n is past the reconnect budget.
func (b Backoff) Exhausted(attempt int) bool {
	return attempt >= b.MaxAttempts
}
