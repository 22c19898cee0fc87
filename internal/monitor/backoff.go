package monitor

import "time"

// Backoff computes the wait before the next retry after a transient
// lookup failure. The delay grows linearly with the retry count.
type Backoff struct {
	Base time.Duration
}

// Delay returns the wait for the given retry attempt (1-based). Attempt
// zero or below gets the base delay.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return b.Base * time.Duration(attempt)
}
