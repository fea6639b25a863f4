// internal/ssh/backoff.go

package ssh

import "time"

// ReconnectDelay returns the backoff delay before the given reconnect
// attempt (1-based): base, doubling per attempt, capped at max.
func ReconnectDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
