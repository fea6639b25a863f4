// internal/transfer/progress.go

package transfer

import "time"

// throttle gates raw progress samples before they reach the event sink.
// A sample passes when either the interval has elapsed or enough bytes
// have moved since the last emitted sample, which bounds event volume on
// large transfers without hiding slow ones.
type throttle struct {
	interval  time.Duration
	byteDelta int64

	lastTime  time.Time
	lastBytes int64
}

func newThrottle(interval time.Duration, byteDelta int64) *throttle {
	return &throttle{interval: interval, byteDelta: byteDelta}
}

func (t *throttle) ready(transferred int64, now time.Time) bool {
	if now.Sub(t.lastTime) < t.interval && transferred-t.lastBytes < t.byteDelta {
		return false
	}
	t.lastTime = now
	t.lastBytes = transferred
	return true
}
