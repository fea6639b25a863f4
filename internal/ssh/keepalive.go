// internal/ssh/keepalive.go

package ssh

import (
	"fmt"
	"time"
)

// keepaliveLoop sends a protocol no-op probe on every tick. One
// unanswered probe degrades the connection; ServerAliveCountMax
// consecutive misses close it and invalidate every channel. A single
// answered probe resets the miss count and restores Active.
func (c *Connection) keepaliveLoop() {
	if c.eng.KeepaliveInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.eng.KeepaliveInterval)
	defer ticker.Stop()

	misses := 0
	for {
		select {
		case <-ticker.C:
			if err := c.sendProbe(); err != nil {
				misses++
				c.log.Debug("keepalive probe missed", "host", c.cfg.Host, "misses", misses, "err", err)
				c.degrade()
				if misses >= c.eng.ServerAliveCountMax {
					c.fault(fmt.Errorf("missed %d keepalive probes: %w", misses, err))
					return
				}
			} else {
				misses = 0
				c.recover()
			}
		case <-c.stopKeepalive:
			return
		}
	}
}

// sendProbe issues one probe, bounding the reply wait to the probe
// interval so a silent peer counts as a miss rather than stalling the
// loop forever.
func (c *Connection) sendProbe() error {
	result := make(chan error, 1)
	go func() {
		result <- c.probe()
	}()
	select {
	case err := <-result:
		return err
	case <-time.After(c.eng.KeepaliveInterval):
		return fmt.Errorf("probe reply timed out after %s", c.eng.KeepaliveInterval)
	}
}

func (c *Connection) degrade() {
	c.mu.Lock()
	if c.state == StateActive {
		c.state = StateDegraded
	}
	c.mu.Unlock()
}

func (c *Connection) recover() {
	c.mu.Lock()
	if c.state == StateDegraded {
		c.state = StateActive
	}
	c.mu.Unlock()
}
