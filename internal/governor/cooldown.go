package governor

import (
	"fmt"
	"sync"
	"time"

	"github.com/iksnae/chief-of-staff/internal"
)

// Cooldown enforces a minimum gap between user-initiated triggers per key.
type Cooldown struct {
	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

// NewCooldown creates a Cooldown. now may be nil for time.Now.
func NewCooldown(now func() time.Time) *Cooldown {
	if now == nil {
		now = time.Now
	}
	return &Cooldown{last: make(map[string]time.Time), now: now}
}

// Try records a trigger for key unless the previous one was less than gap ago.
func (c *Cooldown) Try(key string, gap time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if prev, ok := c.last[key]; ok {
		if wait := gap - now.Sub(prev); wait > 0 {
			return &internal.GateError{
				Gate:   "cooldown",
				Reason: fmt.Sprintf("Please wait %ds before triggering %s again", int(wait.Seconds()+0.999), key),
			}
		}
	}
	c.last[key] = now
	return nil
}
