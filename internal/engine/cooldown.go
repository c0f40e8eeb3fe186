package engine

import (
	"sync"
	"time"
)

// Cooldown rate-limits keyed side effects. The pipeline uses it to keep
// repeated failure logs (vendor lookups, storage writes) from flooding the
// journal when a dependency is down.
type Cooldown struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func NewCooldown() *Cooldown {
	return &Cooldown{last: make(map[string]time.Time)}
}

func (c *Cooldown) AllowKey(key string, cooldown time.Duration) bool {
	if cooldown <= 0 {
		return true
	}
	now := time.Now().UTC()
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts, ok := c.last[key]; ok {
		if now.Sub(ts) < cooldown {
			return false
		}
	}
	c.last[key] = now
	return true
}
