package core

import "sync"

// LeaderCell holds the node's belief about the currently elected leader's
// MAC. Per spec §5, it is owned by the round engine alone: only the round
// engine calls Set. The receive dispatcher may call Get (e.g. to answer
// CHAIN_REQ) but never writes — it only pushes onto the election queue.
type LeaderCell struct {
	mu  sync.RWMutex
	mac MAC
}

// Get returns the current belief, which is the zero MAC before any
// election has occurred.
func (c *LeaderCell) Get() MAC {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mac
}

// Set updates the current belief. Round-engine-only.
func (c *LeaderCell) Set(m MAC) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mac = m
}
