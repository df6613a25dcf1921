package dataflow

import (
	"fmt"

	"github.com/randalmurphal/epochflow/pkg/epochflow/recovery"
)

// Capability is permission to emit records at a specific epoch. While a
// capability is live its epoch stays in the frontier, so downstream
// probes cannot pass it.
type Capability struct {
	frontier *Frontier
	time     recovery.Epoch
	dropped  bool
}

// Time returns the epoch this capability emits at.
func (c *Capability) Time() recovery.Epoch {
	return c.time
}

// Valid reports whether the capability has not been dropped.
func (c *Capability) Valid() bool {
	return c != nil && !c.dropped
}

// Delayed returns a new capability at epoch t. The receiver stays live;
// drop it once it is no longer needed.
//
// Panics if the receiver was dropped or t is earlier than its epoch.
func (c *Capability) Delayed(t recovery.Epoch) *Capability {
	if !c.Valid() {
		panic("dataflow: delaying a dropped capability")
	}
	if t < c.time {
		panic(fmt.Sprintf("dataflow: cannot delay capability from epoch %d back to %d", c.time, t))
	}
	return c.frontier.Mint(t)
}

// Drop releases the capability. Dropping twice is a no-op.
func (c *Capability) Drop() {
	if !c.Valid() {
		return
	}
	c.dropped = true
	c.frontier.Update(c.time, -1)
}
