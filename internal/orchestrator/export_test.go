package orchestrator

import "time"

// SetClock replaces the time source. Call it before Start.
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
}
