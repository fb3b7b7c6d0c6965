package guardian

import "sync/atomic"

// Counters tallies verdicts for one executor. The zero value is ready to use.
type Counters struct {
	approved  atomic.Int64
	blocked   atomic.Int64
	malformed atomic.Int64
}

// Snapshot is a point-in-time copy of Counters.
type Snapshot struct {
	Approved  int64 `json:"approved"`
	Blocked   int64 `json:"blocked"`
	Malformed int64 `json:"malformed"`
}

// Total is every payload the guardian or parser has seen.
func (s Snapshot) Total() int64 {
	return s.Approved + s.Blocked + s.Malformed
}

func (c *Counters) IncApproved()  { c.approved.Add(1) }
func (c *Counters) IncBlocked()   { c.blocked.Add(1) }
func (c *Counters) IncMalformed() { c.malformed.Add(1) }

func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Approved:  c.approved.Load(),
		Blocked:   c.blocked.Load(),
		Malformed: c.malformed.Load(),
	}
}
