package executor

import "sync/atomic"

// TaskCounters tallies task outcomes of one executor.
type TaskCounters struct {
	committed  atomic.Int64
	duplicates atomic.Int64
	blocked    atomic.Int64
	failed     atomic.Int64
	lostLeases atomic.Int64
}

// TaskSnapshot is a point-in-time copy of TaskCounters.
type TaskSnapshot struct {
	Committed  int64 `json:"committed"`
	Duplicates int64 `json:"duplicates"`
	Blocked    int64 `json:"blocked"`
	Failed     int64 `json:"failed"`
	LostLeases int64 `json:"lostLeases"`
}

func (c *TaskCounters) Snapshot() TaskSnapshot {
	return TaskSnapshot{
		Committed:  c.committed.Load(),
		Duplicates: c.duplicates.Load(),
		Blocked:    c.blocked.Load(),
		Failed:     c.failed.Load(),
		LostLeases: c.lostLeases.Load(),
	}
}

func (c *TaskCounters) record(state State) {
	switch state {
	case StateCommitted:
		c.committed.Add(1)
	case StateDuplicate:
		c.duplicates.Add(1)
	case StateBlocked:
		c.blocked.Add(1)
	case StateFailed:
		c.failed.Add(1)
	}
}

// StatsMap flattens guardian and task counters for publishing.
func (e *Executor) StatsMap() map[string]int64 {
	g := e.counters.Snapshot()
	t := e.tasks.Snapshot()
	return map[string]int64{
		"guardian_approved":  g.Approved,
		"guardian_blocked":   g.Blocked,
		"guardian_malformed": g.Malformed,
		"guardian_total":     g.Total(),
		"tasks_committed":    t.Committed,
		"tasks_duplicate":    t.Duplicates,
		"tasks_blocked":      t.Blocked,
		"tasks_failed":       t.Failed,
		"tasks_lost_lease":   t.LostLeases,
	}
}
