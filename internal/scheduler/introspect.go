package scheduler

import "context"

// Status builds a point-in-time operational view.
//
// Descriptor details are read from the store best-effort; a store hiccup
// still yields the loop-side counters.
func (s *Service) Status(ctx context.Context) Snapshot {
	cfg := s.config()

	s.mu.Lock()
	loc := s.loc
	ql, qc := 0, 0
	if s.queue != nil {
		ql = len(s.queue)
		qc = cap(s.queue)
	}
	s.mu.Unlock()

	tz := cfg.Timezone
	if tz == "" && loc != nil {
		tz = loc.String()
	}

	snap := Snapshot{
		Enabled:        cfg.Enabled,
		Timezone:       tz,
		PollInterval:   cfg.PollInterval,
		Workers:        cfg.Workers,
		QueueLen:       ql,
		QueueCap:       qc,
		Cycles:         s.cycles.Load(),
		AbortedCycles:  s.abortedCycles.Load(),
		ClaimConflicts: s.claimConflicts.Load(),
		Dropped:        s.dropped.Load(),
	}

	if descs, err := s.store.ListEnabled(ctx); err == nil {
		for _, d := range descs {
			info := ScheduleInfo{
				TenantID: d.TenantID,
				Interval: d.Interval,
				Enabled:  d.Enabled,
				Failures: d.Failures,
			}
			if d.NextExecutionAt != nil {
				info.Next = *d.NextExecutionAt
			}
			if d.LastExecutedAt != nil {
				info.Last = *d.LastExecutedAt
			}
			snap.Schedules = append(snap.Schedules, info)
		}
	}

	s.hmu.Lock()
	snap.History = make([]HistoryItem, len(s.history))
	copy(snap.History, s.history)
	s.hmu.Unlock()

	return snap
}

// LastHistory returns the tail of the in-memory history ring.
func (s *Service) LastHistory(n int) []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	if n <= 0 || n > len(s.history) {
		n = len(s.history)
	}
	out := make([]HistoryItem, n)
	copy(out, s.history[len(s.history)-n:])
	return out
}
