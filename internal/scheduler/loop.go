package scheduler

import (
	"context"
	"time"

	"possnap/internal/eventbus"
	"possnap/internal/schedule"
	logx "possnap/pkg/logx"
)

// pollTick is invoked by the cron driver on every cadence.
func (s *Service) pollTick() {
	s.mu.Lock()
	ctx := s.runCtx
	enabled := s.cfg.Enabled
	s.mu.Unlock()
	if ctx == nil || !enabled {
		return
	}
	s.pollOnce(ctx)
}

// pollOnce runs one full poll cycle: list enabled descriptors, select due
// occurrences, enqueue them for the worker pool, and watch for staleness.
//
// A cycle that cannot read the store is aborted as a whole and retried on the
// next tick (store-wide unavailability is an operational alert, not a
// per-tenant failure).
func (s *Service) pollOnce(ctx context.Context) {
	if !s.pollMu.TryLock() {
		// Previous cycle still running; skip rather than pile up.
		return
	}
	defer s.pollMu.Unlock()

	now := s.now()
	descs, err := s.store.ListEnabled(ctx)
	if err != nil {
		s.abortedCycles.Add(1)
		s.log.Error("poll cycle aborted: schedule store unavailable", logx.Err(err))
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{
				Type: eventbus.TypeCycleAborted,
				Data: eventbus.CycleEvent{At: now, Error: err.Error()},
			})
		}
		return
	}

	s.pruneStaleMarks(descs)

	for _, d := range descs {
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.evalOne(ctx, d, now)
	}
	s.cycles.Add(1)
}

func (s *Service) evalOne(ctx context.Context, d schedule.Descriptor, now time.Time) {
	if err := d.Validate(); err != nil {
		// Fatal to this tenant until corrected; never to the loop.
		s.log.Warn("skipping invalid schedule", logx.String("tenant", d.TenantID), logx.Err(err))
		return
	}

	// Fresh or edited descriptors arrive without a cached next-due time;
	// compute and persist it, then let the next cycle pick it up.
	if d.NextExecutionAt == nil {
		next, err := schedule.Next(d, now, s.location())
		if err != nil {
			s.log.Warn("cannot compute next execution", logx.String("tenant", d.TenantID), logx.Err(err))
			return
		}
		d.NextExecutionAt = &next
		if err := s.store.Put(ctx, d); err != nil {
			s.log.Warn("failed to persist next execution", logx.String("tenant", d.TenantID), logx.Err(err))
		}
		return
	}

	due := *d.NextExecutionAt
	if due.After(now) {
		return
	}

	s.checkStaleness(d, due, now)

	select {
	case s.currentQueue() <- occurrence{desc: d, due: due}:
	default:
		// Nothing claimed yet, so dropping is harmless; the next cycle retries.
		s.dropped.Add(1)
		s.log.Warn("scheduler queue full; deferring occurrence",
			logx.String("tenant", d.TenantID), logx.Time("due", due))
	}
}

func (s *Service) currentQueue() chan occurrence {
	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()
	if q == nil {
		// Stopped between tick and dispatch; a closed dummy would panic,
		// a full one just drops.
		q = make(chan occurrence)
	}
	return q
}

// pruneStaleMarks drops throttle marks for tenants that left the enabled set
// (disabled, deleted) so the map does not grow with tenant churn.
func (s *Service) pruneStaleMarks(descs []schedule.Descriptor) {
	s.staleMu.Lock()
	defer s.staleMu.Unlock()
	if len(s.lastStale) == 0 {
		return
	}
	live := make(map[string]struct{}, len(descs))
	for _, d := range descs {
		live[d.TenantID] = struct{}{}
	}
	for id := range s.lastStale {
		if _, ok := live[id]; !ok {
			delete(s.lastStale, id)
		}
	}
}

func (s *Service) clearStaleMark(tenantID string) {
	s.staleMu.Lock()
	delete(s.lastStale, tenantID)
	s.staleMu.Unlock()
}

// checkStaleness raises a max-staleness alert for occurrences that stay
// overdue, throttled per tenant so a stuck schedule doesn't flood the channel.
func (s *Service) checkStaleness(d schedule.Descriptor, due, now time.Time) {
	cfg := s.config()
	if cfg.StalenessAlertAfter <= 0 {
		return
	}
	overdue := now.Sub(due)
	if overdue <= cfg.StalenessAlertAfter {
		return
	}

	s.staleMu.Lock()
	last, ok := s.lastStale[d.TenantID]
	if ok && now.Sub(last) < cfg.StalenessAlertAfter {
		s.staleMu.Unlock()
		return
	}
	s.lastStale[d.TenantID] = now
	s.staleMu.Unlock()

	s.log.Warn("schedule overdue beyond staleness threshold",
		logx.String("tenant", d.TenantID), logx.Time("due", due), logx.Duration("overdue", overdue))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{
			Type: eventbus.TypeScheduleStale,
			Data: eventbus.StaleEvent{TenantID: d.TenantID, Due: due, Overdue: overdue},
		})
	}
}
