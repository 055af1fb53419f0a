package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"possnap/internal/eventbus"
	"possnap/internal/schedule"
	"possnap/internal/storage"
	logx "possnap/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan occurrence) {
	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case o := <-queue:
			s.execOne(ctx, o)
		}
	}
}

// execOne claims and executes one due occurrence.
//
// The claim is taken here, not in the poll loop, so queue pressure never
// leaks claims: an occurrence that was dropped or superseded simply loses the
// conditional write and is skipped silently.
func (s *Service) execOne(ctx context.Context, o occurrence) {
	cfg := s.config()
	d := o.desc
	now := s.now()

	token := uuid.NewString()
	staleBefore := now.Add(-cfg.ClaimTTL)
	if err := s.store.Claim(ctx, d.TenantID, o.due, token, staleBefore); err != nil {
		if errors.Is(err, storage.ErrClaimConflict) {
			// Another instance (or a racing edit) owns this occurrence.
			s.claimConflicts.Add(1)
			s.log.Debug("claim lost", logx.String("tenant", d.TenantID), logx.Time("due", o.due))
			return
		}
		s.log.Warn("claim failed", logx.String("tenant", d.TenantID), logx.Err(err))
		return
	}

	// Retry budget spent on previous cycles: give up on this occurrence and
	// line up the next regular one.
	if d.Failures >= cfg.RetryMax {
		s.skipOccurrence(ctx, d, o.due, token, now)
		return
	}

	start := s.now()
	res, runErr := s.runner.Run(ctx, d.TenantID, d.TargetStores)
	dur := time.Since(start)

	if runErr != nil {
		s.finishFailed(ctx, d, o.due, token, start, dur, runErr)
		return
	}

	next, err := schedule.Next(d, s.now(), s.location())
	if err != nil {
		// The descriptor mutated into an invalid state mid-run; release so an
		// operator fix (or the retry budget) resolves it.
		s.log.Error("snapshot done but next occurrence uncomputable",
			logx.String("tenant", d.TenantID), logx.Err(err))
		if rerr := s.store.Release(ctx, d.TenantID, token); rerr != nil {
			s.log.Warn("release failed", logx.String("tenant", d.TenantID), logx.Err(rerr))
		}
		return
	}

	if err := s.store.Complete(ctx, d.TenantID, token, start.UTC(), next); err != nil {
		s.log.Warn("complete failed", logx.String("tenant", d.TenantID), logx.Err(err))
		return
	}
	s.clearStaleMark(d.TenantID)

	run := storage.Run{
		ID:        res.RunID,
		TenantID:  d.TenantID,
		Due:       o.due,
		StartedAt: start.UTC(),
		Duration:  dur,
		Status:    storage.RunOK,
		Stores:    res.Stores,
		Rows:      res.Rows,
	}
	s.recordRun(ctx, run)
	s.log.Info("snapshot completed",
		logx.String("tenant", d.TenantID), logx.String("run", res.RunID),
		logx.Int("rows", res.Rows), logx.Duration("dur", dur), logx.Time("next", next))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{
			Type: eventbus.TypeSnapshotCompleted,
			Data: eventbus.RunEvent{TenantID: d.TenantID, RunID: res.RunID, Due: o.due, Duration: dur},
		})
	}
}

func (s *Service) finishFailed(ctx context.Context, d schedule.Descriptor, due time.Time, token string, start time.Time, dur time.Duration, runErr error) {
	if err := s.store.Release(ctx, d.TenantID, token); err != nil {
		s.log.Warn("release failed", logx.String("tenant", d.TenantID), logx.Err(err))
	}
	failures := d.Failures + 1

	run := storage.Run{
		ID:        uuid.NewString(),
		TenantID:  d.TenantID,
		Due:       due,
		StartedAt: start.UTC(),
		Duration:  dur,
		Status:    storage.RunFailed,
		Error:     runErr.Error(),
	}
	s.recordRun(ctx, run)
	s.log.Warn("snapshot failed",
		logx.String("tenant", d.TenantID), logx.Int("failures", failures),
		logx.Duration("dur", dur), logx.Err(runErr))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{
			Type: eventbus.TypeSnapshotFailed,
			Data: eventbus.RunEvent{TenantID: d.TenantID, Due: due, Duration: dur, Failures: failures, Error: runErr.Error()},
		})
	}
}

func (s *Service) skipOccurrence(ctx context.Context, d schedule.Descriptor, due time.Time, token string, now time.Time) {
	next, err := schedule.Next(d, now, s.location())
	if err != nil {
		s.log.Error("cannot schedule past skipped occurrence",
			logx.String("tenant", d.TenantID), logx.Err(err))
		if rerr := s.store.Release(ctx, d.TenantID, token); rerr != nil {
			s.log.Warn("release failed", logx.String("tenant", d.TenantID), logx.Err(rerr))
		}
		return
	}
	if err := s.store.Skip(ctx, d.TenantID, token, next); err != nil {
		s.log.Warn("skip failed", logx.String("tenant", d.TenantID), logx.Err(err))
		return
	}
	s.clearStaleMark(d.TenantID)

	run := storage.Run{
		ID:        uuid.NewString(),
		TenantID:  d.TenantID,
		Due:       due,
		StartedAt: now.UTC(),
		Status:    storage.RunSkipped,
		Error:     "retry budget exhausted",
	}
	s.recordRun(ctx, run)
	s.log.Warn("occurrence skipped after repeated failures",
		logx.String("tenant", d.TenantID), logx.Time("due", due),
		logx.Int("failures", d.Failures), logx.Time("next", next))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{
			Type: eventbus.TypeSnapshotSkipped,
			Data: eventbus.RunEvent{TenantID: d.TenantID, Due: due, Failures: d.Failures},
		})
	}
}

func (s *Service) recordRun(ctx context.Context, r storage.Run) {
	if err := s.store.AppendRun(ctx, r); err != nil {
		s.log.Warn("failed to append run record", logx.String("tenant", r.TenantID), logx.Err(err))
	}

	item := HistoryItem{
		TenantID: r.TenantID,
		RunID:    r.ID,
		Due:      r.Due,
		Started:  r.StartedAt,
		Duration: r.Duration,
		Status:   r.Status,
		Error:    r.Error,
	}
	cfg := s.config()
	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > cfg.HistorySize {
		s.history = s.history[len(s.history)-cfg.HistorySize:]
	}
	s.hmu.Unlock()
}
