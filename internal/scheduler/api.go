package scheduler

import (
	"context"

	"possnap/internal/schedule"
	"possnap/internal/storage"
)

// UpsertSchedule validates and saves a tenant's snapshot policy.
//
// Every policy edit invalidates the cached next-due time, so it is recomputed
// here before persisting; the loop never fires a stale occurrence for an
// edited descriptor (the claim's next_execution_at condition would miss).
func (s *Service) UpsertSchedule(ctx context.Context, d schedule.Descriptor) (schedule.Descriptor, error) {
	if err := d.Validate(); err != nil {
		return schedule.Descriptor{}, err
	}
	next, err := schedule.Next(d, s.now(), s.location())
	if err != nil {
		return schedule.Descriptor{}, err
	}
	d.NextExecutionAt = &next
	d.Failures = 0
	if err := s.store.Put(ctx, d); err != nil {
		return schedule.Descriptor{}, err
	}
	return d, nil
}

// DisableSchedule turns a tenant's schedule off without deleting it
// (descriptors are never hard-deleted while the tenant exists).
func (s *Service) DisableSchedule(ctx context.Context, tenantID, updatedBy string) error {
	d, err := s.store.Get(ctx, tenantID)
	if err != nil {
		return err
	}
	d.Enabled = false
	d.UpdatedBy = updatedBy
	return s.store.Put(ctx, d)
}

// Runs returns the most recent execution records of a tenant.
func (s *Service) Runs(ctx context.Context, tenantID string, limit int) ([]storage.Run, error) {
	return s.store.ListRuns(ctx, tenantID, limit)
}
