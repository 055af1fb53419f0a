package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"possnap/internal/schedule"
	logx "possnap/pkg/logx"
)

// drivers runs fn once per backend so both share the protocol tests.
func drivers(t *testing.T, fn func(t *testing.T, st Store)) {
	t.Helper()
	t.Run("memory", func(t *testing.T) {
		t.Parallel()
		fn(t, NewMemory())
	})
	t.Run("sqlite", func(t *testing.T) {
		t.Parallel()
		st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		t.Cleanup(func() { _ = st.Close() })
		fn(t, st)
	})
}

func testDescriptor(tenant string, due time.Time) schedule.Descriptor {
	d := schedule.Descriptor{
		TenantID:     tenant,
		Enabled:      true,
		Interval:     schedule.IntervalDaily,
		Hour:         2,
		Minute:       30,
		TargetStores: []string{schedule.AllStores},
		CreatedBy:    "test",
		UpdatedBy:    "test",
	}
	if !due.IsZero() {
		due = due.UTC()
		d.NextExecutionAt = &due
	}
	return d
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if st != nil {
		t.Fatal("disabled storage should return nil store")
	}
	if _, err := Open(Config{Driver: "bogus"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	t.Parallel()
	drivers(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		due := time.Date(2026, 5, 1, 2, 30, 0, 0, time.UTC)

		d := testDescriptor("t1", due)
		d.Timezone = "Asia/Jakarta"
		d.RetentionDays = 30
		if err := st.Put(ctx, d); err != nil {
			t.Fatalf("Put: %v", err)
		}

		got, err := st.Get(ctx, "t1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.TenantID != "t1" || got.Interval != schedule.IntervalDaily {
			t.Fatalf("unexpected descriptor: %+v", got)
		}
		if got.Timezone != "Asia/Jakarta" || got.RetentionDays != 30 {
			t.Fatalf("fields lost in round trip: %+v", got)
		}
		if got.NextExecutionAt == nil || !got.NextExecutionAt.Equal(due) {
			t.Fatalf("NextExecutionAt = %v, want %v", got.NextExecutionAt, due)
		}
		if !got.TargetsAll() {
			t.Fatalf("TargetStores = %v, want all-stores sentinel", got.TargetStores)
		}

		// Upsert keeps created fields, replaces the rest.
		d.Hour = 4
		d.UpdatedBy = "other"
		if err := st.Put(ctx, d); err != nil {
			t.Fatalf("Put update: %v", err)
		}
		got2, err := st.Get(ctx, "t1")
		if err != nil {
			t.Fatalf("Get after update: %v", err)
		}
		if got2.Hour != 4 || got2.UpdatedBy != "other" {
			t.Fatalf("update not applied: %+v", got2)
		}
		if got2.CreatedBy != "test" {
			t.Fatalf("CreatedBy lost on upsert: %q", got2.CreatedBy)
		}

		if _, err := st.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Get missing = %v, want ErrNotFound", err)
		}
	})
}

func TestPutRejectsInvalid(t *testing.T) {
	t.Parallel()
	drivers(t, func(t *testing.T, st Store) {
		d := testDescriptor("t1", time.Time{})
		d.Hour = 99
		if err := st.Put(context.Background(), d); err == nil {
			t.Fatal("expected validation error")
		}
	})
}

func TestListEnabledExcludesDisabled(t *testing.T) {
	t.Parallel()
	drivers(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		due := time.Now().UTC().Truncate(time.Millisecond)

		on := testDescriptor("on", due)
		off := testDescriptor("off", due)
		off.Enabled = false
		if err := st.Put(ctx, on); err != nil {
			t.Fatalf("Put: %v", err)
		}
		if err := st.Put(ctx, off); err != nil {
			t.Fatalf("Put: %v", err)
		}

		list, err := st.ListEnabled(ctx)
		if err != nil {
			t.Fatalf("ListEnabled: %v", err)
		}
		if len(list) != 1 || list[0].TenantID != "on" {
			t.Fatalf("ListEnabled = %+v, want only tenant on", list)
		}
	})
}

func TestOccurrenceProtocol(t *testing.T) {
	t.Parallel()
	drivers(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		due := time.Date(2026, 5, 1, 2, 30, 0, 0, time.UTC)
		next := due.AddDate(0, 0, 1)
		staleBefore := time.Now().Add(-15 * time.Minute)

		if err := st.Put(ctx, testDescriptor("t1", due)); err != nil {
			t.Fatalf("Put: %v", err)
		}

		if err := st.Claim(ctx, "t1", due, "tok-a", staleBefore); err != nil {
			t.Fatalf("first Claim: %v", err)
		}
		if err := st.Claim(ctx, "t1", due, "tok-b", staleBefore); !errors.Is(err, ErrClaimConflict) {
			t.Fatalf("second Claim = %v, want ErrClaimConflict", err)
		}

		// Bookkeeping is conditional on the claim token.
		if err := st.Complete(ctx, "t1", "tok-b", time.Now(), next); !errors.Is(err, ErrClaimConflict) {
			t.Fatalf("Complete with wrong token = %v, want ErrClaimConflict", err)
		}

		ranAt := time.Date(2026, 5, 1, 2, 30, 5, 0, time.UTC)
		if err := st.Complete(ctx, "t1", "tok-a", ranAt, next); err != nil {
			t.Fatalf("Complete: %v", err)
		}
		got, err := st.Get(ctx, "t1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.LastExecutedAt == nil || !got.LastExecutedAt.Equal(ranAt) {
			t.Fatalf("LastExecutedAt = %v, want %v", got.LastExecutedAt, ranAt)
		}
		if got.NextExecutionAt == nil || !got.NextExecutionAt.Equal(next) {
			t.Fatalf("NextExecutionAt = %v, want %v", got.NextExecutionAt, next)
		}
		if got.Failures != 0 {
			t.Fatalf("Failures = %d, want 0", got.Failures)
		}

		// The old occurrence is gone; claiming it again must conflict.
		if err := st.Claim(ctx, "t1", due, "tok-c", staleBefore); !errors.Is(err, ErrClaimConflict) {
			t.Fatalf("Claim after advance = %v, want ErrClaimConflict", err)
		}

		// Release bumps failures and frees the claim for a retry.
		if err := st.Claim(ctx, "t1", next, "tok-d", staleBefore); err != nil {
			t.Fatalf("Claim next: %v", err)
		}
		if err := st.Release(ctx, "t1", "tok-d"); err != nil {
			t.Fatalf("Release: %v", err)
		}
		got, err = st.Get(ctx, "t1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Failures != 1 {
			t.Fatalf("Failures after Release = %d, want 1", got.Failures)
		}
		if err := st.Claim(ctx, "t1", next, "tok-e", staleBefore); err != nil {
			t.Fatalf("reclaim after Release: %v", err)
		}

		// Skip advances and resets the failure budget.
		next2 := next.AddDate(0, 0, 1)
		if err := st.Skip(ctx, "t1", "tok-e", next2); err != nil {
			t.Fatalf("Skip: %v", err)
		}
		got, err = st.Get(ctx, "t1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Failures != 0 {
			t.Fatalf("Failures after Skip = %d, want 0", got.Failures)
		}
		if got.NextExecutionAt == nil || !got.NextExecutionAt.Equal(next2) {
			t.Fatalf("NextExecutionAt after Skip = %v, want %v", got.NextExecutionAt, next2)
		}
	})
}

func TestClaimDisabledConflicts(t *testing.T) {
	t.Parallel()
	drivers(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		due := time.Date(2026, 5, 1, 2, 30, 0, 0, time.UTC)
		d := testDescriptor("t1", due)
		d.Enabled = false
		if err := st.Put(ctx, d); err != nil {
			t.Fatalf("Put: %v", err)
		}
		if err := st.Claim(ctx, "t1", due, "tok", time.Now().Add(-time.Hour)); !errors.Is(err, ErrClaimConflict) {
			t.Fatalf("Claim disabled = %v, want ErrClaimConflict", err)
		}
	})
}

func TestClaimStaleTakeover(t *testing.T) {
	t.Parallel()
	drivers(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		due := time.Date(2026, 5, 1, 2, 30, 0, 0, time.UTC)
		if err := st.Put(ctx, testDescriptor("t1", due)); err != nil {
			t.Fatalf("Put: %v", err)
		}
		if err := st.Claim(ctx, "t1", due, "dead-instance", time.Now().Add(-time.Hour)); err != nil {
			t.Fatalf("Claim: %v", err)
		}
		// staleBefore in the future treats the live claim as expired.
		if err := st.Claim(ctx, "t1", due, "takeover", time.Now().Add(time.Hour)); err != nil {
			t.Fatalf("stale takeover Claim: %v", err)
		}
		// The original holder lost its claim.
		if err := st.Release(ctx, "t1", "dead-instance"); !errors.Is(err, ErrClaimConflict) {
			t.Fatalf("Release by old holder = %v, want ErrClaimConflict", err)
		}
	})
}

func TestClaimIsExclusiveUnderContention(t *testing.T) {
	t.Parallel()
	drivers(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		due := time.Date(2026, 5, 1, 2, 30, 0, 0, time.UTC)
		staleBefore := time.Now().Add(-15 * time.Minute)
		if err := st.Put(ctx, testDescriptor("t1", due)); err != nil {
			t.Fatalf("Put: %v", err)
		}

		const racers = 16
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < racers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				err := st.Claim(ctx, "t1", due, "tok-"+string(rune('a'+i)), staleBefore)
				if err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
					return
				}
				if !errors.Is(err, ErrClaimConflict) {
					t.Errorf("Claim error: %v", err)
				}
			}(i)
		}
		wg.Wait()
		if wins != 1 {
			t.Fatalf("claim winners = %d, want exactly 1", wins)
		}
	})
}

func TestRunsAppendAndList(t *testing.T) {
	t.Parallel()
	drivers(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		base := time.Date(2026, 5, 1, 2, 30, 0, 0, time.UTC)
		for i := 0; i < 3; i++ {
			r := Run{
				ID:        "run-" + string(rune('a'+i)),
				TenantID:  "t1",
				Due:       base.AddDate(0, 0, i),
				StartedAt: base.AddDate(0, 0, i).Add(time.Second),
				Duration:  2 * time.Second,
				Status:    RunOK,
				Stores:    2,
				Rows:      10 + i,
			}
			if err := st.AppendRun(ctx, r); err != nil {
				t.Fatalf("AppendRun: %v", err)
			}
		}
		if err := st.AppendRun(ctx, Run{ID: "other", TenantID: "t2", Due: base, StartedAt: base, Status: RunFailed, Error: "boom"}); err != nil {
			t.Fatalf("AppendRun: %v", err)
		}

		runs, err := st.ListRuns(ctx, "t1", 2)
		if err != nil {
			t.Fatalf("ListRuns: %v", err)
		}
		if len(runs) != 2 {
			t.Fatalf("len(runs) = %d, want 2", len(runs))
		}
		// Newest first.
		if runs[0].ID != "run-c" || runs[1].ID != "run-b" {
			t.Fatalf("unexpected order: %s, %s", runs[0].ID, runs[1].ID)
		}
		if runs[0].Status != RunOK || runs[0].Rows != 12 {
			t.Fatalf("run fields lost: %+v", runs[0])
		}

		other, err := st.ListRuns(ctx, "t2", 10)
		if err != nil {
			t.Fatalf("ListRuns t2: %v", err)
		}
		if len(other) != 1 || other[0].Error != "boom" {
			t.Fatalf("t2 runs = %+v", other)
		}
	})
}

func TestCaptureAndPruneStock(t *testing.T) {
	t.Parallel()
	drivers(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		now := time.Date(2026, 5, 1, 2, 30, 0, 0, time.UTC)
		levels := []StockLevel{
			{TenantID: "t1", StoreCode: "s1", SKU: "sku-1", Qty: 5},
			{TenantID: "t1", StoreCode: "s1", SKU: "sku-2", Qty: 7},
			{TenantID: "t1", StoreCode: "s2", SKU: "sku-1", Qty: 3},
			{TenantID: "t2", StoreCode: "s9", SKU: "sku-9", Qty: 1},
		}
		if err := st.UpsertStock(ctx, levels); err != nil {
			t.Fatalf("UpsertStock: %v", err)
		}

		// All stores of t1.
		stores, rows, err := st.CaptureStock(ctx, "run-1", "t1", []string{schedule.AllStores}, now)
		if err != nil {
			t.Fatalf("CaptureStock all: %v", err)
		}
		if stores != 2 || rows != 3 {
			t.Fatalf("capture all = (%d stores, %d rows), want (2, 3)", stores, rows)
		}

		// A single store.
		stores, rows, err = st.CaptureStock(ctx, "run-2", "t1", []string{"s1"}, now.Add(time.Hour))
		if err != nil {
			t.Fatalf("CaptureStock s1: %v", err)
		}
		if stores != 1 || rows != 2 {
			t.Fatalf("capture s1 = (%d stores, %d rows), want (1, 2)", stores, rows)
		}

		// Prune only removes rows captured before the cutoff.
		pruned, err := st.PruneSnapshots(ctx, "t1", now.Add(time.Minute))
		if err != nil {
			t.Fatalf("PruneSnapshots: %v", err)
		}
		if pruned != 3 {
			t.Fatalf("pruned = %d, want 3", pruned)
		}
		pruned, err = st.PruneSnapshots(ctx, "t1", now.Add(time.Minute))
		if err != nil {
			t.Fatalf("PruneSnapshots again: %v", err)
		}
		if pruned != 0 {
			t.Fatalf("second prune = %d, want 0", pruned)
		}
	})
}
