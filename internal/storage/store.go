package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"possnap/internal/schedule"
	logx "possnap/pkg/logx"
)

// ScheduleStore is the per-tenant schedule persistence contract.
//
// Claim/Complete/Release/Skip form the occurrence protocol:
//
//	Claim    — single atomic conditional write; succeeds only if the row is
//	           enabled, unclaimed (or its claim is older than staleBefore),
//	           and next_execution_at still equals due.
//	Complete — success: set last_executed_at, advance next_execution_at,
//	           reset failures, drop the claim.
//	Release  — failure: drop the claim, bump the consecutive-failure count;
//	           the occurrence stays due, so the next poll cycle retries.
//	Skip     — retry budget exhausted: advance to next and reset failures.
//
// Complete/Release/Skip are conditional on the claim token so a stalled
// instance cannot clobber bookkeeping it no longer owns.
type ScheduleStore interface {
	ListEnabled(ctx context.Context) ([]schedule.Descriptor, error)
	Get(ctx context.Context, tenantID string) (schedule.Descriptor, error)
	Put(ctx context.Context, d schedule.Descriptor) error
	Claim(ctx context.Context, tenantID string, due time.Time, token string, staleBefore time.Time) error
	Complete(ctx context.Context, tenantID, token string, ranAt, next time.Time) error
	Release(ctx context.Context, tenantID, token string) error
	Skip(ctx context.Context, tenantID, token string, next time.Time) error
	AppendRun(ctx context.Context, r Run) error
	ListRuns(ctx context.Context, tenantID string, limit int) ([]Run, error)
}

// SnapshotStore is the data side of the snapshot action.
type SnapshotStore interface {
	UpsertStock(ctx context.Context, levels []StockLevel) error
	// CaptureStock copies current stock levels of the given stores (nil or
	// the all-stores sentinel = every store) into the snapshot set keyed by
	// runID. Returns (stores, rows) captured.
	CaptureStock(ctx context.Context, runID, tenantID string, stores []string, at time.Time) (int, int, error)
	// PruneSnapshots deletes snapshot rows captured before the given time.
	PruneSnapshots(ctx context.Context, tenantID string, before time.Time) (int, error)
}

// Store is the persistence API used by services.
type Store interface {
	ScheduleStore
	SnapshotStore
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "memory":
		return newMemory(), nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
