// Package snapshot produces point-in-time copies of tenant stock data.
//
// The scheduler treats Runner as an opaque, possibly slow, possibly failing
// action; exactly-once dispatch is guaranteed by the store's claim protocol,
// not by idempotence here.
package snapshot

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"possnap/internal/storage"
	logx "possnap/pkg/logx"
)

// Result summarizes one produced snapshot.
type Result struct {
	RunID  string
	Stores int
	Rows   int
	Pruned int
}

// Runner is the snapshot-producing action contract, one invocation per
// claimed occurrence.
type Runner interface {
	Run(ctx context.Context, tenantID string, stores []string) (Result, error)
}

// Stock captures current per-store stock levels into an immutable snapshot
// set and prunes snapshots past the tenant's retention window.
type Stock struct {
	store storage.Store
	log   logx.Logger
	now   func() time.Time
}

func NewStock(store storage.Store, log logx.Logger) *Stock {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Stock{store: store, log: log, now: time.Now}
}

func (s *Stock) Run(ctx context.Context, tenantID string, stores []string) (Result, error) {
	if s.store == nil {
		return Result{}, errors.New("snapshot: no store configured")
	}

	runID := uuid.NewString()
	at := s.now().UTC()

	storeCount, rows, err := s.store.CaptureStock(ctx, runID, tenantID, stores, at)
	if err != nil {
		return Result{}, err
	}
	res := Result{RunID: runID, Stores: storeCount, Rows: rows}

	// Retention lives on the descriptor; pruning is best-effort and never
	// fails an otherwise captured snapshot.
	desc, err := s.store.Get(ctx, tenantID)
	if err == nil && desc.RetentionDays > 0 {
		before := at.AddDate(0, 0, -desc.RetentionDays)
		pruned, perr := s.store.PruneSnapshots(ctx, tenantID, before)
		if perr != nil {
			s.log.Warn("snapshot prune failed",
				logx.String("tenant", tenantID), logx.Err(perr))
		} else {
			res.Pruned = pruned
		}
	}

	s.log.Debug("snapshot captured",
		logx.String("tenant", tenantID), logx.String("run", runID),
		logx.Int("stores", res.Stores), logx.Int("rows", res.Rows), logx.Int("pruned", res.Pruned))
	return res, nil
}
