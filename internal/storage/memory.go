package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"possnap/internal/schedule"
)

// memoryStore is a dependency-free in-process backend with the same
// occurrence-protocol semantics as the sqlite driver. Intended for tests and
// single-process development; it provides no durability.
type memoryStore struct {
	mu sync.Mutex

	schedules map[string]*memRow
	runs      []Run
	stock     map[string]StockLevel    // key tenant|store|sku
	snapshots map[string][]memSnapRow  // key runID
	byTenant  map[string][]memSnapMeta // tenant -> (runID, capturedAt)
}

type memRow struct {
	desc       schedule.Descriptor
	claimToken string
	claimedAt  time.Time
}

type memSnapRow struct {
	tenantID   string
	storeCode  string
	sku        string
	qty        float64
	capturedAt time.Time
}

type memSnapMeta struct {
	runID      string
	capturedAt time.Time
}

func newMemory() Store {
	return &memoryStore{
		schedules: map[string]*memRow{},
		stock:     map[string]StockLevel{},
		snapshots: map[string][]memSnapRow{},
		byTenant:  map[string][]memSnapMeta{},
	}
}

// NewMemory exposes the memory driver directly (tests, dev wiring).
func NewMemory() Store { return newMemory() }

func (s *memoryStore) Close() error { return nil }

func (s *memoryStore) ListEnabled(ctx context.Context) ([]schedule.Descriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []schedule.Descriptor
	for _, row := range s.schedules {
		if row.desc.Enabled {
			out = append(out, row.desc.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out, nil
}

func (s *memoryStore) Get(ctx context.Context, tenantID string) (schedule.Descriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.schedules[tenantID]
	if !ok {
		return schedule.Descriptor{}, ErrNotFound
	}
	return row.desc.Clone(), nil
}

func (s *memoryStore) Put(ctx context.Context, d schedule.Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := d.Clone()
	cp.UpdatedAt = now
	if prev, ok := s.schedules[d.TenantID]; ok {
		cp.CreatedAt = prev.desc.CreatedAt
		cp.CreatedBy = prev.desc.CreatedBy
		prev.desc = cp
		return nil
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	s.schedules[d.TenantID] = &memRow{desc: cp}
	return nil
}

func (s *memoryStore) Claim(ctx context.Context, tenantID string, due time.Time, token string, staleBefore time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.schedules[tenantID]
	if !ok || !row.desc.Enabled {
		return ErrClaimConflict
	}
	if row.desc.NextExecutionAt == nil || row.desc.NextExecutionAt.UnixMilli() != due.UnixMilli() {
		return ErrClaimConflict
	}
	if row.claimToken != "" && !row.claimedAt.Before(staleBefore) {
		return ErrClaimConflict
	}
	row.claimToken = token
	row.claimedAt = time.Now()
	return nil
}

func (s *memoryStore) Complete(ctx context.Context, tenantID, token string, ranAt, next time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, err := s.claimedRow(tenantID, token)
	if err != nil {
		return err
	}
	ran := ranAt.UTC()
	nxt := next.UTC()
	row.desc.LastExecutedAt = &ran
	row.desc.NextExecutionAt = &nxt
	row.desc.Failures = 0
	row.claimToken = ""
	row.claimedAt = time.Time{}
	return nil
}

func (s *memoryStore) Release(ctx context.Context, tenantID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, err := s.claimedRow(tenantID, token)
	if err != nil {
		return err
	}
	row.desc.Failures++
	row.claimToken = ""
	row.claimedAt = time.Time{}
	return nil
}

func (s *memoryStore) Skip(ctx context.Context, tenantID, token string, next time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, err := s.claimedRow(tenantID, token)
	if err != nil {
		return err
	}
	nxt := next.UTC()
	row.desc.NextExecutionAt = &nxt
	row.desc.Failures = 0
	row.claimToken = ""
	row.claimedAt = time.Time{}
	return nil
}

func (s *memoryStore) claimedRow(tenantID, token string) (*memRow, error) {
	row, ok := s.schedules[tenantID]
	if !ok || row.claimToken == "" || row.claimToken != token {
		return nil, ErrClaimConflict
	}
	return row, nil
}

func (s *memoryStore) AppendRun(ctx context.Context, r Run) error {
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	s.mu.Lock()
	s.runs = append(s.runs, r)
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) ListRuns(ctx context.Context, tenantID string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Run
	for i := len(s.runs) - 1; i >= 0 && len(out) < limit; i-- {
		if s.runs[i].TenantID == tenantID {
			out = append(out, s.runs[i])
		}
	}
	return out, nil
}

func (s *memoryStore) UpsertStock(ctx context.Context, levels []StockLevel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range levels {
		if l.UpdatedAt.IsZero() {
			l.UpdatedAt = time.Now()
		}
		s.stock[l.TenantID+"|"+l.StoreCode+"|"+l.SKU] = l
	}
	return nil
}

func (s *memoryStore) CaptureStock(ctx context.Context, runID, tenantID string, stores []string, at time.Time) (int, int, error) {
	all := len(stores) == 0 || (len(stores) == 1 && stores[0] == schedule.AllStores)
	wanted := map[string]bool{}
	for _, code := range stores {
		wanted[code] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]bool{}
	rows := 0
	for _, l := range s.stock {
		if l.TenantID != tenantID {
			continue
		}
		if !all && !wanted[l.StoreCode] {
			continue
		}
		s.snapshots[runID] = append(s.snapshots[runID], memSnapRow{
			tenantID:   tenantID,
			storeCode:  l.StoreCode,
			sku:        l.SKU,
			qty:        l.Qty,
			capturedAt: at,
		})
		seen[l.StoreCode] = true
		rows++
	}
	if rows > 0 {
		s.byTenant[tenantID] = append(s.byTenant[tenantID], memSnapMeta{runID: runID, capturedAt: at})
	}
	return len(seen), rows, nil
}

func (s *memoryStore) PruneSnapshots(ctx context.Context, tenantID string, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pruned := 0
	var kept []memSnapMeta
	for _, meta := range s.byTenant[tenantID] {
		if meta.capturedAt.Before(before) {
			pruned += len(s.snapshots[meta.runID])
			delete(s.snapshots, meta.runID)
			continue
		}
		kept = append(kept, meta)
	}
	s.byTenant[tenantID] = kept
	return pruned, nil
}
