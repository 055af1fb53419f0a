package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// ErrNotFound is returned when no descriptor exists for a tenant.
var ErrNotFound = errors.New("schedule not found")

// ErrClaimConflict is returned when an occurrence was already claimed (or
// changed) under a concurrent scheduler instance. Expected under
// active-active deployment; callers skip silently.
var ErrClaimConflict = errors.New("occurrence already claimed")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (the production backend)
//   - "memory": dependency-free in-process backend (tests, dev)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RunStatus classifies one snapshot run record.
type RunStatus string

const (
	RunOK      RunStatus = "ok"
	RunFailed  RunStatus = "failed"
	RunSkipped RunStatus = "skipped"
)

// Run records one attempt (or skip) of a scheduled occurrence.
// Keep it compact and schema-stable.
type Run struct {
	ID        string // uuid
	TenantID  string
	Due       time.Time // the occurrence this run belongs to (UTC)
	StartedAt time.Time
	Duration  time.Duration
	Status    RunStatus
	Stores    int // stores captured
	Rows      int // snapshot rows written
	Error     string
}

// StockLevel is one current per-store stock quantity. The stock service owns
// these rows; UpsertStock exists for its ingest path (and tests).
type StockLevel struct {
	TenantID  string
	StoreCode string
	SKU       string
	Qty       float64
	UpdatedAt time.Time
}
