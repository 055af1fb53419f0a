// Package storage persists tenant snapshot schedules and their execution
// bookkeeping.
//
// It currently supports:
//   - Schedule descriptors (one row per tenant, claim/complete/release/skip)
//   - Snapshot run journal
//   - Stock levels and captured stock snapshots (the snapshot action's data)
package storage
