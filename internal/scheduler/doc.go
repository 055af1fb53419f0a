// Package scheduler drives tenant snapshot schedules.
//
// A robfig/cron "@every" entry fires the poll cycle; due occurrences are
// claimed through the store's conditional-write protocol and dispatched to a
// bounded worker pool. One tenant's failure never blocks another, and
// multiple possnap instances can poll the same store concurrently (the claim
// is the sole concurrency-control mechanism).
package scheduler
