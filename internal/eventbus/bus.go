package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is a lightweight, in-memory signal used to decouple components.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events (bounded backpressure).
//
// Data should be small and ideally JSON-serializable.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Event types published by the scheduler loop and consumed by the alert service.
const (
	TypeSnapshotCompleted = "snapshot.completed"
	TypeSnapshotFailed    = "snapshot.failed"
	TypeSnapshotSkipped   = "snapshot.skipped"
	TypeCycleAborted      = "cycle.aborted"
	TypeScheduleStale     = "schedule.stale"
)

// RunEvent carries per-tenant execution details for snapshot.* events.
type RunEvent struct {
	TenantID string        `json:"tenant_id"`
	RunID    string        `json:"run_id,omitempty"`
	Due      time.Time     `json:"due"`
	Duration time.Duration `json:"duration,omitempty"`
	Failures int           `json:"failures,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// CycleEvent carries poll-cycle details for cycle.aborted.
type CycleEvent struct {
	At    time.Time `json:"at"`
	Error string    `json:"error"`
}

// StaleEvent carries staleness details for schedule.stale.
type StaleEvent struct {
	TenantID string        `json:"tenant_id"`
	Due      time.Time     `json:"due"`
	Overdue  time.Duration `json:"overdue"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no background goroutines;
// delivery happens inline on Publish.
func New() Bus {
	return &fanout{subs: map[uint64]chan Event{}}
}

type fanout struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	next atomic.Uint64
}

func (f *fanout) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot the subscriber set so no lock is held while sending.
	f.mu.RLock()
	targets := make([]chan Event, 0, len(f.subs))
	for _, ch := range f.subs {
		targets = append(targets, ch)
	}
	f.mu.RUnlock()

	for _, ch := range targets {
		f.deliver(ch, e)
	}
}

// deliver is non-blocking: a slow subscriber drops the event. The recover
// covers the race where an unsubscribe closes the channel mid-send.
func (f *fanout) deliver(ch chan Event, e Event) {
	defer func() { _ = recover() }()
	select {
	case ch <- e:
	default:
	}
}

func (f *fanout) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := f.next.Add(1)

	f.mu.Lock()
	f.subs[id] = ch
	f.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
			// Safe: Publish recovers from the send-on-closed race.
			close(ch)
		})
	}
}
