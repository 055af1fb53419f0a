package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"possnap/internal/eventbus"
	"possnap/internal/schedule"
	"possnap/internal/snapshot"
	"possnap/internal/storage"
	logx "possnap/pkg/logx"
)

// Config controls the scheduler loop.
type Config struct {
	Enabled bool

	// PollInterval is the wake-up cadence. Keep it coarser than the finest
	// schedule granularity (one minute). Default 30s.
	PollInterval time.Duration

	Workers   int // default 2
	QueueSize int // default 64

	// RetryMax is the consecutive-failure budget per occurrence; once spent,
	// the occurrence is skipped and the next regular one is scheduled.
	// Default 3.
	RetryMax int

	// ClaimTTL bounds how long a claim from a dead instance blocks a tenant
	// before another instance may take it over. Default 15m.
	ClaimTTL time.Duration

	// StalenessAlertAfter raises an alert when an enabled schedule stays
	// overdue longer than this. 0 disables the watch.
	StalenessAlertAfter time.Duration

	Timezone    string // process default IANA TZ for tenants without one
	HistorySize int    // default 200
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 3
	}
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = 15 * time.Minute
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	return c
}

// occurrence is one due firing selected by the poll cycle. The claim happens
// in the worker, so a dropped occurrence (full queue) leaks nothing.
type occurrence struct {
	desc schedule.Descriptor
	due  time.Time
}

type HistoryItem struct {
	TenantID string
	RunID    string
	Due      time.Time
	Started  time.Time
	Duration time.Duration
	Status   storage.RunStatus
	Error    string
}

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	bus    eventbus.Bus
	store  storage.ScheduleStore
	runner snapshot.Runner

	cfg Config
	loc *time.Location

	parser  cron.Parser
	c       *cron.Cron
	entryID cron.EntryID

	queue    chan occurrence
	stopCh   chan struct{}
	stopDone chan struct{} // non-nil while a Stop() is in progress

	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup

	// pollMu serializes poll cycles; an overlapping tick is skipped.
	pollMu sync.Mutex

	cycles         atomic.Uint64
	abortedCycles  atomic.Uint64
	claimConflicts atomic.Uint64
	dropped        atomic.Uint64

	// Staleness alert throttling: tenant -> last alert time.
	staleMu   sync.Mutex
	lastStale map[string]time.Time

	hmu     sync.Mutex
	history []HistoryItem

	// test hook
	now func() time.Time
}

type ScheduleInfo struct {
	TenantID string
	Interval schedule.Interval
	Enabled  bool
	Next     time.Time
	Last     time.Time
	Failures int
}

// Snapshot is a point-in-time view for operators (/status style consumers).
type Snapshot struct {
	Enabled        bool
	Timezone       string
	PollInterval   time.Duration
	Workers        int
	QueueLen       int
	QueueCap       int
	Cycles         uint64
	AbortedCycles  uint64
	ClaimConflicts uint64
	Dropped        uint64
	Schedules      []ScheduleInfo
	History        []HistoryItem
}
