// Package runtime holds the process-wide service handles.
//
// Services are constructed and injected explicitly (see internal/app); these
// handles only exist so request-scoped consumers of the wrapping service can
// reach the running scheduler/alerter. Never-set is a valid state meaning
// "feature disabled": getters report ok=false instead of failing.
package runtime

import (
	"sync"

	"possnap/internal/alert"
	"possnap/internal/scheduler"
)

var (
	mu    sync.RWMutex
	sched *scheduler.Service
	alrt  *alert.Service
)

// SetScheduler installs the scheduler handle. Call once at process startup.
func SetScheduler(s *scheduler.Service) {
	mu.Lock()
	sched = s
	mu.Unlock()
}

// Scheduler returns the installed scheduler, or ok=false when not configured.
func Scheduler() (*scheduler.Service, bool) {
	mu.RLock()
	s := sched
	mu.RUnlock()
	return s, s != nil
}

// SetAlerter installs the alerter handle. Call once at process startup.
func SetAlerter(a *alert.Service) {
	mu.Lock()
	alrt = a
	mu.Unlock()
}

// Alerter returns the installed alerter, or ok=false when not configured.
func Alerter() (*alert.Service, bool) {
	mu.RLock()
	a := alrt
	mu.RUnlock()
	return a, a != nil
}

// Reset clears both handles (tests).
func Reset() {
	mu.Lock()
	sched = nil
	alrt = nil
	mu.Unlock()
}
