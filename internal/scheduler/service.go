package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"possnap/internal/eventbus"
	"possnap/internal/snapshot"
	"possnap/internal/storage"
	logx "possnap/pkg/logx"
)

func New(cfg Config, store storage.ScheduleStore, runner snapshot.Runner, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg,
		log:    log,
		bus:    bus,
		store:  store,
		runner: runner,
		// The poll entry only ever uses "@every"; the full parser keeps the
		// spec format identical to the rest of the fleet's cron usage.
		parser:    cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		lastStale: map[string]time.Time{},
		now:       time.Now,
	}
}

// Enabled reports the current config flag. (Thread-safe; Apply() may run concurrently.)
func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	oldPoll := s.cfg.PollInterval
	s.cfg = cfg

	// Timezone or cadence changes restart the cron driver.
	eff := cfg.withDefaults()
	restart := s.c != nil && (oldTZ != strings.TrimSpace(cfg.Timezone) || oldPoll != eff.PollInterval)
	var old *cron.Cron
	if restart {
		old = s.c
		s.c = nil
	}
	s.mu.Unlock()
	if !restart {
		return
	}

	// Drain the old driver outside the lock: an in-flight poll tick needs
	// s.mu for its context and queue, so holding it here would deadlock.
	<-old.Stop().Done()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh == nil || s.stopDone != nil {
		// Stopped (or stopping) while the old driver drained; stay down.
		return
	}
	eff = s.cfg.withDefaults()
	s.installCronLocked(eff)
	s.log.Info("scheduler restarted", logx.String("tz", s.loc.String()), logx.Duration("poll", eff.PollInterval))
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	cur := s.cfg.withDefaults()
	s.mu.Unlock()
	s.log.Debug("start requested",
		logx.Bool("enabled", cur.Enabled),
		logx.Duration("poll", cur.PollInterval),
		logx.Int("workers", cur.Workers),
		logx.String("tz", strings.TrimSpace(cur.Timezone)))

	// If a Stop() is in progress, wait for it to complete (prevents double worker pools).
	for {
		s.mu.Lock()
		if s.stopCh == nil {
			break
		}
		done := s.stopDone
		if done == nil {
			// already running
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		select {
		case <-done:
			// loop and try again
		case <-ctx.Done():
			return
		}
	}
	defer s.mu.Unlock()

	s.stopCh = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(ctx)

	// Fresh queue per run so a stop/start toggle never executes stale occurrences.
	s.queue = make(chan occurrence, cur.QueueSize)

	runCtx := s.runCtx
	stopCh := s.stopCh
	queue := s.queue

	s.workerWG.Add(cur.Workers)
	for i := 0; i < cur.Workers; i++ {
		idx := i
		go func() {
			defer s.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in scheduler worker",
						logx.Int("worker", idx), logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())))
				}
			}()
			s.worker(runCtx, stopCh, queue)
		}()
	}

	s.installCronLocked(cur)

	s.log.Info("service started",
		logx.Int("workers", cur.Workers),
		logx.Duration("poll", cur.PollInterval),
		logx.String("tz", s.loc.String()))
}

func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.log.Info("stop requested")

	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	stopCh := s.stopCh
	cancel := s.runCancel
	c := s.c
	// Prevent new poll ticks from claiming anything.
	s.c = nil
	s.runCancel = nil
	s.mu.Unlock()

	close(stopCh)
	if cancel != nil {
		cancel()
	}
	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
			// best-effort
		}
	}

	// Finalize cleanup in background so Stop() can return on timeout safely.
	go func() {
		s.workerWG.Wait()
		s.mu.Lock()
		s.stopCh = nil
		s.runCtx = nil
		s.queue = nil
		s.stopDone = nil
		s.mu.Unlock()
		close(done)
		s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// stop continues in background
	}
}

func (s *Service) installCronLocked(cfg Config) {
	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	id, err := s.c.AddFunc(fmt.Sprintf("@every %s", cfg.PollInterval), s.pollTick)
	if err != nil {
		// Only reachable with a broken PollInterval; withDefaults guards it.
		s.log.Error("failed to register poll entry", logx.Err(err))
	}
	s.entryID = id
	s.c.Start()
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func (s *Service) location() *time.Location {
	s.mu.Lock()
	loc := s.loc
	s.mu.Unlock()
	if loc == nil {
		return time.Local
	}
	return loc
}

func (s *Service) config() Config {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()
	return cfg.withDefaults()
}
