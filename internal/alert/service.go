// Package alert pushes operational alerts (snapshot failures, aborted poll
// cycles, stale schedules) to an external channel.
//
// It follows the async pipeline shape used elsewhere in this repo:
// queue + worker + token-bucket rate limit; enqueue never blocks the caller.
package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"possnap/internal/eventbus"
	logx "possnap/pkg/logx"
)

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	bus    eventbus.Bus
	sender Sender

	cfg     Config
	limiter *rate.Limiter

	queue     chan string
	runCancel context.CancelFunc
	unsub     func()
	wg        sync.WaitGroup
}

func New(cfg Config, sender Sender, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{log: log, bus: bus, sender: sender}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil {
		return
	}
	if !s.cfg.Enabled || s.sender == nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.runCancel = cancel
	s.queue = make(chan string, s.cfg.QueueSize)

	if s.bus != nil {
		events, unsub := s.bus.Subscribe(64)
		s.unsub = unsub
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.consumeEvents(runCtx, events)
		}()
	}

	queue := s.queue
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.worker(runCtx, queue)
	}()

	s.log.Info("service started", logx.Int("rate_per_sec", s.cfg.RatePerSec))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	cancel := s.runCancel
	unsub := s.unsub
	s.runCancel = nil
	s.unsub = nil
	s.queue = nil
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("service stopped")
	case <-ctx.Done():
		// stop continues in background
	}
}

// Alert enqueues a free-form alert message. It never blocks.
func (s *Service) Alert(text string) error {
	s.mu.Lock()
	enabled := s.cfg.Enabled
	q := s.queue
	s.mu.Unlock()

	if !enabled || s.sender == nil {
		return ErrDisabled
	}
	if q == nil {
		return ErrStopped
	}
	select {
	case q <- text:
		return nil
	default:
		s.log.Warn("alert queue full; dropping alert")
		return ErrQueueFull
	}
}

func (s *Service) consumeEvents(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if text := formatEvent(e); text != "" {
				_ = s.Alert(text)
			}
		}
	}
}

func (s *Service) worker(ctx context.Context, queue <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-queue:
			s.mu.Lock()
			lim := s.limiter
			s.mu.Unlock()
			if lim != nil {
				if err := lim.Wait(ctx); err != nil {
					return
				}
			}
			if err := s.sender.Send(ctx, text); err != nil {
				s.log.Warn("alert delivery failed", logx.Err(err))
			}
		}
	}
}

// formatEvent renders bus events that warrant operator attention; everything
// else returns "".
func formatEvent(e eventbus.Event) string {
	switch e.Type {
	case eventbus.TypeSnapshotFailed:
		d, ok := e.Data.(eventbus.RunEvent)
		if !ok {
			return ""
		}
		return fmt.Sprintf("[WARN] snapshot failed\n- tenant=%s\n- due=%s\n- failures=%d\n- err=%s",
			d.TenantID, d.Due.Format(time.RFC3339), d.Failures, d.Error)
	case eventbus.TypeSnapshotSkipped:
		d, ok := e.Data.(eventbus.RunEvent)
		if !ok {
			return ""
		}
		return fmt.Sprintf("[WARN] occurrence skipped (retry budget spent)\n- tenant=%s\n- due=%s",
			d.TenantID, d.Due.Format(time.RFC3339))
	case eventbus.TypeCycleAborted:
		d, ok := e.Data.(eventbus.CycleEvent)
		if !ok {
			return ""
		}
		return fmt.Sprintf("[ERROR] poll cycle aborted: schedule store unavailable\n- at=%s\n- err=%s",
			d.At.Format(time.RFC3339), d.Error)
	case eventbus.TypeScheduleStale:
		d, ok := e.Data.(eventbus.StaleEvent)
		if !ok {
			return ""
		}
		return fmt.Sprintf("[WARN] schedule overdue\n- tenant=%s\n- due=%s\n- overdue=%s",
			d.TenantID, d.Due.Format(time.RFC3339), d.Overdue)
	default:
		return ""
	}
}
