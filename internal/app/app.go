// Package app wires the process together: config, logging, storage, the
// snapshot scheduler and the alert pipeline, plus config hot-reload.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"possnap/internal/alert"
	"possnap/internal/config"
	"possnap/internal/eventbus"
	"possnap/internal/runtime"
	"possnap/internal/scheduler"
	"possnap/internal/snapshot"
	"possnap/internal/storage"
	logx "possnap/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.Manager

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store storage.Store
	sched *scheduler.Service
	alrt  *alert.Service

	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(context.Background(), cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
	}

	// Storage is optional; without it the scheduler stays unconfigured and
	// runtime.Scheduler() reports ok=false.
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		a.store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	if a.store != nil {
		schedCfg, err := mapSchedulerConfig(cfg)
		if err != nil {
			return nil, err
		}
		runner := snapshot.NewStock(a.store, log.With(logx.String("comp", "snapshot")))
		a.sched = scheduler.New(schedCfg, a.store, runner, log.With(logx.String("comp", "scheduler")), bus)
		runtime.SetScheduler(a.sched)
	}

	if cfg.Alert != nil {
		sender, err := alert.NewTelegramSender(mapAlertConfig(cfg).Telegram)
		if err != nil {
			if cfg.Alert.Enabled {
				return nil, fmt.Errorf("alert sender: %w", err)
			}
			// disabled and unconfigured: fine, leave alerting off
		} else {
			a.alrt = alert.New(mapAlertConfig(cfg), sender, log.With(logx.String("comp", "alert")), bus)
			runtime.SetAlerter(a.alrt)
		}
	}

	return a, nil
}

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.runCancel = cancel

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(config.Validate)

	if a.alrt != nil && a.alrt.Enabled() {
		a.alrt.Start(runCtx)
	}
	if a.sched != nil && a.sched.Enabled() {
		a.sched.Start(runCtx)
	}

	// Debug trace of bus traffic. Components subscribe themselves for real work.
	events, unsub := a.bus.Subscribe(128)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer unsub()
		for {
			select {
			case <-runCtx.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	}()

	// Config hot-reload fan-out.
	sub := a.cfgm.Subscribe(8)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-runCtx.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(runCtx, newCfg)
			}
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.cfgm.Watch(runCtx)
	}()

	a.log.Info("app started")
	return nil
}

// applyConfig pushes a validated hot-reloaded config into the running
// services. Storage changes need a restart and only produce a warning.
func (a *App) applyConfig(ctx context.Context, cfg *config.Config) {
	if cfg == nil {
		return
	}

	a.logs.Apply(mapLoggingConfig(cfg))

	if a.sched != nil {
		schedCfg, err := mapSchedulerConfig(cfg)
		if err != nil {
			a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
		} else {
			wasEnabled := a.sched.Enabled()
			a.sched.Apply(schedCfg)
			switch {
			case wasEnabled && !schedCfg.Enabled:
				a.log.Info("scheduler disabled via config")
				stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				a.sched.Stop(stopCtx)
				cancel()
			case !wasEnabled && schedCfg.Enabled:
				a.log.Info("scheduler enabled via config")
				a.sched.Start(ctx)
			}
		}
	} else if cfg.Scheduler.Enabled {
		a.log.Warn("scheduler enabled in config but storage was off at startup; restart required")
	}

	if a.alrt == nil && cfg.Alert != nil && cfg.Alert.Enabled {
		a.log.Warn("alerting enabled in config but no sender was built at startup; restart required")
	}
	if a.alrt != nil && cfg.Alert != nil {
		wasEnabled := a.alrt.Enabled()
		acfg := mapAlertConfig(cfg)
		a.alrt.Apply(acfg)
		switch {
		case wasEnabled && !acfg.Enabled:
			a.log.Info("alerting disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.alrt.Stop(stopCtx)
			cancel()
		case !wasEnabled && acfg.Enabled:
			a.log.Info("alerting enabled via config")
			a.alrt.Start(ctx)
		}
	}

	if _, enabled, err := mapStorageConfig(cfg); err != nil {
		a.log.Warn("invalid storage config; keeping previous", logx.Err(err))
	} else if enabled != (a.store != nil) {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}

	a.log.Info("config reloaded")
}

func (a *App) Stop(ctx context.Context) error {
	if a.runCancel == nil {
		return nil
	}
	a.log.Info("stopping")
	a.runCancel()

	// Bound each shutdown step so one stuck component can't stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, max)
		}
		start := time.Now()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		if cancel != nil {
			cancel()
		}
	}

	if a.sched != nil {
		step("scheduler", 3*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	}
	if a.alrt != nil {
		step("alert", 2*time.Second, func(c context.Context) error { a.alrt.Stop(c); return nil })
	}
	if a.store != nil {
		step("storage", 1*time.Second, func(context.Context) error { return a.store.Close() })
	}
	step("background", 2*time.Second, func(c context.Context) error {
		done := make(chan struct{})
		go func() {
			a.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-c.Done():
			return c.Err()
		}
	})

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

// Scheduler exposes the running scheduler (nil when storage is off).
func (a *App) Scheduler() *scheduler.Service { return a.sched }
