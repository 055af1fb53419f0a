package app

import (
	"strings"
	"time"

	"possnap/internal/alert"
	"possnap/internal/config"
	"possnap/internal/scheduler"
	"possnap/internal/storage"
	logx "possnap/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	if cfg == nil {
		return logx.Config{Level: "INFO", Console: true}
	}
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// mapStorageConfig returns (cfg, enabled, err); enabled=false means the
// process runs without a store (and therefore without the scheduler).
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil {
		return storage.Config{}, false, nil
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, true, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	if cfg == nil {
		return scheduler.Config{}, nil
	}
	poll, err := config.ParseDurationField("scheduler.poll_interval", cfg.Scheduler.PollInterval)
	if err != nil {
		return scheduler.Config{}, err
	}
	claimTTL, err := config.ParseDurationField("scheduler.claim_ttl", cfg.Scheduler.ClaimTTL)
	if err != nil {
		return scheduler.Config{}, err
	}
	staleAfter, err := config.ParseDurationField("scheduler.staleness_alert_after", cfg.Scheduler.StalenessAlertAfter)
	if err != nil {
		return scheduler.Config{}, err
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return scheduler.Config{}, err
		}
	}
	return scheduler.Config{
		Enabled:             cfg.Scheduler.Enabled,
		PollInterval:        poll,
		Workers:             cfg.Scheduler.Workers,
		QueueSize:           cfg.Scheduler.QueueSize,
		RetryMax:            cfg.Scheduler.RetryMax,
		ClaimTTL:            claimTTL,
		StalenessAlertAfter: staleAfter,
		Timezone:            cfg.Scheduler.Timezone,
		HistorySize:         cfg.Scheduler.HistorySize,
	}, nil
}

func mapAlertConfig(cfg *config.Config) alert.Config {
	if cfg == nil || cfg.Alert == nil {
		return alert.Config{}
	}
	return alert.Config{
		Enabled:    cfg.Alert.Enabled,
		QueueSize:  cfg.Alert.QueueSize,
		RatePerSec: cfg.Alert.RatePerSec,
		Telegram: alert.TelegramConfig{
			Token:    cfg.Alert.Telegram.Token,
			ChatID:   cfg.Alert.Telegram.ChatID,
			ThreadID: cfg.Alert.Telegram.ThreadID,
		},
	}
}
