package config

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Config is the on-disk configuration (JSON, or YAML coerced to JSON).
//
// All durations are Go duration strings (e.g. "500ms", "30s", "15m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`

	// Alert is optional; omitted means alerting is disabled.
	Alert *AlertConfig `json:"alert,omitempty"`
}

type LoggingConfig struct {
	Level   string     `json:"level"`
	Console bool       `json:"console"`
	File    FileConfig `json:"file"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// StorageConfig selects the schedule/snapshot store backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./possnap.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// SchedulerConfig controls the snapshot scheduler loop.
//
// Defaults (when fields are omitted/zero):
//   - poll_interval: "30s"
//   - workers: 2
//   - queue_size: 64
//   - retry_max: 3
//   - claim_ttl: "15m"
//   - staleness_alert_after: "0s" (disabled)
//   - history_size: 200
type SchedulerConfig struct {
	Enabled             bool   `json:"enabled"`
	PollInterval        string `json:"poll_interval,omitempty"`
	Workers             int    `json:"workers,omitempty"`
	QueueSize           int    `json:"queue_size,omitempty"`
	RetryMax            int    `json:"retry_max,omitempty"`
	ClaimTTL            string `json:"claim_ttl,omitempty"`
	StalenessAlertAfter string `json:"staleness_alert_after,omitempty"`
	Timezone            string `json:"timezone,omitempty"` // IANA TZ, e.g. "Asia/Jakarta"
	HistorySize         int    `json:"history_size,omitempty"`
}

type AlertConfig struct {
	Enabled    bool           `json:"enabled"`
	QueueSize  int            `json:"queue_size,omitempty"`
	RatePerSec int            `json:"rate_per_sec,omitempty"`
	Telegram   TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Token    string `json:"token"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
}

// Validate is the validator hook used by Watch() before committing a reload.
func Validate(ctx context.Context, cfg *Config) error {
	_ = ctx
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	for path, raw := range map[string]string{
		"storage.busy_timeout":            cfg.Storage.BusyTimeout,
		"scheduler.poll_interval":         cfg.Scheduler.PollInterval,
		"scheduler.claim_ttl":             cfg.Scheduler.ClaimTTL,
		"scheduler.staleness_alert_after": cfg.Scheduler.StalenessAlertAfter,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: unknown timezone %q", tz)
		}
	}

	if cfg.Scheduler.Enabled {
		driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
		if driver == "" || driver == "none" {
			return fmt.Errorf("scheduler.enabled requires a storage driver")
		}
	}

	if cfg.Alert != nil && cfg.Alert.Enabled {
		if strings.TrimSpace(cfg.Alert.Telegram.Token) == "" {
			return fmt.Errorf("alert.telegram.token is required when alerting is enabled")
		}
		if cfg.Alert.Telegram.ChatID == 0 {
			return fmt.Errorf("alert.telegram.chat_id is required when alerting is enabled")
		}
	}

	return nil
}
