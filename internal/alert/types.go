package alert

import "errors"

var (
	ErrDisabled  = errors.New("alerter disabled")
	ErrQueueFull = errors.New("alerter queue full")
	ErrStopped   = errors.New("alerter stopped")
)

// Config controls the operational alert pipeline.
//
// Alerting is optional: a disabled (or never constructed) alerter is a valid
// state meaning "feature off".
type Config struct {
	Enabled    bool
	QueueSize  int // default 128
	RatePerSec int // default 1

	Telegram TelegramConfig
}

type TelegramConfig struct {
	Token    string
	ChatID   int64
	ThreadID int
}
