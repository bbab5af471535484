package config

import "time"

// Config is the full on-disk configuration. YAML and JSON are both
// accepted; YAML is coerced to JSON before strict decoding.
//
// All duration fields are Go duration strings (e.g. "500ms", "15s", "24h").
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Telegram TelegramConfig `json:"telegram"`
	WhatsApp WhatsAppConfig `json:"whatsapp,omitempty"`
	Storage  StorageConfig  `json:"storage"`
	Reminder ReminderConfig `json:"reminder,omitempty"`
}

type LoggingConfig struct {
	Level   string            `json:"level,omitempty"`
	Console *bool             `json:"console,omitempty"`
	File    LoggingFileConfig `json:"file,omitempty"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`

	// PollTimeout is the long-poll timeout for inbound updates.
	// Default: "10s".
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// WhatsAppConfig configures the WhatsApp Cloud API sender.
// If the section is omitted the platform is disabled and reminders
// addressed to it fail dispatch (logged, never retried).
type WhatsAppConfig struct {
	Enabled       bool   `json:"enabled,omitempty"`
	AccessToken   string `json:"access_token,omitempty"`
	PhoneNumberID string `json:"phone_number_id,omitempty"`
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite busy_timeout; default "5s"
}

// ReminderConfig controls the trigger scheduler and dispatch pool.
//
// Defaults (when fields are omitted/zero):
//   - workers: 20
//   - queue_size: 256
//   - dispatch_timeout: "15s"
//   - rate_per_sec: 3
//   - cleanup_interval: "24h"
//   - retention: "720h" (30 days)
type ReminderConfig struct {
	Workers         int    `json:"workers,omitempty"`
	QueueSize       int    `json:"queue_size,omitempty"`
	DispatchTimeout string `json:"dispatch_timeout,omitempty"`
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	CleanupInterval string `json:"cleanup_interval,omitempty"`
	Retention       string `json:"retention,omitempty"`
}

// ---- resolved views ----

// ReminderSettings is ReminderConfig with durations parsed and defaults
// applied. Produced by Resolve().
type ReminderSettings struct {
	Workers         int
	QueueSize       int
	DispatchTimeout time.Duration
	RatePerSec      int
	CleanupInterval time.Duration
	Retention       time.Duration
}

func (c ReminderConfig) Resolve() (ReminderSettings, error) {
	out := ReminderSettings{
		Workers:    c.Workers,
		QueueSize:  c.QueueSize,
		RatePerSec: c.RatePerSec,
	}
	if out.Workers <= 0 {
		out.Workers = 20
	}
	if out.QueueSize <= 0 {
		out.QueueSize = 256
	}
	if out.RatePerSec <= 0 {
		out.RatePerSec = 3
	}
	var err error
	if out.DispatchTimeout, err = ParseDurationOrDefault("reminder.dispatch_timeout", c.DispatchTimeout, 15*time.Second); err != nil {
		return out, err
	}
	if out.CleanupInterval, err = ParseDurationOrDefault("reminder.cleanup_interval", c.CleanupInterval, 24*time.Hour); err != nil {
		return out, err
	}
	if out.Retention, err = ParseDurationOrDefault("reminder.retention", c.Retention, 30*24*time.Hour); err != nil {
		return out, err
	}
	return out, nil
}

// ConsoleEnabled defaults to true when the field is omitted.
func (c LoggingConfig) ConsoleEnabled() bool {
	if c.Console == nil {
		return true
	}
	return *c.Console
}
