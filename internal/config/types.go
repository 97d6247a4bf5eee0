package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Reminder ReminderConfig `json:"reminder"`
	Storage  StorageConfig  `json:"storage"`
}

type TelegramConfig struct {
	Token string `json:"token"`

	// PollTimeout is the Telegram long-poll timeout (Go duration string).
	PollTimeout string `json:"poll_timeout,omitempty"`

	// AdminUserIDs may configure commands in any chat, in addition to
	// per-chat Telegram admins.
	AdminUserIDs []int64 `json:"admin_user_ids,omitempty"`
}

type LoggingConfig struct {
	Level   string            `json:"level"`
	Console bool              `json:"console"`
	File    LoggingFileConfig `json:"file"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// ReminderConfig controls the reminder poll loop.
//
// All durations are Go duration strings (e.g. "30s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - poll_period: "30s"
//   - timezone: "Europe/Berlin"
//   - send_timeout: "10s"
//   - rate_per_sec: 5
//   - retention: "48h" (post-log entries kept this long past occurrence start)
//   - prune_at: "04:30" (daily, reminder timezone)
type ReminderConfig struct {
	Enabled    bool   `json:"enabled"`
	PollPeriod string `json:"poll_period,omitempty"`

	// Timezone is the single IANA zone all event times are interpreted in.
	Timezone string `json:"timezone,omitempty"`

	SendTimeout string `json:"send_timeout,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`

	Retention string `json:"retention,omitempty"`
	PruneAt   string `json:"prune_at,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/raidherald.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}
