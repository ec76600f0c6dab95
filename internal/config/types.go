package config

// Config is the full mergesched configuration.
//
// Accepted in JSON or YAML (YAML is coerced to JSON and decoded strictly, so
// unknown keys are rejected in both formats).
type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Store selects the schedule store backend.
	Store StoreConfig `json:"store"`

	// Runner tunes the catch-up run itself.
	Runner RunnerConfig `json:"runner,omitempty"`

	// Daemon controls the optional long-running mode. When the daemon is
	// disabled, runs only happen via the `run` command (one-shot), typically
	// invoked by an OS scheduler.
	Daemon DaemonConfig `json:"daemon,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StoreConfig controls schedule persistence.
//
// Driver values:
//   - "file": ordered text records, dependency-free (default)
//   - "sqlite": SQLite database file (optional build tag)
//
// Example:
//
//	"store": { "driver": "file", "path": "./scheduled_merges.ini" }
type StoreConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// RunnerConfig tunes RunDue.
//
// RatePerMin caps how many entries may execute per minute during a single
// run. A host that was off for weeks can wake up with a large backlog; the
// cap keeps the catch-up burst from hammering the data sources. 0 disables
// pacing.
//
// MaxKeyLen bounds generated entry keys. The default (232) matches the most
// restrictive known external invocation-identity limit.
type RunnerConfig struct {
	RatePerMin int `json:"rate_per_min,omitempty"`
	MaxKeyLen  int `json:"max_key_len,omitempty"`
}

// DaemonConfig controls long-running mode.
//
// RunSpec is a cron expression (robfig/cron 5-field, descriptors allowed,
// e.g. "@hourly"). The engine only needs to be invoked at least once per
// calendar day; the default "@hourly" keeps fire times within an hour of
// their scheduled minute.
type DaemonConfig struct {
	Enabled bool   `json:"enabled"`
	RunSpec string `json:"run_spec,omitempty"`

	// Watchdog enables systemd watchdog pings when running under systemd
	// with WatchdogSec set.
	Watchdog bool `json:"watchdog,omitempty"`
}
