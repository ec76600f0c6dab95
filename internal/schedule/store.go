package schedule

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "mergesched/pkg/logx"
)

// Store is the persistence API for schedule entries.
//
// LoadAll returns entries in store order. A missing backing medium is not an
// error: the store recreates an empty, well-formed one and returns no
// entries. A present-but-unparsable medium fails with ErrCorrupt.
//
// Save upserts one entry and must leave every other entry's serialized form
// untouched. Delete fails with ErrNotFound for unknown keys. Both rewrite
// the backing medium synchronously.
type Store interface {
	LoadAll(ctx context.Context) ([]Entry, error)
	Save(ctx context.Context, e Entry) error
	Delete(ctx context.Context, key string) error

	// Keys returns the current key set. Key generation re-reads this at
	// call time rather than trusting an earlier LoadAll.
	Keys(ctx context.Context) ([]string, error)

	Close() error
}

// Config configures the store backend.
//
// Driver values:
//   - "file": ordered text records, dependency-free (default when empty)
//   - "sqlite": SQLite database file (optional build tag)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown store driver: " + driver)
	}
}
