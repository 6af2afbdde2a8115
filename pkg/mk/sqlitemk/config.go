// Package sqlitemk is a tree backend on SQLite. Every handle owns its own
// connection pool on one shared database file; revisions are stored as
// versioned node and property rows.
package sqlitemk

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds configuration for the SQLite backend.
type Config struct {
	// DBPath is the path to the SQLite database file shared by all handles.
	DBPath string
	// Synchronous sets the SQLite synchronous pragma.
	// "NORMAL" is the default, "OFF" trades durability for speed.
	Synchronous string
	// BusyTimeout bounds how long a writer waits for the database lock.
	BusyTimeout time.Duration
	// CacheSizeKB is the page cache size per connection in KB.
	CacheSizeKB int
}

// DefaultConfig returns a default configuration for dbPath.
func DefaultConfig(dbPath string) Config {
	return Config{
		DBPath:      dbPath,
		Synchronous: "NORMAL",
		BusyTimeout: 30 * time.Second,
		CacheSizeKB: 65536, // 64MB
	}
}

// Validate checks configuration values and returns an error for invalid settings.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("DBPath is required")
	}
	switch c.Synchronous {
	case "", "OFF", "NORMAL", "FULL":
	default:
		return fmt.Errorf("invalid Synchronous value %q: must be OFF, NORMAL, or FULL", c.Synchronous)
	}
	if c.BusyTimeout < 0 {
		return fmt.Errorf("BusyTimeout must be non-negative, got %v", c.BusyTimeout)
	}
	if c.CacheSizeKB < 0 {
		return fmt.Errorf("CacheSizeKB must be non-negative, got %d", c.CacheSizeKB)
	}
	return nil
}

// dsn builds the go-sqlite3 connection string. Write transactions start
// with BEGIN IMMEDIATE so concurrent committers queue on the busy timeout
// instead of failing on lock upgrade.
func (c *Config) dsn() string {
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_busy_timeout", fmt.Sprint(c.BusyTimeout.Milliseconds()))
	q.Set("_txlock", "immediate")
	if c.Synchronous != "" {
		q.Set("_synchronous", c.Synchronous)
	}
	return "file:" + c.DBPath + "?" + q.Encode()
}

func (c *Config) pragmas() []string {
	p := []string{"PRAGMA temp_store=MEMORY"}
	if c.CacheSizeKB > 0 {
		p = append(p, fmt.Sprintf("PRAGMA cache_size=-%d", c.CacheSizeKB))
	}
	return p
}
