// Package engine provides the storage engine facade: one entry point
// tying together the page store, buffer pool, table manager, and
// B+tree index catalog, plus a single-level transaction with an undo
// log for rollback.
package engine

import (
	"github.com/treecore/treecore/pkg/buffer"
)

// Config configures a new Engine.
type Config struct {
	DataDirectory  string
	BufferFrames   int
	EvictionPolicy string // "lru", "fifo", "clock"
	LogLevel       string
	LogPretty      bool
	MetricsAddr    string
}

// DefaultConfig returns sane defaults for local development.
func DefaultConfig() Config {
	return Config{
		DataDirectory:  "data",
		BufferFrames:   100,
		EvictionPolicy: "lru",
		LogLevel:       "info",
		LogPretty:      true,
		MetricsAddr:    ":9090",
	}
}

func (c Config) parsePolicy() (buffer.Policy, error) {
	return buffer.ParsePolicy(c.EvictionPolicy)
}
