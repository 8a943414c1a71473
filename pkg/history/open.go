package history

import (
	"fmt"

	"github.com/rafaalpizar/xtream-proxy/pkg/config"
)

// Open builds the store selected by cfg.Backend.
func Open(cfg config.HistoryConfig) (Store, error) {
	switch cfg.Backend {
	case "", "sqlite":
		return NewSQLiteStore(SQLiteConfig{
			Path:        cfg.SQLite.Path,
			WALMode:     true,
			BusyTimeout: cfg.SQLite.BusyTimeout,
		})
	case "memory":
		return NewMemoryStore(cfg.MemoryMaxRecords), nil
	default:
		return nil, fmt.Errorf("unknown history backend %q", cfg.Backend)
	}
}
