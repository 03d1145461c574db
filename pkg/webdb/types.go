package webdb

import (
	"github.com/jimpick/webdb/internal/archive"
	"github.com/jimpick/webdb/internal/config"
	"github.com/jimpick/webdb/internal/events"
	"github.com/jimpick/webdb/internal/table"
)

// Aliases so callers outside the module can name the engine's types.

// Config is the engine configuration. See config.Load.
type Config = config.Config

// TableConfig declares one destination table in the configuration.
type TableConfig = config.TableConfig

// Archive is a versioned file collection the engine indexes.
type Archive = archive.Archive

// Opener reconstructs archive handles for persisted archive URLs.
type Opener = archive.Opener

// Listener receives engine signals.
type Listener = events.Listener

// NopListener implements Listener with no-ops; embed it to pick signals.
type NopListener = events.NopListener

// Table is one destination index.
type Table = table.Table

// Record is the stored representation of one indexed source file.
type Record = table.Record

// Validator gates records for a table.
type Validator = table.Validator

// LoadConfig builds the configuration for dir from defaults, .webdb.yaml
// and WEBDB_* environment overrides.
func LoadConfig(dir string) (*Config, error) {
	return config.Load(dir)
}
