package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	logpkg "github.com/rzbill/logsrd/pkg/log"
)

// Fsync policies.
const (
	FsyncAlways = "always"
	FsyncNever  = "never"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	// DataDir is the storage root. Overridden by DATA_DIR.
	DataDir string `json:"dataDir"`
	// PageSize is how many bytes a log must hold across cold and old-hot
	// before compaction gives it its own file.
	PageSize int64 `json:"pageSize"`
	// DiskCompactThreshold triggers compaction once the hot log reaches it.
	DiskCompactThreshold int64 `json:"diskCompactThreshold"`
	// MemCompactThreshold bounds the bytes held across hot and cold.
	MemCompactThreshold int64 `json:"memCompactThreshold"`
	// CompactInterval is how often thresholds are checked. Zero disables
	// background compaction.
	CompactInterval Duration `json:"compactInterval"`

	GlobalReadHandles int    `json:"globalReadHandles"`
	LogReadHandles    int    `json:"logReadHandles"`
	MaxWriteBatch     int    `json:"maxWriteBatch"`
	Fsync             string `json:"fsync"`
	RepairTornTail    bool   `json:"repairTornTail"`

	Log logpkg.Config `json:"log"`
}

// Duration is a time.Duration that reads and writes as "30s" in JSON.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n int64
		if err2 := json.Unmarshal(b, &n); err2 != nil {
			return err
		}
		*d = Duration(n)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		DataDir:              DefaultDataDir(),
		PageSize:             64 << 10,
		DiskCompactThreshold: 64 << 20,
		MemCompactThreshold:  256 << 20,
		CompactInterval:      Duration(30 * time.Second),
		GlobalReadHandles:    16,
		LogReadHandles:       4,
		Fsync:                FsyncAlways,
		RepairTornTail:       true,
		Log:                  logpkg.Config{Level: "info", Format: "text"},
	}
}

// Load reads configuration from a JSON file. If path is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		return Config{}, errors.New("yaml config not supported; use JSON")
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return cfg, nil
}

// Validate checks the values the engine depends on.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("config: dataDir is required")
	}
	if c.Fsync != FsyncAlways && c.Fsync != FsyncNever {
		return fmt.Errorf("config: fsync must be %q or %q, got %q", FsyncAlways, FsyncNever, c.Fsync)
	}
	if c.PageSize <= 0 {
		return errors.New("config: pageSize must be positive")
	}
	if c.DiskCompactThreshold < 0 || c.MemCompactThreshold < 0 || c.CompactInterval < 0 {
		return errors.New("config: thresholds and interval must not be negative")
	}
	if c.GlobalReadHandles <= 0 || c.LogReadHandles <= 0 {
		return errors.New("config: read handle bounds must be positive")
	}
	return nil
}

// Sync reports whether writes are followed by a data sync.
func (c Config) Sync() bool { return c.Fsync != FsyncNever }
