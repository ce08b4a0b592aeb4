package store

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"time"

	"github.com/rzbill/logsrd/internal/catalog"
	"github.com/rzbill/logsrd/internal/config"
	"github.com/rzbill/logsrd/internal/metrics"
	"github.com/rzbill/logsrd/pkg/id"
	logpkg "github.com/rzbill/logsrd/pkg/log"
)

var (
	ErrEntryNotFound = errors.New("store: entry not found")
	ErrLogExists     = errors.New("store: log already exists")
	ErrLogNotFound   = errors.New("store: log not found")
	ErrLogStopped    = errors.New("store: log stopped")
	ErrInvalidEntry  = errors.New("store: entry cannot be appended")
	ErrInvalidConfig = errors.New("store: config must be a JSON object")
	ErrClosed        = errors.New("store: closed")
)

// File names under the data directory.
const (
	HotName   = "global-hot.log"
	ColdName  = "global-cold.log"
	OldSuffix = ".old"
	NewSuffix = ".new"
	LogsDir   = config.LogsDirName
)

// Options configures a Store.
type Options struct {
	DataDir string
	// PageSize is the number of bytes a log must hold across the cold and
	// frozen hot logs before compaction moves it to its own file.
	PageSize int64
	// DiskCompactThreshold triggers compaction when the hot log reaches it.
	// Zero disables the trigger.
	DiskCompactThreshold int64
	// MemCompactThreshold bounds the bytes held by the hot and cold logs.
	// Zero disables promotion.
	MemCompactThreshold int64
	// CompactInterval is the period of Run. Zero disables the loop.
	CompactInterval time.Duration

	GlobalReadHandles int
	LogReadHandles    int
	MaxWriteBatch     int
	Sync              bool
	RepairTornTail    bool

	// Catalog records creation and last-write times. Optional.
	Catalog *catalog.Catalog
	// Metrics receives file and compaction observations. Optional.
	Metrics *metrics.Metrics
	Logger  logpkg.Logger
	// Sequence orders operations across every file. Optional.
	Sequence *id.Sequence
}

// OptionsFromConfig maps the engine configuration onto store options.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		DataDir:              cfg.DataDir,
		PageSize:             cfg.PageSize,
		DiskCompactThreshold: cfg.DiskCompactThreshold,
		MemCompactThreshold:  cfg.MemCompactThreshold,
		CompactInterval:      cfg.CompactInterval.Std(),
		GlobalReadHandles:    cfg.GlobalReadHandles,
		LogReadHandles:       cfg.LogReadHandles,
		MaxWriteBatch:        cfg.MaxWriteBatch,
		Sync:                 cfg.Sync(),
		RepairTornTail:       cfg.RepairTornTail,
	}
}

func (o Options) hotPath() string  { return filepath.Join(o.DataDir, HotName) }
func (o Options) coldPath() string { return filepath.Join(o.DataDir, ColdName) }

// PerLogPath returns the path of logID's own file under dataDir.
func PerLogPath(dataDir string, logID id.LogID) string {
	d0, d1 := logID.ShardDirs()
	return filepath.Join(dataDir, LogsDir, d0, d1, logID.String()+".log")
}

// LogConfig is a log's configuration document.
type LogConfig struct {
	// Type is the "type" member of the document, if present.
	Type string
	// Raw is the document as stored.
	Raw json.RawMessage
}

// ParseLogConfig validates raw as a JSON object.
func ParseLogConfig(raw []byte) (LogConfig, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil || doc == nil {
		return LogConfig{}, ErrInvalidConfig
	}
	cfg := LogConfig{Raw: append(json.RawMessage(nil), raw...)}
	if t, ok := doc["type"]; ok {
		_ = json.Unmarshal(t, &cfg.Type)
	}
	return cfg, nil
}

// Stats describes the files a Store manages.
type Stats struct {
	Logs         int    `json:"logs"`
	HotBytes     int64  `json:"hot_bytes"`
	OldBytes     int64  `json:"old_bytes"`
	ColdBytes    int64  `json:"cold_bytes"`
	ColdHeld     int64  `json:"cold_held"`
	PerLogFiles  int    `json:"per_log_files"`
	WriteBatches uint64 `json:"write_batches"`
	Compacting   bool   `json:"compacting"`
}
