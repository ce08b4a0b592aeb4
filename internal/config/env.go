package config

import (
	"os"
	"strconv"
	"time"
)

// FromEnv overlays DATA_DIR and LOGSRD_* environment variables onto cfg.
// LOGSRD_DATA_DIR wins over DATA_DIR.
func FromEnv(cfg *Config) {
	if v := envDataDir(); v != "" {
		cfg.DataDir = v
	}
	envInt64("LOGSRD_PAGE_SIZE", &cfg.PageSize)
	envInt64("LOGSRD_DISK_COMPACT_THRESHOLD", &cfg.DiskCompactThreshold)
	envInt64("LOGSRD_MEM_COMPACT_THRESHOLD", &cfg.MemCompactThreshold)
	if v := os.Getenv("LOGSRD_COMPACT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CompactInterval = Duration(d)
		}
	}
	envInt("LOGSRD_GLOBAL_READ_HANDLES", &cfg.GlobalReadHandles)
	envInt("LOGSRD_LOG_READ_HANDLES", &cfg.LogReadHandles)
	envInt("LOGSRD_MAX_WRITE_BATCH", &cfg.MaxWriteBatch)
	if v := os.Getenv("LOGSRD_FSYNC"); v != "" {
		cfg.Fsync = v
	}
	if v := os.Getenv("LOGSRD_REPAIR_TORN_TAIL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.RepairTornTail = b
		}
	}
	if v := os.Getenv("LOGSRD_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOGSRD_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envInt64(key string, dst *int64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}
