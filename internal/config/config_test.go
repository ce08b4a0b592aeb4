package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.GlobalReadHandles != 16 || cfg.LogReadHandles != 4 {
		t.Fatalf("read handle defaults: %d/%d", cfg.GlobalReadHandles, cfg.LogReadHandles)
	}
	if cfg.Fsync != FsyncAlways || !cfg.Sync() {
		t.Fatalf("fsync default")
	}
	if !cfg.RepairTornTail {
		t.Fatalf("repair default should be true")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "logsrd.json")
	data := []byte(`{"dataDir":"/srv/logs","pageSize":4096,"compactInterval":"5s","fsync":"never","log":{"level":"debug"}}`)
	if err := os.WriteFile(file, data, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DataDir != "/srv/logs" {
		t.Fatalf("expected /srv/logs, got %s", cfg.DataDir)
	}
	if cfg.PageSize != 4096 {
		t.Fatalf("expected 4096")
	}
	if cfg.CompactInterval.Std() != 5*time.Second {
		t.Fatalf("expected 5s, got %s", cfg.CompactInterval.Std())
	}
	if cfg.Sync() {
		t.Fatalf("expected fsync never")
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("expected debug log level")
	}
	if cfg.LogReadHandles != 4 {
		t.Fatalf("unset fields keep defaults")
	}
}

func TestLoadRejectsYAML(t *testing.T) {
	file := filepath.Join(t.TempDir(), "logsrd.yaml")
	if err := os.WriteFile(file, []byte("dataDir: x"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(file); err == nil {
		t.Fatalf("expected yaml to be rejected")
	}
}

func TestFromEnv(t *testing.T) {
	cfg := Default()
	t.Setenv("DATA_DIR", "/data/a")
	t.Setenv("LOGSRD_PAGE_SIZE", "8192")
	t.Setenv("LOGSRD_COMPACT_INTERVAL", "1m")
	t.Setenv("LOGSRD_REPAIR_TORN_TAIL", "false")
	t.Setenv("LOGSRD_FSYNC", "never")
	FromEnv(&cfg)
	if cfg.DataDir != "/data/a" {
		t.Fatalf("DATA_DIR override: %s", cfg.DataDir)
	}
	if cfg.PageSize != 8192 {
		t.Fatalf("page size override")
	}
	if cfg.CompactInterval.Std() != time.Minute {
		t.Fatalf("interval override")
	}
	if cfg.RepairTornTail {
		t.Fatalf("repair override")
	}

	t.Setenv("LOGSRD_DATA_DIR", "/data/b")
	FromEnv(&cfg)
	if cfg.DataDir != "/data/b" {
		t.Fatalf("LOGSRD_DATA_DIR should win: %s", cfg.DataDir)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Fsync = "sometimes"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected fsync error")
	}
	cfg = Default()
	cfg.PageSize = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected page size error")
	}
}
