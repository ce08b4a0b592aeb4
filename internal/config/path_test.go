package config

import (
	"os"
	"path/filepath"
	"testing"
)

func clearDataDirEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"LOGSRD_DATA_DIR", "DATA_DIR", "XDG_DATA_HOME"} {
		t.Setenv(k, "")
	}
}

func TestDefaultDataDirEnv(t *testing.T) {
	tests := []struct {
		name     string
		env      map[string]string
		expected string
	}{
		{
			name:     "XDG_DATA_HOME",
			env:      map[string]string{"XDG_DATA_HOME": "/custom/data"},
			expected: "/custom/data/logsrd",
		},
		{
			name:     "DATA_DIR beats XDG",
			env:      map[string]string{"DATA_DIR": "/srv/a", "XDG_DATA_HOME": "/custom/data"},
			expected: "/srv/a",
		},
		{
			name:     "LOGSRD_DATA_DIR beats DATA_DIR",
			env:      map[string]string{"LOGSRD_DATA_DIR": "/srv/b", "DATA_DIR": "/srv/a"},
			expected: "/srv/b",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearDataDirEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if got := DefaultDataDir(); got != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestDefaultDataDirNoHome(t *testing.T) {
	clearDataDirEnv(t)
	t.Setenv("HOME", "")
	if got := DefaultDataDir(); got != "./data" {
		t.Errorf("Expected fallback to './data', got %s", got)
	}
}

func TestDefaultDataDirFromConfigDefault(t *testing.T) {
	clearDataDirEnv(t)
	t.Setenv("DATA_DIR", "/srv/env")
	if cfg := Default(); cfg.DataDir != "/srv/env" {
		t.Errorf("Default should pick DATA_DIR, got %s", cfg.DataDir)
	}
}

func TestPrepareDataDir(t *testing.T) {
	root := filepath.Join(t.TempDir(), "data")
	dir, err := PrepareDataDir(root)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if !filepath.IsAbs(dir) {
		t.Fatalf("expected absolute path, got %s", dir)
	}
	for _, sub := range []string{LogsDirName, MetaDirName} {
		if !isDir(filepath.Join(dir, sub)) {
			t.Fatalf("missing %s", sub)
		}
	}
	// Preparing twice is fine.
	if _, err := PrepareDataDir(root); err != nil {
		t.Fatalf("second prepare: %v", err)
	}
}

func TestPrepareDataDirRejectsFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "notadir")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := PrepareDataDir(file); err == nil {
		t.Fatalf("expected error for a file")
	}
}

func TestIsDir(t *testing.T) {
	if !isDir(".") {
		t.Errorf("isDir(.) = false")
	}
	if isDir("/non/existent/path/that/does/not/exist") {
		t.Errorf("isDir on a missing path = true")
	}
	if isDir(os.Args[0]) {
		t.Errorf("isDir on the test binary = true")
	}
}
