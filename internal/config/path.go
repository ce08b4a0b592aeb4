package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Names of the directories logsrd keeps under its data directory.
const (
	LogsDirName = "logs"
	MetaDirName = "meta"
)

// envDataDir returns the data directory named by the environment.
// LOGSRD_DATA_DIR wins over DATA_DIR.
func envDataDir() string {
	if v := os.Getenv("LOGSRD_DATA_DIR"); v != "" {
		return v
	}
	return os.Getenv("DATA_DIR")
}

// DefaultDataDir returns where the hot, cold and per-log files live when no
// directory is configured: the environment first, then the platform's data
// location, then ./data.
func DefaultDataDir() string {
	if dir := envDataDir(); dir != "" {
		return dir
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "logsrd")
	}
	homeDir, err := os.UserHomeDir()
	if err != nil || homeDir == "" {
		return "./data"
	}
	switch {
	case isDir("/var/lib"):
		return "/var/lib/logsrd"
	case isDir(filepath.Join(homeDir, "Library")):
		return filepath.Join(homeDir, "Library", "Application Support", "Logsrd")
	case isDir(filepath.Join(homeDir, "AppData")):
		return filepath.Join(homeDir, "AppData", "Local", "Logsrd")
	}
	return filepath.Join(homeDir, ".logsrd")
}

// PrepareDataDir creates dir and its logs/ and meta/ subdirectories and
// returns dir as an absolute path.
func PrepareDataDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	if info, err := os.Stat(abs); err == nil && !info.IsDir() {
		return "", fmt.Errorf("config: data dir %s is not a directory", abs)
	}
	for _, d := range []string{abs, filepath.Join(abs, LogsDirName), filepath.Join(abs, MetaDirName)} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return "", fmt.Errorf("config: create %s: %w", d, err)
		}
	}
	return abs, nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
