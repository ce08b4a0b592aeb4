package serverrun

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	cfgpkg "github.com/rzbill/logsrd/internal/config"
	"github.com/rzbill/logsrd/internal/runtime"
	"github.com/rzbill/logsrd/pkg/id"
	logpkg "github.com/rzbill/logsrd/pkg/log"
)

func TestGetenvDefault(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		def      string
		envValue string
		expected string
	}{
		{
			name:     "environment variable set",
			key:      "TEST_VAR",
			def:      "default",
			envValue: "env_value",
			expected: "env_value",
		},
		{
			name:     "environment variable not set",
			key:      "TEST_VAR_NOT_SET",
			def:      "default",
			envValue: "",
			expected: "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				_ = os.Setenv(tt.key, tt.envValue)
			} else {
				_ = os.Unsetenv(tt.key)
			}
			t.Cleanup(func() {
				_ = os.Unsetenv(tt.key)
			})

			result := getenvDefault(tt.key, tt.def)
			if result != tt.expected {
				t.Errorf("getenvDefault(%s, %s) = %s, expected %s", tt.key, tt.def, result, tt.expected)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	if l := NewLogger(logpkg.Config{Level: "debug", Format: "json"}); l.GetLevel() != logpkg.DebugLevel {
		t.Errorf("expected debug level, got %s", l.GetLevel())
	}
	t.Setenv("LOGSRD_LOG_LEVEL", "warn")
	if l := NewLogger(logpkg.Config{}); l.GetLevel() != logpkg.WarnLevel {
		t.Errorf("expected env level warn, got %s", l.GetLevel())
	}
	// Invalid settings fall back to a text logger at info.
	if l := NewLogger(logpkg.Config{Level: "loud", Format: "xml"}); l.GetLevel() != logpkg.InfoLevel {
		t.Errorf("expected fallback info level, got %s", l.GetLevel())
	}
}

func TestDefaultDataDirIntegration(t *testing.T) {
	opts := Options{Config: cfgpkg.Default()}
	opts.Config.DataDir = ""

	if opts.Config.DataDir == "" {
		opts.Config.DataDir = cfgpkg.DefaultDataDir()
	}
	if opts.Config.DataDir == "" {
		t.Error("DataDir should not be empty after fallback")
	}
	if !filepath.IsAbs(opts.Config.DataDir) && !strings.HasPrefix(opts.Config.DataDir, "./") {
		t.Errorf("DataDir should be absolute or start with ./, got %s", opts.Config.DataDir)
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func TestRunServesMetricsUntilCancelled(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	cfg := cfgpkg.Default()
	cfg.DataDir = t.TempDir()
	cfg.Fsync = cfgpkg.FsyncNever
	cfg.Log.Level = "error"
	addr := freeAddr(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ready := make(chan *runtime.Runtime, 1)
	done := make(chan error, 1)
	go func() { done <- Run(ctx, Options{Config: cfg, MetricsAddr: addr, Ready: ready}) }()

	var rt *runtime.Runtime
	select {
	case rt = <-ready:
	case err := <-done:
		t.Fatalf("run exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatalf("runtime did not open")
	}
	if err := rt.Store().Create(ctx, id.NewLogID(), []byte(`{}`)); err != nil {
		t.Fatalf("create: %v", err)
	}

	var body string
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err == nil {
			b, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			body = string(b)
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("metrics endpoint: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !strings.Contains(body, "logsrd_write_entries_total") {
		t.Errorf("expected write metrics, got:\n%s", body)
	}

	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not return after cancel")
	}
}
