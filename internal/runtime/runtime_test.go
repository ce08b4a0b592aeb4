package runtime

import (
	"context"
	"testing"
	"time"

	cfgpkg "github.com/rzbill/logsrd/internal/config"
	"github.com/rzbill/logsrd/internal/entry"
	"github.com/rzbill/logsrd/pkg/id"
)

func testConfig(t *testing.T) cfgpkg.Config {
	cfg := cfgpkg.Default()
	cfg.DataDir = t.TempDir()
	cfg.Fsync = cfgpkg.FsyncNever
	return cfg
}

func TestOpenCloseHealth(t *testing.T) {
	rt, err := Open(context.Background(), Options{Config: testConfig(t)})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	defer rt.Close()
	if err := rt.CheckHealth(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
	if rt.Catalog() == nil {
		t.Fatalf("catalog should be open by default")
	}
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Fsync = "sometimes"
	if _, err := Open(context.Background(), Options{Config: cfg}); err == nil {
		t.Fatalf("expected config error")
	}
}

func TestCreateRecordsCatalog(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	rt, err := Open(ctx, Options{Config: cfg})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	logID := id.NewLogID()
	if err := rt.Store().Create(ctx, logID, []byte(`{"type":"binary"}`)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := rt.Store().Append(ctx, logID, entry.NewBinary([]byte("x"))); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	rt, err = Open(ctx, Options{Config: cfg})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer rt.Close()
	rec, ok, err := rt.Catalog().Get(logID)
	if err != nil || !ok {
		t.Fatalf("catalog record: ok=%v err=%v", ok, err)
	}
	if rec.Created.IsZero() || rec.LastWrite.IsZero() {
		t.Fatalf("expected created and last write times, got %+v", rec)
	}
	head, err := rt.Store().ReadHead(ctx, logID)
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if head.Num() != 0 {
		t.Fatalf("expected entry 0, got %d", head.Num())
	}
}

func TestRunCompactsAndStops(t *testing.T) {
	cfg := testConfig(t)
	cfg.CompactInterval = cfgpkg.Duration(5 * time.Millisecond)
	cfg.DiskCompactThreshold = 1
	rt, err := Open(context.Background(), Options{Config: cfg, NoCatalog: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()
	logID := id.NewLogID()
	if err := rt.Store().Create(context.Background(), logID, []byte(`{}`)); err != nil {
		t.Fatalf("create: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()
	deadline := time.Now().Add(2 * time.Second)
	for rt.Store().Stats().HotBytes > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("hot log was not compacted")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := rt.Store().GetConfig(context.Background(), logID); err != nil {
		t.Fatalf("config after compaction: %v", err)
	}
}
