package pebblestore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cockroachdb/pebble"
)

type testMetrics struct {
	read         int
	batchCommits int
	batchOps     int
	batchBytes   int
}

func (m *testMetrics) ObserveRead(d time.Duration, bytes int) { m.read += bytes }
func (m *testMetrics) ObserveBatchCommit(d time.Duration, numOps int, bytes int) {
	m.batchCommits++
	m.batchOps += numOps
	m.batchBytes += bytes
}

func newTestDB(t *testing.T) (*DB, *testMetrics) {
	t.Helper()
	metrics := &testMetrics{}
	db, err := Open(Options{
		Dir:           t.TempDir(),
		Fsync:         FsyncModeInterval,
		FsyncInterval: 2 * time.Millisecond,
		Metrics:       metrics,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, metrics
}

func TestCRUD(t *testing.T) {
	db, metrics := newTestDB(t)
	ctx := context.Background()

	key := []byte("k1")
	val := []byte("v1")
	if err := db.Set(ctx, key, val); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err := db.Get(key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != string(val) {
		t.Fatalf("got %q want %q", got, val)
	}
	if metrics.read == 0 {
		t.Fatalf("expected read metrics to record bytes")
	}

	if err := db.Delete(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := db.Get(key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestUpdateCommitMetrics(t *testing.T) {
	db, metrics := newTestDB(t)

	err := db.Update(context.Background(), func(b *pebble.Batch) error {
		if err := b.Set([]byte("a"), []byte("1"), nil); err != nil {
			return err
		}
		return b.Set([]byte("b"), []byte("2"), nil)
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if metrics.batchCommits != 1 {
		t.Fatalf("want 1 batch commit, got %d", metrics.batchCommits)
	}
	if metrics.batchOps != 2 {
		t.Fatalf("want 2 ops, got %d", metrics.batchOps)
	}
	if metrics.batchBytes <= 0 {
		t.Fatalf("expected positive batch bytes")
	}
}

func TestUpdateErrorDiscardsBatch(t *testing.T) {
	db, metrics := newTestDB(t)
	boom := errors.New("boom")
	err := db.Update(context.Background(), func(b *pebble.Batch) error {
		_ = b.Set([]byte("x"), []byte("1"), nil)
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("want boom, got %v", err)
	}
	if metrics.batchCommits != 0 {
		t.Fatalf("batch should not commit")
	}
	if _, err := db.Get([]byte("x")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("key should not exist: %v", err)
	}
}

func TestScanPrefix(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := db.Set(ctx, []byte(fmt.Sprintf("log/%d", i)), []byte{byte(i)}); err != nil {
			t.Fatalf("set: %v", err)
		}
	}
	if err := db.Set(ctx, []byte("lof"), []byte("x")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := db.Set(ctx, []byte("loh"), []byte("x")); err != nil {
		t.Fatalf("set: %v", err)
	}

	var keys []string
	err := db.ScanPrefix([]byte("log/"), func(k, v []byte) error {
		keys = append(keys, string(k))
		return nil
	})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(keys) != 3 || keys[0] != "log/0" || keys[2] != "log/2" {
		t.Fatalf("unexpected keys %v", keys)
	}

	stop := errors.New("stop")
	n := 0
	err = db.ScanPrefix([]byte("log/"), func(k, v []byte) error {
		n++
		return stop
	})
	if !errors.Is(err, stop) || n != 1 {
		t.Fatalf("scan should stop on callback error: n=%d err=%v", n, err)
	}
}

func TestPrefixEnd(t *testing.T) {
	if got := prefixEnd([]byte("ab")); string(got) != "ac" {
		t.Fatalf("want ac, got %q", got)
	}
	if got := prefixEnd([]byte{0x01, 0xff}); len(got) != 1 || got[0] != 0x02 {
		t.Fatalf("want [02], got %x", got)
	}
	if got := prefixEnd([]byte{0xff, 0xff}); got != nil {
		t.Fatalf("want nil, got %x", got)
	}
}

func TestCommitRespectsContext(t *testing.T) {
	db, _ := newTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := db.Set(ctx, []byte("k"), []byte("v")); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}
