// Package pebblestore provides a thin wrapper around Pebble with an fsync
// policy, batch helpers, prefix scans and minimal metrics hooks. The log
// catalog keeps its records here.
//
// Usage:
//
//	db, err := pebblestore.Open(pebblestore.Options{
//	    Dir:   filepath.Join(dataDir, "meta"),
//	    Fsync: pebblestore.FsyncModeInterval,
//	})
//	if err != nil { /* handle */ }
//	defer db.Close()
//
//	_ = db.Update(ctx, func(b *pebble.Batch) error {
//	    return b.Set([]byte("k"), []byte("v"), nil)
//	})
//	v, _ := db.Get([]byte("k"))
//	_ = db.ScanPrefix([]byte("log/"), func(k, v []byte) error { return nil })
package pebblestore
