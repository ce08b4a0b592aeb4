// Package catalog keeps advisory metadata about every log: when it was
// created, when it was last written and where its entries live. Files stay
// authoritative for offsets and entry numbers; the catalog only orders logs
// for compaction and lists them.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/vmihailenco/msgpack/v5"

	pebblestore "github.com/rzbill/logsrd/internal/storage/pebble"
	"github.com/rzbill/logsrd/pkg/id"
)

// Residence is where a log's newest compacted entries live.
type Residence uint8

const (
	// Hot logs only have entries in the global hot log.
	Hot Residence = iota
	// Cold logs were demoted into the global cold log.
	Cold
	// PerLog logs have their own file.
	PerLog
)

func (r Residence) String() string {
	switch r {
	case Hot:
		return "hot"
	case Cold:
		return "cold"
	case PerLog:
		return "per-log"
	}
	return fmt.Sprintf("residence(%d)", uint8(r))
}

// Record is the catalog entry for one log.
type Record struct {
	LogID     id.LogID  `msgpack:"-"`
	Created   time.Time `msgpack:"created"`
	LastWrite time.Time `msgpack:"last_write"`
	Residence Residence `msgpack:"residence"`
}

var logPrefix = []byte("log/")

func logKey(logID id.LogID) []byte {
	k := make([]byte, 0, len(logPrefix)+id.LogIDLen)
	k = append(k, logPrefix...)
	return append(k, logID[:]...)
}

// Catalog stores Records in a Pebble database.
type Catalog struct {
	db *pebblestore.DB
}

// New wraps an open database.
func New(db *pebblestore.DB) *Catalog { return &Catalog{db: db} }

// Open opens (or creates) the catalog database under dir.
func Open(opts pebblestore.Options) (*Catalog, error) {
	db, err := pebblestore.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", opts.Dir, err)
	}
	return New(db), nil
}

// Close closes the underlying database.
func (c *Catalog) Close() error { return c.db.Close() }

// Ensure creates a record for logID if absent and returns the stored one.
func (c *Catalog) Ensure(ctx context.Context, logID id.LogID, now time.Time) (Record, error) {
	if rec, ok, err := c.Get(logID); err != nil || ok {
		return rec, err
	}
	rec := Record{LogID: logID, Created: now, LastWrite: now, Residence: Hot}
	return rec, c.Put(ctx, rec)
}

// Get returns the record for logID.
func (c *Catalog) Get(logID id.LogID) (Record, bool, error) {
	b, err := c.db.Get(logKey(logID))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	rec, err := decode(logID, b)
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

// Put stores rec.
func (c *Catalog) Put(ctx context.Context, rec Record) error {
	return c.PutBatch(ctx, []Record{rec})
}

// PutBatch stores every record in one atomic batch.
func (c *Catalog) PutBatch(ctx context.Context, recs []Record) error {
	if len(recs) == 0 {
		return nil
	}
	return c.db.Update(ctx, func(b *pebble.Batch) error {
		for _, rec := range recs {
			v, err := msgpack.Marshal(&rec)
			if err != nil {
				return fmt.Errorf("marshal catalog record %s: %w", rec.LogID, err)
			}
			if err := b.Set(logKey(rec.LogID), v, nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete removes logID's record.
func (c *Catalog) Delete(ctx context.Context, logID id.LogID) error {
	return c.db.Delete(ctx, logKey(logID))
}

// List returns every record ordered by LogID.
func (c *Catalog) List() ([]Record, error) {
	var out []Record
	err := c.db.ScanPrefix(logPrefix, func(k, v []byte) error {
		logID, err := id.FromBytes(k[len(logPrefix):])
		if err != nil {
			return err
		}
		rec, err := decode(logID, v)
		if err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	})
	return out, err
}

// LeastRecentlyWritten returns the records matching keep, oldest LastWrite
// first. Ties are ordered by LogID.
func (c *Catalog) LeastRecentlyWritten(keep func(Record) bool) ([]Record, error) {
	all, err := c.List()
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, rec := range all {
		if keep == nil || keep(rec) {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].LastWrite.Equal(out[j].LastWrite) {
			return out[i].LastWrite.Before(out[j].LastWrite)
		}
		return out[i].LogID.Compare(out[j].LogID) < 0
	})
	return out, nil
}

func decode(logID id.LogID, b []byte) (Record, error) {
	var rec Record
	if err := msgpack.Unmarshal(b, &rec); err != nil {
		return Record{}, fmt.Errorf("decode catalog record %s: %w", logID, err)
	}
	rec.LogID = logID
	return rec, nil
}
