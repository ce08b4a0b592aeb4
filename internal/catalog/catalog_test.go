package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pebblestore "github.com/rzbill/logsrd/internal/storage/pebble"
	"github.com/rzbill/logsrd/pkg/id"
)

func openTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(pebblestore.Options{Dir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestEnsureIdempotent(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()
	logID := id.NewLogID()
	t0 := time.Unix(1700000000, 0).UTC()

	r1, err := c.Ensure(ctx, logID, t0)
	require.NoError(t, err)
	r2, err := c.Ensure(ctx, logID, t0.Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, logID, r2.LogID)
	assert.True(t, r1.Created.Equal(r2.Created))
	assert.Equal(t, Hot, r2.Residence)
}

func TestPutGetDelete(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()
	logID := id.NewLogID()

	_, ok, err := c.Get(logID)
	require.NoError(t, err)
	assert.False(t, ok)

	now := time.Unix(1700000100, 0).UTC()
	require.NoError(t, c.Put(ctx, Record{LogID: logID, Created: now, LastWrite: now, Residence: PerLog}))
	got, ok, err := c.Get(logID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, PerLog, got.Residence)
	assert.True(t, got.LastWrite.Equal(now))

	require.NoError(t, c.Delete(ctx, logID))
	_, ok, err = c.Get(logID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLeastRecentlyWritten(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()
	base := time.Unix(1700000000, 0).UTC()

	ids := []id.LogID{id.NewLogID(), id.NewLogID(), id.NewLogID()}
	recs := []Record{
		{LogID: ids[0], Created: base, LastWrite: base.Add(3 * time.Minute), Residence: Cold},
		{LogID: ids[1], Created: base, LastWrite: base.Add(1 * time.Minute), Residence: Cold},
		{LogID: ids[2], Created: base, LastWrite: base.Add(2 * time.Minute), Residence: PerLog},
	}
	require.NoError(t, c.PutBatch(ctx, recs))

	all, err := c.List()
	require.NoError(t, err)
	assert.Len(t, all, 3)

	cold, err := c.LeastRecentlyWritten(func(r Record) bool { return r.Residence == Cold })
	require.NoError(t, err)
	require.Len(t, cold, 2)
	assert.Equal(t, ids[1], cold[0].LogID)
	assert.Equal(t, ids[0], cold[1].LogID)
}

func TestResidenceString(t *testing.T) {
	assert.Equal(t, "hot", Hot.String())
	assert.Equal(t, "cold", Cold.String())
	assert.Equal(t, "per-log", PerLog.String())
}
