package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestFileHook(t *testing.T) {
	m := New(prometheus.NewRegistry())
	hot := m.File("hot")
	hot.ObserveWrite(time.Millisecond, 3, 120)
	hot.ObserveWrite(time.Millisecond, 1, 30)
	hot.ObserveRead(time.Millisecond, 64)
	hot.ObserveTruncate(17)
	m.File("cold").ObserveWrite(time.Millisecond, 2, 10)

	assert.Equal(t, 4.0, testutil.ToFloat64(m.writeEntries.WithLabelValues("hot")))
	assert.Equal(t, 150.0, testutil.ToFloat64(m.writeBytes.WithLabelValues("hot")))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.writeBytes.WithLabelValues("cold")))
	assert.Equal(t, 64.0, testutil.ToFloat64(m.readBytes.WithLabelValues("hot")))
	assert.Equal(t, 17.0, testutil.ToFloat64(m.truncatedBytes.WithLabelValues("hot")))
}

func TestCompactionAndUsage(t *testing.T) {
	m := New(nil)
	m.ObserveCompaction(time.Second, 2, 1, nil)
	m.ObserveCompaction(time.Second, 0, 0, errors.New("boom"))
	m.ObserveUsage(100, 50)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.compactions.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.compactions.WithLabelValues("error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.logsMoved.WithLabelValues("cold")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.logsMoved.WithLabelValues("per-log")))
	assert.Equal(t, 50.0, testutil.ToFloat64(m.usage.WithLabelValues("cold")))
}

func TestCatalogHook(t *testing.T) {
	m := New(nil)
	h := m.Catalog()
	h.ObserveRead(time.Millisecond, 40)
	h.ObserveBatchCommit(time.Millisecond, 3, 99)
	assert.Equal(t, 40.0, testutil.ToFloat64(m.catalogReadBytes))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.catalogOps))
}
