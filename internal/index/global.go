package index

import (
	"sort"
	"sync"

	"github.com/rzbill/logsrd/internal/entry"
	"github.com/rzbill/logsrd/pkg/id"
)

// GlobalIndex indexes a shared log file by LogID. Engine commands are kept
// under id.Zero.
type GlobalIndex struct {
	mu   sync.RWMutex
	logs map[id.LogID]*LogIndex
}

// NewGlobalIndex returns an empty index.
func NewGlobalIndex() *GlobalIndex {
	return &GlobalIndex{logs: make(map[id.LogID]*LogIndex)}
}

// Section returns the section for logID, creating it if needed.
func (g *GlobalIndex) Section(logID id.LogID) *LogIndex {
	g.mu.RLock()
	x, ok := g.logs[logID]
	g.mu.RUnlock()
	if ok {
		return x
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if x, ok = g.logs[logID]; !ok {
		x = NewLogIndex()
		g.logs[logID] = x
	}
	return x
}

// Add indexes a global frame found at off.
func (g *GlobalIndex) Add(e *entry.GlobalLogEntry, off int64) error {
	return g.Section(e.LogID).Add(e, off)
}

// Get returns the section for logID.
func (g *GlobalIndex) Get(logID id.LogID) (*LogIndex, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	x, ok := g.logs[logID]
	return x, ok
}

// Remove drops the section for logID.
func (g *GlobalIndex) Remove(logID id.LogID) {
	g.mu.Lock()
	delete(g.logs, logID)
	g.mu.Unlock()
}

// LogIDs returns every indexed log except id.Zero, in byte order.
func (g *GlobalIndex) LogIDs() []id.LogID {
	g.mu.RLock()
	out := make([]id.LogID, 0, len(g.logs))
	for k := range g.logs {
		if !k.IsZero() {
			out = append(out, k)
		}
	}
	g.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	return out
}

// TotalBytes sums the encoded bytes of every section.
func (g *GlobalIndex) TotalBytes() int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var n int64
	for _, x := range g.logs {
		n += x.ByteLength()
	}
	return n
}

// TruncateFrom drops everything at or beyond off in every section.
func (g *GlobalIndex) TruncateFrom(off int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for k, x := range g.logs {
		x.TruncateFrom(off)
		if x.Empty() {
			delete(g.logs, k)
		}
	}
}
