package index

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rzbill/logsrd/internal/entry"
)

// ErrNonContiguous is returned when an addition would leave a gap, repeat an
// entry number, or move backwards in the file.
var ErrNonContiguous = errors.New("index: non-contiguous addition")

// Ref locates one entry inside a file. Length is the encoded entry length,
// excluding any checkpoint spliced into it.
type Ref struct {
	Num    uint32
	Offset int64
	Length int
}

// End is the logical end offset of the entry.
func (r Ref) End() int64 { return r.Offset + int64(r.Length) }

// CommandRef locates a command entry. Num is the entry number the next data
// entry of the log receives.
type CommandRef struct {
	Ref
	Name entry.CommandName
}

// LogIndex is the index of one log's entries inside one file. It is safe for
// concurrent use.
type LogIndex struct {
	mu        sync.RWMutex
	entries   []Ref
	commands  []CommandRef
	config    CommandRef
	hasConfig bool
	last      int64 // end of the last indexed entry or command, -1 when empty
	bytes     int64
}

// NewLogIndex returns an empty index.
func NewLogIndex() *LogIndex { return &LogIndex{last: -1} }

func (x *LogIndex) checkOffset(off int64) error {
	if x.last >= 0 && off < x.last {
		return fmt.Errorf("%w: offset %d precedes indexed end %d", ErrNonContiguous, off, x.last)
	}
	return nil
}

// AddEntry indexes a data entry.
func (x *LogIndex) AddEntry(num uint32, off int64, length int) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.addEntry(Ref{Num: num, Offset: off, Length: length})
}

func (x *LogIndex) addEntry(r Ref) error {
	if n := len(x.entries); n > 0 && r.Num != x.entries[n-1].Num+1 {
		return fmt.Errorf("%w: entry %d follows %d", ErrNonContiguous, r.Num, x.entries[n-1].Num)
	}
	if err := x.checkOffset(r.Offset); err != nil {
		return err
	}
	x.entries = append(x.entries, r)
	x.last = r.End()
	x.bytes += int64(r.Length)
	return nil
}

// AddCommand indexes a command entry.
func (x *LogIndex) AddCommand(name entry.CommandName, num uint32, off int64, length int) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.addCommand(CommandRef{Ref: Ref{Num: num, Offset: off, Length: length}, Name: name})
}

func (x *LogIndex) addCommand(c CommandRef) error {
	if err := x.checkOffset(c.Offset); err != nil {
		return err
	}
	x.commands = append(x.commands, c)
	if c.Name == entry.CreateLog || c.Name == entry.SetConfig {
		x.config, x.hasConfig = c, true
	}
	x.last = c.End()
	x.bytes += int64(c.Length)
	return nil
}

// Add indexes a decoded frame found at off.
func (x *LogIndex) Add(f entry.Frame, off int64) error {
	if c, ok := f.Inner().(*entry.Command); ok {
		return x.AddCommand(c.Name(), f.Num(), off, f.Len())
	}
	return x.AddEntry(f.Num(), off, f.Len())
}

// HasEntry reports whether entry n is indexed.
func (x *LogIndex) HasEntry(n uint32) bool {
	_, ok := x.Entry(n)
	return ok
}

// Entry returns the location of entry n.
func (x *LogIndex) Entry(n uint32) (Ref, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if len(x.entries) == 0 || n < x.entries[0].Num {
		return Ref{}, false
	}
	i := int(n - x.entries[0].Num)
	if i >= len(x.entries) {
		return Ref{}, false
	}
	return x.entries[i], true
}

// Range returns up to limit entries starting at entry number from.
func (x *LogIndex) Range(from uint32, limit int) []Ref {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if len(x.entries) == 0 || limit <= 0 {
		return nil
	}
	start := 0
	if from > x.entries[0].Num {
		start = int(from - x.entries[0].Num)
	}
	if start >= len(x.entries) {
		return nil
	}
	end := start + limit
	if end > len(x.entries) {
		end = len(x.entries)
	}
	return append([]Ref(nil), x.entries[start:end]...)
}

// Entries returns a copy of every indexed data entry.
func (x *LogIndex) Entries() []Ref {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return append([]Ref(nil), x.entries...)
}

// Commands returns a copy of every indexed command.
func (x *LogIndex) Commands() []CommandRef {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return append([]CommandRef(nil), x.commands...)
}

// HasConfig reports whether a CreateLog or SetConfig command is indexed.
func (x *LogIndex) HasConfig() bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.hasConfig
}

// LastConfig returns the most recent config command.
func (x *LogIndex) LastConfig() (CommandRef, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.config, x.hasConfig
}

// Last returns the last data entry.
func (x *LogIndex) Last() (Ref, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if len(x.entries) == 0 {
		return Ref{}, false
	}
	return x.entries[len(x.entries)-1], true
}

// LastItem returns the entry or command with the highest offset.
func (x *LogIndex) LastItem() (Ref, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	var r Ref
	ok := false
	if n := len(x.entries); n > 0 {
		r, ok = x.entries[n-1], true
	}
	if n := len(x.commands); n > 0 && (!ok || x.commands[n-1].Offset > r.Offset) {
		r, ok = x.commands[n-1].Ref, true
	}
	return r, ok
}

// MinEntryNum returns the first indexed entry number, or -1.
func (x *LogIndex) MinEntryNum() int64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if len(x.entries) == 0 {
		return -1
	}
	return int64(x.entries[0].Num)
}

// MaxEntryNum returns the last indexed entry number, or -1.
func (x *LogIndex) MaxEntryNum() int64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if len(x.entries) == 0 {
		return -1
	}
	return int64(x.entries[len(x.entries)-1].Num)
}

// Len returns the number of data entries.
func (x *LogIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// Empty reports whether nothing at all is indexed.
func (x *LogIndex) Empty() bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries) == 0 && len(x.commands) == 0
}

// ByteLength returns the encoded bytes of every indexed entry and command.
func (x *LogIndex) ByteLength() int64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.bytes
}

// End returns the end offset of the last indexed item, or -1.
func (x *LogIndex) End() int64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.last
}

// Append adds everything indexed by other, which must continue x. The last
// config is whichever side's config has the higher entry number, preferring
// other on a tie.
func (x *LogIndex) Append(other *LogIndex) error {
	if x == other {
		return fmt.Errorf("%w: append to self", ErrNonContiguous)
	}
	other.mu.RLock()
	entries := append([]Ref(nil), other.entries...)
	commands := append([]CommandRef(nil), other.commands...)
	cfg, hasCfg := other.config, other.hasConfig
	other.mu.RUnlock()

	x.mu.Lock()
	defer x.mu.Unlock()
	if n := len(x.entries); n > 0 && len(entries) > 0 && entries[0].Num != x.entries[n-1].Num+1 {
		return fmt.Errorf("%w: entry %d follows %d", ErrNonContiguous, entries[0].Num, x.entries[n-1].Num)
	}
	if len(entries) > 0 {
		if err := x.checkOffset(entries[0].Offset); err != nil {
			return err
		}
	}
	if len(commands) > 0 {
		if err := x.checkOffset(commands[0].Offset); err != nil {
			return err
		}
	}
	keepCfg, keepHas := x.config, x.hasConfig
	for _, r := range entries {
		x.entries = append(x.entries, r)
		x.bytes += int64(r.Length)
		if r.End() > x.last {
			x.last = r.End()
		}
	}
	for _, c := range commands {
		x.commands = append(x.commands, c)
		x.bytes += int64(c.Length)
		if c.End() > x.last {
			x.last = c.End()
		}
	}
	x.config, x.hasConfig = keepCfg, keepHas
	if hasCfg && (!keepHas || cfg.Num >= keepCfg.Num) {
		x.config, x.hasConfig = cfg, true
	}
	return nil
}

// TruncateFrom drops every entry and command at or beyond off.
func (x *LogIndex) TruncateFrom(off int64) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.truncateFrom(off)
}

func (x *LogIndex) truncateFrom(off int64) {
	ei := len(x.entries)
	for ei > 0 && x.entries[ei-1].Offset >= off {
		ei--
		x.bytes -= int64(x.entries[ei].Length)
	}
	x.entries = x.entries[:ei]
	ci := len(x.commands)
	for ci > 0 && x.commands[ci-1].Offset >= off {
		ci--
		x.bytes -= int64(x.commands[ci].Length)
	}
	x.commands = x.commands[:ci]

	x.hasConfig = false
	for i := len(x.commands) - 1; i >= 0; i-- {
		if n := x.commands[i].Name; n == entry.CreateLog || n == entry.SetConfig {
			x.config, x.hasConfig = x.commands[i], true
			break
		}
	}
	x.last = -1
	if ei > 0 {
		x.last = x.entries[ei-1].End()
	}
	if ci > 0 && x.commands[ci-1].End() > x.last {
		x.last = x.commands[ci-1].End()
	}
}
