package entry

import (
	"encoding/binary"
	"fmt"

	"github.com/rzbill/logsrd/pkg/id"
)

// GlobalLogEntry wraps a payload for a shared (hot or cold) log.
type GlobalLogEntry struct {
	LogID    id.LogID
	EntryNum uint32
	Payload  Payload

	crc    uint32
	hasCRC bool
}

// NewGlobalLogEntry frames p for logID at entryNum, computing its checksum.
func NewGlobalLogEntry(logID id.LogID, entryNum uint32, p Payload) *GlobalLogEntry {
	return &GlobalLogEntry{LogID: logID, EntryNum: entryNum, Payload: p, crc: p.Checksum(entryNum), hasCRC: true}
}

func (g *GlobalLogEntry) Type() Type     { return TypeGlobalLog }
func (g *GlobalLogEntry) Num() uint32    { return g.EntryNum }
func (g *GlobalLogEntry) Inner() Payload { return g.Payload }
func (g *GlobalLogEntry) Len() int       { return GlobalPrefixLen + g.Payload.Len() }
func (g *GlobalLogEntry) sealed()        {}

// Checksum returns the stored checksum and whether one was supplied.
func (g *GlobalLogEntry) Checksum() (uint32, bool) { return g.crc, g.hasCRC }

func (g *GlobalLogEntry) Verify() bool {
	return g.hasCRC && g.crc == g.Payload.Checksum(g.EntryNum)
}

func (g *GlobalLogEntry) Segments() [][]byte {
	p := make([]byte, GlobalPrefixLen)
	p[0] = byte(TypeGlobalLog)
	copy(p[1:17], g.LogID[:])
	binary.LittleEndian.PutUint32(p[17:21], g.EntryNum)
	binary.LittleEndian.PutUint16(p[21:23], uint16(g.Payload.Len()))
	binary.LittleEndian.PutUint32(p[23:27], g.crc)
	return append([][]byte{p}, g.Payload.Segments()...)
}

// LogLogEntry wraps a payload for a per-log file.
type LogLogEntry struct {
	EntryNum uint32
	Payload  Payload

	crc    uint32
	hasCRC bool
}

// NewLogLogEntry frames p at entryNum, computing its checksum.
func NewLogLogEntry(entryNum uint32, p Payload) *LogLogEntry {
	return &LogLogEntry{EntryNum: entryNum, Payload: p, crc: p.Checksum(entryNum), hasCRC: true}
}

func (l *LogLogEntry) Type() Type     { return TypeLogLog }
func (l *LogLogEntry) Num() uint32    { return l.EntryNum }
func (l *LogLogEntry) Inner() Payload { return l.Payload }
func (l *LogLogEntry) Len() int       { return LogPrefixLen + l.Payload.Len() }
func (l *LogLogEntry) sealed()        {}

// Checksum returns the stored checksum and whether one was supplied.
func (l *LogLogEntry) Checksum() (uint32, bool) { return l.crc, l.hasCRC }

func (l *LogLogEntry) Verify() bool {
	return l.hasCRC && l.crc == l.Payload.Checksum(l.EntryNum)
}

func (l *LogLogEntry) Segments() [][]byte {
	p := make([]byte, LogPrefixLen)
	p[0] = byte(TypeLogLog)
	binary.LittleEndian.PutUint32(p[1:5], l.EntryNum)
	binary.LittleEndian.PutUint16(p[5:7], uint16(l.Payload.Len()))
	binary.LittleEndian.PutUint32(p[7:11], l.crc)
	return append([][]byte{p}, l.Payload.Segments()...)
}

// CheckSize rejects payloads that do not fit the 16-bit frame length.
func CheckSize(p Payload) error {
	if p.Len() > MaxEntrySize {
		return fmt.Errorf("%w: %s payload is %d bytes, max %d", ErrEntryTooLarge, p.Type(), p.Len(), MaxEntrySize)
	}
	return nil
}
