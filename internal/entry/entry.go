package entry

import (
	"errors"
	"fmt"
)

// Type is the leading byte of every encoded entry.
type Type byte

const (
	TypeBinary           Type = 0x01
	TypeJSON             Type = 0x02
	TypeCommand          Type = 0x03
	TypeGlobalLog        Type = 0x04
	TypeLogLog           Type = 0x05
	TypeGlobalCheckpoint Type = 0x06
	TypeLogCheckpoint    Type = 0x07
)

func (t Type) String() string {
	switch t {
	case TypeBinary:
		return "binary"
	case TypeJSON:
		return "json"
	case TypeCommand:
		return "command"
	case TypeGlobalLog:
		return "global-log"
	case TypeLogLog:
		return "log-log"
	case TypeGlobalCheckpoint:
		return "global-checkpoint"
	case TypeLogCheckpoint:
		return "log-checkpoint"
	default:
		return fmt.Sprintf("type(0x%02x)", byte(t))
	}
}

const (
	// CheckpointInterval is the distance in bytes between checkpoints.
	CheckpointInterval = 131072
	// MaxEntrySize bounds the wrapped entry inside a frame (the entryLen field).
	MaxEntrySize = 32768

	GlobalPrefixLen     = 27
	LogPrefixLen        = 11
	GlobalCheckpointLen = 9
	LogCheckpointLen    = 13
)

var (
	ErrUnknownType    = errors.New("unknown entry type")
	ErrInvalidLength  = errors.New("invalid entry length")
	ErrEntryTooLarge  = errors.New("entry too large")
	ErrUnknownCommand = errors.New("unknown command")
	ErrUnframed       = errors.New("entry type has no length field")
	ErrInvalidJSON    = errors.New("invalid json payload")
)

// Entry is any encodable entry. The set of implementations is closed:
// *Binary, *JSON, *Command, *GlobalLogEntry, *LogLogEntry,
// *GlobalCheckpoint and *LogCheckpoint.
type Entry interface {
	Type() Type
	// Segments returns the wire form as ordered byte slices. Callers must not
	// modify them.
	Segments() [][]byte
	Len() int
	sealed()
}

// Payload is an entry that can be wrapped by a frame.
type Payload interface {
	Entry
	// Checksum returns the CRC-32 over the encoded payload followed by
	// entryNum. The value is cached per entryNum.
	Checksum(entryNum uint32) uint32
}

// Frame is a GlobalLogEntry or a LogLogEntry.
type Frame interface {
	Entry
	Num() uint32
	Inner() Payload
	Verify() bool
}

// Checkpoint is a GlobalCheckpoint or a LogCheckpoint.
type Checkpoint interface {
	Entry
	// Last returns the distance back from the checkpoint to the start of the
	// straddling entry and that entry's length. Both are zero when no entry
	// straddles.
	Last() (offset, length uint16)
	Verify() bool
}

// Bytes concatenates the segments of e.
func Bytes(e Entry) []byte {
	out := make([]byte, 0, e.Len())
	for _, s := range e.Segments() {
		out = append(out, s...)
	}
	return out
}

func segmentsLen(segs [][]byte) int {
	n := 0
	for _, s := range segs {
		n += len(s)
	}
	return n
}
