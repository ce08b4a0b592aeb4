package entry

import (
	"encoding/binary"
	"fmt"
)

// CommandName identifies a command entry.
type CommandName byte

const (
	CreateLog         CommandName = 1
	SetConfig         CommandName = 2
	BeginWrite        CommandName = 3
	EndWrite          CommandName = 4
	AbortWrite        CommandName = 5
	BeginCompactCold  CommandName = 6
	FinishCompactCold CommandName = 7
)

// Command is a control entry. Its value is interpreted according to Name.
type Command struct {
	name  CommandName
	head  [2]byte
	value []byte
	sum   sumCache
}

func newCommand(name CommandName, value []byte) *Command {
	return &Command{name: name, head: [2]byte{byte(TypeCommand), byte(name)}, value: value}
}

func (c *Command) Type() Type         { return TypeCommand }
func (c *Command) Name() CommandName  { return c.name }
func (c *Command) Value() []byte      { return c.value }
func (c *Command) Len() int           { return 2 + len(c.value) }
func (c *Command) Segments() [][]byte { return [][]byte{c.head[:], c.value} }
func (c *Command) sealed()            {}

func (c *Command) Checksum(entryNum uint32) uint32 {
	return c.sum.get(entryNum, c.Segments())
}

// IsConfig reports whether the command carries a log config.
func (c *Command) IsConfig() bool { return c.name == CreateLog || c.name == SetConfig }

// Decoded values, one per command family.
type (
	// ConfigValue is carried by CreateLog and SetConfig.
	ConfigValue struct{ JSON []byte }
	// CountValue is carried by BeginWrite, EndWrite and AbortWrite.
	CountValue struct{ Count uint32 }
	// BeginCompactColdValue records the cold log length before an epoch and
	// the number of bytes the epoch will move.
	BeginCompactColdValue struct {
		ColdLength uint64
		Total      uint64
	}
	// FinishCompactColdValue records the cold log length after an epoch.
	FinishCompactColdValue struct{ ColdLength uint64 }
)

type commandCodec struct {
	label string
	size  int // -1 for variable
	parse func([]byte) any
}

var commandCodecs = map[CommandName]commandCodec{
	CreateLog:  {label: "create-log", size: -1, parse: parseConfig},
	SetConfig:  {label: "set-config", size: -1, parse: parseConfig},
	BeginWrite: {label: "begin-write", size: 4, parse: parseCount},
	EndWrite:   {label: "end-write", size: 4, parse: parseCount},
	AbortWrite: {label: "abort-write", size: 4, parse: parseCount},
	BeginCompactCold: {label: "begin-compact-cold", size: 16, parse: func(b []byte) any {
		return BeginCompactColdValue{
			ColdLength: binary.LittleEndian.Uint64(b[0:8]),
			Total:      binary.LittleEndian.Uint64(b[8:16]),
		}
	}},
	FinishCompactCold: {label: "finish-compact-cold", size: 8, parse: func(b []byte) any {
		return FinishCompactColdValue{ColdLength: binary.LittleEndian.Uint64(b)}
	}},
}

func parseConfig(b []byte) any { return ConfigValue{JSON: b} }
func parseCount(b []byte) any  { return CountValue{Count: binary.LittleEndian.Uint32(b)} }

func (n CommandName) String() string {
	if c, ok := commandCodecs[n]; ok {
		return c.label
	}
	return fmt.Sprintf("command(%d)", byte(n))
}

// DecodeValue parses the command value through the codec table. The result is
// one of ConfigValue, CountValue, BeginCompactColdValue, FinishCompactColdValue.
func (c *Command) DecodeValue() (any, error) {
	codec, ok := commandCodecs[c.name]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCommand, byte(c.name))
	}
	if codec.size >= 0 && len(c.value) != codec.size {
		return nil, fmt.Errorf("%w: %s value is %d bytes, want %d", ErrInvalidLength, codec.label, len(c.value), codec.size)
	}
	return codec.parse(c.value), nil
}

// NewCreateLog returns a CreateLog command carrying a JSON log config.
func NewCreateLog(config []byte) *Command { return newCommand(CreateLog, config) }

// NewSetConfig returns a SetConfig command carrying a JSON log config.
func NewSetConfig(config []byte) *Command { return newCommand(SetConfig, config) }

func countCommand(name CommandName, n uint32) *Command {
	v := make([]byte, 4)
	binary.LittleEndian.PutUint32(v, n)
	return newCommand(name, v)
}

func NewBeginWrite(n uint32) *Command { return countCommand(BeginWrite, n) }
func NewEndWrite(n uint32) *Command   { return countCommand(EndWrite, n) }
func NewAbortWrite(n uint32) *Command { return countCommand(AbortWrite, n) }

// NewBeginCompactCold marks the start of a compaction epoch.
func NewBeginCompactCold(coldLength, total uint64) *Command {
	v := make([]byte, 16)
	binary.LittleEndian.PutUint64(v[0:8], coldLength)
	binary.LittleEndian.PutUint64(v[8:16], total)
	return newCommand(BeginCompactCold, v)
}

// NewFinishCompactCold marks the end of a compaction epoch.
func NewFinishCompactCold(coldLength uint64) *Command {
	v := make([]byte, 8)
	binary.LittleEndian.PutUint64(v, coldLength)
	return newCommand(FinishCompactCold, v)
}
