package entry

import (
	"encoding/binary"
	"hash/crc32"
)

// GlobalCheckpoint is written every CheckpointInterval bytes of a shared log.
type GlobalCheckpoint struct {
	LastEntryOffset uint16
	LastEntryLength uint16

	crc uint32
	buf []byte
}

// NewGlobalCheckpoint encodes a checkpoint and its checksum.
func NewGlobalCheckpoint(lastOffset, lastLength uint16) *GlobalCheckpoint {
	b := make([]byte, GlobalCheckpointLen)
	b[0] = byte(TypeGlobalCheckpoint)
	binary.LittleEndian.PutUint16(b[1:3], lastOffset)
	binary.LittleEndian.PutUint16(b[3:5], lastLength)
	crc := crc32.ChecksumIEEE(b[:5])
	binary.LittleEndian.PutUint32(b[5:9], crc)
	return &GlobalCheckpoint{LastEntryOffset: lastOffset, LastEntryLength: lastLength, crc: crc, buf: b}
}

func (c *GlobalCheckpoint) Type() Type         { return TypeGlobalCheckpoint }
func (c *GlobalCheckpoint) Len() int           { return GlobalCheckpointLen }
func (c *GlobalCheckpoint) Segments() [][]byte { return [][]byte{c.buf} }
func (c *GlobalCheckpoint) Last() (offset, length uint16) {
	return c.LastEntryOffset, c.LastEntryLength
}
func (c *GlobalCheckpoint) Verify() bool { return crc32.ChecksumIEEE(c.buf[:5]) == c.crc }
func (c *GlobalCheckpoint) sealed()      {}

// LogCheckpoint is written every CheckpointInterval bytes of a per-log file.
type LogCheckpoint struct {
	LastEntryOffset  uint16
	LastEntryLength  uint16
	LastConfigOffset uint32

	crc uint32
	buf []byte
}

// NewLogCheckpoint encodes a per-log checkpoint and its checksum.
func NewLogCheckpoint(lastOffset, lastLength uint16, lastConfigOffset uint32) *LogCheckpoint {
	b := make([]byte, LogCheckpointLen)
	b[0] = byte(TypeLogCheckpoint)
	binary.LittleEndian.PutUint16(b[1:3], lastOffset)
	binary.LittleEndian.PutUint16(b[3:5], lastLength)
	binary.LittleEndian.PutUint32(b[5:9], lastConfigOffset)
	crc := crc32.ChecksumIEEE(b[:9])
	binary.LittleEndian.PutUint32(b[9:13], crc)
	return &LogCheckpoint{LastEntryOffset: lastOffset, LastEntryLength: lastLength, LastConfigOffset: lastConfigOffset, crc: crc, buf: b}
}

func (c *LogCheckpoint) Type() Type                    { return TypeLogCheckpoint }
func (c *LogCheckpoint) Len() int                      { return LogCheckpointLen }
func (c *LogCheckpoint) Segments() [][]byte            { return [][]byte{c.buf} }
func (c *LogCheckpoint) Last() (offset, length uint16) { return c.LastEntryOffset, c.LastEntryLength }
func (c *LogCheckpoint) Verify() bool                  { return crc32.ChecksumIEEE(c.buf[:9]) == c.crc }
func (c *LogCheckpoint) sealed()                       {}
