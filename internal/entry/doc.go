// Package entry implements the on-disk entry codec shared by global and
// per-log files.
//
// # Layout
//
// All integers are little-endian.
//
//	Binary            [0x01][bytes]
//	JSON              [0x02][utf-8 json]
//	Command           [0x03][1B name][value]
//	GlobalLogEntry    [0x04][16B logId][4B entryNum][2B entryLen][4B crc32][entry]
//	LogLogEntry       [0x05][4B entryNum][2B entryLen][4B crc32][entry]
//	GlobalCheckpoint  [0x06][2B lastEntryOffset][2B lastEntryLength][4B crc32]
//	LogCheckpoint     [0x07][2B lastEntryOffset][2B lastEntryLength][4B lastConfigOffset][4B crc32]
//
// Payload entries (Binary, JSON, Command) are never written bare; they always
// travel inside one of the two frames, whose length field lets DecodePartial
// report how many more bytes it needs without touching the payload.
//
// Decoding never fails on a checksum mismatch. Readers call Verify.
package entry
