package id

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// LogIDLen is the size of a LogID in bytes.
const LogIDLen = 16

// ErrInvalidLogID is returned when parsing a malformed identifier.
var ErrInvalidLogID = errors.New("invalid log id")

// LogID identifies one independent append-only log.
type LogID [LogIDLen]byte

// Zero is the reserved LogID used for engine commands.
var Zero LogID

// NewLogID returns a new random LogID.
func NewLogID() LogID { return LogID(uuid.New()) }

// ParseLogID parses the base64url form produced by String.
func ParseLogID(s string) (LogID, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Zero, fmt.Errorf("%w: %q: %v", ErrInvalidLogID, s, err)
	}
	return FromBytes(b)
}

// FromBytes copies a 16-byte slice into a LogID.
func FromBytes(b []byte) (LogID, error) {
	var lid LogID
	if len(b) != LogIDLen {
		return lid, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidLogID, LogIDLen, len(b))
	}
	copy(lid[:], b)
	return lid, nil
}

// Bytes returns a copy of the raw 16-byte representation.
func (l LogID) Bytes() []byte { b := make([]byte, LogIDLen); copy(b, l[:]); return b }

// String returns the unpadded URL-safe base64 form.
func (l LogID) String() string { return base64.RawURLEncoding.EncodeToString(l[:]) }

// IsZero reports whether l is the reserved zero id.
func (l LogID) IsZero() bool { return l == Zero }

// ShardDirs returns the two directory names derived from the first two bytes.
func (l LogID) ShardDirs() (string, string) {
	return fmtHex(l[0:1]), fmtHex(l[1:2])
}

// Compare returns -1, 0, 1 based on lexical comparison.
func (l LogID) Compare(other LogID) int {
	for idx := 0; idx < LogIDLen; idx++ {
		if l[idx] < other[idx] {
			return -1
		}
		if l[idx] > other[idx] {
			return 1
		}
	}
	return 0
}

// MarshalText implements encoding.TextMarshaler.
func (l LogID) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *LogID) UnmarshalText(b []byte) error {
	parsed, err := ParseLogID(string(b))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// fmtHex is a small, allocation-lean hex encoder for short byte slices.
func fmtHex(b []byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hexdigits[v>>4]
		out[i*2+1] = hexdigits[v&0x0f]
	}
	return string(out)
}
