package entry

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Every truncation either asks for more bytes that lead (possibly after more
// requests) to the original entry, or fails. It never yields a wrong entry.
func TestDecodePartialConvergesAtEveryBoundary(t *testing.T) {
	for _, e := range sampleEntries(t) {
		wire := Bytes(e)
		for k := 0; k < len(wire); k++ {
			n := k
			for {
				got, need, err := DecodePartial(wire[:n])
				require.NoError(t, err, "%s truncated at %d", e.Type(), n)
				if got != nil {
					require.Equal(t, len(wire), n, "%s decoded early at %d", e.Type(), n)
					assert.True(t, bytes.Equal(wire, Bytes(got)))
					break
				}
				require.Greater(t, need, 0)
				require.LessOrEqual(t, n+need, len(wire), "%s at %d asks past the end", e.Type(), n)
				n += need
			}
		}
	}
}

func TestDecodePartialWithTrailingBytes(t *testing.T) {
	a := Bytes(NewLogLogEntry(0, NewBinary([]byte("a"))))
	b := Bytes(NewLogLogEntry(1, NewBinary([]byte("bb"))))
	buf := append(append([]byte{}, a...), b...)

	got, need, err := DecodePartial(buf)
	require.NoError(t, err)
	require.Zero(t, need)
	require.Equal(t, len(a), got.Len())

	got, _, err = DecodePartial(buf[got.Len():])
	require.NoError(t, err)
	assert.Equal(t, uint32(1), got.(Frame).Num())
}

func TestDecodePartialRejectsGarbage(t *testing.T) {
	_, _, err := DecodePartial([]byte{0x00})
	assert.True(t, errors.Is(err, ErrUnknownType))

	_, _, err = DecodePartial(Bytes(NewBinary([]byte("x"))))
	assert.True(t, errors.Is(err, ErrUnframed))

	hdr := make([]byte, LogPrefixLen)
	hdr[0] = byte(TypeLogLog)
	binary.LittleEndian.PutUint16(hdr[5:7], MaxEntrySize+1)
	_, _, err = DecodePartial(hdr)
	assert.True(t, errors.Is(err, ErrEntryTooLarge))

	binary.LittleEndian.PutUint16(hdr[5:7], 0)
	_, _, err = DecodePartial(hdr)
	assert.True(t, errors.Is(err, ErrInvalidLength))

	binary.LittleEndian.PutUint16(hdr[5:7], 4)
	_, _, err = DecodePartial(append(hdr, byte(TypeGlobalLog)))
	assert.True(t, errors.Is(err, ErrUnknownType))
}
