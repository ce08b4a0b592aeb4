package entry

import (
	"bytes"
	"errors"
	"testing"

	"github.com/rzbill/logsrd/pkg/id"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogID() id.LogID {
	var l id.LogID
	for i := range l {
		l[i] = byte(i + 1)
	}
	return l
}

func samplePayloads(t *testing.T) []Payload {
	t.Helper()
	js, err := NewJSON([]byte(`{"hello":"world"}`))
	require.NoError(t, err)
	return []Payload{
		NewBinary([]byte{0xde, 0xad, 0xbe, 0xef}),
		NewBinary(nil),
		js,
		NewCreateLog([]byte(`{"type":"json"}`)),
		NewSetConfig([]byte(`{"type":"binary"}`)),
		NewBeginWrite(3),
		NewEndWrite(3),
		NewAbortWrite(1),
		NewBeginCompactCold(1024, 4096),
		NewFinishCompactCold(5120),
	}
}

func sampleEntries(t *testing.T) []Entry {
	t.Helper()
	var out []Entry
	for i, p := range samplePayloads(t) {
		out = append(out, NewGlobalLogEntry(testLogID(), uint32(i), p))
		out = append(out, NewLogLogEntry(uint32(i*7), p))
	}
	out = append(out,
		NewGlobalCheckpoint(0, 0),
		NewGlobalCheckpoint(120, 4000),
		NewLogCheckpoint(0, 0, 0),
		NewLogCheckpoint(17, 31, 262144),
	)
	return out
}

func TestRoundTripFramedAndCheckpoints(t *testing.T) {
	for _, e := range sampleEntries(t) {
		wire := Bytes(e)
		require.Len(t, wire, e.Len(), "%s", e.Type())

		got, err := Decode(wire)
		require.NoError(t, err, "%s", e.Type())
		assert.Equal(t, e.Type(), got.Type())
		assert.True(t, bytes.Equal(wire, Bytes(got)), "%s re-encodes differently", e.Type())

		switch g := got.(type) {
		case Frame:
			assert.True(t, g.Verify(), "%s does not verify", e.Type())
			assert.Equal(t, e.(Frame).Num(), g.Num())
		case Checkpoint:
			assert.True(t, g.Verify())
			wo, wl := e.(Checkpoint).Last()
			go_, gl := g.Last()
			assert.Equal(t, wo, go_)
			assert.Equal(t, wl, gl)
		default:
			t.Fatalf("unexpected decoded type %T", got)
		}
	}
}

func TestRoundTripPayloads(t *testing.T) {
	for _, p := range samplePayloads(t) {
		got, err := DecodePayload(Bytes(p))
		require.NoError(t, err)
		assert.Equal(t, Bytes(p), Bytes(got))
		assert.Equal(t, p.Checksum(9), got.Checksum(9))
	}
}

func TestVerifyDetectsCorruption(t *testing.T) {
	g := NewGlobalLogEntry(testLogID(), 4, NewBinary([]byte("payload")))
	wire := Bytes(g)
	wire[len(wire)-1] ^= 0xff
	got, err := Decode(wire)
	require.NoError(t, err, "decode must not fail on checksum mismatch")
	assert.False(t, got.(Frame).Verify())

	// entryNum is part of the checksum
	wire = Bytes(g)
	wire[17]++
	got, err = Decode(wire)
	require.NoError(t, err)
	assert.False(t, got.(Frame).Verify())

	cp := Bytes(NewLogCheckpoint(1, 2, 3))
	cp[5] = 9
	dc, err := Decode(cp)
	require.NoError(t, err)
	assert.False(t, dc.(Checkpoint).Verify())
}

func TestFrameChecksumMatchesPayloadChecksum(t *testing.T) {
	p := NewBinary([]byte("same"))
	g := NewGlobalLogEntry(testLogID(), 12, p)
	l := NewLogLogEntry(12, p)
	gs, _ := g.Checksum()
	ls, _ := l.Checksum()
	assert.Equal(t, gs, ls)
	assert.NotEqual(t, gs, p.Checksum(13))
}

func TestFixedLengthRejectsOtherLengths(t *testing.T) {
	wire := Bytes(NewGlobalCheckpoint(1, 1))
	_, err := Decode(append(wire, 0))
	assert.True(t, errors.Is(err, ErrInvalidLength))
	_, err = Decode(wire[:8])
	assert.True(t, errors.Is(err, ErrInvalidLength))

	lwire := Bytes(NewLogCheckpoint(1, 1, 1))
	_, err = Decode(lwire[:12])
	assert.True(t, errors.Is(err, ErrInvalidLength))

	_, err = Decode(Bytes(NewEndWrite(1))[:5])
	assert.True(t, errors.Is(err, ErrInvalidLength))
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode([]byte{0x42, 1, 2})
	assert.True(t, errors.Is(err, ErrUnknownType))

	_, err = Decode([]byte{byte(TypeCommand), 99})
	assert.True(t, errors.Is(err, ErrUnknownCommand))

	// frame whose body is itself a frame
	inner := Bytes(NewLogCheckpoint(0, 0, 0))
	frame := Bytes(NewLogLogEntry(0, NewBinary(inner)))
	frame[LogPrefixLen] = byte(TypeLogCheckpoint)
	_, err = Decode(frame)
	assert.True(t, errors.Is(err, ErrUnknownType))
}

func TestCommandDecodeValue(t *testing.T) {
	v, err := NewBeginCompactCold(10, 20).DecodeValue()
	require.NoError(t, err)
	assert.Equal(t, BeginCompactColdValue{ColdLength: 10, Total: 20}, v)

	v, err = NewEndWrite(7).DecodeValue()
	require.NoError(t, err)
	assert.Equal(t, CountValue{Count: 7}, v)

	v, err = NewCreateLog([]byte(`{}`)).DecodeValue()
	require.NoError(t, err)
	assert.Equal(t, ConfigValue{JSON: []byte(`{}`)}, v)
	assert.True(t, NewSetConfig(nil).IsConfig())
	assert.False(t, NewEndWrite(0).IsConfig())
}

func TestNewJSONValidates(t *testing.T) {
	_, err := NewJSON([]byte(`{"a":`))
	assert.True(t, errors.Is(err, ErrInvalidJSON))
}

func TestCheckSize(t *testing.T) {
	assert.NoError(t, CheckSize(NewBinary(make([]byte, MaxEntrySize-1))))
	assert.True(t, errors.Is(CheckSize(NewBinary(make([]byte, MaxEntrySize))), ErrEntryTooLarge))
}
