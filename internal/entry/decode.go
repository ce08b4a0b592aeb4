package entry

import (
	"encoding/binary"
	"fmt"

	"github.com/rzbill/logsrd/pkg/id"
)

// Decode decodes exactly one entry occupying all of buf. The returned entry
// owns a copy of the bytes it needs.
func Decode(buf []byte) (Entry, error) {
	if len(buf) == 0 {
		return nil, fmt.Errorf("%w: empty buffer", ErrInvalidLength)
	}
	b := append([]byte(nil), buf...)
	switch t := Type(b[0]); t {
	case TypeBinary, TypeJSON, TypeCommand:
		return decodePayload(b)
	case TypeGlobalLog:
		g, err := decodeGlobal(b)
		if err != nil {
			return nil, err
		}
		return g, nil
	case TypeLogLog:
		l, err := decodeLogLog(b)
		if err != nil {
			return nil, err
		}
		return l, nil
	case TypeGlobalCheckpoint:
		if len(b) != GlobalCheckpointLen {
			return nil, fmt.Errorf("%w: %s is %d bytes, want %d", ErrInvalidLength, t, len(b), GlobalCheckpointLen)
		}
		return &GlobalCheckpoint{
			LastEntryOffset: binary.LittleEndian.Uint16(b[1:3]),
			LastEntryLength: binary.LittleEndian.Uint16(b[3:5]),
			crc:             binary.LittleEndian.Uint32(b[5:9]),
			buf:             b,
		}, nil
	case TypeLogCheckpoint:
		if len(b) != LogCheckpointLen {
			return nil, fmt.Errorf("%w: %s is %d bytes, want %d", ErrInvalidLength, t, len(b), LogCheckpointLen)
		}
		return &LogCheckpoint{
			LastEntryOffset:  binary.LittleEndian.Uint16(b[1:3]),
			LastEntryLength:  binary.LittleEndian.Uint16(b[3:5]),
			LastConfigOffset: binary.LittleEndian.Uint32(b[5:9]),
			crc:              binary.LittleEndian.Uint32(b[9:13]),
			buf:              b,
		}, nil
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownType, b[0])
	}
}

// DecodePayload decodes a bare Binary, JSON or Command entry.
func DecodePayload(buf []byte) (Payload, error) {
	if len(buf) == 0 {
		return nil, fmt.Errorf("%w: empty buffer", ErrInvalidLength)
	}
	return decodePayload(append([]byte(nil), buf...))
}

func decodePayload(b []byte) (Payload, error) {
	switch t := Type(b[0]); t {
	case TypeBinary:
		return &Binary{data: b[1:]}, nil
	case TypeJSON:
		return &JSON{data: b[1:]}, nil
	case TypeCommand:
		if len(b) < 2 {
			return nil, fmt.Errorf("%w: command is %d bytes", ErrInvalidLength, len(b))
		}
		name := CommandName(b[1])
		codec, ok := commandCodecs[name]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrUnknownCommand, b[1])
		}
		if codec.size >= 0 && len(b)-2 != codec.size {
			return nil, fmt.Errorf("%w: %s value is %d bytes, want %d", ErrInvalidLength, codec.label, len(b)-2, codec.size)
		}
		return newCommand(name, b[2:]), nil
	default:
		return nil, fmt.Errorf("%w: 0x%02x cannot be framed", ErrUnknownType, b[0])
	}
}

func frameBody(b []byte, prefix, lenAt int) ([]byte, error) {
	if len(b) < prefix {
		return nil, fmt.Errorf("%w: %s frame is %d bytes, prefix needs %d", ErrInvalidLength, Type(b[0]), len(b), prefix)
	}
	n := int(binary.LittleEndian.Uint16(b[lenAt : lenAt+2]))
	if n > MaxEntrySize {
		return nil, fmt.Errorf("%w: %d bytes", ErrEntryTooLarge, n)
	}
	if n == 0 || len(b) != prefix+n {
		return nil, fmt.Errorf("%w: %s frame is %d bytes, header says %d", ErrInvalidLength, Type(b[0]), len(b), prefix+n)
	}
	return b[prefix:], nil
}

func decodeGlobal(b []byte) (*GlobalLogEntry, error) {
	body, err := frameBody(b, GlobalPrefixLen, 21)
	if err != nil {
		return nil, err
	}
	p, err := decodePayload(body)
	if err != nil {
		return nil, err
	}
	logID, _ := id.FromBytes(b[1:17])
	return &GlobalLogEntry{
		LogID:    logID,
		EntryNum: binary.LittleEndian.Uint32(b[17:21]),
		Payload:  p,
		crc:      binary.LittleEndian.Uint32(b[23:27]),
		hasCRC:   true,
	}, nil
}

func decodeLogLog(b []byte) (*LogLogEntry, error) {
	body, err := frameBody(b, LogPrefixLen, 5)
	if err != nil {
		return nil, err
	}
	p, err := decodePayload(body)
	if err != nil {
		return nil, err
	}
	return &LogLogEntry{
		EntryNum: binary.LittleEndian.Uint32(b[1:5]),
		Payload:  p,
		crc:      binary.LittleEndian.Uint32(b[7:11]),
		hasCRC:   true,
	}, nil
}

// DecodePartial decodes the entry at the start of buf, which may hold more
// bytes than the entry or fewer. It returns one of:
//
//   - the entry, occupying the first e.Len() bytes of buf;
//   - need > 0 when buf is a valid prefix and at least need more bytes are
//     required;
//   - an error when buf cannot be the start of any valid entry.
//
// Only framed entries and checkpoints carry enough information to be decoded
// from a stream; bare payloads return ErrUnframed.
func DecodePartial(buf []byte) (Entry, int, error) {
	if len(buf) == 0 {
		return nil, 1, nil
	}
	switch t := Type(buf[0]); t {
	case TypeGlobalCheckpoint:
		return fixedPartial(buf, GlobalCheckpointLen)
	case TypeLogCheckpoint:
		return fixedPartial(buf, LogCheckpointLen)
	case TypeGlobalLog:
		return framedPartial(buf, GlobalPrefixLen, 21)
	case TypeLogLog:
		return framedPartial(buf, LogPrefixLen, 5)
	case TypeBinary, TypeJSON, TypeCommand:
		return nil, 0, fmt.Errorf("%w: %s", ErrUnframed, t)
	default:
		return nil, 0, fmt.Errorf("%w: 0x%02x", ErrUnknownType, buf[0])
	}
}

func fixedPartial(buf []byte, size int) (Entry, int, error) {
	if len(buf) < size {
		return nil, size - len(buf), nil
	}
	e, err := Decode(buf[:size])
	return e, 0, err
}

func framedPartial(buf []byte, prefix, lenAt int) (Entry, int, error) {
	if len(buf) < lenAt+2 {
		return nil, prefix - len(buf), nil
	}
	n := int(binary.LittleEndian.Uint16(buf[lenAt : lenAt+2]))
	if n == 0 {
		return nil, 0, fmt.Errorf("%w: %s frame with empty body", ErrInvalidLength, Type(buf[0]))
	}
	if n > MaxEntrySize {
		return nil, 0, fmt.Errorf("%w: %d bytes", ErrEntryTooLarge, n)
	}
	if len(buf) > prefix {
		switch Type(buf[prefix]) {
		case TypeBinary, TypeJSON, TypeCommand:
		default:
			return nil, 0, fmt.Errorf("%w: 0x%02x inside %s frame", ErrUnknownType, buf[prefix], Type(buf[0]))
		}
	}
	total := prefix + n
	if len(buf) < total {
		return nil, total - len(buf), nil
	}
	e, err := Decode(buf[:total])
	return e, 0, err
}
