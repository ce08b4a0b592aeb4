package entry

import (
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"sync/atomic"
)

type cachedSum struct {
	num uint32
	crc uint32
}

// sumCache memoizes the checksum for the last entryNum asked for.
type sumCache struct {
	p atomic.Pointer[cachedSum]
}

func (c *sumCache) get(num uint32, segs [][]byte) uint32 {
	if s := c.p.Load(); s != nil && s.num == num {
		return s.crc
	}
	h := crc32.NewIEEE()
	for _, seg := range segs {
		h.Write(seg)
	}
	var nb [4]byte
	binary.LittleEndian.PutUint32(nb[:], num)
	h.Write(nb[:])
	crc := h.Sum32()
	c.p.Store(&cachedSum{num: num, crc: crc})
	return crc
}

// Binary is an opaque byte payload.
type Binary struct {
	data []byte
	sum  sumCache
}

var binaryTag = []byte{byte(TypeBinary)}

// NewBinary wraps data. The slice is retained, not copied.
func NewBinary(data []byte) *Binary { return &Binary{data: data} }

func (b *Binary) Type() Type         { return TypeBinary }
func (b *Binary) Data() []byte       { return b.data }
func (b *Binary) Len() int           { return 1 + len(b.data) }
func (b *Binary) Segments() [][]byte { return [][]byte{binaryTag, b.data} }
func (b *Binary) sealed()            {}

func (b *Binary) Checksum(entryNum uint32) uint32 {
	return b.sum.get(entryNum, b.Segments())
}

// JSON is a UTF-8 JSON document payload.
type JSON struct {
	data []byte
	sum  sumCache
}

var jsonTag = []byte{byte(TypeJSON)}

// NewJSON validates data and wraps it.
func NewJSON(data []byte) (*JSON, error) {
	if !json.Valid(data) {
		return nil, ErrInvalidJSON
	}
	return &JSON{data: data}, nil
}

// MarshalJSON encodes v as a JSON entry.
func MarshalJSON(v any) (*JSON, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &JSON{data: data}, nil
}

func (j *JSON) Type() Type         { return TypeJSON }
func (j *JSON) Data() []byte       { return j.data }
func (j *JSON) Len() int           { return 1 + len(j.data) }
func (j *JSON) Segments() [][]byte { return [][]byte{jsonTag, j.data} }
func (j *JSON) sealed()            {}

// Unmarshal decodes the document into v.
func (j *JSON) Unmarshal(v any) error { return json.Unmarshal(j.data, v) }

func (j *JSON) Checksum(entryNum uint32) uint32 {
	return j.sum.get(entryNum, j.Segments())
}
