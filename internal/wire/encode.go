package wire

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"
)

// Encoder accumulates little-endian binary data. The first encountered
// error sticks; callers check Err once after a batch of writes.
type Encoder struct {
	buf bytes.Buffer
	err error
}

func NewEncoder() *Encoder {
	return &Encoder{}
}

func (e *Encoder) setErr(err error) {
	if e.err == nil {
		e.err = err
	}
}

func (e *Encoder) Err() error      { return e.err }
func (e *Encoder) Len() int        { return e.buf.Len() }
func (e *Encoder) Bytes() []byte   { return e.buf.Bytes() }
func (e *Encoder) Reset()          { e.buf.Reset(); e.err = nil }

func (e *Encoder) WriteUint8(v uint8) {
	e.buf.WriteByte(v)
}

func (e *Encoder) WriteInt8(v int8) {
	e.buf.WriteByte(byte(v))
}

func (e *Encoder) WriteInt16(v int16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], uint16(v))
	e.buf.Write(b[:])
}

func (e *Encoder) WriteInt32(v int32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	e.buf.Write(b[:])
}

func (e *Encoder) WriteUint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.buf.Write(b[:])
}

func (e *Encoder) WriteInt64(v int64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	e.buf.Write(b[:])
}

func (e *Encoder) WriteUint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	e.buf.Write(b[:])
}

func (e *Encoder) WriteFloat32(v float32) {
	e.WriteUint32(math.Float32bits(v))
}

func (e *Encoder) WriteFloat64(v float64) {
	e.WriteUint64(math.Float64bits(v))
}

func (e *Encoder) WriteBytes(b []byte) {
	e.buf.Write(b)
}

// WriteLengthPrefixed writes a byte string with the compact length prefix
// used for character and binary values: lengths below 246 fit in one byte,
// 0xF6 announces an int16 length, 0xF7 an int32 length.
func (e *Encoder) WriteLengthPrefixed(b []byte) {
	n := len(b)
	switch {
	case n < 246:
		e.WriteUint8(uint8(n))
	case n <= math.MaxInt16:
		e.WriteUint8(0xF6)
		e.WriteInt16(int16(n))
	default:
		e.WriteUint8(0xF7)
		e.WriteInt32(int32(n))
	}
	e.buf.Write(b)
}

// WriteShortString writes a one byte length followed by the string bytes,
// the format used for names in metadata and authentication fields.
func (e *Encoder) WriteShortString(s string) {
	if len(s) > math.MaxUint8 {
		e.setErr(errors.Errorf("string too long for short string encoding: %d", len(s)))
		return
	}
	e.WriteUint8(uint8(len(s)))
	e.buf.Write([]byte(s))
}

// Pad aligns the buffer to the given boundary with zero bytes.
func (e *Encoder) Pad(boundary int) {
	for e.buf.Len()%boundary != 0 {
		e.buf.WriteByte(0)
	}
}

// Decoder reads little-endian binary data from a byte slice. Reads past
// the end, and negative lengths from corrupt frames, set a sticky error
// and return zero values.
type Decoder struct {
	buf []byte
	off int
	err error
}

func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

func (d *Decoder) Err() error     { return d.err }
func (d *Decoder) Remaining() int { return len(d.buf) - d.off }

func (d *Decoder) setErr(err error) {
	if d.err == nil {
		d.err = err
	}
}

func (d *Decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || d.off+n > len(d.buf) {
		d.setErr(errors.Wrap(io.ErrUnexpectedEOF, "wire: decode past end of part"))
		return nil
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

func (d *Decoder) ReadUint8() uint8 {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *Decoder) ReadInt8() int8 {
	return int8(d.ReadUint8())
}

func (d *Decoder) ReadInt16() int16 {
	b := d.take(2)
	if b == nil {
		return 0
	}
	return int16(binary.LittleEndian.Uint16(b))
}

func (d *Decoder) ReadInt32() int32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return int32(binary.LittleEndian.Uint32(b))
}

func (d *Decoder) ReadUint32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (d *Decoder) ReadInt64() int64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(b))
}

func (d *Decoder) ReadUint64() uint64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (d *Decoder) ReadFloat32() float32 {
	return math.Float32frombits(d.ReadUint32())
}

func (d *Decoder) ReadFloat64() float64 {
	return math.Float64frombits(d.ReadUint64())
}

func (d *Decoder) ReadBytes(n int) []byte {
	b := d.take(n)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

func (d *Decoder) ReadLengthPrefixed() []byte {
	var n int
	switch l := d.ReadUint8(); {
	case l < 246:
		n = int(l)
	case l == 0xF6:
		n = int(d.ReadInt16())
	case l == 0xF7:
		n = int(d.ReadInt32())
	default:
		d.setErr(errors.Errorf("wire: invalid length indicator 0x%X", l))
		return nil
	}
	return d.ReadBytes(n)
}

func (d *Decoder) ReadShortString() string {
	n := int(d.ReadUint8())
	return string(d.ReadBytes(n))
}

// Skip advances past n bytes.
func (d *Decoder) Skip(n int) {
	d.take(n)
}
