// Package tl implements the small slice of Telegram's TL binary
// serialization that the session core needs to drive itself: little-endian
// fixed-width integers, length-prefixed byte strings, and boxed constructor
// identifiers. It does not generate schema types; callers that need a full
// TL object graph build it from these primitives, mirroring the split
// between telethon's _impl/tl/core (the codec) and its generated layer.
package tl

import (
	"encoding/binary"
	"fmt"
)

// Writer accumulates a TL byte stream.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer with buf pre-allocated to size bytes.
func NewWriter(size int) *Writer {
	return &Writer{buf: make([]byte, 0, size)}
}

// Bytes returns the accumulated buffer.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

// Raw appends b verbatim.
func (w *Writer) Raw(b []byte) { w.buf = append(w.buf, b...) }

// Int appends a little-endian int32.
func (w *Writer) Int(v int32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	w.buf = append(w.buf, b[:]...)
}

// UInt appends a little-endian uint32.
func (w *Writer) UInt(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// Long appends a little-endian int64.
func (w *Writer) Long(v int64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	w.buf = append(w.buf, b[:]...)
}

// ULong appends a little-endian uint64.
func (w *Writer) ULong(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// Double appends a little-endian IEEE-754 double.
func (w *Writer) Double(v uint64) { w.ULong(v) }

// Int128 appends a 16-byte value verbatim (already little-endian ordered).
func (w *Writer) Int128(v [16]byte) { w.buf = append(w.buf, v[:]...) }

// Int256 appends a 32-byte value verbatim.
func (w *Writer) Int256(v [32]byte) { w.buf = append(w.buf, v[:]...) }

// StringBytes appends a length-prefixed byte string per TL rules: a 1-byte
// length for 0..253, otherwise 0xfe followed by a 24-bit little-endian
// length, the data, and zero-padding so the total is a multiple of 4.
func (w *Writer) StringBytes(data []byte) {
	n := len(data)
	start := len(w.buf)
	if n <= 253 {
		w.buf = append(w.buf, byte(n))
		w.buf = append(w.buf, data...)
	} else {
		w.buf = append(w.buf, 0xfe, byte(n), byte(n>>8), byte(n>>16))
		w.buf = append(w.buf, data...)
	}
	written := len(w.buf) - start
	if pad := (4 - written%4) % 4; pad > 0 {
		w.buf = append(w.buf, make([]byte, pad)...)
	}
}

// String is a convenience wrapper over StringBytes for text values.
func (w *Writer) String(s string) { w.StringBytes([]byte(s)) }

// Vector prefixes a vector constructor (0x1cb5c415) and count, then lets
// the caller append count items via emit.
func (w *Writer) Vector(count int, emit func(i int)) {
	w.UInt(vectorConstructor)
	w.Int(int32(count))
	for i := 0; i < count; i++ {
		emit(i)
	}
}

const vectorConstructor = 0x1cb5c415

// Reader consumes a TL byte stream sequentially.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps buf for sequential reads.
func NewReader(buf []byte) *Reader { return &Reader{buf: buf} }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

var ErrTruncated = fmt.Errorf("tl: truncated buffer")

func (r *Reader) need(n int) error {
	if r.Remaining() < n {
		return ErrTruncated
	}
	return nil
}

// Raw reads n raw bytes.
func (r *Reader) Raw(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// Int reads a little-endian int32.
func (r *Reader) Int() (int32, error) {
	b, err := r.Raw(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

// UInt reads a little-endian uint32 (typically a constructor id).
func (r *Reader) UInt() (uint32, error) {
	b, err := r.Raw(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// Long reads a little-endian int64.
func (r *Reader) Long() (int64, error) {
	b, err := r.Raw(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

// ULong reads a little-endian uint64.
func (r *Reader) ULong() (uint64, error) {
	b, err := r.Raw(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// Int128 reads a 16-byte value.
func (r *Reader) Int128() ([16]byte, error) {
	var out [16]byte
	b, err := r.Raw(16)
	if err != nil {
		return out, err
	}
	copy(out[:], b)
	return out, nil
}

// Int256 reads a 32-byte value.
func (r *Reader) Int256() ([32]byte, error) {
	var out [32]byte
	b, err := r.Raw(32)
	if err != nil {
		return out, err
	}
	copy(out[:], b)
	return out, nil
}

// StringBytes reads a length-prefixed byte string, consuming its padding.
func (r *Reader) StringBytes() ([]byte, error) {
	if err := r.need(1); err != nil {
		return nil, err
	}
	first := r.buf[r.pos]
	var n, headerLen int
	if first == 0xfe {
		if err := r.need(4); err != nil {
			return nil, err
		}
		n = int(r.buf[r.pos+1]) | int(r.buf[r.pos+2])<<8 | int(r.buf[r.pos+3])<<16
		headerLen = 4
	} else {
		n = int(first)
		headerLen = 1
	}
	total := headerLen + n
	if pad := (4 - total%4) % 4; pad > 0 {
		total += pad
	}
	if err := r.need(total); err != nil {
		return nil, err
	}
	data := r.buf[r.pos+headerLen : r.pos+headerLen+n]
	r.pos += total
	return data, nil
}

// String is a convenience wrapper over StringBytes.
func (r *Reader) String() (string, error) {
	b, err := r.StringBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}
