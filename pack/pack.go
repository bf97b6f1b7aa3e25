// Package pack provides big-endian packing primitives used by the wire
// and cluster map codecs. Everything here is hand-rolled rather than
// reflection-driven, matching the way the rest of the system treats
// on-the-wire layout as a fixed, explicit contract.
package pack

import (
	"encoding/binary"
	"errors"
)

// ErrShortBuffer is returned when a buffer is too small to hold the
// requested field.
var ErrShortBuffer = errors.New("pack: short buffer")

// PutUint16 writes v big-endian at buf[0:2].
func PutUint16(buf []byte, v uint16) {
	binary.BigEndian.PutUint16(buf, v)
}

// PutUint32 writes v big-endian at buf[0:4].
func PutUint32(buf []byte, v uint32) {
	binary.BigEndian.PutUint32(buf, v)
}

// PutUint64 writes v big-endian at buf[0:8].
func PutUint64(buf []byte, v uint64) {
	binary.BigEndian.PutUint64(buf, v)
}

// Uint16 reads a big-endian uint16 from buf[0:2].
func Uint16(buf []byte) (uint16, error) {
	if len(buf) < 2 {
		return 0, ErrShortBuffer
	}
	return binary.BigEndian.Uint16(buf), nil
}

// Uint32 reads a big-endian uint32 from buf[0:4].
func Uint32(buf []byte) (uint32, error) {
	if len(buf) < 4 {
		return 0, ErrShortBuffer
	}
	return binary.BigEndian.Uint32(buf), nil
}

// Uint64 reads a big-endian uint64 from buf[0:8].
func Uint64(buf []byte) (uint64, error) {
	if len(buf) < 8 {
		return 0, ErrShortBuffer
	}
	return binary.BigEndian.Uint64(buf), nil
}

// Writer accumulates packed fields into a growing byte slice. It never
// fails; callers size the buffer once via a prior length computation or
// let it grow.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer with a preallocated capacity hint.
func NewWriter(capHint int) *Writer {
	return &Writer{buf: make([]byte, 0, capHint)}
}

func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) PutUint16(v uint16) {
	var b [2]byte
	PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) PutUint32(v uint32) {
	var b [4]byte
	PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) PutUint64(v uint64) {
	var b [8]byte
	PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) PutBool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

func (w *Writer) PutBytes(b []byte) {
	w.buf = append(w.buf, b...)
}

// PutString writes a length-prefixed (u16 length) string.
func (w *Writer) PutString(s string) {
	w.PutUint16(uint16(len(s)))
	w.buf = append(w.buf, s...)
}

// Reader consumes packed fields from a fixed byte slice, tracking an
// offset and the first error encountered. Once an error occurs, every
// subsequent read is a no-op returning the zero value, so callers can
// chain reads and check Err() once at the end.
type Reader struct {
	buf []byte
	off int
	err error
}

func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

func (r *Reader) Err() error { return r.err }

func (r *Reader) Remaining() []byte {
	if r.off > len(r.buf) {
		return nil
	}
	return r.buf[r.off:]
}

func (r *Reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.off+n > len(r.buf) {
		r.err = ErrShortBuffer
		return false
	}
	return true
}

func (r *Reader) Uint16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v
}

func (r *Reader) Uint32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

func (r *Reader) Uint64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.BigEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v
}

func (r *Reader) Bool() bool {
	if !r.need(1) {
		return false
	}
	v := r.buf[r.off] != 0
	r.off++
	return v
}

func (r *Reader) Bytes(n int) []byte {
	if !r.need(n) {
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

// String reads a length-prefixed (u16 length) string.
func (r *Reader) String() string {
	n := int(r.Uint16())
	b := r.Bytes(n)
	if b == nil {
		return ""
	}
	return string(b)
}
