// Package iobuf defines the ownership-passing buffer protocol the driver
// relies on: a completion-mode I/O operation holds its buffer for the
// entire lifetime of the kernel submission, so the caller hands the
// buffer's ownership to the Op rather than lending a pointer into its own
// stack frame.
package iobuf

import "golang.org/x/sys/unix"

// IoBuf is a readable buffer: the portion already written by a previous
// read, or staged by the caller before a write.
type IoBuf interface {
	// Bytes returns the initialized region available to read from.
	Bytes() []byte
	// BytesInit returns the number of initialized bytes.
	BytesInit() int
}

// IoBufMut is a writable buffer a completion-mode read targets. The
// kernel (or, in readiness mode, the driver on the caller's behalf)
// writes into WriteBytes and the result is recorded via SetInit.
type IoBufMut interface {
	IoBuf
	// WriteBytes returns the full writable capacity, initialized or not.
	WriteBytes() []byte
	// SetInit records how many bytes of WriteBytes were written.
	SetInit(n int)
}

// VectorBuf produces the iovec view of a readable buffer collection for
// vectored I/O operations (readv/preadv-style operations).
type VectorBuf interface {
	Iovecs() []unix.Iovec
}

// VectorBufMut produces the iovec view of a writable buffer collection
// and records how many bytes of it were filled.
type VectorBufMut interface {
	VectorBuf
	SetInit(n int)
}

// Slice wraps an IoBufMut with a [begin, end) window, deferring both
// capabilities to the inner buffer while presenting a narrower view —
// used when an operation should only touch a sub-range of a larger
// pooled buffer.
type Slice struct {
	inner IoBufMut
	begin int
	end   int
	init  int
}

// NewSlice constructs a bounded view into buf covering [begin, end).
func NewSlice(buf IoBufMut, begin, end int) *Slice {
	return &Slice{inner: buf, begin: begin, end: end}
}

// Bytes returns the initialized bytes within the slice's window.
func (s *Slice) Bytes() []byte {
	return s.inner.WriteBytes()[s.begin : s.begin+s.init]
}

// BytesInit returns the number of initialized bytes within the window.
func (s *Slice) BytesInit() int {
	return s.init
}

// WriteBytes returns the full writable window.
func (s *Slice) WriteBytes() []byte {
	return s.inner.WriteBytes()[s.begin:s.end]
}

// SetInit records how many bytes of the window were written and mirrors
// the count onto the inner buffer's own init tracking, offset by begin.
func (s *Slice) SetInit(n int) {
	s.init = n
	s.inner.SetInit(s.begin + n)
}

// Into releases the slice and returns the wrapped buffer.
func (s *Slice) Into() IoBufMut {
	return s.inner
}

// FixedBuf is the simplest IoBufMut: a plain byte slice with an explicit
// init cursor, the buffer type ordinary reads and writes use.
type FixedBuf struct {
	b    []byte
	init int
}

// NewFixedBuf wraps buf as an IoBufMut with no bytes yet initialized.
func NewFixedBuf(buf []byte) *FixedBuf {
	return &FixedBuf{b: buf}
}

func (f *FixedBuf) Bytes() []byte       { return f.b[:f.init] }
func (f *FixedBuf) BytesInit() int      { return f.init }
func (f *FixedBuf) WriteBytes() []byte  { return f.b }
func (f *FixedBuf) SetInit(n int)       { f.init = n }
func (f *FixedBuf) Cap() int            { return len(f.b) }
func (f *FixedBuf) Raw() []byte         { return f.b }
