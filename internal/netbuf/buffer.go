package netbuf

import (
	"golang.org/x/sys/unix"
)

/*
	A Buffer is a fixed-capacity linear window with two cursors: new data is
	appended at len, drained data is consumed from pos. A ring would avoid the
	occasional memmove, but edge-triggered draining empties buffers completely
	in the common case, so the cyclic advantage rarely materialises and the
	linear layout is far easier to reason about.

	Invariant: 0 <= pos <= len <= cap.
*/

// DefaultCapacity holds most HTTP requests plus a small body.
const DefaultCapacity = 16 * 1024

type Buffer struct {
	data []byte
	len  int
	pos  int
}

// New allocates a buffer with the given capacity, or DefaultCapacity when
// capacity is not positive.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{data: make([]byte, capacity)}
}

// ReadFrom fills the tail of the buffer with a single non-blocking read.
// A zero count with a nil error is EOF. unix.EAGAIN passes through unchanged
// so callers can distinguish "drained" from a real failure, and a full buffer
// reports unix.ENOBUFS without touching the socket.
func (b *Buffer) ReadFrom(fd int) (int, error) {
	if b.len >= len(b.data) {
		return 0, unix.ENOBUFS
	}

	n, err := unix.Read(fd, b.data[b.len:])
	if n > 0 {
		b.len += n
		return n, nil
	}
	if n == 0 && err == nil {
		return 0, nil // EOF
	}
	return 0, err
}

// WriteTo drains [pos..len) with a single non-blocking write, advancing pos on
// partial progress. When the buffer drains completely both cursors reset to
// zero, which is the cheap alternative to compacting later. A write of zero
// bytes is reported as unix.EAGAIN.
func (b *Buffer) WriteTo(fd int) (int, error) {
	if b.pos >= b.len {
		return 0, nil
	}

	n, err := unix.Write(fd, b.data[b.pos:b.len])
	if n > 0 {
		b.pos += n
		if b.pos >= b.len {
			b.pos = 0
			b.len = 0
		}
		return n, nil
	}
	if err == nil {
		err = unix.EAGAIN
	}
	return 0, err
}

// Append copies at most Writable() bytes from p into the tail and returns the
// number copied.
func (b *Buffer) Append(p []byte) int {
	n := copy(b.data[b.len:], p)
	b.len += n
	return n
}

// Consume advances the read cursor by n, resetting the buffer once everything
// has been consumed.
func (b *Buffer) Consume(n int) {
	b.pos += n
	if b.pos >= b.len {
		b.pos = 0
		b.len = 0
	}
}

// Compact moves the unconsumed window to the front. Idempotent; a no-op when
// pos is already zero.
func (b *Buffer) Compact() {
	if b.pos == 0 {
		return
	}
	if b.pos >= b.len {
		b.pos = 0
		b.len = 0
		return
	}
	remaining := copy(b.data, b.data[b.pos:b.len])
	b.pos = 0
	b.len = remaining
}

// Buffered returns the unconsumed window [pos..len). The slice aliases the
// buffer and is invalidated by any mutating call.
func (b *Buffer) Buffered() []byte {
	return b.data[b.pos:b.len]
}

// Clear resets both cursors without touching the data, for slot recycling.
func (b *Buffer) Clear() {
	b.len = 0
	b.pos = 0
}

func (b *Buffer) IsEmpty() bool  { return b.pos >= b.len }
func (b *Buffer) IsFull() bool   { return b.len >= len(b.data) }
func (b *Buffer) Readable() int  { return b.len - b.pos }
func (b *Buffer) Writable() int  { return len(b.data) - b.len }
func (b *Buffer) Capacity() int  { return len(b.data) }
func (b *Buffer) Len() int       { return b.len }
func (b *Buffer) Pos() int       { return b.pos }
