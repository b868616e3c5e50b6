package netbuf

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func socketPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestReadFromFillsTail(t *testing.T) {
	a, b := socketPair(t)
	buf := New(64)

	_, err := unix.Write(a, []byte("hello"))
	require.NoError(t, err)

	n, err := buf.ReadFrom(b)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, 5, buf.Readable())
	assert.Equal(t, []byte("hello"), buf.Buffered())
}

func TestReadFromEAGAINWhenDrained(t *testing.T) {
	_, b := socketPair(t)
	buf := New(64)

	n, err := buf.ReadFrom(b)
	assert.Equal(t, 0, n)
	assert.Equal(t, unix.EAGAIN, err)
	assert.True(t, buf.IsEmpty())
}

func TestReadFromEOF(t *testing.T) {
	a, b := socketPair(t)
	buf := New(64)

	require.NoError(t, unix.Close(a))

	n, err := buf.ReadFrom(b)
	assert.Equal(t, 0, n)
	assert.NoError(t, err)
}

func TestReadFromFullBuffer(t *testing.T) {
	a, b := socketPair(t)
	buf := New(4)

	_, err := unix.Write(a, []byte("abcdef"))
	require.NoError(t, err)

	n, err := buf.ReadFrom(b)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.True(t, buf.IsFull())

	_, err = buf.ReadFrom(b)
	assert.Equal(t, unix.ENOBUFS, err)
}

func TestWriteToDrainsAndResets(t *testing.T) {
	a, b := socketPair(t)
	buf := New(64)
	buf.Append([]byte("payload"))

	n, err := buf.WriteTo(a)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.True(t, buf.IsEmpty())
	assert.Equal(t, 0, buf.Pos())
	assert.Equal(t, 0, buf.Len())

	out := make([]byte, 16)
	rn, err := unix.Read(b, out)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), out[:rn])
}

func TestWriteToEmptyIsNoop(t *testing.T) {
	a, _ := socketPair(t)
	buf := New(64)

	n, err := buf.WriteTo(a)
	assert.Equal(t, 0, n)
	assert.NoError(t, err)
}

func TestAppendBoundedByWritable(t *testing.T) {
	buf := New(8)
	assert.Equal(t, 8, buf.Append([]byte("0123456789")))
	assert.True(t, buf.IsFull())
	assert.Equal(t, 0, buf.Append([]byte("x")))
}

func TestConsumeResetsWhenDrained(t *testing.T) {
	buf := New(16)
	buf.Append([]byte("abcd"))

	buf.Consume(2)
	assert.Equal(t, []byte("cd"), buf.Buffered())
	assert.Equal(t, 2, buf.Pos())

	buf.Consume(2)
	assert.True(t, buf.IsEmpty())
	assert.Equal(t, 0, buf.Pos())
	assert.Equal(t, 0, buf.Len())
}

func TestCompactPreservesWindow(t *testing.T) {
	buf := New(16)
	buf.Append([]byte("abcdef"))
	buf.Consume(2)

	before := append([]byte(nil), buf.Buffered()...)
	buf.Compact()
	assert.Equal(t, 0, buf.Pos())
	assert.True(t, bytes.Equal(before, buf.Buffered()))

	// Idempotent: a second compact changes nothing.
	buf.Compact()
	assert.Equal(t, 0, buf.Pos())
	assert.True(t, bytes.Equal(before, buf.Buffered()))
}

func TestCompactReclaimsSpace(t *testing.T) {
	buf := New(8)
	buf.Append([]byte("abcdefgh"))
	buf.Consume(4)
	assert.Equal(t, 0, buf.Writable())

	buf.Compact()
	assert.Equal(t, 4, buf.Writable())
	assert.Equal(t, []byte("efgh"), buf.Buffered())
}

func TestInvariantsAcrossOps(t *testing.T) {
	buf := New(8)
	check := func() {
		assert.GreaterOrEqual(t, buf.Pos(), 0)
		assert.LessOrEqual(t, buf.Pos(), buf.Len())
		assert.LessOrEqual(t, buf.Len(), buf.Capacity())
		assert.Equal(t, buf.Len()-buf.Pos(), buf.Readable())
		assert.Equal(t, buf.Capacity()-buf.Len(), buf.Writable())
	}

	check()
	buf.Append([]byte("abc"))
	check()
	buf.Consume(1)
	check()
	buf.Compact()
	check()
	buf.Clear()
	check()
}
