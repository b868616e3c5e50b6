//go:build linux

package poller

import (
	"testing"
	"time"

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

func newTestPoller(t *testing.T) *Poller {
	t.Helper()
	p, err := New(16)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func waitFor(t *testing.T, p *Poller, token uint64, timeout time.Duration) []Event {
	t.Helper()
	deadline := time.Now().Add(timeout)
	out := make([]Event, 16)
	var got []Event
	for time.Now().Before(deadline) {
		n, err := p.Wait(out, 50)
		require.NoError(t, err)
		for i := 0; i < n; i++ {
			if out[i].Token == token {
				got = append(got, out[i])
			}
		}
		if len(got) > 0 {
			return got
		}
	}
	return got
}

func TestTokenRoundTrip(t *testing.T) {
	p := newTestPoller(t)
	a, _ := socketPair(t)

	// A connected socket is writable immediately, so adding with writable
	// interest produces an edge straight away.
	token := uint64(0xdeadbeef12345678)
	require.NoError(t, p.Add(a, Writable, token))

	events := waitFor(t, p, token, time.Second)
	require.NotEmpty(t, events, "expected a writable edge")
	assert.True(t, events[0].Writable())
	assert.Equal(t, token, events[0].Token)
}

func TestReadableEdgeOnData(t *testing.T) {
	p := newTestPoller(t)
	a, b := socketPair(t)

	require.NoError(t, p.Add(b, Readable, 7))

	_, err := unix.Write(a, []byte("ping"))
	require.NoError(t, err)

	events := waitFor(t, p, 7, time.Second)
	require.NotEmpty(t, events)
	assert.True(t, events[0].Readable())
}

func TestPeerCloseEdge(t *testing.T) {
	p := newTestPoller(t)
	a, b := socketPair(t)

	require.NoError(t, p.Add(b, Readable, 9))
	require.NoError(t, unix.Close(a))

	events := waitFor(t, p, 9, time.Second)
	require.NotEmpty(t, events)
	assert.True(t, events[0].Closed())
}

func TestModifyReplacesInterest(t *testing.T) {
	p := newTestPoller(t)
	a, b := socketPair(t)

	require.NoError(t, p.Add(b, Readable, 3))
	// Drop readable interest entirely; pending data must stay silent.
	require.NoError(t, p.Modify(b, 0, 3))

	_, err := unix.Write(a, []byte("x"))
	require.NoError(t, err)

	events := waitFor(t, p, 3, 300*time.Millisecond)
	for _, ev := range events {
		assert.False(t, ev.Readable(), "readable interest was removed")
	}
}

func TestDuplicateAddFails(t *testing.T) {
	p := newTestPoller(t)
	a, _ := socketPair(t)

	require.NoError(t, p.Add(a, Readable, 1))
	assert.Error(t, p.Add(a, Readable, 1))
}

func TestRemoveMissingIsNonFatal(t *testing.T) {
	p := newTestPoller(t)
	a, _ := socketPair(t)

	assert.NoError(t, p.Remove(a), "never-registered fd")
	require.NoError(t, p.Add(a, Readable, 1))
	assert.NoError(t, p.Remove(a))
	assert.NoError(t, p.Remove(a), "already removed")
}

func TestWaitTimeout(t *testing.T) {
	p := newTestPoller(t)
	out := make([]Event, 4)

	start := time.Now()
	n, err := p.Wait(out, 50)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestListenConnectSockErr(t *testing.T) {
	lfd, err := Listen("127.0.0.1", 0)
	require.NoError(t, err)
	t.Cleanup(func() { unix.Close(lfd) })

	port, err := BoundPort(lfd)
	require.NoError(t, err)
	require.NotZero(t, port)

	fd, inProgress, err := Connect("127.0.0.1", port)
	require.NoError(t, err)
	t.Cleanup(func() { unix.Close(fd) })

	if inProgress {
		// Wait for the handshake to resolve, then SO_ERROR must be clean.
		p := newTestPoller(t)
		require.NoError(t, p.Add(fd, Writable, 1))
		events := waitFor(t, p, 1, time.Second)
		require.NotEmpty(t, events)
	}

	errno, err := SockErr(fd)
	require.NoError(t, err)
	assert.Equal(t, unix.Errno(0), errno)
}

func TestInet4Validation(t *testing.T) {
	_, err := Inet4("not-an-ip")
	assert.Error(t, err)
	_, err = Inet4("::1")
	assert.Error(t, err)
	addr, err := Inet4("127.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, [4]byte{127, 0, 0, 1}, addr)
}
