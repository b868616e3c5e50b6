//go:build linux

package poller

import (
	"fmt"

	"golang.org/x/sys/unix"
)

/*
	Thin wrapper over edge-triggered epoll. Every registration carries an
	opaque 64-bit token that comes back verbatim with each event; the engine
	packs a slot index and generation in there so a stale event can never be
	dispatched to a recycled connection.

	Edge-triggered means a notification arrives only on the 0->ready
	transition. Consumers must drain until EAGAIN or they will never hear
	about the fd again.
*/

// Interest bits. Peer-close, hangup and error edges are always registered
// implicitly; callers only choose readable/writable.
const (
	Readable uint32 = unix.EPOLLIN
	Writable uint32 = unix.EPOLLOUT
)

const implicit = unix.EPOLLET | unix.EPOLLRDHUP | unix.EPOLLHUP | unix.EPOLLERR

// Event is one readiness notification. Flags is the raw epoll event mask.
type Event struct {
	Token uint64
	Flags uint32
}

// Readable reports a readable edge.
func (e Event) Readable() bool { return e.Flags&unix.EPOLLIN != 0 }

// Writable reports a writable edge.
func (e Event) Writable() bool { return e.Flags&unix.EPOLLOUT != 0 }

// Closed reports an error, hangup or peer-closed edge.
func (e Event) Closed() bool {
	return e.Flags&(unix.EPOLLERR|unix.EPOLLHUP|unix.EPOLLRDHUP) != 0
}

// Fatal reports an error or hangup edge — the socket is unusable. A bare
// peer-closed edge (RDHUP) is gentler: the peer half-closed and buffered
// bytes may still be readable.
func (e Event) Fatal() bool {
	return e.Flags&(unix.EPOLLERR|unix.EPOLLHUP) != 0
}

type Poller struct {
	fd    int
	ready []unix.EpollEvent
}

// New creates the epoll instance. Fails only on resource exhaustion.
func New(maxEvents int) (*Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	return &Poller{fd: fd, ready: make([]unix.EpollEvent, maxEvents)}, nil
}

// Add registers fd with the given interest. Duplicate registration is an
// error (EEXIST from the kernel).
func (p *Poller) Add(fd int, interest uint32, token uint64) error {
	ev := unix.EpollEvent{Events: interest | implicit}
	packToken(&ev, token)
	if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll_ctl add fd=%d: %w", fd, err)
	}
	return nil
}

// Modify replaces the interest set for an already-registered fd.
func (p *Poller) Modify(fd int, interest uint32, token uint64) error {
	ev := unix.EpollEvent{Events: interest | implicit}
	packToken(&ev, token)
	if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("epoll_ctl mod fd=%d: %w", fd, err)
	}
	return nil
}

// Remove deregisters fd. ENOENT and EBADF are swallowed: the kernel drops
// closed sockets from the interest list on its own.
func (p *Poller) Remove(fd int) error {
	err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.ENOENT || err == unix.EBADF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("epoll_ctl del fd=%d: %w", fd, err)
	}
	return nil
}

// Wait blocks until readiness, timeout, or signal. Fills out with at most
// len(out) events and returns the count. A signal interruption yields an
// empty batch rather than an error.
func (p *Poller) Wait(out []Event, timeoutMs int) (int, error) {
	max := len(out)
	if max > len(p.ready) {
		max = len(p.ready)
	}

	n, err := unix.EpollWait(p.fd, p.ready[:max], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, fmt.Errorf("epoll_wait: %w", err)
	}

	for i := 0; i < n; i++ {
		out[i] = Event{
			Token: unpackToken(&p.ready[i]),
			Flags: p.ready[i].Events,
		}
	}
	return n, nil
}

// Close releases the epoll instance.
func (p *Poller) Close() error {
	return unix.Close(p.fd)
}

// The kernel hands back epoll_data verbatim, so the Fd/Pad pair doubles as a
// 64-bit token slot.
func packToken(ev *unix.EpollEvent, token uint64) {
	ev.Fd = int32(token)
	ev.Pad = int32(token >> 32)
}

func unpackToken(ev *unix.EpollEvent) uint64 {
	return uint64(uint32(ev.Fd)) | uint64(uint32(ev.Pad))<<32
}
