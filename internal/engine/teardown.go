package engine

import (
	"golang.org/x/sys/unix"

	"github.com/thushan/glide/internal/conn"
	"github.com/thushan/glide/internal/poller"
)

// closeSlot retires one slot: deregister, close, release framer state,
// return to the pool. Unpairing happens inside Free; the peer is never
// cascaded from here — that policy belongs to the callers.
func (e *Engine) closeSlot(s *conn.Slot) {
	if s == nil || s.State() == conn.StateFree {
		return
	}

	_ = e.poller.Remove(s.FD)
	_ = unix.Close(s.FD)

	if s.Request != nil {
		e.requests.Put(s.Request)
		s.Request = nil
	}

	e.pool.Free(s)
	e.stats.ConnectionClosed()
}

// closePair snapshots the peer before closing self, then closes the
// snapshot. Snapshotting matters: Free breaks the link.
func (e *Engine) closePair(s *conn.Slot) {
	peer := e.pool.Peer(s)
	e.closeSlot(s)
	if peer != nil {
		e.closeSlot(peer)
	}
}

// handleClosedEdge reacts to error/hangup/peer-closed edges from the
// multiplexer.
func (e *Engine) handleClosedEdge(s *conn.Slot) {
	if errno, err := poller.SockErr(s.FD); err == nil && errno != 0 {
		if errno != unix.ECONNRESET && errno != unix.EPIPE {
			e.log.Warn("Connection error", "fd", s.FD, "role", s.Role.String(), "error", errno.Error())
		}
	}
	e.stats.Error()

	if e.httpMode && s.Role == conn.RoleUpstream {
		e.upstreamFailed(s)
		return
	}
	e.closePair(s)
}

// updateInterest recomputes the interest mask from the state-machine
// predicates. An empty mask stays empty — error edges still arrive through
// the implicit flags — so a source with a saturated destination really does
// stop generating readable events. That silence is the backpressure.
func (e *Engine) updateInterest(s *conn.Slot) {
	if s == nil || s.State() == conn.StateFree || s.FD < 0 {
		return
	}
	if err := e.poller.Modify(s.FD, e.interestOf(s), s.Token()); err != nil {
		e.log.Warn("Failed to update interest", "fd", s.FD, "error", err)
		e.stats.Error()
		e.closePair(s)
	}
}

func (e *Engine) interestOf(s *conn.Slot) uint32 {
	var mask uint32
	if e.pool.WantsRead(s) {
		mask |= poller.Readable
	}
	if e.pool.WantsWrite(s) {
		mask |= poller.Writable
	}
	return mask
}
