package engine

import (
	"golang.org/x/sys/unix"

	"github.com/thushan/glide/internal/conn"
	"github.com/thushan/glide/internal/httpframe"
)

// handleRead drains one readable edge. HTTP-mode clients framing a request
// take the parser branch; everything else is the raw forwarding branch.
func (e *Engine) handleRead(s *conn.Slot) {
	if e.httpMode && s.Role == conn.RoleClient && s.State() == conn.StateReadingRequest {
		e.readRequest(s)
		return
	}
	e.streamRead(s)
}

// streamRead reads until EAGAIN, forwarding each chunk to the peer's write
// buffer. A full destination surfaces as ENOBUFS on our own read buffer and
// exits the loop like EAGAIN — the interest update below then drops readable
// interest, which is the backpressure mechanism, not a failure.
func (e *Engine) streamRead(s *conn.Slot) {
	if !e.pool.CanRead(s) {
		return
	}

	for {
		n, err := s.ReadBuf.ReadFrom(s.FD)
		if n > 0 {
			s.Touch()
			e.stats.BytesReceived(n)

			peer := e.pool.Peer(s)
			if peer == nil {
				e.closePair(s)
				return
			}
			e.forward(s, peer)
			continue
		}

		if err == nil {
			// EOF: peer closed its half.
			e.log.Debug("Connection closed", "role", s.Role.String(), "fd", s.FD)
			e.peerClosed(s)
			return
		}
		if err == unix.EAGAIN || err == unix.ENOBUFS {
			break
		}

		if err != unix.ECONNRESET {
			e.log.Warn("Read failed", "fd", s.FD, "error", err)
		}
		e.stats.Error()
		e.peerClosed(s)
		return
	}

	e.updateInterest(s)
	if peer := e.pool.Peer(s); peer != nil {
		e.updateInterest(peer)
	}
}

// forward copies as much as fits from the source's read buffer into the
// destination's write buffer. Bytes within one direction stay in order; the
// copy is the only hop between the two sockets.
func (e *Engine) forward(src, dst *conn.Slot) {
	n := dst.WriteBuf.Append(src.ReadBuf.Buffered())
	if n > 0 {
		src.ReadBuf.Consume(n)
		if e.httpMode && dst.Role == conn.RoleClient && dst.State() == conn.StateWritingResponse {
			dst.ResponseStarted = true
		}
	}

	if dst.WriteBuf.Pos() > 0 && dst.WriteBuf.Writable() < compactThreshold {
		dst.WriteBuf.Compact()
	}
}

// readRequest accumulates and frames an HTTP request on a client slot.
func (e *Engine) readRequest(s *conn.Slot) {
	for {
		n, err := s.ReadBuf.ReadFrom(s.FD)
		if n > 0 {
			s.Touch()
			e.stats.BytesReceived(n)

			switch s.Request.Parse(s.ReadBuf.Buffered()) {
			case httpframe.NeedMore:
				if s.Request.TotalLength > e.maxRequestSize {
					e.stats.Error()
					e.respondError(s, 413, "Request Too Large")
					return
				}
				continue

			case httpframe.Malformed:
				e.stats.RequestMalformed()
				e.respondError(s, 400, "Bad Request")
				return

			case httpframe.Complete:
				if !s.Request.Valid() {
					e.stats.RequestMalformed()
					e.respondError(s, 400, "Bad Request")
					return
				}
				if s.Request.TotalLength > e.maxRequestSize {
					e.stats.Error()
					e.respondError(s, 413, "Request Too Large")
					return
				}
				e.stats.Request(s.Request.Method.String())
				s.SetState(conn.StateRequestComplete)
				e.dispatchRequest(s)
				return
			}
		}

		if err == nil {
			// EOF before a complete request.
			e.peerClosed(s)
			return
		}
		if err == unix.EAGAIN {
			break
		}
		if err == unix.ENOBUFS {
			// Request larger than the read buffer and still unframed.
			e.stats.Error()
			e.respondError(s, 413, "Request Too Large")
			return
		}

		if err != unix.ECONNRESET {
			e.log.Warn("Read failed", "fd", s.FD, "error", err)
		}
		e.stats.Error()
		e.peerClosed(s)
		return
	}

	e.updateInterest(s)
}

// handleWrite drains one writable edge, then applies the HTTP keep-alive
// policy if the client's buffer emptied.
func (e *Engine) handleWrite(s *conn.Slot) {
	if !e.pool.CanWrite(s) {
		return
	}

	for {
		n, err := s.WriteBuf.WriteTo(s.FD)
		if n > 0 {
			s.Touch()
			e.stats.BytesSent(n)
			if s.WriteBuf.IsEmpty() {
				break
			}
			continue
		}
		if err == nil || err == unix.EAGAIN {
			break
		}

		// EPIPE/ECONNRESET are everyday peer departures; keep them out of
		// the logs.
		if err != unix.EPIPE && err != unix.ECONNRESET {
			e.log.Warn("Write failed", "fd", s.FD, "error", err)
		}
		e.stats.Error()
		if e.httpMode && s.Role == conn.RoleClient {
			e.closeSlot(s)
		} else {
			e.closePair(s)
		}
		return
	}

	if s.State() == conn.StateClosing && s.WriteBuf.IsEmpty() {
		e.closeSlot(s)
		return
	}

	if e.httpMode && s.Role == conn.RoleClient &&
		s.State() == conn.StateWritingResponse && s.WriteBuf.IsEmpty() {
		e.finishResponse(s)
		return
	}

	e.updateInterest(s)
	if peer := e.pool.Peer(s); peer != nil {
		e.updateInterest(peer)
	}
}

// finishResponse recycles or retires a client whose response has drained.
func (e *Engine) finishResponse(s *conn.Slot) {
	if !s.KeepAlive {
		e.closePair(s)
		return
	}
	if s.RequestsHandled+1 >= e.maxRequestsPerConn {
		e.closePair(s)
		return
	}

	s.RequestsHandled++
	s.ReadBuf.Clear()
	s.WriteBuf.Clear()
	if s.Request == nil {
		s.Request = e.requests.Get()
	} else {
		s.Request.Reset()
	}
	s.ResponseStarted = false
	s.SetState(conn.StateReadingRequest)
	e.stats.KeepAliveReused()
	e.updateInterest(s)
}

// peerClosed applies the clean-EOF teardown policy. A backend that closes
// before its HTTP client has seen a single response byte becomes a 502; a
// backend that closes after delivering its response lets the client finish
// normally; everything else drains pending bytes and takes the pair down.
func (e *Engine) peerClosed(s *conn.Slot) {
	if e.httpMode && s.Role == conn.RoleUpstream {
		client := e.pool.Peer(s)
		if client != nil && client.Role == conn.RoleClient {
			switch {
			case client.State() == conn.StateWritingResponse && !client.ResponseStarted:
				e.closeSlot(s)
				e.respondError(client, 502, "Bad Gateway")
				return
			case client.State() == conn.StateWritingResponse:
				// Response already flowing; hand the tail to the client.
				e.closeSlot(s)
				if client.WriteBuf.IsEmpty() {
					e.finishResponse(client)
				} else {
					e.handleWrite(client)
				}
				return
			case client.State() == conn.StateReadingRequest:
				e.closeSlot(s)
				return
			}
		}
		e.closePair(s)
		return
	}
	e.gracefulClose(s)
}

// gracefulClose tears down after a clean EOF, first pushing any bytes
// already forwarded to the peer. If the peer's socket cannot take them all
// now, the peer lingers in StateClosing and dies once its buffer drains.
func (e *Engine) gracefulClose(s *conn.Slot) {
	peer := e.pool.Peer(s)
	if peer != nil && !peer.WriteBuf.IsEmpty() {
		e.drainNow(peer)
	}

	peer = e.pool.Peer(s)
	if peer != nil && !peer.WriteBuf.IsEmpty() {
		e.closeSlot(s)
		peer.SetState(conn.StateClosing)
		e.updateInterest(peer)
		return
	}
	e.closePair(s)
}

// drainNow is a best-effort synchronous flush of the peer's write buffer.
func (e *Engine) drainNow(peer *conn.Slot) {
	for {
		n, err := peer.WriteBuf.WriteTo(peer.FD)
		if n > 0 {
			peer.Touch()
			e.stats.BytesSent(n)
			if peer.WriteBuf.IsEmpty() {
				return
			}
			continue
		}
		if err == nil || err == unix.EAGAIN {
			return
		}
		e.stats.Error()
		e.closeSlot(peer)
		return
	}
}
