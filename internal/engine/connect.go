package engine

import (
	"golang.org/x/sys/unix"

	"github.com/thushan/glide/internal/conn"
	"github.com/thushan/glide/internal/poller"
)

// dialUpstream opens the backend socket for a client and pairs the two
// slots. Returns the upstream slot, or nil after handling the failure
// (502/503 in HTTP mode, pair teardown in stream mode).
func (e *Engine) dialUpstream(client *conn.Slot) *conn.Slot {
	fd, inProgress, err := poller.Connect(e.backendHost, e.backendPort)
	if err != nil {
		e.log.Debug("Backend connect failed", "error", err)
		e.stats.Error()
		if e.httpMode {
			e.respondError(client, 502, "Bad Gateway")
		} else {
			e.closePair(client)
		}
		return nil
	}

	up, err := e.pool.Alloc()
	if err != nil {
		_ = unix.Close(fd)
		e.stats.ConnectionRejected()
		if e.httpMode {
			e.respondError(client, 503, "Service Unavailable")
		} else {
			e.closePair(client)
		}
		return nil
	}

	up.FD = fd
	up.Role = conn.RoleUpstream
	up.Touch()
	e.stats.ConnectionOpened()

	if inProgress {
		up.SetState(conn.StateConnecting)
	} else {
		up.SetState(conn.StateConnected)
	}

	e.pool.Pair(client, up)

	if err := e.poller.Add(fd, e.interestOf(up), up.Token()); err != nil {
		e.log.Warn("Failed to register upstream", "error", err)
		e.stats.Error()
		e.closeSlot(up)
		if e.httpMode {
			e.respondError(client, 500, "Internal Server Error")
		} else {
			e.closePair(client)
		}
		return nil
	}
	return up
}

// handleConnect resolves an async connect once the writable edge arrives.
// Returns true when the slot is connected and may fall through to a write.
func (e *Engine) handleConnect(s *conn.Slot) bool {
	errno, err := poller.SockErr(s.FD)
	if err != nil || errno != 0 {
		e.stats.Error()
		e.upstreamFailed(s)
		return false
	}

	s.SetState(conn.StateConnected)
	s.Touch()
	e.updateInterest(s)
	return true
}

// upstreamFailed applies the teardown policy for a dead or unreachable
// upstream: a pre-response HTTP client gets a 502 and is closed once it
// drains; a keep-alive client already reading its next request keeps its
// connection; everything else takes the pair down.
func (e *Engine) upstreamFailed(s *conn.Slot) {
	client := e.pool.Peer(s)
	if e.httpMode && client != nil && client.Role == conn.RoleClient {
		switch {
		case client.State() == conn.StateWritingResponse && !client.ResponseStarted:
			e.closeSlot(s)
			e.respondError(client, 502, "Bad Gateway")
			return
		case client.State() == conn.StateReadingRequest:
			// The previous response already drained; a recycled keep-alive
			// client keeps its connection when the old upstream departs.
			e.closeSlot(s)
			return
		}
	}
	e.closePair(s)
}
