package engine

import (
	"github.com/thushan/glide/internal/conn"
	"github.com/thushan/glide/internal/httpframe"
)

// dispatchRequest hands a fully framed request to a fresh upstream. Each
// request gets its own backend connection; a previous upstream still paired
// from the last keep-alive round is retired first.
func (e *Engine) dispatchRequest(client *conn.Slot) {
	req := client.Request

	if old := e.pool.Peer(client); old != nil {
		e.closeSlot(old)
	}

	// The framed request must fit the upstream's write buffer in one piece.
	if req.TotalLength > e.bufCap {
		e.stats.Error()
		e.respondError(client, 413, "Request Too Large")
		return
	}

	up := e.dialUpstream(client)
	if up == nil {
		return
	}

	framed := client.ReadBuf.Buffered()
	if len(framed) > req.TotalLength {
		// Pipelined bytes beyond the framed request are dropped with the
		// buffer clear below.
		framed = framed[:req.TotalLength]
	}
	copied := up.WriteBuf.Append(framed)
	if copied < len(framed) {
		e.stats.Error()
		e.closeSlot(up)
		e.respondError(client, 413, "Request Too Large")
		return
	}

	client.ReadBuf.Clear()
	client.KeepAlive = req.KeepAlive
	client.ResponseStarted = false

	// Framing is done; the request object goes back to the pool while the
	// bytes ride the upstream buffer.
	e.requests.Put(req)
	client.Request = nil

	client.SetState(conn.StateWritingResponse)
	e.updateInterest(client)
	e.updateInterest(up)
}

// respondError queues a synthesized response on the client and closes the
// connection after it drains. Any upstream involvement is already resolved
// by the caller.
func (e *Engine) respondError(client *conn.Slot, code int, message string) {
	if client == nil || client.State() == conn.StateFree {
		return
	}

	client.WriteBuf.Clear()
	client.WriteBuf.Append(httpframe.ErrorResponse(code, message))

	if client.Request != nil {
		e.requests.Put(client.Request)
		client.Request = nil
	}

	client.KeepAlive = false
	client.ResponseStarted = true
	client.SetState(conn.StateWritingResponse)
	e.updateInterest(client)
}
