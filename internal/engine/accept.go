package engine

import (
	"golang.org/x/sys/unix"

	"github.com/thushan/glide/internal/conn"
	"github.com/thushan/glide/internal/poller"
)

// handleAccept drains the accept queue. The listener is edge-triggered, so
// stopping before EAGAIN would strand connections in the backlog.
func (e *Engine) handleAccept() {
	for {
		fd, err := poller.Accept(e.listenFD)
		if err != nil {
			if err == unix.EAGAIN {
				return
			}
			e.log.Warn("Accept failed", "error", err)
			e.stats.Error()
			return
		}

		if err := poller.SetDataOptions(fd); err != nil {
			e.log.Warn("Socket options failed on accepted connection", "error", err)
			_ = unix.Close(fd)
			continue
		}

		client, err := e.pool.Alloc()
		if err != nil {
			// Pool exhausted. Accept-then-close so the fd does not sit in the
			// kernel queue masquerading as accepted. Live connections are
			// never evicted to make room.
			_ = unix.Close(fd)
			e.stats.ConnectionRejected()
			e.log.Warn("Connection pool exhausted, rejecting client",
				"active", e.pool.Cap()-e.pool.FreeCount())
			continue
		}

		client.FD = fd
		client.Role = conn.RoleClient
		client.Touch()
		e.stats.ConnectionOpened()

		if e.httpMode {
			client.SetState(conn.StateReadingRequest)
			client.Request = e.requests.Get()
			if err := e.poller.Add(fd, poller.Readable, client.Token()); err != nil {
				e.log.Warn("Failed to register client", "error", err)
				e.closeSlot(client)
				continue
			}
			continue
		}

		// Stream mode pairs the upstream straight away.
		client.SetState(conn.StateConnected)
		if err := e.poller.Add(fd, poller.Readable, client.Token()); err != nil {
			e.log.Warn("Failed to register client", "error", err)
			e.closeSlot(client)
			continue
		}
		e.dialUpstream(client)
	}
}
