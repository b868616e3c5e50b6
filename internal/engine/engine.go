package engine

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/thushan/glide/internal/config"
	"github.com/thushan/glide/internal/conn"
	"github.com/thushan/glide/internal/httpframe"
	"github.com/thushan/glide/internal/logger"
	"github.com/thushan/glide/internal/poller"
	"github.com/thushan/glide/internal/stats"
	"github.com/thushan/glide/pkg/pool"
)

/*
	The engine is the whole proxy loop: accept, async connect, read, forward,
	frame, write, recycle. Everything runs on one goroutine; the only
	suspension point is Poller.Wait. Work per event is bounded by draining a
	single readiness edge, which keeps fairness rough but real across fds.
*/

// listenerToken marks events for the listening socket; it can never collide
// with a slot token because slot indexes are bounded by the pool size.
const listenerToken = ^uint64(0)

const (
	waitTimeoutMs       = 1000
	maintenanceInterval = time.Second

	// compactThreshold triggers a write-buffer compaction when the tail
	// window gets this tight while consumed bytes sit at the front.
	compactThreshold = 1024
)

type Engine struct {
	log   *logger.StyledLogger
	stats *stats.Collector

	poller *poller.Poller
	pool   *conn.Pool

	// requests recycles framer state across keep-alive churn.
	requests *pool.Pool[*httpframe.Request]

	listenFD   int
	listenPort int

	httpMode bool

	backendHost string
	backendPort int

	bufCap             int
	maxRequestSize     int
	maxRequestsPerConn int
	connectTimeout     time.Duration
	idleTimeout        time.Duration

	events          []poller.Event
	lastMaintenance time.Time
}

// New builds the engine: pool, multiplexer, listening socket, sentinel
// registration. The configuration must already be validated.
func New(cfg *config.Config, log *logger.StyledLogger, collector *stats.Collector) (*Engine, error) {
	e := &Engine{
		log:                log,
		stats:              collector,
		httpMode:           cfg.Proxy.Mode == config.ModeHTTP,
		backendHost:        cfg.Backend.Host,
		backendPort:        cfg.Backend.Port,
		bufCap:             cfg.Proxy.BufferSizeBytes,
		maxRequestSize:     cfg.Proxy.MaxRequestSizeBytes,
		maxRequestsPerConn: cfg.Proxy.MaxRequestsPerConn,
		connectTimeout:     cfg.Proxy.ConnectTimeout,
		idleTimeout:        cfg.Proxy.IdleTimeout,
		events:             make([]poller.Event, cfg.Proxy.MaxEvents),
		listenFD:           -1,
	}

	e.pool = conn.NewPool(cfg.Proxy.MaxConnections, e.bufCap)
	e.requests = pool.NewLitePool(func() *httpframe.Request {
		return httpframe.NewRequest()
	})

	p, err := poller.New(cfg.Proxy.MaxEvents)
	if err != nil {
		return nil, err
	}
	e.poller = p

	fd, err := poller.Listen(cfg.Server.Host, cfg.Server.Port)
	if err != nil {
		p.Close()
		return nil, err
	}
	e.listenFD = fd

	port, err := poller.BoundPort(fd)
	if err != nil {
		e.closeListener()
		return nil, err
	}
	e.listenPort = port

	if err := e.poller.Add(fd, poller.Readable, listenerToken); err != nil {
		e.closeListener()
		return nil, fmt.Errorf("registering listener: %w", err)
	}

	return e, nil
}

// ListenPort reports the bound port; useful when configured with port 0.
func (e *Engine) ListenPort() int { return e.listenPort }

// Run drives the event loop until the context is cancelled. Handlers never
// return errors upward — every outcome becomes a state transition or a
// teardown — so the only exits are cancellation and a broken multiplexer.
func (e *Engine) Run(ctx context.Context) error {
	e.lastMaintenance = time.Now()

	for ctx.Err() == nil {
		n, err := e.poller.Wait(e.events, waitTimeoutMs)
		if err != nil {
			return fmt.Errorf("event loop: %w", err)
		}

		for i := 0; i < n; i++ {
			e.handleEvent(e.events[i])
		}

		if time.Since(e.lastMaintenance) >= maintenanceInterval {
			e.maintain()
			e.lastMaintenance = time.Now()
		}
	}
	return nil
}

func (e *Engine) handleEvent(ev poller.Event) {
	if ev.Token == listenerToken {
		e.handleAccept()
		return
	}

	idx, gen := conn.SplitToken(ev.Token)
	s := e.pool.Get(idx, gen)
	if s == nil {
		// Stale event for a slot recycled earlier in this batch.
		return
	}

	if ev.Closed() {
		if ev.Fatal() {
			e.handleClosedEdge(s)
			return
		}
		// Peer half-closed (RDHUP). Data may still be queued ahead of the
		// FIN; the read drain surfaces the EOF itself and applies the close
		// policy with the pending bytes already forwarded.
		e.handleRead(s)
		if e.pool.Get(idx, gen) == nil {
			return
		}
		if !ev.Readable() {
			e.handleClosedEdge(s)
		}
		return
	}

	if s.State() == conn.StateConnecting && ev.Writable() {
		if !e.handleConnect(s) {
			return
		}
	}

	// Writes before reads: draining destinations first frees buffer space
	// and amplifies backpressure.
	if ev.Writable() {
		e.handleWrite(s)
		// The write may have recycled or torn down the slot.
		if e.pool.Get(idx, gen) == nil {
			return
		}
	}

	if ev.Readable() {
		e.handleRead(s)
	}
}

// maintain runs once per second: connect-timeout enforcement always, idle
// eviction only when configured.
func (e *Engine) maintain() {
	now := time.Now()

	var connectTimeouts, idle []*conn.Slot
	e.pool.ForEachLive(func(s *conn.Slot) {
		switch {
		case s.State() == conn.StateConnecting && now.Sub(s.LastActive) > e.connectTimeout:
			connectTimeouts = append(connectTimeouts, s)
		case e.idleTimeout > 0 && now.Sub(s.LastActive) > e.idleTimeout:
			idle = append(idle, s)
		}
	})

	for _, s := range connectTimeouts {
		if s.State() != conn.StateConnecting {
			continue
		}
		e.stats.Error()
		e.upstreamFailed(s)
	}
	for _, s := range idle {
		if s.State() == conn.StateFree {
			continue
		}
		e.log.Debug("Closing idle connection", "fd", s.FD, "role", s.Role.String())
		e.closePair(s)
	}
}

// Shutdown closes every live slot, the listener and the multiplexer.
func (e *Engine) Shutdown() {
	var live []*conn.Slot
	e.pool.ForEachLive(func(s *conn.Slot) { live = append(live, s) })
	for _, s := range live {
		if s.State() != conn.StateFree {
			e.closeSlot(s)
		}
	}

	e.closeListener()
}

func (e *Engine) closeListener() {
	if e.listenFD >= 0 {
		_ = e.poller.Remove(e.listenFD)
		_ = unix.Close(e.listenFD)
		e.listenFD = -1
	}
	if e.poller != nil {
		_ = e.poller.Close()
		e.poller = nil
	}
}
