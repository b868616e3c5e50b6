package stats

/*
	Centralised counters for the proxy. The engine is single-threaded, but
	the collector is read from the main goroutine at shutdown and by anything
	that wants a live snapshot, so the counters are xsync rather than plain
	ints — they are cheap enough that the hot path does not care.
*/

import (
	"sort"

	"github.com/puzpuzpuz/xsync/v4"
)

type Collector struct {
	totalConnections    *xsync.Counter
	activeConnections   *xsync.Counter
	rejectedConnections *xsync.Counter
	bytesReceived       *xsync.Counter
	bytesSent           *xsync.Counter
	errors              *xsync.Counter

	// HTTP mode only.
	requestsTotal     *xsync.Counter
	requestsMalformed *xsync.Counter
	keepAliveReused   *xsync.Counter
	requestsByMethod  *xsync.Map[string, *xsync.Counter]
}

func NewCollector() *Collector {
	return &Collector{
		totalConnections:    xsync.NewCounter(),
		activeConnections:   xsync.NewCounter(),
		rejectedConnections: xsync.NewCounter(),
		bytesReceived:       xsync.NewCounter(),
		bytesSent:           xsync.NewCounter(),
		errors:              xsync.NewCounter(),
		requestsTotal:       xsync.NewCounter(),
		requestsMalformed:   xsync.NewCounter(),
		keepAliveReused:     xsync.NewCounter(),
		requestsByMethod:    xsync.NewMap[string, *xsync.Counter](),
	}
}

func (c *Collector) ConnectionOpened() {
	c.totalConnections.Inc()
	c.activeConnections.Inc()
}

func (c *Collector) ConnectionClosed() {
	c.activeConnections.Dec()
}

// ConnectionRejected records a newcomer turned away on pool exhaustion.
// Deliberately not an error: no live connection was harmed.
func (c *Collector) ConnectionRejected() {
	c.rejectedConnections.Inc()
}

func (c *Collector) BytesReceived(n int) { c.bytesReceived.Add(int64(n)) }
func (c *Collector) BytesSent(n int)     { c.bytesSent.Add(int64(n)) }
func (c *Collector) Error()              { c.errors.Inc() }

func (c *Collector) Request(method string) {
	c.requestsTotal.Inc()
	counter, _ := c.requestsByMethod.LoadOrCompute(method, func() (*xsync.Counter, bool) {
		return xsync.NewCounter(), false
	})
	counter.Inc()
}

func (c *Collector) RequestMalformed() { c.requestsMalformed.Inc() }
func (c *Collector) KeepAliveReused() { c.keepAliveReused.Inc() }

// MethodCount is one row of the per-method breakdown.
type MethodCount struct {
	Method string
	Count  int64
}

// Snapshot is a point-in-time copy with plain integers, safe to format and
// log after the loop has exited.
type Snapshot struct {
	TotalConnections    int64
	ActiveConnections   int64
	RejectedConnections int64
	BytesReceived       int64
	BytesSent           int64
	Errors              int64

	RequestsTotal     int64
	RequestsMalformed int64
	KeepAliveReused   int64
	RequestsByMethod  []MethodCount
}

func (c *Collector) Snapshot() Snapshot {
	s := Snapshot{
		TotalConnections:    c.totalConnections.Value(),
		ActiveConnections:   c.activeConnections.Value(),
		RejectedConnections: c.rejectedConnections.Value(),
		BytesReceived:       c.bytesReceived.Value(),
		BytesSent:           c.bytesSent.Value(),
		Errors:              c.errors.Value(),
		RequestsTotal:       c.requestsTotal.Value(),
		RequestsMalformed:   c.requestsMalformed.Value(),
		KeepAliveReused:     c.keepAliveReused.Value(),
	}

	c.requestsByMethod.Range(func(method string, counter *xsync.Counter) bool {
		s.RequestsByMethod = append(s.RequestsByMethod, MethodCount{
			Method: method,
			Count:  counter.Value(),
		})
		return true
	})
	sort.Slice(s.RequestsByMethod, func(i, j int) bool {
		return s.RequestsByMethod[i].Method < s.RequestsByMethod[j].Method
	})
	return s
}
