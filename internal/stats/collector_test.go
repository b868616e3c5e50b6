package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConnectionCounters(t *testing.T) {
	c := NewCollector()

	c.ConnectionOpened()
	c.ConnectionOpened()
	c.ConnectionClosed()
	c.ConnectionRejected()

	s := c.Snapshot()
	assert.Equal(t, int64(2), s.TotalConnections)
	assert.Equal(t, int64(1), s.ActiveConnections)
	assert.Equal(t, int64(1), s.RejectedConnections)
	assert.Equal(t, int64(0), s.Errors, "rejections are not errors")
}

func TestByteAndErrorCounters(t *testing.T) {
	c := NewCollector()
	c.BytesReceived(100)
	c.BytesReceived(28)
	c.BytesSent(64)
	c.Error()

	s := c.Snapshot()
	assert.Equal(t, int64(128), s.BytesReceived)
	assert.Equal(t, int64(64), s.BytesSent)
	assert.Equal(t, int64(1), s.Errors)
}

func TestRequestBreakdown(t *testing.T) {
	c := NewCollector()
	c.Request("GET")
	c.Request("GET")
	c.Request("POST")
	c.RequestMalformed()
	c.KeepAliveReused()

	s := c.Snapshot()
	assert.Equal(t, int64(3), s.RequestsTotal)
	assert.Equal(t, int64(1), s.RequestsMalformed)
	assert.Equal(t, int64(1), s.KeepAliveReused)

	// Sorted by method name for stable output.
	assert.Equal(t, []MethodCount{
		{Method: "GET", Count: 2},
		{Method: "POST", Count: 1},
	}, s.RequestsByMethod)
}
