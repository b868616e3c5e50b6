package conn

import (
	"time"

	"github.com/thushan/glide/internal/httpframe"
	"github.com/thushan/glide/internal/netbuf"
)

const noPeer = -1

// Slot is one pooled connection. It owns its two buffers exclusively; the
// peer link is a non-owning index+generation reference into the same pool,
// so a recycled peer slot can never be reached through a stale link.
type Slot struct {
	FD    int
	Index uint32

	// Gen increments every time the slot is freed. Tokens and peer links
	// embed the generation they were minted with.
	Gen uint32

	Role  Role
	state State

	peerIdx int32
	peerGen uint32

	ReadBuf  *netbuf.Buffer
	WriteBuf *netbuf.Buffer

	// LastActive is refreshed on every productive read or write and drives
	// the connect/idle timeouts in the maintenance tick.
	LastActive time.Time

	// HTTP-mode client bookkeeping.
	Request         *httpframe.Request
	KeepAlive       bool
	RequestsHandled int
	ResponseStarted bool
}

// Token packs the slot identity for the multiplexer: index in the low word,
// generation in the high word.
func (s *Slot) Token() uint64 {
	return uint64(s.Index) | uint64(s.Gen)<<32
}

// SplitToken recovers the (index, generation) pair from a multiplexer token.
func SplitToken(token uint64) (index uint32, gen uint32) {
	return uint32(token), uint32(token >> 32)
}

// State returns the current lifecycle state.
func (s *Slot) State() State { return s.state }

// SetState moves the slot to a new state. Kept as a method so transitions
// stay greppable and can grow assertions or tracing.
func (s *Slot) SetState(st State) { s.state = st }

// Touch refreshes the activity timestamp.
func (s *Slot) Touch() { s.LastActive = time.Now() }

// HasPeer reports whether a peer link is set, without validating it.
func (s *Slot) HasPeer() bool { return s.peerIdx != noPeer }

func (s *Slot) reset() {
	s.FD = -1
	s.state = StateFree
	s.Role = RoleClient
	s.peerIdx = noPeer
	s.peerGen = 0
	s.ReadBuf.Clear()
	s.WriteBuf.Clear()
	s.LastActive = time.Time{}
	s.Request = nil
	s.KeepAlive = false
	s.RequestsHandled = 0
	s.ResponseStarted = false
}
