package conn

import (
	"errors"
	"fmt"

	"github.com/thushan/glide/internal/netbuf"
)

// DefaultMaxConnections bounds memory: two 16 KiB buffers per slot.
const DefaultMaxConnections = 10000

// ErrExhausted is returned by Alloc when every slot is in use. The caller
// must reject the newcomer; evicting live connections is forbidden.
var ErrExhausted = errors.New("connection pool exhausted")

// Pool is a fixed arena of slots with a LIFO free list. Last freed is first
// allocated, so a just-recycled slot's buffers are still cache-hot.
type Pool struct {
	slots []Slot
	free  []uint32
}

// NewPool preallocates n slots with bufCap-sized buffers each. The free list
// is built in reverse so slot 0 is handed out first, which makes debugging
// output easier to follow.
func NewPool(n, bufCap int) *Pool {
	if n <= 0 {
		n = DefaultMaxConnections
	}

	p := &Pool{
		slots: make([]Slot, n),
		free:  make([]uint32, n),
	}
	for i := range p.slots {
		s := &p.slots[i]
		s.Index = uint32(i)
		s.FD = -1
		s.peerIdx = noPeer
		s.ReadBuf = netbuf.New(bufCap)
		s.WriteBuf = netbuf.New(bufCap)
		p.free[i] = uint32(n - 1 - i)
	}
	return p
}

// Alloc pops a slot from the free list in O(1). The slot comes back in
// StateFree with cleared buffers; the caller initialises fd, role and state.
func (p *Pool) Alloc() (*Slot, error) {
	if len(p.free) == 0 {
		return nil, ErrExhausted
	}

	idx := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]

	s := &p.slots[idx]
	if s.state != StateFree {
		panic(fmt.Sprintf("connpool: allocated slot %d in state %s", idx, s.state))
	}
	return s, nil
}

// Free resets the slot, bumps its generation and pushes it back. Double-free
// is a bug signal, not a recoverable condition.
func (p *Pool) Free(s *Slot) {
	if s == nil {
		return
	}
	if s.state == StateFree {
		panic(fmt.Sprintf("connpool: double free of slot %d", s.Index))
	}
	if len(p.free) >= len(p.slots) {
		panic("connpool: free list overflow")
	}

	p.Unpair(s)
	s.reset()
	s.Gen++
	p.free = append(p.free, s.Index)
}

// Get resolves a token's (index, generation) pair to a live slot, or nil when
// the reference is stale or out of range.
func (p *Pool) Get(index, gen uint32) *Slot {
	if int(index) >= len(p.slots) {
		return nil
	}
	s := &p.slots[index]
	if s.Gen != gen || s.state == StateFree {
		return nil
	}
	return s
}

// Pair links two slots symmetrically. Neither side owns the other; the link
// only expresses "forward my reads to your writes, and vice versa".
func (p *Pool) Pair(a, b *Slot) {
	a.peerIdx = int32(b.Index)
	a.peerGen = b.Gen
	b.peerIdx = int32(a.Index)
	b.peerGen = a.Gen
}

// Unpair clears both ends of the link if present. Idempotent.
func (p *Pool) Unpair(s *Slot) {
	if s == nil || s.peerIdx == noPeer {
		return
	}
	peer := p.Get(uint32(s.peerIdx), s.peerGen)
	s.peerIdx = noPeer
	s.peerGen = 0
	if peer != nil && peer.peerIdx == int32(s.Index) {
		peer.peerIdx = noPeer
		peer.peerGen = 0
	}
}

// Peer resolves the peer link, returning nil for unpaired slots and for
// links that went stale across a recycle.
func (p *Pool) Peer(s *Slot) *Slot {
	if s.peerIdx == noPeer {
		return nil
	}
	return p.Get(uint32(s.peerIdx), s.peerGen)
}

// WantsRead decides readable interest. Forwarding states stop requesting
// readable events once the destination's write buffer fills; that is the
// entire backpressure mechanism — the kernel receive window then shrinks and
// slows the sender. A client framing a request has no peer yet and instead
// needs room in its own read buffer.
func (p *Pool) WantsRead(s *Slot) bool {
	switch s.state {
	case StateReadingRequest:
		return !s.ReadBuf.IsFull()
	case StateConnected:
		peer := p.Peer(s)
		return peer != nil && !peer.WriteBuf.IsFull()
	case StateWritingResponse:
		if s.Role != RoleUpstream {
			return false
		}
		peer := p.Peer(s)
		return peer != nil && !peer.WriteBuf.IsFull()
	default:
		return false
	}
}

// WantsWrite decides writable interest: an async connect awaiting its
// completion edge, or buffered bytes to drain.
func (p *Pool) WantsWrite(s *Slot) bool {
	if s.state == StateConnecting {
		return true
	}
	return s.state != StateFree && !s.WriteBuf.IsEmpty()
}

// CanRead gates the read drain itself.
func (p *Pool) CanRead(s *Slot) bool {
	return s.FD >= 0 && p.WantsRead(s)
}

// CanWrite gates the write drain: post-connect with bytes pending.
func (p *Pool) CanWrite(s *Slot) bool {
	return s.FD >= 0 && s.state != StateFree && s.state != StateConnecting &&
		!s.WriteBuf.IsEmpty()
}

// FreeCount reports how many slots remain available.
func (p *Pool) FreeCount() int { return len(p.free) }

// Cap reports the pool size.
func (p *Pool) Cap() int { return len(p.slots) }

// ForEachLive visits every non-free slot. The callback must not allocate or
// free slots while iterating.
func (p *Pool) ForEachLive(fn func(*Slot)) {
	for i := range p.slots {
		if p.slots[i].state != StateFree {
			fn(&p.slots[i])
		}
	}
}
