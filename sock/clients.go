package sock

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Peer is a single live TCP connection, accepted by a listener or
// established by a dialer. Reads are owned exclusively by the owning
// worker; writes can come from any send worker and are serialised by a
// per-peer mutex so frames never interleave on the stream. Close does
// not take the write mutex: closing the connection is what unblocks a
// stalled write.
type Peer struct {
	id   string
	conn net.Conn

	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
}

func newPeer(conn net.Conn) *Peer {
	return &Peer{
		id:   uuid.NewString(),
		conn: conn,
	}
}

// ID returns the peer identity, stable for the lifetime of the connection.
func (p *Peer) ID() string {
	return p.id
}

// RemoteAddr returns the remote network address of the peer.
func (p *Peer) RemoteAddr() net.Addr {
	return p.conn.RemoteAddr()
}

// Send writes buf to the peer as a single atomic write.
func (p *Peer) Send(buf []byte) error {
	if p.closed.Load() {
		return errors.Errorf("sock: peer %s is closed", p.id)
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if _, err := p.conn.Write(buf); err != nil {
		return errors.Wrapf(err, "sock: send to peer %s", p.id)
	}
	return nil
}

// Close shuts the connection down, unblocking any pending read or write.
// Safe to call more than once.
func (p *Peer) Close() {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		p.conn.Close()
	})
}

// ClientSet tracks every live peer of a Sock, across all of its listeners
// and dialers, together with the round-robin cursor used by PUSH/REQ style
// sends. All operations are serialised by a single mutex.
type ClientSet struct {
	mu     sync.Mutex
	peers  []*Peer
	cursor int
	closed bool
}

// NewClientSet creates an empty set.
func NewClientSet() *ClientSet {
	return &ClientSet{}
}

// Add registers a peer. It reports false when the set has already been
// closed, in which case the peer is closed immediately.
func (s *ClientSet) Add(p *Peer) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		p.Close()
		return false
	}
	s.peers = append(s.peers, p)
	s.mu.Unlock()
	return true
}

// Remove deregisters a peer. The cursor is pulled back when the removed
// peer sat before it, so no un-visited peer is skipped by the next
// round-robin pick.
func (s *ClientSet) Remove(p *Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cur := range s.peers {
		if cur == p {
			s.peers = append(s.peers[:i], s.peers[i+1:]...)
			if i < s.cursor && s.cursor > 0 {
				s.cursor--
			}
			return
		}
	}
}

// Len returns the number of live peers.
func (s *ClientSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// PickRoundRobin returns the peer at the cursor (wrapping around) and
// advances the cursor past it, or nil when the set is empty.
func (s *ClientSet) PickRoundRobin() *Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.peers) == 0 {
		return nil
	}
	idx := s.cursor % len(s.peers)
	p := s.peers[idx]
	s.cursor = (idx + 1) % len(s.peers)
	return p
}

// Snapshot returns a copy of the current peer list, for operations that
// must not hold the set lock while touching the network.
func (s *ClientSet) Snapshot() []*Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Peer, len(s.peers))
	copy(out, s.peers)
	return out
}

// CloseAll closes every peer and rejects further Adds. Blocked read loops
// wake up with an error once their connection is closed.
func (s *ClientSet) CloseAll() {
	s.mu.Lock()
	s.closed = true
	peers := s.peers
	s.peers = nil
	s.cursor = 0
	s.mu.Unlock()
	for _, p := range peers {
		p.Close()
	}
}
