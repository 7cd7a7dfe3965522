package sock

import (
	"github.com/pkg/errors"
)

const (
	destBroadcast = iota
	destRoundRobin
	destUnicast
)

// Destination selects which peers a send targets.
type Destination struct {
	kind int
	peer *Peer
}

// Broadcast targets every live peer.
var Broadcast = Destination{kind: destBroadcast}

// RoundRobin targets the peer at the round-robin cursor.
var RoundRobin = Destination{kind: destRoundRobin}

// To targets one named peer.
func To(p *Peer) Destination {
	return Destination{kind: destUnicast, peer: p}
}

// Send queues buf for transmission and returns immediately; the actual
// write runs in its own worker. Failures are advisory and surface through
// the error callback only. The buffer belongs to the send worker from
// here on.
func (s *Sock) Send(buf []byte, dest Destination) error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return ErrReleased
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.sendWorker(buf, dest)
	}()
	return nil
}

func (s *Sock) sendWorker(buf []byte, dest Destination) {
	switch dest.kind {
	case destBroadcast:
		// Each failing peer is dropped; the broadcast continues with the
		// remaining ones.
		for _, p := range s.clients.Snapshot() {
			if err := p.Send(buf); err != nil {
				s.Drop(p)
				s.reportError(err)
			}
		}

	case destRoundRobin:
		p, err := s.waitPeer()
		if err != nil {
			s.reportError(err)
			return
		}
		if err := p.Send(buf); err != nil {
			s.Drop(p)
			s.reportError(err)
		}

	case destUnicast:
		if err := dest.peer.Send(buf); err != nil {
			s.Drop(dest.peer)
			s.reportError(err)
		}
	}
}

// waitPeer picks the next round-robin peer, waiting with exponential
// back-off while the set is empty. It gives up on the third cap-hit of
// the back-off, or when the Sock is released.
func (s *Sock) waitPeer() (*Peer, error) {
	bo := newBackOff()
	capHits := 0
	for {
		if p := s.clients.PickRoundRobin(); p != nil {
			return p, nil
		}
		wait := bo.NextBackOff()
		if wait >= backoffMax {
			capHits++
			if capHits >= roundRobinCapHits {
				return nil, errors.New("sock: no peer available for round-robin send")
			}
		}
		if !s.sleep(wait) {
			return nil, ErrReleased
		}
	}
}
