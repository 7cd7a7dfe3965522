// Package sock implements the TCP transport underneath an axon endpoint.
//
// A single Sock can listen on several ports and dial several remote hosts
// at the same time; every resulting connection lands in one shared client
// set. Three delivery modes are supported on top of that set: broadcast to
// every peer, round-robin across peers, and unicast to one named peer.
//
//	Bind(port) ────→ listener worker ──accept──→ per-peer read loop ─┐
//	Connect(h,p) ──→ dialer worker (reconnect + read loop) ──────────┼──→ message callback
//	Send(buf, dest) → send worker → client set → TCP                 │
//	                                                   error callback┘
//
// Reads are decoupled from dispatch: each chunk read from a peer is handed
// to a short-lived worker invoking the message callback, so a slow
// consumer never stalls the read loop of another peer.
package sock

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
)

// Back-off bounds shared by dialers and the round-robin wait. Every
// back-off sleep ends at once when the Sock is released.
const (
	backoffInitial = 100 * time.Millisecond
	backoffFactor  = 1.5
	backoffMax     = 5 * time.Second

	// A round-robin send waiting for a peer gives up the this-many-th
	// time the back-off reaches its cap; that last cap-hit is not slept,
	// so the wait includes one fewer sleep at the cap.
	roundRobinCapHits = 3

	readBufferSize = 64 * 1024
)

// Error strings surfaced through the error callback on bind failures.
const (
	errMsgReuseAddr = "sock: unable to set socket option SO_REUSEADDR"
	errMsgBind      = "sock: unable to bind socket"
	errMsgListen    = "sock: unable to listen socket"
)

// ErrReleased is returned by operations on a Sock after Release.
var ErrReleased = errors.New("sock: released")

// BindFunc is invoked with the actual bound port once a listener is up.
type BindFunc func(port uint16)

// MessageFunc receives one raw chunk read from a peer. The buffer may
// contain several coalesced frames; it belongs to the callback.
type MessageFunc func(buf []byte, peer *Peer)

// ErrorFunc receives advisory transport errors.
type ErrorFunc func(err error)

// Sock is a reusable TCP endpoint: any number of listeners, any number of
// reconnecting dialers, one shared client set, and a send scheduler.
type Sock struct {
	clients *ClientSet

	mu        sync.Mutex
	listeners []*listener
	dialers   []*dialer
	released  bool

	done chan struct{}
	wg   sync.WaitGroup

	bindFn BindFunc
	msgFn  MessageFunc
	errFn  ErrorFunc
}

// New creates an idle Sock. Callbacks should be registered before the
// first Bind or Connect.
func New() *Sock {
	return &Sock{
		clients: NewClientSet(),
		done:    make(chan struct{}),
	}
}

// OnBind registers the bind callback.
func (s *Sock) OnBind(fn BindFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindFn = fn
}

// OnMessage registers the message callback.
func (s *Sock) OnMessage(fn MessageFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgFn = fn
}

// OnError registers the error callback.
func (s *Sock) OnError(fn ErrorFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errFn = fn
}

// Clients exposes the live peer set.
func (s *Sock) Clients() *ClientSet {
	return s.clients
}

// Bind starts a listener worker on the given port. The call returns once
// the worker is started; bind failures are reported asynchronously
// through the error callback, and the listener worker exits while the
// rest of the Sock keeps running.
func (s *Sock) Bind(port uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return ErrReleased
	}
	l := &listener{sock: s, port: port}
	s.listeners = append(s.listeners, l)
	s.wg.Add(1)
	go l.run()
	return nil
}

// Connect starts a dialer worker for the given host and port. The worker
// reconnects with exponential back-off for the lifetime of the Sock;
// connect failures are never surfaced.
func (s *Sock) Connect(host string, port uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return ErrReleased
	}
	d := &dialer{sock: s, host: host, port: port}
	s.dialers = append(s.dialers, d)
	s.wg.Add(1)
	go d.run()
	return nil
}

// IsConnected reports whether a dialer exists for this exact host string
// and port. This is a registry check, not a liveness probe: it stays true
// while the dialer is between reconnect attempts.
func (s *Sock) IsConnected(host string, port uint16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.dialers {
		if d.host == host && d.port == port {
			return true
		}
	}
	return false
}

// Release stops every worker, closes every socket and waits for the
// workers to finish. Safe to call more than once.
func (s *Sock) Release() {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	listeners := s.listeners
	s.mu.Unlock()

	close(s.done)
	for _, l := range listeners {
		l.close()
	}
	s.clients.CloseAll()
	s.wg.Wait()
}

// Drop deregisters and closes a peer, typically after a malformed frame.
func (s *Sock) Drop(p *Peer) {
	s.clients.Remove(p)
	p.Close()
}

// readLoop reads from a peer until the connection fails, handing each
// chunk to a short-lived dispatch worker. On exit the peer is removed
// from the client set and closed.
func (s *Sock) readLoop(p *Peer) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := p.conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			s.dispatch(data, p)
		}
		if err != nil {
			s.clients.Remove(p)
			p.Close()
			return
		}
	}
}

func (s *Sock) dispatch(data []byte, p *Peer) {
	s.mu.Lock()
	fn := s.msgFn
	s.mu.Unlock()
	if fn == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(data, p)
	}()
}

func (s *Sock) reportError(err error) {
	s.mu.Lock()
	fn := s.errFn
	s.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (s *Sock) invokeBind(port uint16) {
	s.mu.Lock()
	fn := s.bindFn
	s.mu.Unlock()
	if fn != nil {
		fn(port)
	}
}

// newBackOff returns the shared reconnect/wait back-off policy:
// 100 ms initial, ×1.5, capped at 5 s, never giving up on its own.
func newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = backoffInitial
	b.Multiplier = backoffFactor
	b.MaxInterval = backoffMax
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// sleep waits for d or until the Sock is released, reporting false on
// release.
func (s *Sock) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.done:
		return false
	case <-t.C:
		return true
	}
}
