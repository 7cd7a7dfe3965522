package sock

import (
	"context"
	"fmt"
	"net"
	"sync"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

var errSetReuseAddr = errors.New(errMsgReuseAddr)

// listener accepts inbound peers on one port. Accepted peers are owned by
// the listener for read and registered in the shared client set for write.
type listener struct {
	sock *Sock
	port uint16

	mu sync.Mutex
	ln net.Listener
}

// run opens the listening socket with SO_REUSEADDR, invokes the bind
// callback with the actual port, then accepts peers until the listener is
// closed. Setup failures are reported through the error callback and
// terminate only this worker.
func (l *listener) run() {
	s := l.sock
	defer s.wg.Done()

	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			if sockErr != nil {
				return errSetReuseAddr
			}
			return nil
		},
	}

	ln, err := lc.Listen(context.Background(), "tcp", fmt.Sprintf(":%d", l.port))
	if err != nil {
		if errors.Is(err, errSetReuseAddr) {
			s.reportError(errSetReuseAddr)
		} else {
			s.reportError(errors.New(errMsgBind))
		}
		s.removeListener(l)
		return
	}
	l.mu.Lock()
	l.ln = ln
	l.mu.Unlock()

	// Release may have raced the Listen call; re-check before accepting.
	select {
	case <-s.done:
		ln.Close()
		s.removeListener(l)
		return
	default:
	}

	s.invokeBind(uint16(ln.Addr().(*net.TCPAddr).Port))

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.reportError(errors.New(errMsgListen))
			}
			s.removeListener(l)
			return
		}
		peer := newPeer(conn)
		if !s.clients.Add(peer) {
			s.removeListener(l)
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.readLoop(peer)
		}()
	}
}

// close shuts the listening socket down, unblocking Accept.
func (l *listener) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln != nil {
		l.ln.Close()
	}
}

func (s *Sock) removeListener(l *listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cur := range s.listeners {
		if cur == l {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			return
		}
	}
}
