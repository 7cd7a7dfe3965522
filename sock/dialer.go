package sock

import (
	"net"
	"strconv"
	"time"
)

const dialTimeout = 5 * time.Second

// dialer maintains one outbound connection, reconnecting forever with
// exponential back-off. It stays registered on the Sock for its whole
// lifetime, which is what IsConnected checks.
type dialer struct {
	sock *Sock
	host string
	port uint16
}

// run loops: dial, read until the connection drops, back off, dial again.
// Connect failures are never surfaced; the loop only ends on Release.
func (d *dialer) run() {
	s := d.sock
	defer s.wg.Done()

	addr := net.JoinHostPort(d.host, strconv.Itoa(int(d.port)))
	bo := newBackOff()

	for {
		select {
		case <-s.done:
			return
		default:
		}

		conn, err := net.DialTimeout("tcp", addr, dialTimeout)
		if err != nil {
			if !s.sleep(bo.NextBackOff()) {
				return
			}
			continue
		}
		bo.Reset()

		peer := newPeer(conn)
		if !s.clients.Add(peer) {
			return
		}

		// Blocks until the peer drops, then we dial again.
		s.readLoop(peer)
	}
}
