package sock

import (
	"testing"
	"time"
)

func TestUnicastSendToPeer(t *testing.T) {
	srv := New()
	defer srv.Release()

	peerCh := make(chan *Peer, 1)
	srv.OnMessage(func(buf []byte, peer *Peer) {
		peerCh <- peer
	})
	port := bindSock(t, srv)

	cli := New()
	defer cli.Release()
	replyCh := make(chan []byte, 1)
	cli.OnMessage(func(buf []byte, peer *Peer) {
		replyCh <- buf
	})
	if err := cli.Connect("127.0.0.1", port); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 2*time.Second, func() bool { return cli.Clients().Len() == 1 })

	// The client talks first so the server learns its peer.
	if err := cli.Send([]byte("hi"), Broadcast); err != nil {
		t.Fatal(err)
	}
	var peer *Peer
	select {
	case peer = <-peerCh:
	case <-time.After(2 * time.Second):
		t.Fatal("server did not see the client")
	}

	// Answer on that exact socket.
	if err := srv.Send([]byte("yo"), To(peer)); err != nil {
		t.Fatal(err)
	}
	select {
	case buf := <-replyCh:
		if string(buf) != "yo" {
			t.Fatalf("expect 'yo', got %q", buf)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("unicast reply not delivered")
	}
}

func TestUnicastToDeadPeerDropsIt(t *testing.T) {
	s := New()
	defer s.Release()

	p, _ := pipePeer(t)
	s.clients.Add(p)
	p.Close()

	errCh := make(chan error, 1)
	s.OnError(func(err error) {
		select {
		case errCh <- err:
		default:
		}
	})

	if err := s.Send([]byte("x"), To(p)); err != nil {
		t.Fatal(err)
	}
	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("send failure not reported")
	}
	waitFor(t, 2*time.Second, func() bool { return s.clients.Len() == 0 })
}

func TestRoundRobinGivesUpWithoutPeers(t *testing.T) {
	if testing.Short() {
		t.Skip("waits through the full round-robin back-off")
	}

	s := New()
	defer s.Release()

	errCh := make(chan error, 1)
	s.OnError(func(err error) {
		select {
		case errCh <- err:
		default:
		}
	})

	if err := s.Send([]byte("x"), RoundRobin); err != nil {
		t.Fatal(err)
	}

	// 100ms·1.5ⁿ reaches the 5s cap after 10 sleeps (~11.3s), then two
	// more sleeps at the cap before the third cap-hit gives up (~21.3s).
	select {
	case err := <-errCh:
		if err == ErrReleased {
			t.Fatalf("expect give-up error, got release: %v", err)
		}
	case <-time.After(60 * time.Second):
		t.Fatal("round-robin send never gave up")
	}
}
