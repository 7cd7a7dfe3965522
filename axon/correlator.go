package axon

import (
	"sync"
	"time"

	"github.com/joelguittet/go-axon/amp"
)

// correlator pairs REQ responses with their waiting requesters. Each
// outstanding request owns a single-slot channel keyed by its correlation
// id; the receive path fulfils the slot as frames arrive, the requester
// waits on it with a deadline. A slot is consumed exactly once: either by
// the first matching response or by the timeout, whichever happens first.
type correlator struct {
	mu      sync.Mutex
	pending map[string]chan *amp.Message
	closed  bool
}

func newCorrelator() *correlator {
	return &correlator{
		pending: make(map[string]chan *amp.Message),
	}
}

// create registers a slot for id. Must be called before the request is
// sent: the response can arrive before the send call even returns.
func (c *correlator) create(id string) chan *amp.Message {
	ch := make(chan *amp.Message, 1)
	c.mu.Lock()
	if c.closed {
		close(ch)
	} else {
		c.pending[id] = ch
	}
	c.mu.Unlock()
	return ch
}

// fulfil delivers a response to the slot for id, best effort: when the
// requester already timed out (no slot), the message is dropped.
func (c *correlator) fulfil(id string, m *amp.Message) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if ok {
		ch <- m // Capacity 1, never blocks
	}
}

// await blocks until the slot is fulfilled or the timeout elapses. On
// timeout the slot is removed, so a late response is dropped by fulfil.
func (c *correlator) await(id string, ch chan *amp.Message, timeout time.Duration) (*amp.Message, bool) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case m, ok := <-ch:
		return m, ok && m != nil
	case <-t.C:
		c.cancel(id)
		// fulfil may have won the race with the timer; prefer delivery.
		select {
		case m, ok := <-ch:
			return m, ok && m != nil
		default:
			return nil, false
		}
	}
}

// cancel removes the slot for id, if still present.
func (c *correlator) cancel(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// close wakes every pending requester empty-handed and rejects further
// slots.
func (c *correlator) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}
