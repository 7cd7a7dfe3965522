package axon

import (
	"context"

	"github.com/joelguittet/go-axon/amp"
	"github.com/joelguittet/go-axon/sock"
)

// dispatch decodes every frame in a received chunk and routes each one
// according to the endpoint's role. Multiple messages can arrive in one
// read (but always from the same peer), so it loops until the whole
// buffer is consumed. A malformed frame drops the rest of the buffer and
// closes the offending peer.
func (a *Axon) dispatch(buf []byte, peer *sock.Peer) {
	for len(buf) > 0 {
		m, n, err := amp.Decode(buf)
		if err != nil {
			if peer != nil {
				a.sock.Drop(peer)
			}
			return
		}
		buf = buf[n:]

		switch a.role {
		case RoleReq:
			a.handleResponse(m)
		case RoleRep:
			a.handleRequest(m, peer)
		default:
			a.handleDelivery(m)
		}
	}
}

// handleResponse strips the correlation id field from the end of the
// response and hands the rest to the waiting requester. A response whose
// requester already timed out is silently dropped.
func (a *Axon) handleResponse(m *amp.Message) {
	id := m.Last()
	if id.Type != amp.TypeString {
		return
	}
	m.Fields = m.Fields[:len(m.Fields)-1]
	a.correlator.fulfil(id.String(), m)
}

// handleRequest strips the correlation id field from the end of the
// request, invokes the message handler, then sends the reply — with the
// id re-appended — back over the same peer the request arrived on. No
// reply from the handler means nothing is sent.
func (a *Axon) handleRequest(m *amp.Message, peer *sock.Peer) {
	id := *m.Last()
	m.Fields = m.Fields[:len(m.Fields)-1]

	handler := a.messageHandler()
	if handler == nil {
		return
	}
	rep := handler(context.Background(), m)
	if rep == nil {
		return
	}

	rep.Fields = append(rep.Fields, id)
	buf, err := amp.Encode(rep)
	if err != nil {
		return
	}
	a.sock.Send(buf, sock.To(peer))
}

// handleDelivery is the SUB/PULL path: the generic message handler sees
// the full message, then — when the first field is a STRING — every
// subscription whose pattern matches that topic is invoked with the
// topic stripped off.
func (a *Axon) handleDelivery(m *amp.Message) {
	if handler := a.messageHandler(); handler != nil {
		handler(context.Background(), m)
	}

	first := m.First()
	if first == nil || first.Type != amp.TypeString {
		return
	}
	topic := first.String()
	rest := &amp.Message{Fields: m.Fields[1:]}
	a.subs.dispatch(a, topic, rest)
}
