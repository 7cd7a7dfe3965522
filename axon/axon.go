// Package axon implements the endpoint façade over the sock transport:
// six socket roles (PUB/SUB/PUSH/PULL/REQ/REP) sharing one TCP
// multiplexer and one wire format.
//
// An endpoint is created with a role and can then bind and connect at the
// same time — it may accept many inbound peers while dialing several
// remote hosts, all feeding the same pattern handler.
//
//	Create("pub") → Bind(3000)            broadcast to every subscriber
//	Create("sub") → Connect(host, 3000)   topic-filtered delivery
//	Create("push")/Create("pull")         round-robin work distribution
//	Create("req")/Create("rep")           correlated request/response
package axon

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/joelguittet/go-axon/amp"
	"github.com/joelguittet/go-axon/middleware"
	"github.com/joelguittet/go-axon/sock"
)

// Role selects the pattern an endpoint plays.
type Role int

const (
	RolePub Role = iota
	RoleSub
	RolePush
	RolePull
	RoleReq
	RoleRep
)

func (r Role) String() string {
	switch r {
	case RolePub:
		return "pub"
	case RoleSub:
		return "sub"
	case RolePush:
		return "push"
	case RolePull:
		return "pull"
	case RoleReq:
		return "req"
	case RoleRep:
		return "rep"
	}
	return "unknown"
}

var (
	// ErrInvalidRole is returned by Create for an unknown role string.
	ErrInvalidRole = errors.New("axon: invalid role")

	// ErrNotApplicable is returned when an operation does not exist for
	// the endpoint's role, e.g. Subscribe on a PUB.
	ErrNotApplicable = errors.New("axon: operation not applicable to role")

	// ErrTimeout is returned by Request when no response carrying the
	// matching correlation id arrives in time.
	ErrTimeout = errors.New("axon: request timed out")

	// ErrReleased is returned by operations on a released endpoint.
	ErrReleased = errors.New("axon: endpoint released")
)

// Handler signatures. Aliases, so plain func literals can be passed to On
// without conversion. User data is carried by closure capture.
type (
	// BindHandler is invoked with the actual port once a listener is up.
	BindHandler = func(a *Axon, port uint16)

	// MessageHandler is invoked for every received message. The returned
	// message is used as the reply by REP endpoints; every other role
	// ignores it. Returning nil sends nothing.
	MessageHandler = func(a *Axon, msg *amp.Message) *amp.Message

	// ErrorHandler receives advisory transport errors.
	ErrorHandler = func(a *Axon, err error)

	// SubscribeHandler is invoked with the matched topic and the message
	// with the topic field already stripped.
	SubscribeHandler = func(a *Axon, topic string, msg *amp.Message)
)

// Endpoint lifecycle states.
const (
	stateActive int32 = iota
	stateReleasing
	stateReleased
)

// Axon is one endpoint: a role, a transport, and the role's pattern
// state (subscriptions for SUB/PULL, the correlator and sequence counter
// for REQ).
type Axon struct {
	role  Role
	sock  *sock.Sock
	state atomic.Int32

	seq        atomic.Uint32
	correlator *correlator
	subs       *subscriptions

	mu      sync.Mutex
	bindFn  BindHandler
	msgFn   MessageHandler
	errFn   ErrorHandler
	mws     []middleware.Middleware
	handler middleware.HandlerFunc
}

// Create builds an endpoint for the given role string: "pub", "sub",
// "push", "pull", "req" or "rep".
func Create(role string) (*Axon, error) {
	a := &Axon{
		correlator: newCorrelator(),
		subs:       newSubscriptions(),
	}
	switch role {
	case "pub":
		a.role = RolePub
	case "sub":
		a.role = RoleSub
	case "push":
		a.role = RolePush
	case "pull":
		a.role = RolePull
	case "req":
		a.role = RoleReq
	case "rep":
		a.role = RoleRep
	default:
		return nil, errors.Wrapf(ErrInvalidRole, "%q", role)
	}

	a.sock = sock.New()
	a.sock.OnBind(func(port uint16) {
		a.mu.Lock()
		fn := a.bindFn
		a.mu.Unlock()
		if fn != nil {
			fn(a, port)
		}
	})
	a.sock.OnMessage(a.dispatch)
	a.sock.OnError(func(err error) {
		a.mu.Lock()
		fn := a.errFn
		a.mu.Unlock()
		if fn != nil {
			fn(a, err)
		}
	})
	return a, nil
}

// Role returns the endpoint's role.
func (a *Axon) Role() Role {
	return a.role
}

// Bind starts listening on the given port. Bind and Connect may both be
// used on the same endpoint. Bind failures are reported through the
// "error" callback; the endpoint stays usable for other transports.
func (a *Axon) Bind(port uint16) error {
	if a.state.Load() != stateActive {
		return ErrReleased
	}
	return a.sock.Bind(port)
}

// Connect starts dialing the given host and port, reconnecting with
// exponential back-off for the lifetime of the endpoint.
func (a *Axon) Connect(host string, port uint16) error {
	if a.state.Load() != stateActive {
		return ErrReleased
	}
	return a.sock.Connect(host, port)
}

// IsConnected reports whether a dialer is registered for this exact host
// string and port, whether or not its TCP connection is currently up.
func (a *Axon) IsConnected(host string, port uint16) bool {
	return a.sock.IsConnected(host, port)
}

// On registers a callback for one of the endpoint events:
//
//	"bind"    → BindHandler
//	"message" → MessageHandler
//	"error"   → ErrorHandler
//
// An unknown event or a handler of the wrong type is rejected.
func (a *Axon) On(event string, handler any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch event {
	case "bind":
		fn, ok := handler.(BindHandler)
		if !ok {
			return errors.Errorf("axon: handler for %q must be a BindHandler", event)
		}
		a.bindFn = fn
	case "message":
		fn, ok := handler.(MessageHandler)
		if !ok {
			return errors.Errorf("axon: handler for %q must be a MessageHandler", event)
		}
		a.msgFn = fn
		a.handler = nil
	case "error":
		fn, ok := handler.(ErrorHandler)
		if !ok {
			return errors.Errorf("axon: handler for %q must be an ErrorHandler", event)
		}
		a.errFn = fn
	default:
		return errors.Errorf("axon: unknown event %q", event)
	}
	return nil
}

// Use appends a middleware around the inbound message handler.
// Middlewares are applied in the order they are added.
func (a *Axon) Use(mw middleware.Middleware) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mws = append(a.mws, mw)
	a.handler = nil
}

// messageHandler returns the middleware-wrapped message handler, or nil
// when no "message" callback is registered. The chain is rebuilt lazily
// after every On/Use change.
func (a *Axon) messageHandler() middleware.HandlerFunc {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.msgFn == nil {
		return nil
	}
	if a.handler == nil {
		fn := a.msgFn
		inner := func(ctx context.Context, msg *amp.Message) *amp.Message {
			return fn(a, msg)
		}
		a.handler = middleware.Chain(a.mws...)(inner)
	}
	return a.handler
}

// Subscribe registers a topic-pattern subscription. SUB and PULL only.
// The pattern is a POSIX extended regular expression, matched against the
// first STRING field of received messages. Subscribing an existing
// pattern replaces its handler in place.
func (a *Axon) Subscribe(pattern string, handler SubscribeHandler) error {
	if a.state.Load() != stateActive {
		return ErrReleased
	}
	if a.role != RoleSub && a.role != RolePull {
		return errors.Wrapf(ErrNotApplicable, "subscribe on %s", a.role)
	}
	return a.subs.add(pattern, handler)
}

// Unsubscribe removes a subscription by its exact pattern string.
func (a *Axon) Unsubscribe(pattern string) error {
	if a.role != RoleSub && a.role != RolePull {
		return errors.Wrapf(ErrNotApplicable, "unsubscribe on %s", a.role)
	}
	a.subs.remove(pattern)
	return nil
}

// Send transmits a message built from the given fields. PUB broadcasts to
// every peer; PUSH round-robins across peers, waiting with back-off when
// none is connected yet. The call returns once the message is queued;
// transport failures surface through the "error" callback.
func (a *Axon) Send(fields ...amp.Field) error {
	if a.state.Load() != stateActive {
		return ErrReleased
	}

	var dest sock.Destination
	switch a.role {
	case RolePub:
		dest = sock.Broadcast
	case RolePush:
		dest = sock.RoundRobin
	default:
		return errors.Wrapf(ErrNotApplicable, "send on %s", a.role)
	}

	buf, err := amp.Encode(&amp.Message{Fields: fields})
	if err != nil {
		return err
	}
	return a.sock.Send(buf, dest)
}

// Request transmits a message and waits for the correlated response, REQ
// only. A STRING correlation id field is appended to the outgoing
// message; the response is returned with the id already stripped. When no
// response arrives within the timeout, ErrTimeout is returned and a late
// response is silently dropped.
func (a *Axon) Request(timeout time.Duration, fields ...amp.Field) (*amp.Message, error) {
	if a.state.Load() != stateActive {
		return nil, ErrReleased
	}
	if a.role != RoleReq {
		return nil, errors.Wrapf(ErrNotApplicable, "request on %s", a.role)
	}

	id := fmt.Sprintf("%d:%d", os.Getpid(), a.seq.Add(1)-1)

	m := &amp.Message{Fields: fields}
	m.PushString(id)
	buf, err := amp.Encode(m)
	if err != nil {
		return nil, err
	}

	// The slot must exist before the send: the response can arrive
	// before Send even returns.
	ch := a.correlator.create(id)
	if err := a.sock.Send(buf, sock.RoundRobin); err != nil {
		a.correlator.cancel(id)
		return nil, err
	}
	resp, ok := a.correlator.await(id, ch, timeout)
	if !ok {
		return nil, ErrTimeout
	}
	return resp, nil
}

// Reply builds a response message from the given fields, for use as the
// return value of a REP endpoint's "message" callback.
func (a *Axon) Reply(fields ...amp.Field) *amp.Message {
	return &amp.Message{Fields: fields}
}

// Release shuts the endpoint down: every worker is cancelled at its next
// suspension point, every socket is closed, subscriptions are freed and
// pending requests are woken. Safe to call more than once; Bind, Connect,
// Subscribe, Send and Request on a released endpoint fail with ErrReleased.
func (a *Axon) Release() {
	if !a.state.CompareAndSwap(stateActive, stateReleasing) {
		return
	}
	a.sock.Release()
	a.correlator.close()
	a.subs.clear()
	a.state.Store(stateReleased)
}
