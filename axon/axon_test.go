package axon

import (
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/joelguittet/go-axon/amp"
)

func TestCreateRoles(t *testing.T) {
	for _, role := range []string{"pub", "sub", "push", "pull", "req", "rep"} {
		a, err := Create(role)
		if err != nil {
			t.Fatalf("Create(%q) failed: %v", role, err)
		}
		if a.Role().String() != role {
			t.Fatalf("expect role %q, got %q", role, a.Role())
		}
		a.Release()
	}
}

func TestCreateInvalidRole(t *testing.T) {
	if _, err := Create("dealer"); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expect ErrInvalidRole, got %v", err)
	}
}

func TestRoleRestrictions(t *testing.T) {
	pub, _ := Create("pub")
	defer pub.Release()
	sub, _ := Create("sub")
	defer sub.Release()
	pull, _ := Create("pull")
	defer pull.Release()
	req, _ := Create("req")
	defer req.Release()

	// Subscribe exists on SUB and PULL only.
	if err := pub.Subscribe("x", func(a *Axon, topic string, m *amp.Message) {}); !errors.Is(err, ErrNotApplicable) {
		t.Fatalf("expect ErrNotApplicable for subscribe on pub, got %v", err)
	}
	if err := sub.Subscribe("x", func(a *Axon, topic string, m *amp.Message) {}); err != nil {
		t.Fatalf("subscribe on sub failed: %v", err)
	}
	if err := pull.Subscribe("x", func(a *Axon, topic string, m *amp.Message) {}); err != nil {
		t.Fatalf("subscribe on pull failed: %v", err)
	}

	// Send exists on PUB and PUSH; REQ uses Request.
	if err := sub.Send(amp.String("x")); !errors.Is(err, ErrNotApplicable) {
		t.Fatalf("expect ErrNotApplicable for send on sub, got %v", err)
	}
	if err := req.Send(amp.String("x")); !errors.Is(err, ErrNotApplicable) {
		t.Fatalf("expect ErrNotApplicable for send on req, got %v", err)
	}

	// Request exists on REQ only.
	if _, err := pub.Request(time.Second, amp.String("x")); !errors.Is(err, ErrNotApplicable) {
		t.Fatalf("expect ErrNotApplicable for request on pub, got %v", err)
	}
}

func TestOnRejectsWrongHandlerType(t *testing.T) {
	a, _ := Create("pub")
	defer a.Release()

	if err := a.On("bind", func(a *Axon, port uint16) {}); err != nil {
		t.Fatalf("bind handler rejected: %v", err)
	}
	if err := a.On("message", func(a *Axon, m *amp.Message) *amp.Message { return nil }); err != nil {
		t.Fatalf("message handler rejected: %v", err)
	}
	if err := a.On("error", func(a *Axon, err error) {}); err != nil {
		t.Fatalf("error handler rejected: %v", err)
	}

	if err := a.On("bind", func() {}); err == nil {
		t.Fatal("expect error for wrong handler signature")
	}
	if err := a.On("disconnect", func(a *Axon, port uint16) {}); err == nil {
		t.Fatal("expect error for unknown event")
	}
}

func TestReleasedEndpointRejectsOperations(t *testing.T) {
	a, _ := Create("push")
	a.Release()
	a.Release() // idempotent

	if err := a.Bind(0); !errors.Is(err, ErrReleased) {
		t.Fatalf("expect ErrReleased from Bind, got %v", err)
	}
	if err := a.Connect("127.0.0.1", 1); !errors.Is(err, ErrReleased) {
		t.Fatalf("expect ErrReleased from Connect, got %v", err)
	}
	if err := a.Send(amp.Bigint(1)); !errors.Is(err, ErrReleased) {
		t.Fatalf("expect ErrReleased from Send, got %v", err)
	}

	req, _ := Create("req")
	req.Release()
	if _, err := req.Request(time.Second, amp.Bigint(1)); !errors.Is(err, ErrReleased) {
		t.Fatalf("expect ErrReleased from Request, got %v", err)
	}
}

func TestRequestCorrelationIds(t *testing.T) {
	a, _ := Create("req")
	defer a.Release()

	// Sequence numbers increase monotonically per endpoint.
	first := a.seq.Add(1) - 1
	second := a.seq.Add(1) - 1
	if second != first+1 {
		t.Fatalf("expect consecutive sequence numbers, got %d then %d", first, second)
	}
}

// fakeDelivery runs a raw chunk through the endpoint's dispatch path as
// if it had been read from the given peer.
func fakeDelivery(t *testing.T, a *Axon, m *amp.Message) {
	t.Helper()
	buf, err := amp.Encode(m)
	if err != nil {
		t.Fatal(err)
	}
	a.dispatch(buf, nil)
}

func TestSubDispatchStripsTopic(t *testing.T) {
	a, _ := Create("sub")
	defer a.Release()

	var generic *amp.Message
	a.On("message", func(ax *Axon, m *amp.Message) *amp.Message {
		generic = m
		return nil
	})

	var topic string
	var delivered *amp.Message
	a.Subscribe("topic1", func(ax *Axon, tp string, m *amp.Message) {
		topic = tp
		delivered = m
	})

	fakeDelivery(t, a, amp.NewMessage().PushString("topic1").PushBigint(7))

	// The generic handler sees the full message, topic included.
	if generic == nil || generic.Len() != 2 {
		t.Fatalf("generic handler should see 2 fields, got %v", generic)
	}
	if topic != "topic1" {
		t.Fatalf("expect topic 'topic1', got %q", topic)
	}
	// The subscription callback sees the message without the topic.
	if delivered == nil || delivered.Len() != 1 || delivered.First().Int != 7 {
		t.Fatalf("expect stripped message with bigint 7, got %v", delivered)
	}
}

func TestSubNonStringFirstField(t *testing.T) {
	a, _ := Create("sub")
	defer a.Release()

	genericFired := false
	a.On("message", func(ax *Axon, m *amp.Message) *amp.Message {
		genericFired = true
		return nil
	})
	subFired := false
	a.Subscribe(".*", func(ax *Axon, tp string, m *amp.Message) {
		subFired = true
	})

	// First field is a bigint: no subscription fires, the generic
	// handler still does.
	fakeDelivery(t, a, amp.NewMessage().PushBigint(1).PushString("not-a-topic"))

	if !genericFired {
		t.Fatal("generic handler must fire for non-topic messages")
	}
	if subFired {
		t.Fatal("subscription must not fire when the first field is not a string")
	}
}

func TestMultipleMatchingSubscriptions(t *testing.T) {
	a, _ := Create("sub")
	defer a.Release()

	counts := map[string]int{}
	a.Subscribe("top.*", func(ax *Axon, tp string, m *amp.Message) { counts["glob"]++ })
	a.Subscribe("topic1", func(ax *Axon, tp string, m *amp.Message) { counts["exact"]++ })

	fakeDelivery(t, a, amp.NewMessage().PushString("topic1").PushString("payload"))

	if counts["glob"] != 1 || counts["exact"] != 1 {
		t.Fatalf("expect both callbacks to fire exactly once, got %v", counts)
	}
}

func TestReqResponseDispatchFulfilsSlot(t *testing.T) {
	a, _ := Create("req")
	defer a.Release()

	ch := a.correlator.create("9:9")

	// A response frame carries the payload plus the trailing id field.
	fakeDelivery(t, a, amp.NewMessage().PushString("pong").PushString("9:9"))

	m, ok := a.correlator.await("9:9", ch, time.Second)
	if !ok {
		t.Fatal("expect response to fulfil the slot")
	}
	if m.Len() != 1 || m.First().String() != "pong" {
		t.Fatalf("expect id-stripped response, got %v", m)
	}
}

func TestRepNoHandlerDropsRequest(t *testing.T) {
	a, _ := Create("rep")
	defer a.Release()

	// No message handler registered: the request is dropped without
	// panicking and nothing is sent (nil peer would crash on a send).
	fakeDelivery(t, a, amp.NewMessage().PushString("ping").PushString("1:0"))
}

func TestMalformedFrameIsDropped(t *testing.T) {
	srv, _ := Create("pull")
	defer srv.Release()

	received := false
	srv.On("message", func(ax *Axon, m *amp.Message) *amp.Message {
		received = true
		return nil
	})

	// Garbage with a bad version nibble: the whole chunk is dropped.
	srv.dispatch([]byte{0xff, 0x00, 0x01}, nil)
	if received {
		t.Fatal("malformed frame must not reach the handler")
	}

	// A valid frame followed by garbage: the valid frame is delivered,
	// the rest of the chunk is dropped.
	valid, err := amp.Encode(amp.NewMessage().PushString("ok"))
	if err != nil {
		t.Fatal(err)
	}
	srv.dispatch(append(valid, 0xff), nil)
	if !received {
		t.Fatal("valid leading frame must reach the handler")
	}
}
