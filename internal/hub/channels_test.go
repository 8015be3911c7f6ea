package hub

import (
	"testing"
	"time"
)

func recvPayload(t *testing.T, c *Conn) []byte {
	t.Helper()
	select {
	case data := <-c.send:
		return data
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for payload")
		return nil
	}
}

func assertNoPayload(t *testing.T, c *Conn) {
	t.Helper()
	select {
	case data := <-c.send:
		t.Fatalf("unexpected payload: %s", data)
	default:
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	x := NewSubscriptionIndex()
	c := testConn("agent_1", "")

	x.Subscribe(c, "proj-1")
	if got := x.Subscribers("proj-1"); got != 1 {
		t.Fatalf("expected 1 subscriber, got %d", got)
	}

	x.Unsubscribe(c, "proj-1")
	if got := x.Subscribers("proj-1"); got != 0 {
		t.Fatalf("expected 0 subscribers, got %d", got)
	}
	if got := x.ChannelCount(); got != 0 {
		t.Fatalf("empty channel should be dropped, have %d channels", got)
	}

	// Idempotent: a second unsubscribe is a no-op.
	x.Unsubscribe(c, "proj-1")
	if got := x.ChannelCount(); got != 0 {
		t.Fatalf("unexpected channels after double unsubscribe: %d", got)
	}
}

func TestDuplicateSubscribeCountsOnce(t *testing.T) {
	x := NewSubscriptionIndex()
	c := testConn("agent_1", "")

	x.Subscribe(c, "proj-1")
	x.Subscribe(c, "proj-1")
	if got := x.Subscribers("proj-1"); got != 1 {
		t.Fatalf("expected set semantics, got %d subscribers", got)
	}
}

func TestBroadcastIsolation(t *testing.T) {
	x := NewSubscriptionIndex()
	a := testConn("agent_a", "")
	b := testConn("agent_b", "")
	c := testConn("agent_c", "")

	x.Subscribe(a, "proj-1")
	x.Subscribe(b, "proj-2")
	x.Subscribe(c, "proj-1")

	delivered := x.Broadcast("proj-1", []byte(`hello`), a)
	if delivered != 1 {
		t.Fatalf("expected 1 delivery, got %d", delivered)
	}
	if got := string(recvPayload(t, c)); got != "hello" {
		t.Fatalf("unexpected payload: %q", got)
	}
	assertNoPayload(t, a) // excluded sender
	assertNoPayload(t, b) // different channel
}

func TestBroadcastEmptyChannelIsNoOp(t *testing.T) {
	x := NewSubscriptionIndex()
	if delivered := x.Broadcast("proj-9", []byte(`x`), nil); delivered != 0 {
		t.Fatalf("expected silent no-op, delivered %d", delivered)
	}
}

func TestChannelsOf(t *testing.T) {
	x := NewSubscriptionIndex()
	c := testConn("agent_1", "")

	x.Subscribe(c, "proj-1")
	x.Subscribe(c, "proj-2")

	channels := x.ChannelsOf(c)
	if len(channels) != 2 {
		t.Fatalf("expected 2 channels, got %v", channels)
	}
}
