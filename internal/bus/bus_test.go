package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	sub := b.Subscribe("session.", 10)
	defer sub.Cancel()

	b.Publish(Now(KindStatusChanged, "test"))

	select {
	case evt := <-sub.C:
		if evt.Kind != KindStatusChanged {
			t.Errorf("got kind %q, want %q", evt.Kind, KindStatusChanged)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	sub := b.Subscribe("message.", 10)
	defer sub.Cancel()

	b.Publish(Now(KindStatusChanged, nil))
	b.Publish(Now(KindMessageReceived, nil))

	select {
	case evt := <-sub.C:
		if evt.Kind != KindMessageReceived {
			t.Errorf("got kind %q, want %q", evt.Kind, KindMessageReceived)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// The session event must not have been delivered.
	select {
	case evt := <-sub.C:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCancel(t *testing.T) {
	b := New()
	sub := b.Subscribe("session.", 10)
	sub.Cancel()
	sub.Cancel() // idempotent

	b.Publish(Now(KindStatusChanged, nil))

	select {
	case evt := <-sub.C:
		t.Errorf("received event after cancel: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	sub := b.Subscribe("message.", 1)
	defer sub.Cancel()

	b.Publish(Now(KindMessageReceived, 1))
	// Buffer is full; this one is dropped instead of blocking.
	b.Publish(Now(KindMessageReceived, 2))

	evt := <-sub.C
	if evt.Payload != 1 {
		t.Errorf("got payload %v, want 1", evt.Payload)
	}
	select {
	case evt := <-sub.C:
		t.Errorf("unexpected second event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}
