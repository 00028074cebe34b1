package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("inbox.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindInboxUpdated, Timestamp: time.Now(), Payload: "test"})

	select {
	case evt := <-ch:
		if evt.Kind != KindInboxUpdated {
			t.Errorf("got kind %q, want %q", evt.Kind, KindInboxUpdated)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("transcript.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindInboxUpdated})
	b.Publish(Event{Kind: KindTranscriptUpdated})

	select {
	case evt := <-ch:
		if evt.Kind != KindTranscriptUpdated {
			t.Errorf("got kind %q, want %q", evt.Kind, KindTranscriptUpdated)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	select {
	case evt := <-ch:
		t.Errorf("unexpected extra event %q", evt.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("presence.", 10)
	unsub()

	b.Publish(Event{Kind: KindPresenceUpdated})

	select {
	case evt := <-ch:
		t.Errorf("received event %q after unsubscribe", evt.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNonBlockingPublish(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe("inbox.", 1)
	defer unsub()

	// Fill the buffer, then publish again; must not block.
	done := make(chan struct{})
	go func() {
		b.Publish(Event{Kind: KindInboxUpdated})
		b.Publish(Event{Kind: KindInboxUpdated})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}
