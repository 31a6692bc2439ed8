package streamutil

import "testing"

func TestPublishDeliversToCurrentSubscriber(t *testing.T) {
	b := NewBroadcaster[int]()
	ch := b.Subscribe(4)
	b.Publish(42)
	select {
	case v := <-ch:
		if v != 42 {
			t.Fatalf("got %d, want 42", v)
		}
	default:
		t.Fatalf("subscriber received nothing")
	}
}

func TestPublishWithNoSubscriberDoesNotPanic(t *testing.T) {
	b := NewBroadcaster[int]()
	b.Publish(1) // no subscriber yet; must be a silent no-op
}

func TestSubscribeReplacesPriorSubscriber(t *testing.T) {
	b := NewBroadcaster[int]()
	first := b.Subscribe(4)
	second := b.Subscribe(4)
	b.Publish(7)

	select {
	case <-first:
		t.Fatalf("first (replaced) subscriber should not receive events")
	default:
	}
	select {
	case v := <-second:
		if v != 7 {
			t.Fatalf("got %d, want 7", v)
		}
	default:
		t.Fatalf("second subscriber received nothing")
	}
}

func TestCancelStopsFurtherDelivery(t *testing.T) {
	b := NewBroadcaster[int]()
	ch := b.Subscribe(4)
	b.Cancel()
	b.Publish(1)
	select {
	case <-ch:
		t.Fatalf("channel received a value after Cancel")
	default:
	}
}

func TestPublishNeverBlocksOnAFullChannel(t *testing.T) {
	b := NewBroadcaster[int]()
	ch := b.Subscribe(1)
	b.Publish(1)
	b.Publish(2) // channel already full; must be dropped, not block
	v := <-ch
	if v != 1 {
		t.Fatalf("got %d, want 1 (the second publish should have been dropped)", v)
	}
}
