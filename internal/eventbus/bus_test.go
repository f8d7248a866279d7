package eventbus

import "testing"

func TestPublishFiltersByType(t *testing.T) {
	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	done, unsubDone := b.Subscribe(4, TypeBroadcastFinished)
	defer unsubDone()

	b.Publish(Event{Type: TypeBroadcastStarted})
	b.Publish(Event{Type: TypeBroadcastFinished, Data: 3})

	if len(all) != 2 {
		t.Fatalf("unfiltered subscriber got %d events", len(all))
	}
	if len(done) != 1 {
		t.Fatalf("filtered subscriber got %d events", len(done))
	}
	e := <-done
	if e.Type != TypeBroadcastFinished || e.Data != 3 || e.Time.IsZero() {
		t.Fatalf("event=%+v", e)
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	for i := 0; i < 10; i++ {
		b.Publish(Event{Type: "x"})
	}
	if len(ch) != 1 {
		t.Fatalf("buffer len=%d want 1", len(ch))
	}
	unsub()
	unsub()
	b.Publish(Event{Type: "x"})
	if _, ok := <-ch; !ok {
		t.Fatalf("buffered event should still drain")
	}
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed after unsubscribe")
	}
}
