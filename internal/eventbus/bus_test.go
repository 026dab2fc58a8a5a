package eventbus

import "testing"

func TestPublishDropsWhenFull(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	b.Publish(Event{Type: TriggerAccepted})
	b.Publish(Event{Type: TriggerDenied})

	e := <-ch
	if e.Type != TriggerAccepted || e.Time.IsZero() {
		t.Fatalf("unexpected event %+v", e)
	}
	select {
	case e := <-ch:
		t.Fatalf("expected second event dropped, got %+v", e)
	default:
	}

	unsub()
	unsub()
	b.Publish(Event{Type: CaptureFailed})
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel after unsubscribe")
	}
}
