package live

import "testing"

func TestBus_DeliversInSubscriptionOrder(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	var got []string
	bus.Subscribe(EventContent, func(ev Event) { got = append(got, "a:"+ev.(ContentEvent).Text) })
	bus.Subscribe(EventContent, func(ev Event) { got = append(got, "b:"+ev.(ContentEvent).Text) })
	bus.Subscribe(EventAudio, func(Event) { got = append(got, "audio") })

	bus.Publish(ContentEvent{Text: "1"})
	bus.Publish(ContentEvent{Text: "2"})

	want := []string{"a:1", "b:1", "a:2", "b:2"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	calls := 0
	sub := bus.Subscribe(EventTurnComplete, func(Event) { calls++ })
	bus.Publish(TurnCompleteEvent{})
	bus.Unsubscribe(sub)
	bus.Unsubscribe(sub)
	bus.Publish(TurnCompleteEvent{})

	if calls != 1 {
		t.Fatalf("calls=%d, want 1", calls)
	}
	if bus.Count(EventTurnComplete) != 0 {
		t.Fatalf("count=%d, want 0", bus.Count(EventTurnComplete))
	}
}

func TestBus_UnsubscribeFromInsideHandler(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	calls := 0
	var sub Subscription
	sub = bus.Subscribe(EventInterrupted, func(Event) {
		calls++
		bus.Unsubscribe(sub)
	})
	bus.Publish(InterruptedEvent{})
	bus.Publish(InterruptedEvent{})
	if calls != 1 {
		t.Fatalf("calls=%d, want 1", calls)
	}
}

func TestBus_NilHandlerIgnored(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	sub := bus.Subscribe(EventOpen, nil)
	bus.Unsubscribe(sub)
	bus.Publish(OpenEvent{})
	if bus.Count(EventOpen) != 0 {
		t.Fatalf("nil handler registered")
	}
}
