package events

import (
	"context"
	"testing"
	"time"
)

func TestMemoryBusDeliversToMatchingSubscribersOnly(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	got := make(chan *Event, 1)
	other := make(chan *Event, 1)

	if _, err := bus.Subscribe(SessionOpened, func(ctx context.Context, e *Event) { got <- e }); err != nil {
		t.Fatal(err)
	}
	if _, err := bus.Subscribe(SessionClosed, func(ctx context.Context, e *Event) { other <- e }); err != nil {
		t.Fatal(err)
	}

	evt := NewEvent(SessionOpened, "session-manager", map[string]interface{}{"ssn_id": int64(1)})
	if err := bus.Publish(context.Background(), SessionOpened, evt); err != nil {
		t.Fatal(err)
	}

	select {
	case e := <-got:
		if e.Type != SessionOpened {
			t.Errorf("expected type %s, got %s", SessionOpened, e.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("expected the matching subscriber to receive the event")
	}

	select {
	case <-other:
		t.Fatal("expected the non-matching subscriber to receive nothing")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestMemoryBusUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	got := make(chan *Event, 1)
	sub, err := bus.Subscribe(TaskCompleted, func(ctx context.Context, e *Event) { got <- e })
	if err != nil {
		t.Fatal(err)
	}
	if err := sub.Unsubscribe(); err != nil {
		t.Fatal(err)
	}

	evt := NewEvent(TaskCompleted, "session-manager", nil)
	if err := bus.Publish(context.Background(), TaskCompleted, evt); err != nil {
		t.Fatal(err)
	}

	select {
	case <-got:
		t.Fatal("expected no delivery after unsubscribe")
	case <-time.After(20 * time.Millisecond):
	}
}
