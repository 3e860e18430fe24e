package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/versekeep/versekeep/internal/domain"
)

func TestBusDeliversToAllSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch1, cancel1 := bus.Subscribe()
	defer cancel1()
	ch2, cancel2 := bus.Subscribe()
	defer cancel2()

	bus.Publish(domain.Event{Type: domain.EventItemAdded, ItemID: "x"})

	for _, ch := range []<-chan domain.Event{ch1, ch2} {
		select {
		case ev := <-ch:
			assert.Equal(t, domain.EventItemAdded, ev.Type)
			assert.Equal(t, "x", ev.ItemID)
			assert.False(t, ev.At.IsZero())
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestBusPublishOrder(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, cancel := bus.Subscribe()
	defer cancel()

	bus.Publish(domain.Event{Type: domain.EventItemAdded, ItemID: "1"})
	bus.Publish(domain.Event{Type: domain.EventItemUpdated, ItemID: "2"})
	bus.Publish(domain.Event{Type: domain.EventItemDeleted, ItemID: "3"})

	assert.Equal(t, "1", (<-ch).ItemID)
	assert.Equal(t, "2", (<-ch).ItemID)
	assert.Equal(t, "3", (<-ch).ItemID)
}

func TestBusNoReplay(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	bus.Publish(domain.Event{Type: domain.EventItemAdded, ItemID: "early"})

	ch, cancel := bus.Subscribe()
	defer cancel()

	select {
	case ev := <-ch:
		t.Fatalf("unexpected replayed event: %+v", ev)
	default:
	}
}

func TestBusPublishWithNoSubscribersDoesNotBlock(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	done := make(chan struct{})
	go func() {
		bus.Publish(domain.Event{Type: domain.EventItemAdded})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked with no subscribers")
	}
}

func TestBusSlowSubscriberDropsInsteadOfStalling(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, cancel := bus.Subscribe()
	defer cancel()

	// Overfill the buffer without draining; publishes must not block.
	for i := 0; i < defaultBuffer+10; i++ {
		bus.Publish(domain.Event{Type: domain.EventItemAdded})
	}

	received := 0
	for {
		select {
		case <-ch:
			received++
			continue
		default:
		}
		break
	}
	assert.Equal(t, defaultBuffer, received)
}

func TestBusCancelStopsDelivery(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, cancel := bus.Subscribe()
	cancel()

	// Channel is closed after cancel; publish must not panic.
	bus.Publish(domain.Event{Type: domain.EventItemAdded})

	_, open := <-ch
	assert.False(t, open)

	// Cancelling twice is harmless
	cancel()
}

func TestBusClose(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe()
	defer cancel()

	bus.Close()

	_, open := <-ch
	require.False(t, open)

	// Operations after close are no-ops
	bus.Publish(domain.Event{Type: domain.EventItemAdded})
	bus.Close()

	late, lateCancel := bus.Subscribe()
	defer lateCancel()
	_, open = <-late
	assert.False(t, open)
}
