package eventbus

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagehand-run/stagehand/model"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := New(nil)
	_, ch := b.Subscribe(4)

	b.Publish(model.Event{EventType: model.EventTicketCreated, TicketID: "t1"})

	select {
	case e := <-ch:
		assert.Equal(t, "t1", e.TicketID)
	default:
		t.Fatal("expected an event on the channel")
	}
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	b := New(nil)
	_, ch1 := b.Subscribe(4)
	_, ch2 := b.Subscribe(4)

	b.Publish(model.Event{EventType: model.EventTicketCreated})

	require.Len(t, ch1, 1)
	require.Len(t, ch2, 1)
}

func TestPublishDropsOldestWhenFull(t *testing.T) {
	b := New(nil)
	sub, ch := b.Subscribe(1)

	b.Publish(model.Event{EventType: model.EventTicketCreated, TicketID: "first"})
	b.Publish(model.Event{EventType: model.EventTicketCreated, TicketID: "second"})

	assert.Equal(t, 1, sub.Lagged())

	e := <-ch
	assert.Equal(t, "second", e.TicketID, "the newest event survives, not the oldest")
}

func TestLagReportingAfterBurst(t *testing.T) {
	b := New(nil)
	sub, ch := b.Subscribe(16)

	for i := 0; i < 40; i++ {
		b.Publish(model.Event{EventType: model.EventTicketCreated, TicketID: fmt.Sprintf("e%d", i)})
	}

	assert.GreaterOrEqual(t, sub.Lagged(), 24, "a paused subscriber behind a 40-event burst misses at least 24")

	e := <-ch
	assert.Equal(t, "e24", e.TicketID, "the oldest surviving event follows the gap; dropped events are never delivered")
}

func TestLaggedResetsAfterRead(t *testing.T) {
	b := New(nil)
	sub, _ := b.Subscribe(1)

	b.Publish(model.Event{EventType: model.EventTicketCreated})
	b.Publish(model.Event{EventType: model.EventTicketCreated})

	assert.Equal(t, 1, sub.Lagged())
	assert.Equal(t, 0, sub.Lagged(), "Lagged resets the counter on read")
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New(nil)
	sub, ch := b.Subscribe(4)

	sub.Unsubscribe()

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after Unsubscribe")
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := New(nil)
	sub, _ := b.Subscribe(4)

	sub.Unsubscribe()
	assert.NotPanics(t, func() { sub.Unsubscribe() })
}

func TestPublishAfterUnsubscribeDoesNotPanic(t *testing.T) {
	b := New(nil)
	sub, _ := b.Subscribe(4)
	sub.Unsubscribe()

	assert.NotPanics(t, func() {
		b.Publish(model.Event{EventType: model.EventTicketCreated})
	})
}
