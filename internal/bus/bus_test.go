package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/model"
)

func TestQueuePublishAndRun(t *testing.T) {
	q := NewQueue(4)
	require.NoError(t, q.TryPublish(TickEvent(model.Tick{Asset: "R_75", Price: 10})))
	require.NoError(t, q.TryPublish(TickEvent(model.Tick{Asset: "R_75", Price: 11})))
	q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var got []Event
	q.Run(ctx, func(e Event) { got = append(got, e) })

	require.Len(t, got, 2)
	assert.Equal(t, EventTick, got[0].Kind)
	assert.Equal(t, float64(11), got[1].Tick.Price)
}

func TestQueueFullAndClosed(t *testing.T) {
	q := NewQueue(1)
	require.NoError(t, q.TryPublish(Event{Kind: EventTick}))
	assert.ErrorIs(t, q.TryPublish(Event{Kind: EventTick}), ErrQueueFull)
	q.Close()
	assert.ErrorIs(t, q.TryPublish(Event{Kind: EventTick}), ErrQueueClosed)
}

func TestBusFanOut(t *testing.T) {
	b := New()
	first := b.Subscribe(8)
	second := b.Subscribe(8)
	defer first.Close()
	defer second.Close()

	candle := model.Candle{Asset: "R_75", Timeframe: 60, Timestamp: 0, Open: 1, High: 2, Low: 1, Close: 2}
	b.Publish(CandleClosedEvent(candle))

	for _, sub := range []*Subscriber{first, second} {
		select {
		case e := <-sub.Queue().ch:
			assert.Equal(t, EventCandleClosed, e.Kind)
			assert.Equal(t, "R_75", e.Asset)
			assert.Equal(t, int64(60), e.Timeframe)
		default:
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	b := New()
	sub := b.Subscribe(1)
	defer sub.Close()

	b.Publish(Event{Kind: EventTick})
	b.Publish(Event{Kind: EventTick})

	assert.Equal(t, uint64(1), b.Drops())
}

func TestEventNameRoundTrip(t *testing.T) {
	names := []string{
		NameTick, NameCandleUpdate, NameCandleClosed,
		NameBalance, NameTradeExecuted, NameTradeResult, NameSignalProximity,
	}
	for _, name := range names {
		kind := KindFromName(name)
		require.NotEqual(t, EventUnknown, kind, name)
		assert.Equal(t, name, kind.Name())
	}

	e := UnknownEvent("broker:maintenance", []byte(`{"until":123}`))
	assert.Equal(t, EventUnknown, e.Kind)
	assert.Equal(t, "broker:maintenance", e.WireName())
}
