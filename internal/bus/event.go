package bus

import (
	"encoding/json"

	"main/internal/model"
)

// EventKind is the closed set of market event variants carried by the bus.
// Server-pushed names outside this set travel as EventUnknown with the
// original name preserved, keeping the passthrough deliberate.
type EventKind uint8

const (
	EventUnknown EventKind = iota
	EventTick
	EventCandleUpdate
	EventCandleClosed
	EventBalance
	EventTradeExecuted
	EventTradeResult
	EventSignalProximity
)

const (
	NameTick            = "tick"
	NameCandleUpdate    = "candle:update"
	NameCandleClosed    = "candle:closed"
	NameBalance         = "balance"
	NameTradeExecuted   = "trade:executed"
	NameTradeResult     = "trade:result"
	NameSignalProximity = "signal:proximity"
)

// KindFromName maps a wire event name to its kind, EventUnknown otherwise.
func KindFromName(name string) EventKind {
	switch name {
	case NameTick:
		return EventTick
	case NameCandleUpdate:
		return EventCandleUpdate
	case NameCandleClosed:
		return EventCandleClosed
	case NameBalance:
		return EventBalance
	case NameTradeExecuted:
		return EventTradeExecuted
	case NameTradeResult:
		return EventTradeResult
	case NameSignalProximity:
		return EventSignalProximity
	default:
		return EventUnknown
	}
}

func (k EventKind) Name() string {
	switch k {
	case EventTick:
		return NameTick
	case EventCandleUpdate:
		return NameCandleUpdate
	case EventCandleClosed:
		return NameCandleClosed
	case EventBalance:
		return NameBalance
	case EventTradeExecuted:
		return NameTradeExecuted
	case EventTradeResult:
		return NameTradeResult
	case EventSignalProximity:
		return NameSignalProximity
	default:
		return ""
	}
}

// Event is the unit passed through the in-memory bus.
// Exactly one of Tick/Candle/Payload is populated depending on Kind.
type Event struct {
	Kind      EventKind
	Name      string // wire name; set when Kind is EventUnknown
	Asset     string
	Timeframe int64
	Tick      *model.Tick
	Candle    *model.Candle
	Payload   json.RawMessage
}

// WireName returns the event name used on the wire.
func (e Event) WireName() string {
	if e.Kind == EventUnknown {
		return e.Name
	}
	return e.Kind.Name()
}

// TickEvent builds a tick event.
func TickEvent(tick model.Tick) Event {
	t := tick
	return Event{Kind: EventTick, Asset: tick.Asset, Tick: &t}
}

// CandleUpdateEvent builds a candle update event tagged with asset/timeframe.
func CandleUpdateEvent(c model.Candle) Event {
	candle := c
	return Event{Kind: EventCandleUpdate, Asset: c.Asset, Timeframe: c.Timeframe, Candle: &candle}
}

// CandleClosedEvent builds a candle closed event tagged with asset/timeframe.
func CandleClosedEvent(c model.Candle) Event {
	candle := c
	return Event{Kind: EventCandleClosed, Asset: c.Asset, Timeframe: c.Timeframe, Candle: &candle}
}

// UnknownEvent wraps a free-form server event without inferring structure.
func UnknownEvent(name string, payload json.RawMessage) Event {
	return Event{Kind: KindFromName(name), Name: name, Payload: payload}
}
