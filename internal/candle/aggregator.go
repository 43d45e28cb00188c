package candle

import (
	"main/internal/model"
)

const DefaultMaxClosedCandles = 1000

// Aggregator turns the tick stream of one (asset, timeframe) pair into OHLC
// bars. It keeps the single open candle plus a bounded oldest-first history
// of closed candles.
//
// The aggregator is not safe for concurrent use; the owning cache serializes
// all mutation.
type Aggregator struct {
	asset     string
	timeframe int64
	maxClosed int

	current *model.Candle
	closed  []model.Candle

	updateCallbacks []func(model.Candle)
	closedCallbacks []func(model.Candle)
}

// NewAggregator creates an empty aggregator. maxClosed <= 0 falls back to
// DefaultMaxClosedCandles.
func NewAggregator(asset string, timeframe int64, maxClosed int) *Aggregator {
	if timeframe <= 0 {
		timeframe = 1
	}
	if maxClosed <= 0 {
		maxClosed = DefaultMaxClosedCandles
	}
	return &Aggregator{
		asset:     asset,
		timeframe: timeframe,
		maxClosed: maxClosed,
	}
}

// Asset returns the asset this aggregator tracks.
func (a *Aggregator) Asset() string { return a.asset }

// Timeframe returns the bucket width in seconds.
func (a *Aggregator) Timeframe() int64 { return a.timeframe }

// OnUpdate registers a callback fired with a snapshot after every tick,
// including the one that seeds a fresh candle.
func (a *Aggregator) OnUpdate(cb func(model.Candle)) {
	a.updateCallbacks = append(a.updateCallbacks, cb)
}

// OnClosed registers a callback fired with a snapshot of each candle the
// moment it is frozen into history.
func (a *Aggregator) OnClosed(cb func(model.Candle)) {
	a.closedCallbacks = append(a.closedCallbacks, cb)
}

// AddTick folds a tick into the open candle, closing it first when the tick
// belongs to a new bucket. Malformed timestamps still bucket
// deterministically; AddTick never fails.
func (a *Aggregator) AddTick(tick model.Tick) {
	bucket := model.BucketStart(tick.Timestamp, a.timeframe)

	if a.current != nil && a.current.Timestamp != bucket {
		a.closeCurrent()
	}

	if a.current == nil {
		c := model.NewCandle(tick, a.timeframe)
		c.Asset = a.asset
		a.current = &c
	} else {
		a.current.Apply(tick)
	}

	snapshot := *a.current
	for _, cb := range a.updateCallbacks {
		cb(snapshot)
	}
}

func (a *Aggregator) closeCurrent() {
	closed := *a.current
	a.closed = append(a.closed, closed)
	if excess := len(a.closed) - a.maxClosed; excess > 0 {
		a.closed = append(a.closed[:0], a.closed[excess:]...)
	}
	a.current = nil
	for _, cb := range a.closedCallbacks {
		cb(closed)
	}
}

// CurrentCandle returns a copy of the open candle, or false when empty.
func (a *Aggregator) CurrentCandle() (model.Candle, bool) {
	if a.current == nil {
		return model.Candle{}, false
	}
	return *a.current, true
}

// ClosedCandles returns a copy of the most recent count closed candles in
// oldest-first order. count <= 0 returns the full history.
func (a *Aggregator) ClosedCandles(count int) []model.Candle {
	if count <= 0 || count > len(a.closed) {
		count = len(a.closed)
	}
	out := make([]model.Candle, count)
	copy(out, a.closed[len(a.closed)-count:])
	return out
}

// AllCandles returns the closed history followed by the open candle.
func (a *Aggregator) AllCandles() []model.Candle {
	out := make([]model.Candle, 0, len(a.closed)+1)
	out = append(out, a.closed...)
	if a.current != nil {
		out = append(out, *a.current)
	}
	return out
}

// Clear resets the aggregator to the empty state. Registered callbacks are
// kept.
func (a *Aggregator) Clear() {
	a.current = nil
	a.closed = nil
}
