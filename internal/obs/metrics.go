// Package obs collects lightweight counters and latency stats for the
// gateway and trader processes. Everything is atomic; observing never
// blocks the path being observed.
package obs

import (
	"sync/atomic"
	"time"
)

// Metrics aggregates process-level counters.
type Metrics struct {
	ticksIngested  uint64
	candlesClosed  uint64
	protocolErrors uint64

	commandsSent    uint64
	commandTimeouts uint64
	commandFailures uint64
	staleResponses  uint64
	reconnects      uint64
	broadcastDrops  uint64

	commandLatency LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	TicksIngested  uint64
	CandlesClosed  uint64
	ProtocolErrors uint64

	CommandsSent    uint64
	CommandTimeouts uint64
	CommandFailures uint64
	StaleResponses  uint64
	Reconnects      uint64
	BroadcastDrops  uint64

	CommandLatency LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// IncTickIngested counts one ingested tick.
func (m *Metrics) IncTickIngested() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.ticksIngested, 1)
}

// IncCandleClosed counts one frozen candle.
func (m *Metrics) IncCandleClosed() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.candlesClosed, 1)
}

// IncProtocolError counts one unparseable or mistyped frame.
func (m *Metrics) IncProtocolError() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.protocolErrors, 1)
}

// IncCommandSent counts one outbound command.
func (m *Metrics) IncCommandSent() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.commandsSent, 1)
}

// IncCommandTimeout counts one command that expired without a response.
func (m *Metrics) IncCommandTimeout() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.commandTimeouts, 1)
}

// IncCommandFailure counts one server-rejected command.
func (m *Metrics) IncCommandFailure() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.commandFailures, 1)
}

// IncStaleResponse counts a response whose request already settled.
// The response itself stays silently dropped; only the counter observes it.
func (m *Metrics) IncStaleResponse() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.staleResponses, 1)
}

// IncReconnect counts one scheduled reconnect attempt.
func (m *Metrics) IncReconnect() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.reconnects, 1)
}

// IncBroadcastDrop counts one event lost to a slow client send queue.
func (m *Metrics) IncBroadcastDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.broadcastDrops, 1)
}

// ObserveCommand measures one command round trip.
func (m *Metrics) ObserveCommand(d time.Duration) {
	if m == nil {
		return
	}
	m.commandLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		TicksIngested:   atomic.LoadUint64(&m.ticksIngested),
		CandlesClosed:   atomic.LoadUint64(&m.candlesClosed),
		ProtocolErrors:  atomic.LoadUint64(&m.protocolErrors),
		CommandsSent:    atomic.LoadUint64(&m.commandsSent),
		CommandTimeouts: atomic.LoadUint64(&m.commandTimeouts),
		CommandFailures: atomic.LoadUint64(&m.commandFailures),
		StaleResponses:  atomic.LoadUint64(&m.staleResponses),
		Reconnects:      atomic.LoadUint64(&m.reconnects),
		BroadcastDrops:  atomic.LoadUint64(&m.broadcastDrops),
		CommandLatency:  m.commandLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
