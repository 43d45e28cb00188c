package store

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/model"
)

const (
	DefaultWriterQueueSize = 256
	defaultWriteTimeout    = 5 * time.Second
)

// AsyncWriter decouples durable writes from the ingestion hot path. Callers
// submit work without blocking; a single worker drains the queue and applies
// each write with a bounded timeout. Failures are logged and swallowed; the
// in-memory bound is enforced regardless of durability outcome.
type AsyncWriter struct {
	ticks   TickWriter
	candles CandleWriter

	jobs     chan func(ctx context.Context)
	closed   uint32
	drops    uint64
	failures uint64
}

// NewAsyncWriter builds a writer over the given backends. Either backend may
// be nil; the matching submissions become no-ops.
func NewAsyncWriter(ticks TickWriter, candles CandleWriter, capacity int) *AsyncWriter {
	if capacity <= 0 {
		capacity = DefaultWriterQueueSize
	}
	return &AsyncWriter{
		ticks:   ticks,
		candles: candles,
		jobs:    make(chan func(ctx context.Context), capacity),
	}
}

// SubmitTicks queues a tick batch for durable storage without waiting.
// A full queue drops the batch and logs, never blocking the caller.
func (w *AsyncWriter) SubmitTicks(ticks []model.Tick) {
	if w == nil || w.ticks == nil || len(ticks) == 0 {
		return
	}
	batch := make([]model.Tick, len(ticks))
	copy(batch, ticks)
	w.submit(func(ctx context.Context) {
		if err := w.ticks.CreateTicks(ctx, batch); err != nil {
			atomic.AddUint64(&w.failures, 1)
			logs.Errorf("persist tick batch of %d, err: %+v", len(batch), err)
		}
	})
}

// SubmitCandle queues a closed-candle upsert without waiting.
func (w *AsyncWriter) SubmitCandle(candle model.Candle) {
	if w == nil || w.candles == nil {
		return
	}
	w.submit(func(ctx context.Context) {
		if err := w.candles.UpsertCandle(ctx, candle); err != nil {
			atomic.AddUint64(&w.failures, 1)
			logs.Errorf("persist candle %s/%d@%d, err: %+v",
				candle.Asset, candle.Timeframe, candle.Timestamp, err)
		}
	})
}

func (w *AsyncWriter) submit(job func(ctx context.Context)) {
	if atomic.LoadUint32(&w.closed) != 0 {
		atomic.AddUint64(&w.drops, 1)
		return
	}
	select {
	case w.jobs <- job:
	default:
		atomic.AddUint64(&w.drops, 1)
		logs.Errorf("store writer queue full, dropping write")
	}
}

// Run drains the queue until the context is done or Close is called.
func (w *AsyncWriter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-w.jobs:
			if !ok {
				return
			}
			jobCtx, cancel := context.WithTimeout(ctx, defaultWriteTimeout)
			job(jobCtx)
			cancel()
		}
	}
}

// Close stops the writer from accepting new submissions.
func (w *AsyncWriter) Close() {
	if atomic.CompareAndSwapUint32(&w.closed, 0, 1) {
		close(w.jobs)
	}
}

// Drops reports submissions lost to a full or closed queue.
func (w *AsyncWriter) Drops() uint64 {
	if w == nil {
		return 0
	}
	return atomic.LoadUint64(&w.drops)
}

// Failures reports writes the backend rejected.
func (w *AsyncWriter) Failures() uint64 {
	if w == nil {
		return 0
	}
	return atomic.LoadUint64(&w.failures)
}
