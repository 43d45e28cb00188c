// Package store defines the narrow persistence contract the market-data core
// relies on. Any durable backend satisfying it is acceptable; PostgreSQL and
// Redis implementations live alongside.
package store

import (
	"context"
	"errors"

	"main/internal/model"
)

var ErrClosed = errors.New("store writer closed")

// TickWriter persists evicted tick batches.
type TickWriter interface {
	CreateTicks(ctx context.Context, ticks []model.Tick) error
}

// CandleWriter upserts closed candles keyed by asset+timeframe+timestamp.
type CandleWriter interface {
	UpsertCandle(ctx context.Context, candle model.Candle) error
}

// TradeWriter records and settles trades.
type TradeWriter interface {
	CreateTrade(ctx context.Context, trade model.TradeRecord) error
	UpdateTrade(ctx context.Context, trade model.TradeRecord) error
}

// Store is the full persistence surface the gateway wires together.
type Store interface {
	TickWriter
	CandleWriter
	TradeWriter
}
