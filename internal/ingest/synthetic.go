package ingest

import (
	"context"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"main/internal/model"
)

// Generator produces synthetic random-walk ticks, round-robin across its
// assets. Prices move in whole steps on a decimal grid so a long run never
// accumulates float drift.
type Generator struct {
	assets []string
	prices map[string]decimal.Decimal
	step   decimal.Decimal
	rng    *rand.Rand
	index  int
}

// NewGenerator seeds every asset at basePrice with the given step size.
func NewGenerator(assets []string, basePrice, step float64, seed int64) (*Generator, error) {
	if len(assets) == 0 {
		return nil, errors.New("no assets given")
	}
	if basePrice <= 0 {
		return nil, errors.New("invalid base price")
	}
	if step <= 0 {
		step = 0.01
	}

	prices := make(map[string]decimal.Decimal, len(assets))
	base := decimal.NewFromFloat(basePrice)
	for _, asset := range assets {
		if asset == "" {
			return nil, errors.New("empty asset name")
		}
		prices[asset] = base
	}

	return &Generator{
		assets: assets,
		prices: prices,
		step:   decimal.NewFromFloat(step),
		rng:    rand.New(rand.NewSource(seed)),
	}, nil
}

// Next produces the next tick in sequence.
func (g *Generator) Next(now time.Time) model.Tick {
	asset := g.assets[g.index]
	g.index = (g.index + 1) % len(g.assets)

	prev := g.prices[asset]
	// walk between -2 and +2 steps, price floored at one step
	move := decimal.NewFromInt(int64(g.rng.Intn(5) - 2))
	next := prev.Add(g.step.Mul(move))
	if next.LessThanOrEqual(decimal.Zero) {
		next = g.step
	}
	g.prices[asset] = next

	prevPrice := prev.InexactFloat64()
	price := next.InexactFloat64()

	return model.Tick{
		Asset:     asset,
		Price:     price,
		Timestamp: now.UnixMilli(),
		Direction: model.DirectionFrom(prevPrice, price),
	}
}

// Run emits ticks at the interval until the context is done. The generator
// is not safe for concurrent use; Run owns it while running.
func (g *Generator) Run(ctx context.Context, interval time.Duration, handler func(tick model.Tick)) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			handler(g.Next(now))
		}
	}
}
