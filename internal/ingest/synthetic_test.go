package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/model"
	"main/internal/model/enum"
)

func TestGeneratorRoundRobinsAssets(t *testing.T) {
	g, err := NewGenerator([]string{"R_75", "R_50"}, 100, 0.05, 1)
	require.NoError(t, err)

	now := time.UnixMilli(1700000000000)
	first := g.Next(now)
	second := g.Next(now)
	third := g.Next(now)

	assert.Equal(t, "R_75", first.Asset)
	assert.Equal(t, "R_50", second.Asset)
	assert.Equal(t, "R_75", third.Asset)
	assert.Equal(t, int64(1700000000000), first.Timestamp)
}

func TestGeneratorPricesStayPositive(t *testing.T) {
	g, err := NewGenerator([]string{"R_10"}, 0.1, 0.05, 42)
	require.NoError(t, err)

	for i := range 500 {
		tick := g.Next(time.UnixMilli(int64(i)))
		require.Greater(t, tick.Price, 0.0, "tick %d went non-positive", i)
	}
}

func TestGeneratorDirectionsMatchWalk(t *testing.T) {
	g, err := NewGenerator([]string{"R_75"}, 100, 0.05, 7)
	require.NoError(t, err)

	prev := 100.0
	for i := range 200 {
		tick := g.Next(time.UnixMilli(int64(i)))
		switch {
		case tick.Price > prev:
			assert.Equal(t, enum.DirectionUp, tick.Direction)
		case tick.Price < prev:
			assert.Equal(t, enum.DirectionDown, tick.Direction)
		default:
			assert.Equal(t, enum.DirectionUnknown, tick.Direction)
		}
		prev = tick.Price
	}
}

func TestGeneratorValidation(t *testing.T) {
	_, err := NewGenerator(nil, 100, 0.05, 1)
	require.Error(t, err)

	_, err = NewGenerator([]string{""}, 100, 0.05, 1)
	require.Error(t, err)

	_, err = NewGenerator([]string{"R_75"}, 0, 0.05, 1)
	require.Error(t, err)
}

func TestGeneratorRunEmitsAtInterval(t *testing.T) {
	g, err := NewGenerator([]string{"R_75"}, 100, 0.05, 1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan model.Tick, 16)
	go g.Run(ctx, 5*time.Millisecond, func(tick model.Tick) { got <- tick })

	for range 3 {
		select {
		case tick := <-got:
			assert.Equal(t, "R_75", tick.Asset)
		case <-time.After(time.Second):
			t.Fatal("generator never emitted")
		}
	}
}
