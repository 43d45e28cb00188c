package model

import (
	"testing"

	"main/internal/model/enum"
)

func TestBucketStart(t *testing.T) {
	cases := []struct {
		name      string
		tsMillis  int64
		timeframe int64
		want      int64
	}{
		{"first second of bucket", 1000, 60, 0},
		{"mid bucket", 30000, 60, 0},
		{"next bucket", 61000, 60, 60},
		{"exact boundary", 60000, 60, 60},
		{"one second timeframe", 1500, 1, 1},
		{"five minute timeframe", 7*60*1000 + 1, 300, 300},
		{"negative timestamp floors down", -1500, 60, -60},
		{"zero timeframe falls back to one second", 2500, 0, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := BucketStart(tc.tsMillis, tc.timeframe); got != tc.want {
				t.Fatalf("bucket mismatch: got %d want %d", got, tc.want)
			}
		})
	}
}

func TestCandleApply(t *testing.T) {
	c := NewCandle(Tick{Asset: "R_75", Price: 10, Timestamp: 1000}, 60)
	if c.Open != 10 || c.High != 10 || c.Low != 10 || c.Close != 10 {
		t.Fatalf("seed candle mismatch: %+v", c)
	}
	if c.Timestamp != 0 {
		t.Fatalf("seed bucket mismatch: got %d want 0", c.Timestamp)
	}

	c.Apply(Tick{Asset: "R_75", Price: 12, Timestamp: 30000})
	c.Apply(Tick{Asset: "R_75", Price: 9, Timestamp: 45000})
	c.Apply(Tick{Asset: "R_75", Price: 11, Timestamp: 59000})

	if c.Open != 10 || c.High != 12 || c.Low != 9 || c.Close != 11 {
		t.Fatalf("ohlc mismatch: %+v", c)
	}
	if c.Volume != 4 {
		t.Fatalf("volume mismatch: got %d want 4", c.Volume)
	}
}

func TestDirectionFrom(t *testing.T) {
	if d := DirectionFrom(10, 11); d != enum.DirectionUp {
		t.Fatalf("got %v want up", d)
	}
	if d := DirectionFrom(11, 10); d != enum.DirectionDown {
		t.Fatalf("got %v want down", d)
	}
	if d := DirectionFrom(10, 10); d != enum.DirectionUnknown {
		t.Fatalf("got %v want unknown", d)
	}
}
