package model

// Candle is an aggregated OHLC bar for a fixed time bucket.
// Timestamp is the bucket start in seconds.
type Candle struct {
	Asset     string  `json:"asset"`
	Timeframe int64   `json:"timeframe"` // seconds
	Timestamp int64   `json:"timestamp"` // bucket start, seconds
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    int64   `json:"volume,omitempty"`
}

// NewCandle seeds a candle from the first tick of a bucket.
func NewCandle(tick Tick, timeframe int64) Candle {
	return Candle{
		Asset:     tick.Asset,
		Timeframe: timeframe,
		Timestamp: BucketStart(tick.Timestamp, timeframe),
		Open:      tick.Price,
		High:      tick.Price,
		Low:       tick.Price,
		Close:     tick.Price,
		Volume:    1,
	}
}

// Apply folds a tick from the same bucket into the candle.
func (c *Candle) Apply(tick Tick) {
	if tick.Price > c.High {
		c.High = tick.Price
	}
	if tick.Price < c.Low {
		c.Low = tick.Price
	}
	c.Close = tick.Price
	c.Volume++
}

// BucketStart maps a millisecond timestamp to its bucket start in seconds.
// Division floors toward negative infinity so out-of-range timestamps still
// bucket deterministically.
func BucketStart(tsMillis, timeframe int64) int64 {
	if timeframe <= 0 {
		timeframe = 1
	}
	return floorDiv(floorDiv(tsMillis, 1000), timeframe) * timeframe
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
