package model

import "main/internal/model/enum"

// Tick is a single timestamped price observation for an asset.
// Immutable once created.
type Tick struct {
	Asset     string         `json:"asset"`
	Price     float64        `json:"price"`
	Timestamp int64          `json:"timestamp"` // milliseconds
	Direction enum.Direction `json:"direction,omitempty"`
}

// DirectionFrom derives the tick direction from the previous price.
// A repeated price keeps the direction unknown.
func DirectionFrom(prev, curr float64) enum.Direction {
	switch {
	case curr > prev:
		return enum.DirectionUp
	case curr < prev:
		return enum.DirectionDown
	default:
		return enum.DirectionUnknown
	}
}
