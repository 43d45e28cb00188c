package enum

import "bytes"

// Direction describes the price movement of a tick relative to the previous one.
type Direction uint8

const (
	DirectionUnknown Direction = iota
	DirectionUp
	DirectionDown
)

func (d Direction) IsAvailable() bool {
	switch d {
	case DirectionUp, DirectionDown:
		return true
	default:
		return false
	}
}

func (d Direction) String() string {
	switch d {
	case DirectionUp:
		return "up"
	case DirectionDown:
		return "down"
	default:
		return ""
	}
}

// MarshalJSON encodes the direction as a lowercase string, empty when unknown.
func (d Direction) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// UnmarshalJSON accepts "up"/"down" and treats anything else as unknown.
func (d *Direction) UnmarshalJSON(data []byte) error {
	switch {
	case bytes.Equal(data, []byte(`"up"`)):
		*d = DirectionUp
	case bytes.Equal(data, []byte(`"down"`)):
		*d = DirectionDown
	default:
		*d = DirectionUnknown
	}
	return nil
}
