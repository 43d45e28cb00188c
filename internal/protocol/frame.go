package protocol

import (
	"encoding/json"

	"github.com/yanun0323/errors"
)

// FrameKind routes an inbound frame.
type FrameKind uint8

const (
	FrameUnknown FrameKind = iota
	FrameCommand
	FrameResponse
	FrameError
	FrameEvent
)

// Frame is the tagged union of everything that can arrive on the socket.
// Exactly one of the pointers matching Kind is non-nil.
type Frame struct {
	Kind     FrameKind
	Command  *Command
	Response *Response
	Error    *ServerError
	Event    *Event
}

// DecodeFrame parses a raw text frame and routes it by its type tag.
// Frames with a type outside {command,response,error} are events: any name
// is forwarded, there is no closed enumeration.
func DecodeFrame(data []byte) (Frame, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return Frame{}, errors.Wrap(err, ErrMalformedFrame.Error())
	}
	if probe.Type == "" {
		return Frame{}, ErrMissingType
	}

	switch probe.Type {
	case TypeCommand:
		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			return Frame{}, errors.Wrap(err, ErrMalformedFrame.Error())
		}
		return Frame{Kind: FrameCommand, Command: &cmd}, nil
	case TypeResponse:
		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			return Frame{}, errors.Wrap(err, ErrMalformedFrame.Error())
		}
		return Frame{Kind: FrameResponse, Response: &resp}, nil
	case TypeError:
		var serverErr ServerError
		if err := json.Unmarshal(data, &serverErr); err != nil {
			return Frame{}, errors.Wrap(err, ErrMalformedFrame.Error())
		}
		return Frame{Kind: FrameError, Error: &serverErr}, nil
	default:
		var event Event
		if err := json.Unmarshal(data, &event); err != nil {
			return Frame{}, errors.Wrap(err, ErrMalformedFrame.Error())
		}
		return Frame{Kind: FrameEvent, Event: &event}, nil
	}
}
