// Package protocol defines the text envelopes exchanged between the gateway
// and trader processes over a persistent socket, and the tagged-union frame
// routing for inbound messages.
package protocol

import (
	"encoding/json"

	"github.com/yanun0323/errors"
)

const (
	TypeCommand  = "command"
	TypeResponse = "response"
	TypeError    = "error"
)

// Command names consumed by the gateway.
const (
	CmdFollow         = "follow"
	CmdUnfollow       = "unfollow"
	CmdBalance        = "balance"
	CmdPortfolio      = "portfolio"
	CmdHistory        = "history"
	CmdTrade          = "trade"
	CmdTradeCFD       = "trade_cfd"
	CmdGetTicks       = "get_ticks"
	CmdGetCandles     = "get_candles"
	CmdPing           = "ping"
	CmdRegisterTrader = "register_trader"
	CmdHeartbeat      = "heartbeat"
	CmdRecordTrade    = "record_trade"
	CmdUpdateTrade    = "update_trade"
)

var (
	ErrMalformedFrame = errors.New("malformed protocol frame")
	ErrMissingType    = errors.New("frame has no type")
)

// Command is the client->server envelope.
type Command struct {
	Type      string          `json:"type"`
	Command   string          `json:"command"`
	Params    json.RawMessage `json:"params,omitempty"`
	RequestID string          `json:"requestId"`
	Timestamp int64           `json:"timestamp"` // milliseconds
}

// NewCommand builds a command envelope, marshalling params when present.
func NewCommand(name string, params any, requestID string, tsMillis int64) (Command, error) {
	cmd := Command{
		Type:      TypeCommand,
		Command:   name,
		RequestID: requestID,
		Timestamp: tsMillis,
	}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return Command{}, errors.Wrap(err, "marshal command params")
		}
		cmd.Params = raw
	}
	return cmd, nil
}

// ErrorDetail carries a server-supplied failure message.
type ErrorDetail struct {
	Message string `json:"message"`
}

// Response is the server->client reply to one command.
type Response struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId"`
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     *ErrorDetail    `json:"error,omitempty"`
}

// OkResponse builds a success response, marshalling data when present.
func OkResponse(requestID string, data any) (Response, error) {
	resp := Response{Type: TypeResponse, RequestID: requestID, Success: true}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Response{}, errors.Wrap(err, "marshal response data")
		}
		resp.Data = raw
	}
	return resp, nil
}

// FailResponse builds a failure response with a human-readable message.
func FailResponse(requestID string, message string) Response {
	return Response{
		Type:      TypeResponse,
		RequestID: requestID,
		Success:   false,
		Error:     &ErrorDetail{Message: message},
	}
}

// ServerError is a connection-scoped error pushed by the server.
type ServerError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Event is a server-pushed broadcast; Type carries the event name.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEvent builds an event envelope, marshalling data when present.
func NewEvent(name string, data any) (Event, error) {
	e := Event{Type: name}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Event{}, errors.Wrap(err, "marshal event data")
		}
		e.Data = raw
	}
	return e, nil
}
