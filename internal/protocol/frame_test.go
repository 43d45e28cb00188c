package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFrameRouting(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		kind FrameKind
	}{
		{"command", `{"type":"command","command":"ping","requestId":"1","timestamp":1}`, FrameCommand},
		{"response", `{"type":"response","requestId":"1","success":true}`, FrameResponse},
		{"server error", `{"type":"error","message":"boom"}`, FrameError},
		{"tick event", `{"type":"tick","data":{"asset":"R_75","price":10}}`, FrameEvent},
		{"free-form event", `{"type":"signal:proximity","data":{"level":0.97}}`, FrameEvent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			frame, err := DecodeFrame([]byte(tc.raw))
			require.NoError(t, err)
			assert.Equal(t, tc.kind, frame.Kind)
		})
	}
}

func TestDecodeFrameMalformed(t *testing.T) {
	_, err := DecodeFrame([]byte(`{not json`))
	require.Error(t, err)

	_, err = DecodeFrame([]byte(`{"data":1}`))
	assert.ErrorIs(t, err, ErrMissingType)
}

func TestCommandEnvelopeShape(t *testing.T) {
	cmd, err := NewCommand(CmdGetCandles, map[string]any{"asset": "R_75", "timeframe": 60}, "42", 1700000000000)
	require.NoError(t, err)

	raw, err := json.Marshal(cmd)
	require.NoError(t, err)

	frame, err := DecodeFrame(raw)
	require.NoError(t, err)
	require.Equal(t, FrameCommand, frame.Kind)
	assert.Equal(t, CmdGetCandles, frame.Command.Command)
	assert.Equal(t, "42", frame.Command.RequestID)
	assert.Equal(t, int64(1700000000000), frame.Command.Timestamp)

	var params struct {
		Asset     string `json:"asset"`
		Timeframe int64  `json:"timeframe"`
	}
	require.NoError(t, json.Unmarshal(frame.Command.Params, &params))
	assert.Equal(t, "R_75", params.Asset)
	assert.Equal(t, int64(60), params.Timeframe)
}

func TestResponseHelpers(t *testing.T) {
	ok, err := OkResponse("7", map[string]float64{"balance": 102.5})
	require.NoError(t, err)
	assert.True(t, ok.Success)
	assert.Equal(t, "7", ok.RequestID)

	fail := FailResponse("8", "unknown command")
	assert.False(t, fail.Success)
	require.NotNil(t, fail.Error)
	assert.Equal(t, "unknown command", fail.Error.Message)
}

func TestEventEnvelopeKeepsRawPayload(t *testing.T) {
	frame, err := DecodeFrame([]byte(`{"type":"candle:closed","data":{"asset":"R_75","timeframe":60,"timestamp":0,"open":1,"high":2,"low":1,"close":2}}`))
	require.NoError(t, err)
	require.Equal(t, FrameEvent, frame.Kind)
	assert.Equal(t, "candle:closed", frame.Event.Type)
	assert.JSONEq(t, `{"asset":"R_75","timeframe":60,"timestamp":0,"open":1,"high":2,"low":1,"close":2}`, string(frame.Event.Data))
}
