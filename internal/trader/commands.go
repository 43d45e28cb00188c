package trader

import (
	"context"
	"encoding/json"

	"github.com/yanun0323/errors"

	"main/internal/bus"
	"main/internal/model"
	"main/internal/protocol"
)

// eventFromFrame decodes a server-pushed event into the typed union.
// Tick and candle payloads decode into their models; every other name,
// known or not, keeps its raw payload.
func eventFromFrame(e *protocol.Event) bus.Event {
	switch bus.KindFromName(e.Type) {
	case bus.EventTick:
		var tick model.Tick
		if err := json.Unmarshal(e.Data, &tick); err != nil {
			return bus.UnknownEvent(e.Type, e.Data)
		}
		return bus.TickEvent(tick)
	case bus.EventCandleUpdate:
		var candle model.Candle
		if err := json.Unmarshal(e.Data, &candle); err != nil {
			return bus.UnknownEvent(e.Type, e.Data)
		}
		return bus.CandleUpdateEvent(candle)
	case bus.EventCandleClosed:
		var candle model.Candle
		if err := json.Unmarshal(e.Data, &candle); err != nil {
			return bus.UnknownEvent(e.Type, e.Data)
		}
		return bus.CandleClosedEvent(candle)
	default:
		return bus.UnknownEvent(e.Type, e.Data)
	}
}

// TraderSession is the gateway-assigned identity for a registered trader.
type TraderSession struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// TradeRequest describes one binary-option trade order.
type TradeRequest struct {
	Asset    string  `json:"asset"`
	Contract string  `json:"contract"`
	Stake    float64 `json:"stake"`
	Duration int64   `json:"duration,omitempty"` // seconds
}

// TradeCFDRequest describes one CFD trade order.
type TradeCFDRequest struct {
	Asset     string  `json:"asset"`
	Direction string  `json:"direction"`
	Stake     float64 `json:"stake"`
	Leverage  int     `json:"leverage,omitempty"`
}

// Portfolio is the gateway's view of a trader's open positions.
type Portfolio struct {
	Balance float64             `json:"balance"`
	Trades  []model.TradeRecord `json:"trades"`
}

// Ping round-trips a no-op command.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.SendCommand(ctx, protocol.CmdPing, nil)
	return err
}

// RegisterTrader announces this trader to the gateway and returns the
// session assigned to it.
func (c *Client) RegisterTrader(ctx context.Context, name string) (TraderSession, error) {
	data, err := c.SendCommand(ctx, protocol.CmdRegisterTrader, map[string]string{"name": name})
	if err != nil {
		return TraderSession{}, err
	}
	var session TraderSession
	if err := json.Unmarshal(data, &session); err != nil {
		return TraderSession{}, errors.Wrap(err, "decode register response")
	}
	return session, nil
}

// Heartbeat refreshes the trader's liveness on the gateway.
func (c *Client) Heartbeat(ctx context.Context, traderID string) error {
	_, err := c.SendCommand(ctx, protocol.CmdHeartbeat, map[string]string{"traderId": traderID})
	return err
}

// Follow subscribes this connection to broadcast events for the assets.
func (c *Client) Follow(ctx context.Context, assets ...string) error {
	_, err := c.SendCommand(ctx, protocol.CmdFollow, map[string][]string{"assets": assets})
	return err
}

// Unfollow drops the broadcast subscription for the assets.
func (c *Client) Unfollow(ctx context.Context, assets ...string) error {
	_, err := c.SendCommand(ctx, protocol.CmdUnfollow, map[string][]string{"assets": assets})
	return err
}

// Balance fetches the current account balance. Older gateways answer with
// a "value" field instead of "balance"; both decode.
func (c *Client) Balance(ctx context.Context) (float64, error) {
	data, err := c.SendCommand(ctx, protocol.CmdBalance, nil)
	if err != nil {
		return 0, err
	}
	var body struct {
		Balance *float64 `json:"balance"`
		Value   *float64 `json:"value"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return 0, errors.Wrap(err, "decode balance response")
	}
	switch {
	case body.Balance != nil:
		return *body.Balance, nil
	case body.Value != nil:
		return *body.Value, nil
	default:
		return 0, errors.New("balance response has no balance field")
	}
}

// Portfolio fetches the balance and open trades in one call.
func (c *Client) Portfolio(ctx context.Context) (Portfolio, error) {
	data, err := c.SendCommand(ctx, protocol.CmdPortfolio, nil)
	if err != nil {
		return Portfolio{}, err
	}
	var p Portfolio
	if err := json.Unmarshal(data, &p); err != nil {
		return Portfolio{}, errors.Wrap(err, "decode portfolio response")
	}
	return p, nil
}

// History fetches the most recent recorded trades, newest last.
func (c *Client) History(ctx context.Context, count int) ([]model.TradeRecord, error) {
	data, err := c.SendCommand(ctx, protocol.CmdHistory, map[string]int{"count": count})
	if err != nil {
		return nil, err
	}
	var body struct {
		Trades []model.TradeRecord `json:"trades"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, errors.Wrap(err, "decode history response")
	}
	return body.Trades, nil
}

// Trade places a binary-option order and returns the recorded trade.
func (c *Client) Trade(ctx context.Context, req TradeRequest) (model.TradeRecord, error) {
	data, err := c.SendCommand(ctx, protocol.CmdTrade, req)
	if err != nil {
		return model.TradeRecord{}, err
	}
	var trade model.TradeRecord
	if err := json.Unmarshal(data, &trade); err != nil {
		return model.TradeRecord{}, errors.Wrap(err, "decode trade response")
	}
	return trade, nil
}

// TradeCFD places a CFD order and returns the recorded trade.
func (c *Client) TradeCFD(ctx context.Context, req TradeCFDRequest) (model.TradeRecord, error) {
	data, err := c.SendCommand(ctx, protocol.CmdTradeCFD, req)
	if err != nil {
		return model.TradeRecord{}, err
	}
	var trade model.TradeRecord
	if err := json.Unmarshal(data, &trade); err != nil {
		return model.TradeRecord{}, errors.Wrap(err, "decode trade response")
	}
	return trade, nil
}

// Ticks fetches the most recent cached ticks for the asset, oldest first.
func (c *Client) Ticks(ctx context.Context, asset string, count int) ([]model.Tick, error) {
	data, err := c.SendCommand(ctx, protocol.CmdGetTicks, map[string]any{"asset": asset, "count": count})
	if err != nil {
		return nil, err
	}
	var body struct {
		Ticks []model.Tick `json:"ticks"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, errors.Wrap(err, "decode ticks response")
	}
	return body.Ticks, nil
}

// Candles fetches the trailing closed candles for the asset and timeframe,
// oldest first. Requesting an untracked timeframe starts tracking it on the
// gateway, so the first call may return an empty slice.
func (c *Client) Candles(ctx context.Context, asset string, timeframe int64, count int) ([]model.Candle, error) {
	data, err := c.SendCommand(ctx, protocol.CmdGetCandles, map[string]any{
		"asset":     asset,
		"timeframe": timeframe,
		"count":     count,
	})
	if err != nil {
		return nil, err
	}
	var body struct {
		Candles []model.Candle `json:"candles"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, errors.Wrap(err, "decode candles response")
	}
	return body.Candles, nil
}

// RecordTrade asks the gateway to persist a trade and returns its id.
func (c *Client) RecordTrade(ctx context.Context, trade model.TradeRecord) (string, error) {
	data, err := c.SendCommand(ctx, protocol.CmdRecordTrade, trade)
	if err != nil {
		return "", err
	}
	var body struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return "", errors.Wrap(err, "decode record response")
	}
	return body.ID, nil
}

// UpdateTrade settles or amends a previously recorded trade.
func (c *Client) UpdateTrade(ctx context.Context, trade model.TradeRecord) error {
	_, err := c.SendCommand(ctx, protocol.CmdUpdateTrade, trade)
	return err
}
