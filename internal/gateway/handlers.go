package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"main/internal/bus"
	"main/internal/model"
	"main/internal/protocol"
)

// handleCommand executes one command and builds its response. Every path
// answers with the command's request id; failures carry a message instead
// of data.
func (s *Server) handleCommand(c *conn, cmd *protocol.Command) protocol.Response {
	switch cmd.Command {
	case protocol.CmdPing:
		return s.ok(cmd, nil)
	case protocol.CmdRegisterTrader:
		return s.handleRegister(c, cmd)
	case protocol.CmdHeartbeat:
		return s.handleHeartbeat(cmd)
	case protocol.CmdFollow:
		return s.handleFollow(c, cmd, true)
	case protocol.CmdUnfollow:
		return s.handleFollow(c, cmd, false)
	case protocol.CmdBalance:
		return s.handleBalance(cmd)
	case protocol.CmdPortfolio:
		return s.handlePortfolio(cmd)
	case protocol.CmdHistory:
		return s.handleHistory(cmd)
	case protocol.CmdTrade:
		return s.handleTrade(c, cmd)
	case protocol.CmdTradeCFD:
		return s.handleTradeCFD(c, cmd)
	case protocol.CmdGetTicks:
		return s.handleGetTicks(cmd)
	case protocol.CmdGetCandles:
		return s.handleGetCandles(cmd)
	case protocol.CmdRecordTrade:
		return s.handleRecordTrade(cmd)
	case protocol.CmdUpdateTrade:
		return s.handleUpdateTrade(c, cmd)
	default:
		return protocol.FailResponse(cmd.RequestID, "unknown command: "+cmd.Command)
	}
}

func (s *Server) ok(cmd *protocol.Command, data any) protocol.Response {
	resp, err := protocol.OkResponse(cmd.RequestID, data)
	if err != nil {
		return protocol.FailResponse(cmd.RequestID, "encode response failed")
	}
	return resp
}

func (s *Server) handleRegister(c *conn, cmd *protocol.Command) protocol.Response {
	var params struct {
		Name string `json:"name"`
	}
	if len(cmd.Params) > 0 {
		if err := json.Unmarshal(cmd.Params, &params); err != nil {
			return protocol.FailResponse(cmd.RequestID, "invalid params")
		}
	}

	info := &traderInfo{
		ID:       uuid.NewString(),
		Name:     params.Name,
		LastSeen: time.Now(),
	}
	s.mu.Lock()
	s.traders[info.ID] = info
	s.mu.Unlock()

	c.mu.Lock()
	c.traderID = info.ID
	c.mu.Unlock()

	return s.ok(cmd, map[string]string{"id": info.ID, "name": info.Name})
}

func (s *Server) handleHeartbeat(cmd *protocol.Command) protocol.Response {
	var params struct {
		TraderID string `json:"traderId"`
	}
	if err := json.Unmarshal(cmd.Params, &params); err != nil || params.TraderID == "" {
		return protocol.FailResponse(cmd.RequestID, "invalid params")
	}

	s.mu.Lock()
	info, ok := s.traders[params.TraderID]
	if ok {
		info.LastSeen = time.Now()
	}
	s.mu.Unlock()

	if !ok {
		return protocol.FailResponse(cmd.RequestID, "unknown trader: "+params.TraderID)
	}
	return s.ok(cmd, nil)
}

func (s *Server) handleFollow(c *conn, cmd *protocol.Command, add bool) protocol.Response {
	var params struct {
		Assets []string `json:"assets"`
	}
	if err := json.Unmarshal(cmd.Params, &params); err != nil {
		return protocol.FailResponse(cmd.RequestID, "invalid params")
	}
	if len(params.Assets) == 0 {
		return protocol.FailResponse(cmd.RequestID, "no assets given")
	}

	if add {
		c.follow(params.Assets)
	} else {
		c.unfollow(params.Assets)
	}
	return s.ok(cmd, nil)
}

func (s *Server) handleBalance(cmd *protocol.Command) protocol.Response {
	s.mu.Lock()
	balance := s.balance
	s.mu.Unlock()
	return s.ok(cmd, map[string]float64{"balance": balance})
}

func (s *Server) handlePortfolio(cmd *protocol.Command) protocol.Response {
	s.mu.Lock()
	balance := s.balance
	open := make([]model.TradeRecord, 0)
	for _, id := range s.tradeOrder {
		if trade := s.tradeBook[id]; trade.Status == model.TradeStatusOpen {
			open = append(open, trade)
		}
	}
	s.mu.Unlock()

	return s.ok(cmd, map[string]any{"balance": balance, "trades": open})
}

func (s *Server) handleHistory(cmd *protocol.Command) protocol.Response {
	var params struct {
		Count int `json:"count"`
	}
	if len(cmd.Params) > 0 {
		if err := json.Unmarshal(cmd.Params, &params); err != nil {
			return protocol.FailResponse(cmd.RequestID, "invalid params")
		}
	}

	s.mu.Lock()
	order := s.tradeOrder
	if params.Count > 0 && params.Count < len(order) {
		order = order[len(order)-params.Count:]
	}
	trades := make([]model.TradeRecord, 0, len(order))
	for _, id := range order {
		trades = append(trades, s.tradeBook[id])
	}
	s.mu.Unlock()

	return s.ok(cmd, map[string]any{"trades": trades})
}

func (s *Server) handleTrade(c *conn, cmd *protocol.Command) protocol.Response {
	var params struct {
		Asset    string  `json:"asset"`
		Contract string  `json:"contract"`
		Stake    float64 `json:"stake"`
		Duration int64   `json:"duration"`
	}
	if err := json.Unmarshal(cmd.Params, &params); err != nil {
		return protocol.FailResponse(cmd.RequestID, "invalid params")
	}
	return s.openTrade(c, cmd, params.Asset, params.Contract, params.Stake)
}

func (s *Server) handleTradeCFD(c *conn, cmd *protocol.Command) protocol.Response {
	var params struct {
		Asset     string  `json:"asset"`
		Direction string  `json:"direction"`
		Stake     float64 `json:"stake"`
		Leverage  int     `json:"leverage"`
	}
	if err := json.Unmarshal(cmd.Params, &params); err != nil {
		return protocol.FailResponse(cmd.RequestID, "invalid params")
	}
	if params.Direction == "" {
		return protocol.FailResponse(cmd.RequestID, "no direction given")
	}
	return s.openTrade(c, cmd, params.Asset, "cfd:"+params.Direction, params.Stake)
}

func (s *Server) openTrade(c *conn, cmd *protocol.Command, asset, contract string, stake float64) protocol.Response {
	if asset == "" {
		return protocol.FailResponse(cmd.RequestID, "no asset given")
	}
	if stake <= 0 {
		return protocol.FailResponse(cmd.RequestID, "invalid stake")
	}

	var openPrice float64
	if ticks := s.cache.Ticks(asset, 1); len(ticks) > 0 {
		openPrice = ticks[0].Price
	}

	c.mu.Lock()
	traderID := c.traderID
	c.mu.Unlock()

	trade := model.TradeRecord{
		ID:        uuid.NewString(),
		TraderID:  traderID,
		Asset:     asset,
		Contract:  contract,
		Stake:     stake,
		Status:    model.TradeStatusOpen,
		OpenedAt:  time.Now().UnixMilli(),
		OpenPrice: openPrice,
	}

	s.mu.Lock()
	if s.balance < stake {
		s.mu.Unlock()
		return protocol.FailResponse(cmd.RequestID, "insufficient balance")
	}
	s.balance -= stake
	s.recordLocked(trade)
	s.mu.Unlock()

	if s.trades != nil {
		s.persistTrade("create trade", func(ctx context.Context) error {
			return s.trades.CreateTrade(ctx, trade)
		})
	}
	s.sendEventTo(c, bus.NameTradeExecuted, trade)

	return s.ok(cmd, trade)
}

func (s *Server) handleGetTicks(cmd *protocol.Command) protocol.Response {
	var params struct {
		Asset string `json:"asset"`
		Count int    `json:"count"`
	}
	if err := json.Unmarshal(cmd.Params, &params); err != nil || params.Asset == "" {
		return protocol.FailResponse(cmd.RequestID, "invalid params")
	}

	ticks := s.cache.Ticks(params.Asset, params.Count)
	return s.ok(cmd, map[string]any{"ticks": ticks})
}

func (s *Server) handleGetCandles(cmd *protocol.Command) protocol.Response {
	var params struct {
		Asset     string `json:"asset"`
		Timeframe int64  `json:"timeframe"`
		Count     int    `json:"count"`
	}
	if err := json.Unmarshal(cmd.Params, &params); err != nil || params.Asset == "" {
		return protocol.FailResponse(cmd.RequestID, "invalid params")
	}
	if params.Timeframe <= 0 {
		return protocol.FailResponse(cmd.RequestID, "invalid timeframe")
	}

	candles := s.cache.Candles(params.Asset, params.Timeframe, params.Count)
	return s.ok(cmd, map[string]any{"candles": candles})
}

func (s *Server) handleRecordTrade(cmd *protocol.Command) protocol.Response {
	var trade model.TradeRecord
	if err := json.Unmarshal(cmd.Params, &trade); err != nil || trade.Asset == "" {
		return protocol.FailResponse(cmd.RequestID, "invalid params")
	}
	if trade.ID == "" {
		trade.ID = uuid.NewString()
	}
	if trade.Status == "" {
		trade.Status = model.TradeStatusOpen
	}
	if trade.OpenedAt == 0 {
		trade.OpenedAt = time.Now().UnixMilli()
	}

	s.mu.Lock()
	s.recordLocked(trade)
	s.mu.Unlock()

	if s.trades != nil {
		s.persistTrade("create trade", func(ctx context.Context) error {
			return s.trades.CreateTrade(ctx, trade)
		})
	}

	return s.ok(cmd, map[string]string{"id": trade.ID})
}

func (s *Server) handleUpdateTrade(c *conn, cmd *protocol.Command) protocol.Response {
	var update model.TradeRecord
	if err := json.Unmarshal(cmd.Params, &update); err != nil || update.ID == "" {
		return protocol.FailResponse(cmd.RequestID, "invalid params")
	}

	s.mu.Lock()
	trade, ok := s.tradeBook[update.ID]
	if !ok {
		s.mu.Unlock()
		return protocol.FailResponse(cmd.RequestID, "unknown trade: "+update.ID)
	}

	settling := trade.Status == model.TradeStatusOpen && update.Status != model.TradeStatusOpen
	if update.Status != "" {
		trade.Status = update.Status
	}
	if update.Payout != 0 {
		trade.Payout = update.Payout
	}
	trade.ClosedAt = update.ClosedAt
	if settling && trade.ClosedAt == 0 {
		trade.ClosedAt = time.Now().UnixMilli()
	}
	if settling && trade.Status == model.TradeStatusWon {
		s.balance += trade.Payout
	}
	s.tradeBook[trade.ID] = trade
	s.mu.Unlock()

	if s.trades != nil {
		s.persistTrade("update trade", func(ctx context.Context) error {
			return s.trades.UpdateTrade(ctx, trade)
		})
	}
	if settling {
		s.sendEventTo(c, bus.NameTradeResult, trade)
	}

	return s.ok(cmd, trade)
}

// recordLocked appends the trade to the book, evicting the oldest entries
// beyond the history cap. Caller holds s.mu.
func (s *Server) recordLocked(trade model.TradeRecord) {
	if _, exists := s.tradeBook[trade.ID]; !exists {
		s.tradeOrder = append(s.tradeOrder, trade.ID)
	}
	s.tradeBook[trade.ID] = trade

	if excess := len(s.tradeOrder) - maxTradeHistory; excess > 0 {
		for _, id := range s.tradeOrder[:excess] {
			delete(s.tradeBook, id)
		}
		s.tradeOrder = append(s.tradeOrder[:0], s.tradeOrder[excess:]...)
	}
}
