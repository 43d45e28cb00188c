// Package ingest brings ticks into the market-data cache, either from the
// Deriv streaming API or from a synthetic generator for offline runs.
package ingest

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
	"github.com/yanun0323/pkg/ws"

	"main/internal/model"
)

const _derivBaseWsURL = "wss://ws.derivws.com/websockets/v3?app_id=%s"

// DerivFeed streams live ticks from the Deriv websocket API.
type DerivFeed struct {
	wss *ws.WebSocket

	mu   sync.Mutex
	last map[string]float64
}

func NewDerivFeed(ctx context.Context, appID string) *DerivFeed {
	return &DerivFeed{
		wss:  ws.New(ctx, fmt.Sprintf(_derivBaseWsURL, appID)),
		last: make(map[string]float64),
	}
}

func (repo *DerivFeed) Len() int {
	return repo.wss.Len()
}

func (repo *DerivFeed) Close() {
	repo.wss.Close()
}

func (repo *DerivFeed) StartWebsocket(ctx context.Context) error {
	if err := repo.wss.Start(ctx); err != nil {
		return errors.Wrap(err, "start wss")
	}

	return nil
}

type derivError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type derivTickPayload struct {
	Symbol string          `json:"symbol"`
	Quote  decimal.Decimal `json:"quote"`
	Epoch  int64           `json:"epoch"`
}

type derivResponse struct {
	MsgType string           `json:"msg_type"`
	Error   *derivError      `json:"error"`
	Tick    derivTickPayload `json:"tick"`
}

// Authorize exchanges the API token for an authorized session. Public tick
// streams work without it.
func (repo *DerivFeed) Authorize(ctx context.Context, token string) error {
	if err := repo.wss.SendAndWait(ctx, ws.Sidecar{
		Sender: func(ctx context.Context, client *ws.WebSocket) error {
			if err := client.WriteJSON(map[string]any{"authorize": token}); err != nil {
				return errors.Wrap(err, "write authorize payload")
			}

			return nil
		},
		Waiter: func(ctx context.Context, m ws.Message) (bool, error) {
			resp, ok := ws.ReadMessage[derivResponse](m)
			if !ok || resp.MsgType != "authorize" {
				return false, nil
			}

			if resp.Error != nil {
				return false, errors.Errorf("authorize rejected: %s (%s)", resp.Error.Message, resp.Error.Code)
			}
			return true, nil
		},
	}); err != nil {
		return errors.Wrap(err, "send and wait")
	}

	return nil
}

// SubscribeTicks opens the tick stream for one symbol. The first streamed
// tick doubles as the subscription acknowledgement.
func (repo *DerivFeed) SubscribeTicks(ctx context.Context, symbol string) error {
	appendIntoRegister := true
	if err := repo.wss.SendAndWait(ctx, ws.Sidecar{
		Sender: func(ctx context.Context, client *ws.WebSocket) error {
			payload := map[string]any{
				"ticks":     symbol,
				"subscribe": 1,
			}
			if err := client.WriteJSON(payload); err != nil {
				return errors.Wrap(err, "write subscribe payload").With("payload", payload)
			}

			return nil
		},
		Waiter: func(ctx context.Context, m ws.Message) (bool, error) {
			resp, ok := ws.ReadMessage[derivResponse](m)
			if !ok {
				return false, nil
			}

			if resp.Error != nil {
				return false, errors.Errorf("subscribe %s rejected: %s (%s)", symbol, resp.Error.Message, resp.Error.Code)
			}
			if resp.MsgType != "tick" || resp.Tick.Symbol != symbol {
				return false, nil
			}
			return true, nil
		},
	}, appendIntoRegister); err != nil {
		return errors.Wrap(err, "send and wait")
	}

	return nil
}

// ObserveTicks forwards every streamed tick to the handler until the
// context is done. Direction is derived from the previous quote per symbol.
func (repo *DerivFeed) ObserveTicks(ctx context.Context, handler func(tick model.Tick)) (unsubscribe func()) {
	ch, cancel := repo.wss.Subscribe()

	go func() {
		defer cancel()
		for {
			select {
			case <-sys.Shutdown():
				return
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}

				resp, ok := ws.ReadMessage[derivResponse](m)
				if !ok || resp.MsgType != "tick" {
					continue
				}
				if resp.Error != nil {
					logs.Errorf("tick stream error: %s (%s)", resp.Error.Message, resp.Error.Code)
					continue
				}

				handler(repo.toTick(resp.Tick))
			}
		}
	}()

	return cancel
}

func (repo *DerivFeed) toTick(payload derivTickPayload) model.Tick {
	price := payload.Quote.InexactFloat64()

	repo.mu.Lock()
	prev, seen := repo.last[payload.Symbol]
	repo.last[payload.Symbol] = price
	repo.mu.Unlock()

	tick := model.Tick{
		Asset:     payload.Symbol,
		Price:     price,
		Timestamp: payload.Epoch * 1000,
	}
	if seen {
		tick.Direction = model.DirectionFrom(prev, price)
	}
	return tick
}
