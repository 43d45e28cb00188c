package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/model"
	"main/internal/obs"
	"main/internal/ops"
	"main/internal/trader"
)

// A small momentum paper-trader: follow assets, wait for closed candles and
// stake on the candle's direction continuing.
func main() {
	configPath := flag.String("config", "config.json", "Path to JSON config")
	assetsFlag := flag.String("assets", "R_75", "Comma-separated assets to follow")
	timeframe := flag.Int64("timeframe", 60, "Candle timeframe in seconds")
	stake := flag.Float64("stake", 10, "Stake per trade")
	duration := flag.Int64("duration", 60, "Contract duration in seconds")
	heartbeatEvery := flag.Duration("heartbeat", 30*time.Second, "Heartbeat interval")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loaded, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	assets := splitAssets(*assetsFlag)
	if len(assets) == 0 {
		log.Fatalf("no assets to follow")
	}

	metrics := obs.NewMetrics()
	client := trader.NewClient(trader.Option{
		URL:            loaded.Trader.GatewayURL,
		CommandTimeout: loaded.Trader.CommandTimeout,
		AutoReconnect:  loaded.Trader.AutoReconnect,
		ReconnectDelay: loaded.Trader.ReconnectDelay,
		Metrics:        metrics,
	})

	var traderID atomic.Value
	traderID.Store("")

	// session setup reruns on every (re)connect: register, follow, prime
	// the candle stream for each asset
	client.OnConnected(func() {
		go func() {
			setupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()

			session, err := client.RegisterTrader(setupCtx, "momentum")
			if err != nil {
				logs.Errorf("register failed, err: %+v", err)
				return
			}
			traderID.Store(session.ID)
			logs.Infof("registered as %s", session.ID)

			if err := client.Follow(setupCtx, assets...); err != nil {
				logs.Errorf("follow failed, err: %+v", err)
				return
			}
			for _, asset := range assets {
				if _, err := client.Candles(setupCtx, asset, *timeframe, 0); err != nil {
					logs.Errorf("prime candles %s failed, err: %+v", asset, err)
				}
			}
			logs.Infof("following %s", strings.Join(assets, ","))
		}()
	})
	client.OnDisconnected(func(err error) {
		logs.Infof("disconnected: %v", err)
	})
	client.OnReconnecting(func() {
		logs.Info("reconnecting")
	})
	client.OnError(func(err error) {
		logs.Errorf("gateway error: %+v", err)
	})

	client.OnEvent(func(e bus.Event) {
		switch e.Kind {
		case bus.EventCandleClosed:
			if e.Candle == nil || e.Timeframe != *timeframe {
				return
			}
			go placeTrade(ctx, client, *e.Candle, *stake, *duration)
		case bus.EventTradeResult:
			logs.Infof("trade result: %s", string(e.Payload))
		}
	})

	if err := client.Connect(ctx); err != nil {
		log.Fatalf("connect failed: %v", err)
	}

	go heartbeatLoop(ctx, client, &traderID, *heartbeatEvery)

	<-ctx.Done()
	client.Disconnect()
	snap := metrics.Snapshot()
	logs.Infof("sent=%d timeouts=%d failures=%d reconnects=%d avgRtt=%s",
		snap.CommandsSent, snap.CommandTimeouts, snap.CommandFailures,
		snap.Reconnects, snap.CommandLatency.Avg)
}

func placeTrade(ctx context.Context, client *trader.Client, candle model.Candle, stake float64, duration int64) {
	contract := "CALL"
	if candle.Close < candle.Open {
		contract = "PUT"
	}
	if candle.Close == candle.Open {
		return
	}

	tradeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	trade, err := client.Trade(tradeCtx, trader.TradeRequest{
		Asset:    candle.Asset,
		Contract: contract,
		Stake:    stake,
		Duration: duration,
	})
	if err != nil {
		logs.Errorf("trade %s %s failed, err: %+v", candle.Asset, contract, err)
		return
	}
	logs.Infof("opened %s %s stake=%.2f id=%s", trade.Asset, trade.Contract, trade.Stake, trade.ID)
}

func heartbeatLoop(ctx context.Context, client *trader.Client, traderID *atomic.Value, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			id, _ := traderID.Load().(string)
			if id == "" || !client.Connected() {
				continue
			}
			hbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			if err := client.Heartbeat(hbCtx, id); err != nil {
				logs.Errorf("heartbeat failed, err: %+v", err)
			}
			cancel()
		}
	}
}

func splitAssets(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
