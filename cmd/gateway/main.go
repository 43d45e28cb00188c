package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/gateway"
	"main/internal/ingest"
	"main/internal/marketdata"
	"main/internal/model"
	"main/internal/obs"
	"main/internal/ops"
	"main/internal/store"
)

var defaultAssets = []string{"R_10", "R_25", "R_50", "R_75", "R_100"}

func main() {
	configPath := flag.String("config", "config.json", "Path to JSON config")
	statsInterval := flag.Duration("stats-interval", 30*time.Second, "Stats log interval (0=disable)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loaded, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	if loaded.Profiling.Enable {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "market-gateway",
			ServerAddress:   loaded.Profiling.ServerAddress,
			Logger:          emptyLogger{},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	metrics := obs.NewMetrics()
	events := bus.New()

	backend, closeStore, err := openStore(ctx, loaded.Storage)
	if err != nil {
		log.Fatalf("open store failed: %v", err)
	}
	if closeStore != nil {
		defer func() {
			_ = closeStore()
		}()
	}

	var writer *store.AsyncWriter
	var persister marketdata.Persister
	var tradeWriter store.TradeWriter
	if backend != nil {
		writer = store.NewAsyncWriter(backend, backend, 0)
		go writer.Run(ctx)
		defer writer.Close()
		persister = writer
		tradeWriter = backend
	}

	cache := marketdata.NewCache(marketdata.Config{
		MaxTicksPerAsset: loaded.Gateway.MaxTicksPerAsset,
		MaxClosedCandles: loaded.Gateway.MaxClosedCandles,
	}, events, persister)

	assets := loaded.Gateway.Assets
	if len(assets) == 0 {
		assets = defaultAssets
	}
	for _, asset := range assets {
		for _, timeframe := range loaded.Gateway.Timeframes {
			cache.Candles(asset, timeframe, 0)
		}
	}

	handleTick := func(tick model.Tick) {
		metrics.IncTickIngested()
		cache.AddTick(tick)
		events.Publish(bus.TickEvent(tick))
	}

	if err := startFeed(ctx, loaded.Feed, assets, handleTick); err != nil {
		log.Fatalf("start feed failed: %v", err)
	}

	closedSub := events.Subscribe(0)
	go closedSub.Queue().Run(ctx, func(e bus.Event) {
		if e.Kind == bus.EventCandleClosed {
			metrics.IncCandleClosed()
		}
	})

	server := gateway.NewServer(gateway.Option{
		Addr:            loaded.Gateway.Addr,
		Cache:           cache,
		Trades:          tradeWriter,
		Metrics:         metrics,
		StartingBalance: loaded.Gateway.StartingBalance,
	})
	broadcastSub := events.Subscribe(0)
	go server.ConsumeEvents(ctx, broadcastSub)

	if *statsInterval > 0 {
		go logStats(ctx, *statsInterval, metrics, events, writer)
	}

	if err := server.Start(ctx); err != nil {
		log.Fatalf("gateway stopped: %v", err)
	}
	logs.Info("gateway shut down")
}

func openStore(ctx context.Context, spec ops.StorageSpec) (store.Store, func() error, error) {
	switch spec.Driver {
	case ops.StorageDriverPostgres:
		pg, err := store.NewPostgres(spec.Postgres)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	case ops.StorageDriverRedis:
		rd, err := store.NewRedis(ctx, spec.Redis)
		if err != nil {
			return nil, nil, err
		}
		return rd, rd.Close, nil
	default:
		return nil, nil, nil
	}
}

func startFeed(ctx context.Context, spec ops.FeedSpec, assets []string, handleTick func(model.Tick)) error {
	switch spec.Source {
	case ops.FeedSourceDeriv:
		feed := ingest.NewDerivFeed(ctx, spec.AppID)
		if err := feed.StartWebsocket(ctx); err != nil {
			return err
		}
		if spec.Token != "" {
			if err := feed.Authorize(ctx, spec.Token); err != nil {
				return err
			}
		}
		feed.ObserveTicks(ctx, handleTick)
		for _, asset := range assets {
			if err := feed.SubscribeTicks(ctx, asset); err != nil {
				return err
			}
			logs.Infof("subscribed %s", asset)
		}
		return nil
	default:
		gen, err := ingest.NewGenerator(assets, spec.BasePrice, spec.Step, time.Now().UnixNano())
		if err != nil {
			return err
		}
		go gen.Run(ctx, spec.Interval, handleTick)
		return nil
	}
}

func logStats(ctx context.Context, interval time.Duration, metrics *obs.Metrics, events *bus.Bus, writer *store.AsyncWriter) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := metrics.Snapshot()
			logs.Infof("ticks=%d candles=%d protoErr=%d busDrops=%d storeDrops=%d storeFails=%d",
				snap.TicksIngested, snap.CandlesClosed, snap.ProtocolErrors,
				events.Drops(), writer.Drops(), writer.Failures())
		}
	}
}

type emptyLogger struct{}

func (emptyLogger) Infof(_ string, _ ...interface{})  {}
func (emptyLogger) Debugf(_ string, _ ...interface{}) {}
func (emptyLogger) Errorf(_ string, _ ...interface{}) {}
