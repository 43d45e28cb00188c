package marketdata

import (
	"sync"

	"main/internal/bus"
	"main/internal/candle"
	"main/internal/model"
)

const (
	DefaultMaxTicksPerAsset = 1000
	DefaultMaxClosedCandles = 1000
)

// Publisher republishes candle lifecycle events beyond the cache's own
// subscribers. Satisfied by *bus.Bus.
type Publisher interface {
	Publish(e bus.Event)
}

// Persister receives overflow tick batches and closed-candle upserts.
// Submissions must not block; *store.AsyncWriter satisfies this.
type Persister interface {
	SubmitTicks(ticks []model.Tick)
	SubmitCandle(candle model.Candle)
}

// Config bounds the cache's memory footprint.
type Config struct {
	// MaxTicksPerAsset caps per-asset tick history. Optional; default 1000.
	MaxTicksPerAsset int
	// MaxClosedCandles caps closed history per aggregator. Optional; default 1000.
	MaxClosedCandles int
}

func (cfg *Config) init() {
	if cfg.MaxTicksPerAsset <= 0 {
		cfg.MaxTicksPerAsset = DefaultMaxTicksPerAsset
	}
	if cfg.MaxClosedCandles <= 0 {
		cfg.MaxClosedCandles = DefaultMaxClosedCandles
	}
}

// Cache is the central store for all tracked assets: bounded tick history
// plus lazily created per-(asset,timeframe) aggregators. All mutation is
// serialized behind one mutex; every getter returns copies.
type Cache struct {
	cfg       Config
	publisher Publisher
	persister Persister

	mu          sync.Mutex
	ticks       map[string][]model.Tick
	aggregators map[string]map[int64]*candle.Aggregator
}

// NewCache builds a cache. publisher and persister may be nil, disabling
// event republishing and durable overflow respectively.
func NewCache(cfg Config, publisher Publisher, persister Persister) *Cache {
	cfg.init()
	return &Cache{
		cfg:         cfg,
		publisher:   publisher,
		persister:   persister,
		ticks:       make(map[string][]model.Tick),
		aggregators: make(map[string]map[int64]*candle.Aggregator),
	}
}

// AddTick appends to the asset's history, hands any evicted overflow to the
// persister as a batch without waiting, then fans the tick out to every
// registered aggregator for the asset. AddTick never fails; a persistence
// problem is the writer's to log.
func (c *Cache) AddTick(tick model.Tick) {
	var evicted []model.Tick

	c.mu.Lock()
	list := append(c.ticks[tick.Asset], tick)
	if excess := len(list) - c.cfg.MaxTicksPerAsset; excess > 0 {
		evicted = make([]model.Tick, excess)
		copy(evicted, list[:excess])
		list = append(list[:0], list[excess:]...)
	}
	c.ticks[tick.Asset] = list

	for _, agg := range c.aggregators[tick.Asset] {
		agg.AddTick(tick)
	}
	c.mu.Unlock()

	if len(evicted) > 0 && c.persister != nil {
		c.persister.SubmitTicks(evicted)
	}
}

// Ticks returns a copy of the most recent count ticks in arrival order.
// count <= 0 returns the full cached history.
func (c *Cache) Ticks(asset string, count int) []model.Tick {
	c.mu.Lock()
	defer c.mu.Unlock()

	list := c.ticks[asset]
	if count <= 0 || count > len(list) {
		count = len(list)
	}
	out := make([]model.Tick, count)
	copy(out, list[len(list)-count:])
	return out
}

// TrackedAssets lists every asset with cached ticks or aggregators.
func (c *Cache) TrackedAssets() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[string]struct{}, len(c.ticks))
	out := make([]string, 0, len(c.ticks))
	for asset := range c.ticks {
		seen[asset] = struct{}{}
		out = append(out, asset)
	}
	for asset := range c.aggregators {
		if _, ok := seen[asset]; !ok {
			out = append(out, asset)
		}
	}
	return out
}

// Candles returns the trailing count candles (closed history plus the open
// candle) for the pair. The first call for a pair creates its aggregator,
// backfills it from the currently cached ticks in arrival order, and wires
// its lifecycle events into the publisher and persister. Wiring happens at
// most once per pair for the cache's lifetime.
func (c *Cache) Candles(asset string, timeframe int64, count int) []model.Candle {
	c.mu.Lock()
	defer c.mu.Unlock()

	agg := c.ensureAggregatorLocked(asset, timeframe)
	all := agg.AllCandles()
	if count <= 0 || count > len(all) {
		count = len(all)
	}
	return all[len(all)-count:]
}

func (c *Cache) ensureAggregatorLocked(asset string, timeframe int64) *candle.Aggregator {
	byTimeframe := c.aggregators[asset]
	if byTimeframe == nil {
		byTimeframe = make(map[int64]*candle.Aggregator)
		c.aggregators[asset] = byTimeframe
	}
	if agg, ok := byTimeframe[timeframe]; ok {
		return agg
	}

	agg := candle.NewAggregator(asset, timeframe, c.cfg.MaxClosedCandles)

	// Backfill before wiring so replayed history does not re-emit events;
	// results reflect in-memory history at creation time.
	for _, tick := range c.ticks[asset] {
		agg.AddTick(tick)
	}

	if c.publisher != nil {
		agg.OnUpdate(func(snapshot model.Candle) {
			c.publisher.Publish(bus.CandleUpdateEvent(snapshot))
		})
		agg.OnClosed(func(snapshot model.Candle) {
			c.publisher.Publish(bus.CandleClosedEvent(snapshot))
		})
	}
	if c.persister != nil {
		agg.OnClosed(func(snapshot model.Candle) {
			c.persister.SubmitCandle(snapshot)
		})
	}

	byTimeframe[timeframe] = agg
	return agg
}

// ClearAsset drops the asset's tick history and aggregator registrations.
// A later Candles call recreates from whatever ticks remain.
func (c *Cache) ClearAsset(asset string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.ticks, asset)
	delete(c.aggregators, asset)
}

// ClearAll resets the cache to empty.
func (c *Cache) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks = make(map[string][]model.Tick)
	c.aggregators = make(map[string]map[int64]*candle.Aggregator)
}
