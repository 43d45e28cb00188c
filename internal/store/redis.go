package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"main/internal/model"
)

const defaultTickRetention = 10_000

// RedisStore is a lightweight alternative backend keeping recent history in
// Redis lists and hashes. Tick lists are trimmed to a retention cap so the
// store stays bounded like the in-memory cache.
type RedisStore struct {
	client    *redis.Client
	prefix    string
	retention int64
}

var _ Store = (*RedisStore)(nil)

// RedisOption defines connection options for the Redis store.
type RedisOption struct {
	Addr     string
	Password string
	DB       int
	// TickRetention caps ticks kept per asset. Optional; default 10000.
	TickRetention int64
}

// NewRedis connects and verifies the server is reachable.
func NewRedis(ctx context.Context, opt RedisOption) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opt.Addr,
		Password: opt.Password,
		DB:       opt.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	retention := opt.TickRetention
	if retention <= 0 {
		retention = defaultTickRetention
	}
	return &RedisStore{client: client, prefix: "gateway:", retention: retention}, nil
}

// CreateTicks appends a batch to the per-asset list and trims retention.
func (s *RedisStore) CreateTicks(ctx context.Context, ticks []model.Tick) error {
	if len(ticks) == 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	touched := make(map[string]struct{})
	for _, t := range ticks {
		data, err := json.Marshal(t)
		if err != nil {
			return err
		}
		key := s.tickKey(t.Asset)
		pipe.RPush(ctx, key, data)
		touched[key] = struct{}{}
	}
	for key := range touched {
		pipe.LTrim(ctx, key, -s.retention, -1)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// UpsertCandle stores the candle under its bucket field, overwriting any
// previous value for the same asset+timeframe+timestamp.
func (s *RedisStore) UpsertCandle(ctx context.Context, candle model.Candle) error {
	data, err := json.Marshal(candle)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("%scandles:%s:%d", s.prefix, candle.Asset, candle.Timeframe)
	return s.client.HSet(ctx, key, fmt.Sprintf("%d", candle.Timestamp), data).Err()
}

// CreateTrade stores the trade by id.
func (s *RedisStore) CreateTrade(ctx context.Context, trade model.TradeRecord) error {
	return s.writeTrade(ctx, trade)
}

// UpdateTrade overwrites the stored trade by id.
func (s *RedisStore) UpdateTrade(ctx context.Context, trade model.TradeRecord) error {
	return s.writeTrade(ctx, trade)
}

// Close releases the client connections.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) writeTrade(ctx context.Context, trade model.TradeRecord) error {
	data, err := json.Marshal(trade)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, s.prefix+"trades", trade.ID, data).Err()
}

func (s *RedisStore) tickKey(asset string) string {
	return s.prefix + "ticks:" + asset
}
