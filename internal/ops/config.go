// Package ops loads and validates runtime configuration for the gateway and
// trader binaries.
package ops

import (
	"encoding/json"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/yanun0323/errors"

	"main/internal/store"
)

const (
	StorageDriverNone     = "none"
	StorageDriverPostgres = "postgres"
	StorageDriverRedis    = "redis"

	FeedSourceDeriv     = "deriv"
	FeedSourceSynthetic = "synthetic"
)

// FileConfig mirrors the JSON config layout.
type FileConfig struct {
	Gateway   GatewayConfig   `json:"gateway"`
	Trader    TraderConfig    `json:"trader"`
	Storage   StorageConfig   `json:"storage"`
	Feed      FeedConfig      `json:"feed"`
	Profiling ProfilingConfig `json:"profiling"`
}

// GatewayConfig describes the gateway server and its cache bounds.
type GatewayConfig struct {
	Addr             string   `json:"addr"`
	Assets           []string `json:"assets"`
	Timeframes       []int64  `json:"timeframes"`
	MaxTicksPerAsset int      `json:"maxTicksPerAsset"`
	MaxClosedCandles int      `json:"maxClosedCandles"`
	StartingBalance  float64  `json:"startingBalance"`
}

// TraderConfig describes how the trader reaches the gateway.
type TraderConfig struct {
	GatewayURL        string `json:"gatewayUrl"`
	CommandTimeoutSec int    `json:"commandTimeoutSec"`
	AutoReconnect     *bool  `json:"autoReconnect"`
	ReconnectDelaySec int    `json:"reconnectDelaySec"`
}

// StorageConfig selects and configures the durable backend.
type StorageConfig struct {
	Driver   string         `json:"driver"`
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
}

// PostgresConfig describes the PostgreSQL connection.
type PostgresConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"sslMode"`
}

// RedisConfig describes the Redis connection.
type RedisConfig struct {
	Addr          string `json:"addr"`
	Password      string `json:"password"`
	DB            int    `json:"db"`
	TickRetention int64  `json:"tickRetention"`
}

// FeedConfig selects the tick source.
type FeedConfig struct {
	Source     string  `json:"source"`
	AppID      string  `json:"appId"`
	Token      string  `json:"token"`
	BasePrice  float64 `json:"basePrice"`
	Step       float64 `json:"step"`
	IntervalMs int64   `json:"intervalMs"`
}

// ProfilingConfig enables continuous profiling.
type ProfilingConfig struct {
	Enable        bool   `json:"enable"`
	ServerAddress string `json:"serverAddress"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Gateway   GatewaySpec
	Trader    TraderSpec
	Storage   StorageSpec
	Feed      FeedSpec
	Profiling ProfilingConfig
}

// GatewaySpec is the resolved gateway definition.
type GatewaySpec struct {
	Addr             string
	Assets           []string
	Timeframes       []int64
	MaxTicksPerAsset int
	MaxClosedCandles int
	StartingBalance  float64
}

// TraderSpec is the resolved trader definition.
type TraderSpec struct {
	GatewayURL     string
	CommandTimeout time.Duration
	AutoReconnect  bool
	ReconnectDelay time.Duration
}

// StorageSpec carries the chosen driver and its options.
type StorageSpec struct {
	Driver   string
	Postgres store.PostgresOption
	Redis    store.RedisOption
}

// FeedSpec is the resolved tick source definition.
type FeedSpec struct {
	Source    string
	AppID     string
	Token     string
	BasePrice float64
	Step      float64
	Interval  time.Duration
}

// Load reads a JSON config file, applies environment overrides and
// validates the result. A .env file next to the process is honored when
// present; missing is fine.
func Load(path string) (Loaded, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, errors.Wrap(err, "read config")
	}
	var cfg FileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, errors.Wrap(err, "parse config")
	}
	applyEnvOverrides(&cfg)
	return Resolve(cfg)
}

// Resolve validates a parsed config and fills defaults.
func Resolve(cfg FileConfig) (Loaded, error) {
	gateway, err := resolveGateway(cfg.Gateway)
	if err != nil {
		return Loaded{}, err
	}
	trader, err := resolveTrader(cfg.Trader)
	if err != nil {
		return Loaded{}, err
	}
	storage, err := resolveStorage(cfg.Storage)
	if err != nil {
		return Loaded{}, err
	}
	feed, err := resolveFeed(cfg.Feed)
	if err != nil {
		return Loaded{}, err
	}
	return Loaded{
		Gateway:   gateway,
		Trader:    trader,
		Storage:   storage,
		Feed:      feed,
		Profiling: cfg.Profiling,
	}, nil
}

// applyEnvOverrides lets secrets stay out of the config file.
func applyEnvOverrides(cfg *FileConfig) {
	if v := os.Getenv("DERIV_APP_ID"); v != "" {
		cfg.Feed.AppID = v
	}
	if v := os.Getenv("DERIV_TOKEN"); v != "" {
		cfg.Feed.Token = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		cfg.Storage.Postgres.Password = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Storage.Redis.Password = v
	}
	if v := os.Getenv("PYROSCOPE_ADDR"); v != "" {
		cfg.Profiling.ServerAddress = v
		cfg.Profiling.Enable = true
	}
}

func resolveGateway(cfg GatewayConfig) (GatewaySpec, error) {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	for _, asset := range cfg.Assets {
		if asset == "" {
			return GatewaySpec{}, errors.New("gateway assets contain an empty name")
		}
	}
	for _, timeframe := range cfg.Timeframes {
		if timeframe <= 0 {
			return GatewaySpec{}, errors.Errorf("invalid timeframe: %d", timeframe)
		}
	}
	if cfg.MaxTicksPerAsset < 0 || cfg.MaxClosedCandles < 0 {
		return GatewaySpec{}, errors.New("cache bounds must be >= 0")
	}
	return GatewaySpec{
		Addr:             cfg.Addr,
		Assets:           cfg.Assets,
		Timeframes:       cfg.Timeframes,
		MaxTicksPerAsset: cfg.MaxTicksPerAsset,
		MaxClosedCandles: cfg.MaxClosedCandles,
		StartingBalance:  cfg.StartingBalance,
	}, nil
}

func resolveTrader(cfg TraderConfig) (TraderSpec, error) {
	if cfg.GatewayURL == "" {
		cfg.GatewayURL = "ws://localhost:8080"
	}
	if cfg.CommandTimeoutSec < 0 || cfg.ReconnectDelaySec < 0 {
		return TraderSpec{}, errors.New("trader timeouts must be >= 0")
	}
	autoReconnect := true
	if cfg.AutoReconnect != nil {
		autoReconnect = *cfg.AutoReconnect
	}
	return TraderSpec{
		GatewayURL:     cfg.GatewayURL,
		CommandTimeout: time.Duration(cfg.CommandTimeoutSec) * time.Second,
		AutoReconnect:  autoReconnect,
		ReconnectDelay: time.Duration(cfg.ReconnectDelaySec) * time.Second,
	}, nil
}

func resolveStorage(cfg StorageConfig) (StorageSpec, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = StorageDriverNone
	}
	switch driver {
	case StorageDriverNone:
	case StorageDriverPostgres:
		if cfg.Postgres.Database == "" {
			return StorageSpec{}, errors.New("postgres database is empty")
		}
	case StorageDriverRedis:
		if cfg.Redis.Addr == "" {
			return StorageSpec{}, errors.New("redis addr is empty")
		}
	default:
		return StorageSpec{}, errors.Errorf("unknown storage driver: %s", driver)
	}
	return StorageSpec{
		Driver: driver,
		Postgres: store.PostgresOption{
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			Database: cfg.Postgres.Database,
			SSLMode:  cfg.Postgres.SSLMode,
		},
		Redis: store.RedisOption{
			Addr:          cfg.Redis.Addr,
			Password:      cfg.Redis.Password,
			DB:            cfg.Redis.DB,
			TickRetention: cfg.Redis.TickRetention,
		},
	}, nil
}

func resolveFeed(cfg FeedConfig) (FeedSpec, error) {
	source := cfg.Source
	if source == "" {
		source = FeedSourceSynthetic
	}
	switch source {
	case FeedSourceDeriv:
		if cfg.AppID == "" {
			return FeedSpec{}, errors.New("deriv appId is empty")
		}
	case FeedSourceSynthetic:
		if cfg.BasePrice == 0 {
			cfg.BasePrice = 100
		}
		if cfg.BasePrice < 0 {
			return FeedSpec{}, errors.New("basePrice must be > 0")
		}
	default:
		return FeedSpec{}, errors.Errorf("unknown feed source: %s", source)
	}
	interval := time.Duration(cfg.IntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	return FeedSpec{
		Source:    source,
		AppID:     cfg.AppID,
		Token:     cfg.Token,
		BasePrice: cfg.BasePrice,
		Step:      cfg.Step,
		Interval:  interval,
	}, nil
}
