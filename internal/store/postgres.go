package store

import (
	"context"
	"fmt"
	"net/url"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"main/internal/model"
)

const (
	defaultPostgresHost    = "localhost"
	defaultPostgresPort    = 5432
	defaultPostgresSSLMode = "disable"
)

// PostgresOption defines connection options for the PostgreSQL store.
type PostgresOption struct {
	Host       string
	Port       int
	User       string
	Password   string
	Database   string
	SSLMode    string
	ConnString string
	Config     *gorm.Config
}

type tickRecord struct {
	ID        uint64  `gorm:"primaryKey;autoIncrement"`
	Asset     string  `gorm:"size:32;index:idx_ticks_asset_ts,priority:1"`
	Price     float64 ``
	Timestamp int64   `gorm:"index:idx_ticks_asset_ts,priority:2"`
	Direction string  `gorm:"size:8"`
}

func (tickRecord) TableName() string { return "ticks" }

type candleRecord struct {
	Asset     string `gorm:"size:32;primaryKey"`
	Timeframe int64  `gorm:"primaryKey"`
	Timestamp int64  `gorm:"primaryKey"`
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}

func (candleRecord) TableName() string { return "candles" }

type tradeRecord struct {
	ID        string `gorm:"size:64;primaryKey"`
	TraderID  string `gorm:"size:64;index"`
	Asset     string `gorm:"size:32;index"`
	Contract  string `gorm:"size:16"`
	Stake     float64
	Payout    float64
	Status    string `gorm:"size:8"`
	OpenedAt  int64
	ClosedAt  int64
	OpenPrice float64
}

func (tradeRecord) TableName() string { return "trades" }

// PostgresStore persists ticks, candles and trades through gorm.
type PostgresStore struct {
	db *gorm.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgres opens a connection pool and migrates the schema.
func NewPostgres(opt PostgresOption) (*PostgresStore, error) {
	config := opt.Config
	if config == nil {
		config = &gorm.Config{}
	}
	db, err := gorm.Open(postgres.Open(opt.dsn()), config)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&tickRecord{}, &candleRecord{}, &tradeRecord{}); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// CreateTicks inserts an evicted tick batch in one statement.
func (s *PostgresStore) CreateTicks(ctx context.Context, ticks []model.Tick) error {
	if len(ticks) == 0 {
		return nil
	}
	records := make([]tickRecord, len(ticks))
	for i, t := range ticks {
		records[i] = tickRecord{
			Asset:     t.Asset,
			Price:     t.Price,
			Timestamp: t.Timestamp,
			Direction: t.Direction.String(),
		}
	}
	return s.db.WithContext(ctx).Create(&records).Error
}

// UpsertCandle writes a closed candle keyed by asset+timeframe+timestamp.
func (s *PostgresStore) UpsertCandle(ctx context.Context, candle model.Candle) error {
	record := candleRecord{
		Asset:     candle.Asset,
		Timeframe: candle.Timeframe,
		Timestamp: candle.Timestamp,
		Open:      candle.Open,
		High:      candle.High,
		Low:       candle.Low,
		Close:     candle.Close,
		Volume:    candle.Volume,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "asset"}, {Name: "timeframe"}, {Name: "timestamp"}},
		DoUpdates: clause.AssignmentColumns([]string{"open", "high", "low", "close", "volume"}),
	}).Create(&record).Error
}

// CreateTrade records a newly opened trade.
func (s *PostgresStore) CreateTrade(ctx context.Context, trade model.TradeRecord) error {
	return s.db.WithContext(ctx).Create(tradeRecordFrom(trade)).Error
}

// UpdateTrade settles an existing trade by id.
func (s *PostgresStore) UpdateTrade(ctx context.Context, trade model.TradeRecord) error {
	return s.db.WithContext(ctx).
		Model(&tradeRecord{}).
		Where("id = ?", trade.ID).
		Updates(map[string]any{
			"status":    string(trade.Status),
			"payout":    trade.Payout,
			"closed_at": trade.ClosedAt,
		}).Error
}

// Close closes the underlying connection pool.
func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func tradeRecordFrom(trade model.TradeRecord) *tradeRecord {
	return &tradeRecord{
		ID:        trade.ID,
		TraderID:  trade.TraderID,
		Asset:     trade.Asset,
		Contract:  trade.Contract,
		Stake:     trade.Stake,
		Payout:    trade.Payout,
		Status:    string(trade.Status),
		OpenedAt:  trade.OpenedAt,
		ClosedAt:  trade.ClosedAt,
		OpenPrice: trade.OpenPrice,
	}
}

func (opt PostgresOption) dsn() string {
	if opt.ConnString != "" {
		return opt.ConnString
	}

	host := opt.Host
	if host == "" {
		host = defaultPostgresHost
	}
	port := opt.Port
	if port == 0 {
		port = defaultPostgresPort
	}
	sslMode := opt.SSLMode
	if sslMode == "" {
		sslMode = defaultPostgresSSLMode
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", host, port),
	}
	if opt.User != "" {
		if opt.Password != "" {
			u.User = url.UserPassword(opt.User, opt.Password)
		} else {
			u.User = url.User(opt.User)
		}
	}
	if opt.Database != "" {
		u.Path = "/" + opt.Database
	}
	query := url.Values{}
	query.Set("sslmode", sslMode)
	u.RawQuery = query.Encode()
	return u.String()
}
