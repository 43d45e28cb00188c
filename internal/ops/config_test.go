package ops

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `{
		"gateway": {
			"addr": ":9000",
			"assets": ["R_75", "R_50"],
			"timeframes": [60, 300],
			"maxTicksPerAsset": 500,
			"startingBalance": 2500
		},
		"trader": {
			"gatewayUrl": "ws://gw:9000",
			"commandTimeoutSec": 10,
			"reconnectDelaySec": 5
		},
		"storage": {
			"driver": "postgres",
			"postgres": {"host": "db", "user": "gateway", "database": "market"}
		},
		"feed": {
			"source": "deriv",
			"appId": "1089",
			"intervalMs": 250
		}
	}`)

	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", loaded.Gateway.Addr)
	assert.Equal(t, []string{"R_75", "R_50"}, loaded.Gateway.Assets)
	assert.Equal(t, 500, loaded.Gateway.MaxTicksPerAsset)
	assert.Equal(t, 2500.0, loaded.Gateway.StartingBalance)

	assert.Equal(t, "ws://gw:9000", loaded.Trader.GatewayURL)
	assert.Equal(t, 10*time.Second, loaded.Trader.CommandTimeout)
	assert.True(t, loaded.Trader.AutoReconnect)
	assert.Equal(t, 5*time.Second, loaded.Trader.ReconnectDelay)

	assert.Equal(t, StorageDriverPostgres, loaded.Storage.Driver)
	assert.Equal(t, "market", loaded.Storage.Postgres.Database)

	assert.Equal(t, FeedSourceDeriv, loaded.Feed.Source)
	assert.Equal(t, 250*time.Millisecond, loaded.Feed.Interval)
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `{}`)

	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", loaded.Gateway.Addr)
	assert.Equal(t, "ws://localhost:8080", loaded.Trader.GatewayURL)
	assert.True(t, loaded.Trader.AutoReconnect)
	assert.Equal(t, StorageDriverNone, loaded.Storage.Driver)
	assert.Equal(t, FeedSourceSynthetic, loaded.Feed.Source)
	assert.Equal(t, 100.0, loaded.Feed.BasePrice)
	assert.Equal(t, time.Second, loaded.Feed.Interval)
}

func TestEnvOverridesSecrets(t *testing.T) {
	t.Setenv("DERIV_TOKEN", "token-from-env")
	t.Setenv("POSTGRES_PASSWORD", "hunter2")

	path := writeConfig(t, `{
		"storage": {"driver": "postgres", "postgres": {"database": "market"}},
		"feed": {"source": "deriv", "appId": "1089"}
	}`)

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "token-from-env", loaded.Feed.Token)
	assert.Equal(t, "hunter2", loaded.Storage.Postgres.Password)
}

func TestResolveRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		cfg  FileConfig
	}{
		{"empty asset", FileConfig{Gateway: GatewayConfig{Assets: []string{""}}}},
		{"bad timeframe", FileConfig{Gateway: GatewayConfig{Timeframes: []int64{0}}}},
		{"unknown driver", FileConfig{Storage: StorageConfig{Driver: "sqlite"}}},
		{"postgres without database", FileConfig{Storage: StorageConfig{Driver: StorageDriverPostgres}}},
		{"redis without addr", FileConfig{Storage: StorageConfig{Driver: StorageDriverRedis}}},
		{"unknown feed", FileConfig{Feed: FeedConfig{Source: "csv"}}},
		{"deriv without appId", FileConfig{Feed: FeedConfig{Source: FeedSourceDeriv}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Resolve(tc.cfg)
			require.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}
