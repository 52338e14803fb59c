package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cci-trader/internal/strategy"
)

const strategyDoc = `
strategies:
  - id: btc-15m
    username: alice
    symbol: btcusdt
    enabled: true
  - id: eth-1h
    symbol: ETHUSDT
    timeframe: 1h
    cci_length: 20
    check_interval: 1h
`

func TestLoadStrategies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(strategyDoc), 0o644))

	got, err := LoadStrategies(path)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "BTCUSDT", got[0].Symbol)
	assert.Equal(t, "15m", got[0].Timeframe)
	assert.True(t, got[0].Enabled)

	assert.Equal(t, 20, got[1].CCILength)
	assert.Equal(t, time.Hour, got[1].CheckInterval.Std())
	assert.False(t, got[1].Enabled)
}

func TestParseStrategies_Rejects(t *testing.T) {
	cases := map[string]string{
		"empty":         "strategies: []\n",
		"unknown field": "strategies:\n  - id: a\n    cci_lenght: 20\n",
		"duplicate id":  "strategies:\n  - id: a\n  - id: a\n",
		"invalid":       "strategies:\n  - id: a\n    cci_length: 3\n",
		"short window":  "strategies:\n  - id: a\n    cci_length: 250\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseStrategies([]byte(doc))
			assert.Error(t, err)
		})
	}

	_, err := ParseStrategies([]byte("strategies:\n  - id: a\n    cci_length: 3\n"))
	var ice *strategy.InvalidConfigurationError
	assert.True(t, errors.As(err, &ice))
}

func TestLoadStrategies_MissingFile(t *testing.T) {
	_, err := LoadStrategies(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
