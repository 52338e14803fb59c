package strategy

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cci-trader/internal/indicator"
	"cci-trader/internal/model"
)

func flatCandles(prices ...float64) []model.Candle {
	out := make([]model.Candle, len(prices))
	for i, p := range prices {
		out[i] = model.Candle{
			Symbol: "BTCUSDT", Interval: "15m",
			OpenTime: t0.Add(time.Duration(i) * 15 * time.Minute),
			Open:     p, High: p, Low: p, Close: p,
		}
	}
	return out
}

// dipAndRecover is 20 flat candles, two sharp drops, then a recovery candle.
// With CCI(14) the drops read about -466 and -233 and the recovery about +39.
func dipAndRecover() []model.Candle {
	prices := make([]float64, 0, 23)
	for i := 0; i < 20; i++ {
		prices = append(prices, 100)
	}
	prices = append(prices, 90, 90, 100)
	return flatCandles(prices...)
}

func liveSettings() Settings {
	s := DefaultSettings()
	s.ID = "cfg-live"
	s.Username = "alice"
	return s
}

func TestEvaluateLiveSignal_FiresOnNewestCandle(t *testing.T) {
	candles := dipAndRecover()

	sig, err := EvaluateLiveSignal(liveSettings(), candles)
	require.NoError(t, err)
	require.NotNil(t, sig)

	assert.Equal(t, model.Long, sig.Direction)
	assert.Equal(t, "cfg-live", sig.ConfigID)
	assert.Equal(t, "alice", sig.Username)
	assert.Equal(t, "BTCUSDT", sig.Symbol)
	assert.Equal(t, 100.0, sig.Price)
	assert.Equal(t, candles[len(candles)-1].OpenTime, sig.Timestamp)
	assert.Greater(t, sig.CCIValue, -90.0)
	assert.False(t, sig.IsRead)
	assert.NotEmpty(t, sig.ID)
}

func TestEvaluateLiveSignal_NoSignalWhileBreached(t *testing.T) {
	candles := dipAndRecover()
	sig, err := EvaluateLiveSignal(liveSettings(), candles[:len(candles)-1])
	require.NoError(t, err)
	assert.Nil(t, sig)
}

func TestEvaluateLiveSignal_OlderSignalNotRepeated(t *testing.T) {
	candles := append(dipAndRecover(), flatCandles(100)...)
	candles[len(candles)-1].OpenTime = candles[len(candles)-2].OpenTime.Add(15 * time.Minute)

	sig, err := EvaluateLiveSignal(liveSettings(), candles)
	require.NoError(t, err)
	assert.Nil(t, sig, "the signal fired one candle ago")
}

func TestEvaluateLiveSignal_ShortMirror(t *testing.T) {
	prices := make([]float64, 0, 23)
	for i := 0; i < 20; i++ {
		prices = append(prices, 100)
	}
	prices = append(prices, 110, 110, 100)

	sig, err := EvaluateLiveSignal(liveSettings(), flatCandles(prices...))
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, model.Short, sig.Direction)
}

func TestEvaluateLiveSignal_MatchesFullScan(t *testing.T) {
	// Every prefix must agree with a single detector pass over the full series.
	s := liveSettings()
	candles := dipAndRecover()
	prices := []float64{101, 99, 97, 96, 110, 118, 121, 104, 100, 92}
	for i, p := range prices {
		c := flatCandles(p)[0]
		c.OpenTime = candles[len(candles)-1].OpenTime.Add(time.Duration(i+1) * 15 * time.Minute)
		candles = append(candles, c)
	}

	samples, err := indicator.CCISeries(candles, s.CCILength)
	require.NoError(t, err)
	pair := NewDetectorPair(s)
	want := map[int]model.Direction{}
	for i, smp := range samples {
		if sig := Pick(pair.Step(smp)); sig != nil {
			want[i] = sig.Direction
		}
	}
	require.NotEmpty(t, want)

	for i := s.CCILength - 1; i < len(candles); i++ {
		sig, err := EvaluateLiveSignal(s, candles[:i+1])
		require.NoError(t, err)
		dir, ok := want[i]
		if !ok {
			assert.Nil(t, sig, "prefix %d", i)
			continue
		}
		require.NotNil(t, sig, "prefix %d", i)
		assert.Equal(t, dir, sig.Direction, "prefix %d", i)
	}
}

func TestEvaluateLiveSignal_Errors(t *testing.T) {
	_, err := EvaluateLiveSignal(liveSettings(), flatCandles(1, 2, 3))
	var ide *model.InsufficientDataError
	assert.True(t, errors.As(err, &ide))

	bad := liveSettings()
	bad.EntryThreshold = 200
	_, err = EvaluateLiveSignal(bad, dipAndRecover())
	var ice *InvalidConfigurationError
	assert.True(t, errors.As(err, &ice))
}
