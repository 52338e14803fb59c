package portfolio

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cci-trader/internal/model"
	"cci-trader/internal/strategy"
)

var t0 = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

// testSettings gives StartAmount = 200 and no fees.
func testSettings() strategy.Settings {
	s := strategy.DefaultSettings()
	s.SeedMoney = 1000
	s.StartAmountRatio = 0.2
	s.FeeRate = 0
	return s
}

type feed struct {
	i int
}

func (f *feed) next(price float64) model.Candle {
	c := model.Candle{
		Symbol: "BTCUSDT", Interval: "15m",
		OpenTime: t0.Add(time.Duration(f.i) * 15 * time.Minute),
		Open:     price, High: price, Low: price, Close: price,
	}
	f.i++
	return c
}

func open(t *testing.T, s strategy.Settings, dir model.Direction, f *feed, price float64) *Manager {
	t.Helper()
	m := Open(s, &strategy.Signal{Direction: dir, CCI: -85, Reason: "test"}, f.next(price))
	require.False(t, m.Closed())
	return m
}

func TestManager_LongEntry(t *testing.T) {
	f := &feed{}
	m := open(t, testSettings(), model.Long, f, 100)
	p := m.Position()

	require.Len(t, p.Entries, 1)
	e := p.Entries[0]
	assert.Equal(t, model.TradeEntry, e.Type)
	assert.Equal(t, 0, e.Stage)
	assert.Equal(t, 200.0, e.Amount)
	assert.InDelta(t, 2.0, e.Coins, 1e-12)
	assert.Equal(t, -85.0, e.CCI)
	assert.Equal(t, t0, p.StartTime)
	assert.NotEmpty(t, p.PositionID)
	assert.InDelta(t, 100.0, p.AvgPrice(), 1e-9)
}

func TestManager_HeldCostDoublesPerStage(t *testing.T) {
	f := &feed{}
	m := open(t, testSettings(), model.Long, f, 100)
	assert.InDelta(t, 200.0, m.Position().CostBasis, 1e-9) // k = 0

	// Each price is past the next loss threshold vs. the running average.
	for k, price := range []float64{97, 94, 88} {
		closed := m.OnCandle(f.next(price), -120)
		require.False(t, closed)
		p := m.Position()
		assert.Equal(t, k+1, p.Stage)
		assert.InDelta(t, 200*math.Pow(2, float64(k+1)), p.CostBasis, 1e-9, "k=%d", k+1)
		assert.Equal(t, model.TradeAverageDown, p.Entries[k+1].Type)
	}
}

func TestManager_StageOneAddThenHalfSell(t *testing.T) {
	f := &feed{}
	m := open(t, testSettings(), model.Long, f, 100)

	// -2.5% triggers the stage-1 addition of 200 at 97.5.
	m.OnCandle(f.next(97.5), -110)
	p := m.Position()
	require.Equal(t, 1, p.Stage)
	require.Len(t, p.Entries, 2)
	assert.Equal(t, 200.0, p.Entries[1].Amount)
	assert.Equal(t, 97.5, p.Entries[1].Price)
	assert.InDelta(t, 400.0, p.CostBasis, 1e-9)

	avg := p.AvgPrice()
	assert.InDelta(t, 400/(2+200/97.5), avg, 1e-9)

	// >= 0.5% over the new average sells half, stage stays 1.
	price := avg * 1.006
	coinsBefore := p.Coins
	m.OnCandle(f.next(price), 20)
	p = m.Position()
	assert.False(t, p.Closed())
	assert.Equal(t, 1, p.Stage)
	require.Len(t, p.Exits, 1)
	assert.Equal(t, model.TradeHalfSell, p.Exits[0].Type)
	assert.InDelta(t, coinsBefore/2, p.Exits[0].Coins, 1e-12)
	assert.InDelta(t, coinsBefore/2, p.Coins, 1e-12)
	assert.InDelta(t, avg, p.AvgPrice(), 1e-9, "half-sell keeps the average cost")
	assert.InDelta(t, (price-avg)*coinsBefore/2, p.TotalProfit, 1e-9)
}

func TestManager_HalfSellOncePerStageThenProfitExit(t *testing.T) {
	f := &feed{}
	m := open(t, testSettings(), model.Long, f, 100)
	m.OnCandle(f.next(97.5), -110)
	avg := m.Position().AvgPrice()

	m.OnCandle(f.next(avg*1.006), 0) // half-sell
	m.OnCandle(f.next(avg*1.007), 0) // below target, already half-sold: nothing
	p := m.Position()
	assert.Len(t, p.Exits, 1)

	closed := m.OnCandle(f.next(avg*1.011), 0)
	require.True(t, closed)
	p = m.Position()
	assert.Equal(t, model.ResultProfitExit, p.FinalResult)
	assert.Equal(t, model.TradeProfitExit, p.Exits[1].Type)
	assert.Zero(t, p.Coins)
	assert.Equal(t, f.i-1, int(p.EndTime.Sub(t0)/(15*time.Minute)))
}

func TestManager_OneTransitionPerCandle(t *testing.T) {
	// At stage 1 a jump past the profit target only half-sells.
	f := &feed{}
	m := open(t, testSettings(), model.Long, f, 100)
	m.OnCandle(f.next(97.5), -110)
	avg := m.Position().AvgPrice()

	closed := m.OnCandle(f.next(avg*1.05), 50)
	assert.False(t, closed)
	assert.Equal(t, model.TradeHalfSell, m.Position().Exits[0].Type)
}

func TestManager_LossLadderAfterHalfSell(t *testing.T) {
	f := &feed{}
	m := open(t, testSettings(), model.Long, f, 100)
	m.OnCandle(f.next(97.5), -110)
	avg := m.Position().AvgPrice()
	m.OnCandle(f.next(avg*1.006), 0) // half-sell at stage 1

	held := m.Position().CostBasis
	m.OnCandle(f.next(avg*0.95), -150) // -5% <= -4%
	p := m.Position()
	assert.Equal(t, 2, p.Stage)
	assert.InDelta(t, held*2, p.CostBasis, 1e-9)
}

func TestManager_StageZeroProfitExit(t *testing.T) {
	s := testSettings()
	s.FeeRate = 0.1
	f := &feed{}
	m := open(t, s, model.Long, f, 100)

	assert.False(t, m.OnCandle(f.next(100.9), 0))
	require.True(t, m.OnCandle(f.next(101), 0))

	p := m.Position()
	assert.Equal(t, model.ResultProfitExit, p.FinalResult)
	assert.Equal(t, 0, p.Stage)
	assert.InDelta(t, 2.0, p.TotalProfit, 1e-9)
	assert.InDelta(t, 0.2+0.202, p.TotalFees, 1e-9)
	assert.InDelta(t, 2.0-0.402, p.NetProfit(), 1e-9)
	assert.InDelta(t, 1.0, p.Exits[0].ProfitRate, 1e-9)
	assert.Equal(t, 2, p.TradeCount())
}

func TestManager_FinalStopLoss(t *testing.T) {
	f := &feed{}
	m := open(t, testSettings(), model.Long, f, 100)
	for _, price := range []float64{97, 94, 88} {
		m.OnCandle(f.next(price), -120)
	}
	require.Equal(t, 3, m.Stage())

	require.True(t, m.OnCandle(f.next(82), -200))
	p := m.Position()
	assert.Equal(t, model.ResultStopLoss, p.FinalResult)
	assert.Equal(t, model.MaxStage, p.Stage)
	assert.Equal(t, model.TradeStopLoss, p.Exits[len(p.Exits)-1].Type)
	assert.Less(t, p.TotalProfit, 0.0)

	// Closed positions ignore further candles.
	assert.True(t, m.OnCandle(f.next(200), 0))
	assert.Len(t, m.Position().Exits, 1)
}

func TestManager_ShortExits(t *testing.T) {
	t.Run("profit", func(t *testing.T) {
		f := &feed{}
		m := open(t, testSettings(), model.Short, f, 100)
		assert.Equal(t, model.TradeShortEntry, m.Position().Entries[0].Type)

		require.True(t, m.OnCandle(f.next(99), 80))
		p := m.Position()
		assert.Equal(t, model.ResultShortProfitExit, p.FinalResult)
		assert.InDelta(t, 2.0, p.TotalProfit, 1e-9)
		assert.Equal(t, 0, p.Stage)
	})
	t.Run("stop", func(t *testing.T) {
		f := &feed{}
		m := open(t, testSettings(), model.Short, f, 100)

		// Shorts never average down, even past the LONG ladder.
		assert.False(t, m.OnCandle(f.next(101.5), 150))
		assert.Len(t, m.Position().Entries, 1)

		require.True(t, m.OnCandle(f.next(102.5), 160))
		p := m.Position()
		assert.Equal(t, model.ResultShortStopLoss, p.FinalResult)
		assert.InDelta(t, -5.0, p.TotalProfit, 1e-9)
	})
}

func TestManager_ForceClose(t *testing.T) {
	f := &feed{}
	m := open(t, testSettings(), model.Long, f, 100)
	m.OnCandle(f.next(97), -120)

	last := f.next(98)
	m.ForceClose(last, -60, "end of data")
	p := m.Position()
	assert.Equal(t, model.ResultIncomplete, p.FinalResult)
	assert.Equal(t, last.OpenTime, p.EndTime)
	assert.Equal(t, model.TradeForceClose, p.Exits[0].Type)
	assert.Zero(t, p.Coins)
	assert.False(t, p.Completed())

	// Result is set exactly once.
	m.ForceClose(f.next(50), 0, "again")
	assert.Len(t, m.Position().Exits, 1)
}

func TestManager_ExitsNeverExceedHeld(t *testing.T) {
	f := &feed{}
	m := open(t, testSettings(), model.Long, f, 100)
	prices := []float64{97, 98.6, 99, 94, 95.5, 96.5, 88, 90, 91, 80}
	for _, price := range prices {
		before := m.Position()
		if m.OnCandle(f.next(price), 0) {
			break
		}
		after := m.Position()
		assert.GreaterOrEqual(t, after.Stage, before.Stage)
		if len(after.Exits) > len(before.Exits) {
			assert.LessOrEqual(t, after.Exits[len(after.Exits)-1].Coins, before.Coins+1e-12)
		}
	}
	assert.LessOrEqual(t, m.Stage(), model.MaxStage)
}

func TestManager_TriggersExactlyAtThreshold(t *testing.T) {
	f := &feed{}
	m := open(t, testSettings(), model.Long, f, 100)

	// Exactly -2% averages down.
	require.False(t, m.OnCandle(f.next(98), -110))
	require.Equal(t, 1, m.Stage())

	// Exactly +0.5% over the new average half-sells.
	avg := m.Position().AvgPrice()
	m.OnCandle(f.next(avg*1.005), 10)
	p := m.Position()
	require.Len(t, p.Exits, 1)
	assert.Equal(t, model.TradeHalfSell, p.Exits[0].Type)
}

func TestReached(t *testing.T) {
	assert.True(t, reached(0.5, 0.5))
	assert.True(t, reached(0.4999999999999, 0.5))
	assert.False(t, reached(0.49, 0.5))
	assert.True(t, reached(2.5, 2))
}
