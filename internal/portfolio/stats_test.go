package portfolio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cci-trader/internal/model"
)

func closedPos(i int, profit float64, result model.Result, stage int) model.Position {
	start := t0.Add(time.Duration(i) * 24 * time.Hour)
	return model.Position{
		PositionID:  "p",
		Direction:   model.Long,
		Stage:       stage,
		Entries:     []model.TradeExecution{{Type: model.TradeEntry}},
		Exits:       []model.TradeExecution{{Type: model.TradeProfitExit}},
		StartTime:   start,
		EndTime:     start.Add(2 * time.Hour),
		FinalResult: result,
		TotalProfit: profit,
	}
}

func TestSummarize_WinRateAndProfitFactor(t *testing.T) {
	positions := []model.Position{
		closedPos(0, 10, model.ResultProfitExit, 0),
		closedPos(1, 5, model.ResultProfitExit, 2),
		closedPos(2, -8, model.ResultStopLoss, 4),
	}
	st := Summarize(positions, 100)

	assert.Equal(t, 3, st.TotalPositions)
	assert.Equal(t, 3, st.CompletedPositions)
	assert.Equal(t, 2, st.WinningPositions)
	assert.Equal(t, 1, st.LosingPositions)
	assert.Equal(t, 6, st.TotalTrades)
	assert.InDelta(t, 66.67, st.WinRate, 0.01)
	assert.InDelta(t, 1.875, st.ProfitFactor, 1e-9)
	assert.InDelta(t, 15.0, st.GrossProfit, 1e-9)
	assert.InDelta(t, 8.0, st.GrossLoss, 1e-9)
	assert.InDelta(t, 7.0, st.TotalProfit, 1e-9)
	assert.InDelta(t, 2.0, st.AvgHoldingTime, 1e-9)
	assert.Equal(t, 4, st.MaxStageReached)
	assert.InDelta(t, 107.0, st.FinalSeedMoney, 1e-9)
	assert.InDelta(t, 7.0, st.ReturnPct, 1e-9)

	// Equity 100 → 110 → 115 → 107: worst decline 8 from a peak of 115.
	assert.InDelta(t, 8.0/115*100, st.MaxDrawdown, 1e-9)
}

func TestSummarize_Empty(t *testing.T) {
	st := Summarize(nil, 10000)
	assert.Zero(t, st.TotalPositions)
	assert.Zero(t, st.WinRate)
	assert.Zero(t, st.ProfitFactor)
	assert.Zero(t, st.MaxDrawdown)
	assert.Equal(t, 10000.0, st.FinalSeedMoney)
}

func TestSummarize_Guards(t *testing.T) {
	onlyWins := []model.Position{closedPos(0, 3, model.ResultProfitExit, 0)}
	assert.Equal(t, MaxProfitFactor, Summarize(onlyWins, 100).ProfitFactor)

	onlyLosses := []model.Position{closedPos(0, -3, model.ResultStopLoss, 4)}
	st := Summarize(onlyLosses, 100)
	assert.Zero(t, st.ProfitFactor)
	assert.Zero(t, st.WinRate)
	assert.Equal(t, 1, st.LosingPositions)
}

func TestSummarize_IncompleteExcludedFromWinRate(t *testing.T) {
	positions := []model.Position{
		closedPos(0, 4, model.ResultProfitExit, 0),
		closedPos(1, 50, model.ResultIncomplete, 1),
	}
	st := Summarize(positions, 100)

	assert.Equal(t, 2, st.TotalPositions)
	assert.Equal(t, 1, st.CompletedPositions)
	assert.Equal(t, 1, st.IncompletePositions)
	assert.Equal(t, 1, st.WinningPositions)
	assert.InDelta(t, 100.0, st.WinRate, 1e-9)
	assert.InDelta(t, 54.0, st.TotalProfit, 1e-9)
	assert.InDelta(t, 154.0, st.FinalSeedMoney, 1e-9)
}

func TestSummarize_FeesReduceFinalSeed(t *testing.T) {
	p := closedPos(0, 10, model.ResultProfitExit, 0)
	p.TotalFees = 1.5
	st := Summarize([]model.Position{p}, 100)
	assert.InDelta(t, 1.5, st.TotalFees, 1e-9)
	assert.InDelta(t, 108.5, st.FinalSeedMoney, 1e-9)
}

func TestEquityCurve(t *testing.T) {
	positions := []model.Position{
		closedPos(0, 10, model.ResultProfitExit, 0),
		closedPos(1, -20, model.ResultStopLoss, 4),
	}
	curve := EquityCurve(positions, 100)
	require.Len(t, curve, 3)
	assert.Equal(t, positions[0].StartTime, curve[0].Timestamp)
	assert.Equal(t, []float64{100, 110, 90}, []float64{curve[0].Equity, curve[1].Equity, curve[2].Equity})
}

func TestEquityTracker_Drawdown(t *testing.T) {
	tr := NewEquityTracker(1000, t0)
	tr.Record(t0.Add(time.Hour), 100)  // 1100 peak
	tr.Record(t0.Add(2*time.Hour), -220) // 880: 20%
	tr.Record(t0.Add(3*time.Hour), 320)  // 1200 new peak
	tr.Record(t0.Add(4*time.Hour), -120) // 1080: 10%

	assert.InDelta(t, 20.0, tr.MaxDrawdown(), 1e-9)
	assert.InDelta(t, 10.0, tr.Drawdown(), 1e-9)
	assert.InDelta(t, 1080.0, tr.Equity(), 1e-9)
	assert.Len(t, tr.Curve(), 5)
}
