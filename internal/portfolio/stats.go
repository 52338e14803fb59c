package portfolio

import (
	"sort"
	"time"

	"cci-trader/internal/model"
)

// MaxProfitFactor caps the profit factor when there are no losing positions.
const MaxProfitFactor = 999.99

// Summarize reduces positions (in close order) into backtest statistics.
// Winning/losing and gross figures count completed positions only; totals
// and the equity curve include force-closed ones.
func Summarize(positions []model.Position, seedMoney float64) model.Stats {
	st := model.Stats{
		TotalPositions: len(positions),
		SeedMoney:      seedMoney,
	}

	var holdHours float64
	var held int
	for i := range positions {
		p := &positions[i]

		st.TotalTrades += p.TradeCount()
		st.TotalProfit += p.TotalProfit
		st.TotalFees += p.TotalFees
		if p.Stage > st.MaxStageReached {
			st.MaxStageReached = p.Stage
		}
		if p.Closed() {
			holdHours += p.HoldingTime().Hours()
			held++
		}

		if !p.Completed() {
			st.IncompletePositions++
			continue
		}
		st.CompletedPositions++
		if p.TotalProfit > 0 {
			st.WinningPositions++
			st.GrossProfit += p.TotalProfit
		} else {
			st.LosingPositions++
			st.GrossLoss += -p.TotalProfit
		}
	}

	if st.CompletedPositions > 0 {
		st.WinRate = float64(st.WinningPositions) / float64(st.CompletedPositions) * 100
	}
	switch {
	case st.GrossProfit == 0:
		st.ProfitFactor = 0
	case st.GrossLoss == 0:
		st.ProfitFactor = MaxProfitFactor
	default:
		st.ProfitFactor = st.GrossProfit / st.GrossLoss
	}
	if held > 0 {
		st.AvgHoldingTime = holdHours / float64(held)
	}

	st.MaxDrawdown = replayEquity(positions, seedMoney).MaxDrawdown()
	st.FinalSeedMoney = seedMoney + st.TotalProfit - st.TotalFees
	if seedMoney > 0 {
		st.ReturnPct = (st.FinalSeedMoney - seedMoney) / seedMoney * 100
	}
	return st
}

// EquityCurve rebuilds the realized equity curve from closed positions.
func EquityCurve(positions []model.Position, seedMoney float64) []model.EquityPoint {
	return replayEquity(positions, seedMoney).Curve()
}

func replayEquity(positions []model.Position, seedMoney float64) *EquityTracker {
	closed := make([]*model.Position, 0, len(positions))
	for i := range positions {
		if positions[i].Closed() {
			closed = append(closed, &positions[i])
		}
	}
	sort.SliceStable(closed, func(i, j int) bool {
		return closed[i].EndTime.Before(closed[j].EndTime)
	})

	var start time.Time
	for _, p := range closed {
		if start.IsZero() || p.StartTime.Before(start) {
			start = p.StartTime
		}
	}
	tr := NewEquityTracker(seedMoney, start)
	for _, p := range closed {
		tr.Record(p.EndTime, p.NetProfit())
	}
	return tr
}
