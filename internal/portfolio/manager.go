// Package portfolio simulates positions and aggregates their results.
//
// Manager owns one open Position and advances its stage machine candle by
// candle. EquityTracker and Summarize reduce closed positions into the equity
// curve and backtest statistics.
package portfolio

import (
	"fmt"

	"github.com/google/uuid"

	"cci-trader/internal/model"
	"cci-trader/internal/strategy"
)

// Manager drives a single position through its lifecycle. Not safe for
// concurrent use; the backtest owns it exclusively while the position is open.
type Manager struct {
	settings strategy.Settings
	pos      model.Position
	halfSold bool // a half-sell already happened at the current stage
}

// Open starts a position from an entry signal, filling StartAmount at the
// candle's close.
func Open(s strategy.Settings, sig *strategy.Signal, c model.Candle) *Manager {
	m := &Manager{
		settings: s,
		pos: model.Position{
			PositionID: uuid.NewString(),
			Symbol:     s.Symbol,
			Direction:  sig.Direction,
			StartTime:  c.OpenTime,
			Entries:    make([]model.TradeExecution, 0, 4),
		},
	}

	typ := model.TradeEntry
	if sig.Direction == model.Short {
		typ = model.TradeShortEntry
	}
	m.buy(c, sig.CCI, typ, s.StartAmount(), sig.Reason)
	return m
}

// Position returns a copy of the managed position.
func (m *Manager) Position() model.Position { return m.pos }

// Stage returns the current stage (0..4).
func (m *Manager) Stage() int { return m.pos.Stage }

// Closed reports whether the position has a final result.
func (m *Manager) Closed() bool { return m.pos.Closed() }

// OnCandle evaluates one closed candle against the average entry price and
// applies at most one transition. Returns true once the position is closed.
func (m *Manager) OnCandle(c model.Candle, cci float64) bool {
	if m.pos.Closed() {
		return true
	}
	if m.pos.Direction == model.Short {
		m.evaluateShort(c, cci)
	} else {
		m.evaluateLong(c, cci)
	}
	return m.pos.Closed()
}

// ForceClose sells whatever is held at the candle's close and marks the
// position INCOMPLETE. No-op on a closed position.
func (m *Manager) ForceClose(c model.Candle, cci float64, reason string) {
	if m.pos.Closed() {
		return
	}
	m.sell(c, cci, model.TradeForceClose, m.pos.Coins, reason)
	m.close(c, model.ResultIncomplete)
}

func (m *Manager) evaluateLong(c model.Candle, cci float64) {
	s := m.settings
	rate := m.profitRate(c.Close)
	stage := m.pos.Stage

	if stage == 0 {
		switch {
		case reached(rate, s.ProfitTarget):
			m.sell(c, cci, model.TradeProfitExit, m.pos.Coins,
				fmt.Sprintf("profit %.2f%% >= target %.2f%%", rate, s.ProfitTarget))
			m.close(c, model.ResultProfitExit)
		case reached(-rate, s.StageLoss(0)):
			m.averageDown(c, cci, rate)
		}
		return
	}

	// stages 1..3
	switch {
	case !m.halfSold && reached(rate, s.HalfSellProfit):
		m.sell(c, cci, model.TradeHalfSell, m.pos.Coins/2,
			fmt.Sprintf("stage %d profit %.2f%% >= half-sell %.2f%%", stage, rate, s.HalfSellProfit))
		m.halfSold = true
	case m.halfSold && reached(rate, s.ProfitTarget):
		m.sell(c, cci, model.TradeProfitExit, m.pos.Coins,
			fmt.Sprintf("stage %d remainder profit %.2f%% >= target %.2f%%", stage, rate, s.ProfitTarget))
		m.close(c, model.ResultProfitExit)
	case stage == 3 && reached(-rate, s.FinalStopLoss):
		m.sell(c, cci, model.TradeStopLoss, m.pos.Coins,
			fmt.Sprintf("loss %.2f%% <= final stop-loss -%.2f%%", rate, s.FinalStopLoss))
		m.pos.Stage = model.MaxStage
		m.close(c, model.ResultStopLoss)
	case stage < 3 && reached(-rate, s.StageLoss(stage)):
		m.averageDown(c, cci, rate)
	}
}

func (m *Manager) evaluateShort(c model.Candle, cci float64) {
	s := m.settings
	rate := m.profitRate(c.Close)

	switch {
	case reached(rate, s.ProfitTarget):
		m.sell(c, cci, model.TradeShortProfitExit, m.pos.Coins,
			fmt.Sprintf("short profit %.2f%% >= target %.2f%%", rate, s.ProfitTarget))
		m.close(c, model.ResultShortProfitExit)
	case reached(-rate, s.StopLossPercent):
		m.sell(c, cci, model.TradeShortStopLoss, m.pos.Coins,
			fmt.Sprintf("short loss %.2f%% <= stop-loss -%.2f%%", rate, s.StopLossPercent))
		m.close(c, model.ResultShortStopLoss)
	}
}

// averageDown adds an amount equal to the held cost and advances one stage.
func (m *Manager) averageDown(c model.Candle, cci, rate float64) {
	next := m.pos.Stage + 1
	reason := fmt.Sprintf("loss %.2f%% <= -%.2f%%, averaging down to stage %d",
		rate, m.settings.StageLoss(m.pos.Stage), next)
	m.pos.Stage = next
	m.halfSold = false
	m.buy(c, cci, model.TradeAverageDown, m.pos.CostBasis, reason)
}

// rateEpsilon absorbs float error when a price sits exactly on a threshold.
const rateEpsilon = 1e-9

// reached reports whether a move of pct percent meets threshold.
func reached(pct, threshold float64) bool {
	return pct >= threshold-rateEpsilon
}

// profitRate is the favorable move in percent vs. the average entry price.
func (m *Manager) profitRate(price float64) float64 {
	avg := m.pos.AvgPrice()
	if avg == 0 {
		return 0
	}
	if m.pos.Direction == model.Short {
		return (avg - price) / avg * 100
	}
	return (price - avg) / avg * 100
}

// buy adds amount (quote) at the candle close using weighted average cost.
// For SHORT positions it opens the short; shorts never add.
func (m *Manager) buy(c model.Candle, cci float64, typ model.TradeType, amount float64, reason string) {
	price := c.Close
	coins := amount / price
	fees := m.fee(amount)
	rate := m.profitRate(price)

	m.pos.Coins += coins
	m.pos.CostBasis += amount
	m.pos.TotalFees += fees

	m.pos.Entries = append(m.pos.Entries, model.TradeExecution{
		Timestamp:  c.OpenTime,
		Type:       typ,
		Stage:      m.pos.Stage,
		Price:      price,
		Amount:     amount,
		Coins:      coins,
		Fees:       fees,
		CCI:        cci,
		ProfitRate: rate,
		Reason:     reason,
	})
}

// sell reduces the held size by coins at the candle close, keeping the
// average cost of what remains, and realizes P&L.
func (m *Manager) sell(c model.Candle, cci float64, typ model.TradeType, coins float64, reason string) {
	if coins > m.pos.Coins {
		coins = m.pos.Coins
	}
	price := c.Close
	avg := m.pos.AvgPrice()
	amount := coins * price
	fees := m.fee(amount)
	rate := m.profitRate(price)

	pnl := (price - avg) * coins
	if m.pos.Direction == model.Short {
		pnl = -pnl
	}

	if coins >= m.pos.Coins {
		m.pos.Coins = 0
		m.pos.CostBasis = 0
	} else {
		m.pos.Coins -= coins
		m.pos.CostBasis -= avg * coins
	}
	m.pos.TotalProfit += pnl
	m.pos.TotalFees += fees

	m.pos.Exits = append(m.pos.Exits, model.TradeExecution{
		Timestamp:  c.OpenTime,
		Type:       typ,
		Stage:      m.pos.Stage,
		Price:      price,
		Amount:     amount,
		Coins:      coins,
		Fees:       fees,
		CCI:        cci,
		ProfitRate: rate,
		Reason:     reason,
	})
}

func (m *Manager) close(c model.Candle, result model.Result) {
	m.pos.FinalResult = result
	m.pos.EndTime = c.OpenTime
}

func (m *Manager) fee(amount float64) float64 {
	return amount * m.settings.FeeRate / 100
}
