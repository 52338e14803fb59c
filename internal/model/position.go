package model

import "time"

// Direction is the side of a position or signal.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// MaxStage is the terminal stage of a LONG position (reached on final stop-loss).
const MaxStage = 4

// TradeType labels a single fill inside a position.
type TradeType string

const (
	TradeEntry           TradeType = "ENTRY"
	TradeAverageDown     TradeType = "AVERAGE_DOWN"
	TradeHalfSell        TradeType = "HALF_SELL"
	TradeProfitExit      TradeType = "PROFIT_EXIT"
	TradeStopLoss        TradeType = "STOP_LOSS"
	TradeShortEntry      TradeType = "SHORT_ENTRY"
	TradeShortProfitExit TradeType = "SHORT_PROFIT_EXIT"
	TradeShortStopLoss   TradeType = "SHORT_STOP_LOSS"
	TradeForceClose      TradeType = "FORCE_CLOSE"
)

// Result is the final outcome of a closed position.
type Result string

const (
	ResultNone            Result = ""
	ResultProfitExit      Result = "PROFIT_EXIT"
	ResultStopLoss        Result = "STOP_LOSS"
	ResultShortProfitExit Result = "SHORT_PROFIT_EXIT"
	ResultShortStopLoss   Result = "SHORT_STOP_LOSS"
	ResultIncomplete      Result = "INCOMPLETE"
)

// TradeExecution is one simulated fill. Immutable once recorded.
type TradeExecution struct {
	Timestamp  time.Time `json:"timestamp"`
	Type       TradeType `json:"type"`
	Stage      int       `json:"stage"`
	Price      float64   `json:"price"`
	Amount     float64   `json:"amount"` // quote currency
	Coins      float64   `json:"coins"`  // base currency quantity
	Fees       float64   `json:"fees"`
	CCI        float64   `json:"cci"`        // entryCCI for entries, exitCCI for exits
	ProfitRate float64   `json:"profitRate"` // % vs average entry price at fill time
	Reason     string    `json:"reason"`
}

// Position is a simulated position through its lifecycle.
// Coins and CostBasis describe what is currently held; both are zero once closed.
type Position struct {
	PositionID  string           `json:"positionId"`
	Symbol      string           `json:"symbol"`
	Direction   Direction        `json:"direction"`
	Stage       int              `json:"stage"`
	Entries     []TradeExecution `json:"entries"`
	Exits       []TradeExecution `json:"exits"`
	StartTime   time.Time        `json:"startTime"`
	EndTime     time.Time        `json:"endTime"`
	FinalResult Result           `json:"finalResult"`
	TotalProfit float64          `json:"totalProfit"` // realized P&L before fees
	TotalFees   float64          `json:"totalFees"`

	Coins     float64 `json:"coins"`
	CostBasis float64 `json:"costBasis"`
}

// Closed reports whether a final result has been set.
func (p Position) Closed() bool {
	return p.FinalResult != ResultNone
}

// Completed reports whether the position closed on a strategy rule rather than
// being force-closed at the end of data.
func (p Position) Completed() bool {
	return p.Closed() && p.FinalResult != ResultIncomplete
}

// AvgPrice returns the volume-weighted average entry price of the held size.
func (p Position) AvgPrice() float64 {
	if p.Coins <= 0 {
		return 0
	}
	return p.CostBasis / p.Coins
}

// NetProfit returns realized profit after fees.
func (p Position) NetProfit() float64 {
	return p.TotalProfit - p.TotalFees
}

// HoldingTime returns EndTime - StartTime, or 0 while open.
func (p Position) HoldingTime() time.Duration {
	if p.EndTime.IsZero() {
		return 0
	}
	return p.EndTime.Sub(p.StartTime)
}

// TradeCount returns the number of fills (entries + exits).
func (p Position) TradeCount() int {
	return len(p.Entries) + len(p.Exits)
}
