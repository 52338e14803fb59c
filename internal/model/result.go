package model

import (
	"encoding/json"
	"time"
)

// EquityPoint is one sample of the realized equity curve.
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
}

// Stats summarizes a set of positions.
type Stats struct {
	TotalPositions      int     `json:"totalPositions"`
	CompletedPositions  int     `json:"completedPositions"`
	IncompletePositions int     `json:"incompletePositions"`
	WinningPositions    int     `json:"winningPositions"`
	LosingPositions     int     `json:"losingPositions"`
	TotalTrades         int     `json:"totalTrades"`
	TotalProfit         float64 `json:"totalProfit"`
	TotalFees           float64 `json:"totalFees"`
	GrossProfit         float64 `json:"grossProfit"`
	GrossLoss           float64 `json:"grossLoss"`
	WinRate             float64 `json:"winRate"` // percent
	ProfitFactor        float64 `json:"profitFactor"`
	AvgHoldingTime      float64 `json:"avgHoldingTime"` // hours
	MaxDrawdown         float64 `json:"maxDrawdown"`    // percent
	MaxStageReached     int     `json:"maxStageReached"`
	SeedMoney           float64 `json:"seedMoney"`
	FinalSeedMoney      float64 `json:"finalSeedMoney"`
	ReturnPct           float64 `json:"returnPct"`
}

// BacktestResult is the value object handed to callers after a run.
type BacktestResult struct {
	ID          string          `json:"id"`
	Username    string          `json:"username,omitempty"`
	Symbol      string          `json:"symbol"`
	Timeframe   string          `json:"timeframe"`
	StartTime   time.Time       `json:"startTime"`
	EndTime     time.Time       `json:"endTime"`
	Candles     int             `json:"candles"`
	Settings    json.RawMessage `json:"settings"`
	Positions   []Position      `json:"positions"`
	EquityCurve []EquityPoint   `json:"equityCurve"`
	Stats       Stats           `json:"stats"`
	Cancelled   bool            `json:"cancelled,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}
