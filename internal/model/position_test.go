package model

import (
	"testing"
	"time"
)

func copyOf(p Position) Position { return p }

func TestPosition_DerivedValues(t *testing.T) {
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	p := Position{
		Coins:       4,
		CostBasis:   396,
		TotalProfit: 10,
		TotalFees:   1.5,
		StartTime:   start,
		Entries:     make([]TradeExecution, 2),
		Exits:       make([]TradeExecution, 1),
	}

	// Helpers must be callable on non-addressable values such as call results.
	if got := copyOf(p).AvgPrice(); got != 99 {
		t.Errorf("AvgPrice = %v, want 99", got)
	}
	if copyOf(p).Closed() || copyOf(p).Completed() {
		t.Error("open position reported closed")
	}
	if got := copyOf(p).HoldingTime(); got != 0 {
		t.Errorf("HoldingTime while open = %v", got)
	}
	if got := p.NetProfit(); got != 8.5 {
		t.Errorf("NetProfit = %v, want 8.5", got)
	}
	if got := p.TradeCount(); got != 3 {
		t.Errorf("TradeCount = %d, want 3", got)
	}

	p.FinalResult = ResultIncomplete
	p.EndTime = start.Add(90 * time.Minute)
	if !p.Closed() || p.Completed() {
		t.Error("INCOMPLETE must be closed but not completed")
	}
	if got := p.HoldingTime(); got != 90*time.Minute {
		t.Errorf("HoldingTime = %v", got)
	}
	p.FinalResult = ResultProfitExit
	if !p.Completed() {
		t.Error("PROFIT_EXIT should be completed")
	}

	if got := (Position{}).AvgPrice(); got != 0 {
		t.Errorf("empty AvgPrice = %v", got)
	}
}
