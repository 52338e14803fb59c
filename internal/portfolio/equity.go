package portfolio

import (
	"time"

	"cci-trader/internal/model"
)

// EquityTracker follows realized equity (seed + cumulative net profit) and
// its peak-to-trough drawdown.
type EquityTracker struct {
	equity      float64
	peakEquity  float64
	maxDrawdown float64 // percent
	curve       []model.EquityPoint
}

// NewEquityTracker starts a curve at seed.
func NewEquityTracker(seed float64, start time.Time) *EquityTracker {
	return &EquityTracker{
		equity:     seed,
		peakEquity: seed,
		curve:      []model.EquityPoint{{Timestamp: start, Equity: seed}},
	}
}

// Record applies a realized P&L at ts.
func (e *EquityTracker) Record(ts time.Time, pnl float64) {
	e.equity += pnl
	if e.equity > e.peakEquity {
		e.peakEquity = e.equity
	}
	if dd := e.Drawdown(); dd > e.maxDrawdown {
		e.maxDrawdown = dd
	}
	e.curve = append(e.curve, model.EquityPoint{Timestamp: ts, Equity: e.equity})
}

// Equity returns the current realized equity.
func (e *EquityTracker) Equity() float64 { return e.equity }

// Drawdown returns the current decline from peak in percent.
func (e *EquityTracker) Drawdown() float64 {
	if e.peakEquity <= 0 {
		return 0
	}
	return (e.peakEquity - e.equity) / e.peakEquity * 100
}

// MaxDrawdown returns the largest peak-to-trough decline seen, in percent.
func (e *EquityTracker) MaxDrawdown() float64 { return e.maxDrawdown }

// Curve returns a copy of the recorded points.
func (e *EquityTracker) Curve() []model.EquityPoint {
	cp := make([]model.EquityPoint, len(e.curve))
	copy(cp, e.curve)
	return cp
}
