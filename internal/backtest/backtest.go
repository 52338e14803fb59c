// Package backtest drives the CCI indicator, the signal detectors and the
// position manager over a historical candle series.
package backtest

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"cci-trader/internal/indicator"
	"cci-trader/internal/model"
	"cci-trader/internal/portfolio"
	"cci-trader/internal/strategy"
)

// Run simulates the strategy over candles (any order; sorted by open time).
// At most one position is open at a time; signals that fire while it is open
// are ignored. A position still open at the end is force-closed as INCOMPLETE.
//
// Cancellation is checked once per candle. On cancel the partial result is
// returned together with ctx.Err().
func Run(ctx context.Context, s strategy.Settings, candles []model.Candle) (*model.BacktestResult, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	candles = sortedByTime(candles)

	samples, err := indicator.CCISeries(candles, s.CCILength)
	if err != nil {
		return nil, err
	}

	settingsDoc, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	res := &model.BacktestResult{
		ID:        uuid.NewString(),
		Username:  s.Username,
		Symbol:    s.Symbol,
		Timeframe: s.Timeframe,
		StartTime: candles[0].OpenTime,
		Settings:  settingsDoc,
		Positions: make([]model.Position, 0, 16),
	}

	pair := strategy.NewDetectorPair(s)
	equity := portfolio.NewEquityTracker(s.SeedMoney, candles[0].OpenTime)
	var mgr *portfolio.Manager

	finish := func(p model.Position) {
		res.Positions = append(res.Positions, p)
		equity.Record(p.EndTime, p.NetProfit())
	}

	processed := 0
	var runErr error
loop:
	for i, c := range candles {
		select {
		case <-ctx.Done():
			runErr = ctx.Err()
			break loop
		default:
		}

		sample := samples[i]
		long, short := pair.Step(sample)

		if mgr != nil {
			if mgr.OnCandle(c, sample.Value) {
				finish(mgr.Position())
				mgr = nil
			}
		} else if sig := strategy.Pick(long, short); sig != nil {
			mgr = portfolio.Open(s, sig, c)
		}
		processed++
	}

	res.Candles = processed
	if processed > 0 {
		last := candles[processed-1]
		res.EndTime = last.OpenTime
		if mgr != nil {
			reason := "end of data"
			if runErr != nil {
				reason = "backtest cancelled"
			}
			mgr.ForceClose(last, samples[processed-1].Value, reason)
			finish(mgr.Position())
		}
	} else {
		res.EndTime = res.StartTime
	}

	res.EquityCurve = equity.Curve()
	res.Stats = portfolio.Summarize(res.Positions, s.SeedMoney)
	res.Cancelled = runErr != nil
	res.CreatedAt = time.Now().UTC()

	if runErr != nil {
		log.Printf("[backtest] %s %s cancelled after %d/%d candles", s.Symbol, s.Timeframe, processed, len(candles))
		return res, runErr
	}
	log.Printf("[backtest] %s %s: %d candles, %d positions, win rate %.2f%%, final %.2f",
		s.Symbol, s.Timeframe, processed, res.Stats.TotalPositions, res.Stats.WinRate, res.Stats.FinalSeedMoney)
	return res, nil
}

// sortedByTime returns candles in ascending open time, copying only when the
// input is out of order.
func sortedByTime(candles []model.Candle) []model.Candle {
	if sort.SliceIsSorted(candles, func(i, j int) bool {
		return candles[i].OpenTime.Before(candles[j].OpenTime)
	}) {
		return candles
	}
	cp := make([]model.Candle, len(candles))
	copy(cp, candles)
	sort.SliceStable(cp, func(i, j int) bool {
		return cp[i].OpenTime.Before(cp[j].OpenTime)
	})
	return cp
}
