package strategy

import (
	"time"

	"github.com/google/uuid"

	"cci-trader/internal/indicator"
	"cci-trader/internal/model"
)

// EvaluateLiveSignal re-derives detector state from recentCandles (oldest
// first) and returns a MarketSignal when a signal fires on the newest candle.
// It returns (nil, nil) when nothing fires. No state is carried between calls.
func EvaluateLiveSignal(s Settings, recentCandles []model.Candle) (*model.MarketSignal, error) {
	if err := s.ValidateLive(); err != nil {
		return nil, err
	}
	samples, err := indicator.CCISeries(recentCandles, s.CCILength)
	if err != nil {
		return nil, err
	}

	pair := NewDetectorPair(s)
	var long, short *Signal
	for _, sample := range samples {
		long, short = pair.Step(sample)
	}

	sig := Pick(long, short)
	if sig == nil {
		return nil, nil
	}

	last := recentCandles[len(recentCandles)-1]
	return &model.MarketSignal{
		ID:        uuid.NewString(),
		ConfigID:  s.ID,
		Username:  s.Username,
		Symbol:    s.Symbol,
		Timeframe: s.Timeframe,
		Direction: sig.Direction,
		Price:     last.Close,
		CCIValue:  sig.CCI,
		Timestamp: sig.Timestamp,
		Reason:    sig.Reason,
		CreatedAt: time.Now().UTC(),
	}, nil
}
