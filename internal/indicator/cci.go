package indicator

import (
	"fmt"
	"math"

	"cci-trader/internal/model"
)

// cciConstant is Lambert's scaling factor: ~70-80% of values fall in ±100.
const cciConstant = 0.015

// CCI calculates the Commodity Channel Index over the typical price
// T = (high+low+close)/3:
//
//	CCI = (T - SMA(T)) / (0.015 * meanDeviation(T))
//
// A flat window (mean deviation 0) yields 0.
type CCI struct {
	tp      *SMA
	current float64
}

// NewCCI creates a CCI with the given period.
func NewCCI(period int) *CCI {
	return &CCI{tp: NewSMA(period)}
}

func (c *CCI) Update(candle model.Candle) {
	t := candle.TypicalPrice()
	c.tp.Push(t)
	if c.tp.Ready() {
		c.current = c.compute(t, c.tp.Value())
	}
}

func (c *CCI) Value() float64 { return c.current }
func (c *CCI) Ready() bool    { return c.tp.Ready() }

// Reset clears the CCI state for reuse.
func (c *CCI) Reset() {
	c.tp.Reset()
	c.current = 0
}

// compute derives CCI for typical price t against the window mean.
func (c *CCI) compute(t, mean float64) float64 {
	var dev float64
	c.tp.each(func(v float64) {
		dev += math.Abs(v - mean)
	})
	meanDev := dev / float64(c.tp.period)
	if meanDev == 0 {
		return 0
	}
	return (t - mean) / (cciConstant * meanDev)
}

// CCISeries computes one IndicatorSample per candle. The first period-1
// samples are not ready and carry NaN. Fails with *model.InsufficientDataError
// when the series is shorter than period.
func CCISeries(candles []model.Candle, period int) ([]model.IndicatorSample, error) {
	if period < 1 {
		return nil, fmt.Errorf("cci: period must be positive, got %d", period)
	}
	if len(candles) < period {
		return nil, &model.InsufficientDataError{Have: len(candles), Need: period}
	}

	cci := NewCCI(period)
	out := make([]model.IndicatorSample, len(candles))
	for i, c := range candles {
		cci.Update(c)
		s := model.IndicatorSample{Timestamp: c.OpenTime, Value: math.NaN()}
		if cci.Ready() {
			s.Value = cci.Value()
			s.Ready = true
		}
		out[i] = s
	}
	return out, nil
}
