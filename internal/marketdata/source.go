// Package marketdata defines the candle source contract shared by the
// exchange adapters and the SQLite store.
package marketdata

import (
	"context"
	"time"

	"cci-trader/internal/model"
	"cci-trader/internal/strategy"
)

// CandleSource returns the most recent closed candles for a series, oldest
// first. Implementations wrap failures in *model.DataSourceError.
type CandleSource interface {
	FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error)
}

// SourceFunc adapts a function to CandleSource.
type SourceFunc func(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error)

func (f SourceFunc) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	return f(ctx, symbol, interval, limit)
}

// DropForming removes trailing candles whose interval has not finished at now.
// Unknown intervals are returned unchanged.
func DropForming(candles []model.Candle, interval string, now time.Time) []model.Candle {
	d, ok := strategy.TimeframeDuration(interval)
	if !ok {
		return candles
	}
	n := len(candles)
	for n > 0 && candles[n-1].OpenTime.Add(d).After(now) {
		n--
	}
	return candles[:n]
}

// Tail returns at most the last limit candles. limit <= 0 keeps everything.
func Tail(candles []model.Candle, limit int) []model.Candle {
	if limit > 0 && len(candles) > limit {
		return candles[len(candles)-limit:]
	}
	return candles
}
