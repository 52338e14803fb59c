package model

import (
	"encoding/json"
	"time"
)

// Candle represents one OHLCV bar for a symbol at a fixed interval.
// Prices are quote-currency floats; crypto quantities do not fit integer units.
type Candle struct {
	Symbol   string    `json:"symbol"`
	Interval string    `json:"interval"` // e.g. "15m", "1h"
	OpenTime time.Time `json:"openTime"` // bucket start time (UTC)
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"` // base-currency volume
}

// Key returns a unique key for this candle's series: "symbol:interval".
func (c *Candle) Key() string {
	return c.Symbol + ":" + c.Interval
}

// TypicalPrice returns (high+low+close)/3.
func (c *Candle) TypicalPrice() float64 {
	return (c.High + c.Low + c.Close) / 3
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// IndicatorSample is one CCI value aligned to a candle.
// Ready is false (and Value NaN) until the window holds a full period.
type IndicatorSample struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"cciValue"`
	Ready     bool      `json:"ready"`
}
