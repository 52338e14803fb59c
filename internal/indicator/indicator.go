// Package indicator provides technical indicator calculations over candle data.
//
// Indicators are streaming: they receive closed candles in order and expose
// the latest value once their window is full. CCISeries runs a CCI over a
// whole series.
package indicator
