package model

import "fmt"

// InsufficientDataError is returned when fewer candles are available than the
// indicator period requires.
type InsufficientDataError struct {
	Have int
	Need int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: have %d candles, need at least %d", e.Have, e.Need)
}

// DataSourceError wraps a candle fetch failure from an external collaborator.
type DataSourceError struct {
	Source   string
	Symbol   string
	Interval string
	Err      error
}

func (e *DataSourceError) Error() string {
	return fmt.Sprintf("data source %s: fetch %s %s: %v", e.Source, e.Symbol, e.Interval, e.Err)
}

func (e *DataSourceError) Unwrap() error { return e.Err }
