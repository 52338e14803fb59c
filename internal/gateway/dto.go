package gateway

import (
	"time"

	"cci-trader/internal/strategy"
)

// BacktestRequest is the body of POST /api/backtest.
// With From set, candles come from the local history store; otherwise the
// newest Limit candles are fetched from the live source.
type BacktestRequest struct {
	Settings strategy.Settings `json:"settings"`
	From     time.Time         `json:"from,omitempty"`
	To       time.Time         `json:"to,omitempty"`
	Limit    int               `json:"limit,omitempty"`
	Save     *bool             `json:"save,omitempty"` // default true
}

// MarkReadRequest is the body of POST /api/signals/read.
type MarkReadRequest struct {
	IDs []string `json:"ids"`
}

// MarkReadResponse reports which ids were updated.
type MarkReadResponse struct {
	Updated  []string `json:"updated"`
	NotFound []string `json:"notFound,omitempty"`
}

// ErrorResponse is the JSON body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}
