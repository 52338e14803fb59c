package model

import (
	"encoding/json"
	"time"
)

// MarketSignal is an alert produced by the live signal service.
type MarketSignal struct {
	ID        string    `json:"id"`
	ConfigID  string    `json:"configId"`
	Username  string    `json:"username,omitempty"`
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	Direction Direction `json:"direction"`
	Price     float64   `json:"price"`
	CCIValue  float64   `json:"cciValue"`
	Timestamp time.Time `json:"timestamp"` // open time of the candle that fired
	Reason    string    `json:"reason"`
	IsRead    bool      `json:"isRead"`
	CreatedAt time.Time `json:"createdAt"`
}

// DedupKey identifies the candle transition that produced the signal.
func (s *MarketSignal) DedupKey() string {
	return s.ConfigID + ":" + string(s.Direction) + ":" + s.Timestamp.UTC().Format(time.RFC3339)
}

// PubSubChannel returns the Redis channel for this signal: "pub:signal:{symbol}:{timeframe}".
func (s *MarketSignal) PubSubChannel() string {
	return "pub:signal:" + s.Symbol + ":" + s.Timeframe
}

// JSON returns the JSON-encoded signal.
func (s *MarketSignal) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}
