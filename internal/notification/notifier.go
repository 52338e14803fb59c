// Package notification delivers alerts to external channels (Telegram,
// webhooks, logs) for strategy events such as market signals.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"cci-trader/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel        `json:"level"`
	Title   string            `json:"title"`
	Message string            `json:"message"`
	Emoji   string            `json:"emoji,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier is a simple notifier that logs alerts (useful for development).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s %s: %s", alert.Level, alert.Emoji, alert.Title, alert.Message)
	return nil
}

// Multi sends every alert to all notifiers and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SignalEmoji returns the marker used for a direction in alerts.
func SignalEmoji(d model.Direction) string {
	switch d {
	case model.Long:
		return "📈"
	case model.Short:
		return "📉"
	}
	return "🔔"
}

// SignalAlert formats a market signal for humans.
func SignalAlert(sig model.MarketSignal) Alert {
	return Alert{
		Level: AlertInfo,
		Emoji: SignalEmoji(sig.Direction),
		Title: fmt.Sprintf("%s %s %s", sig.Direction, sig.Symbol, sig.Timeframe),
		Message: fmt.Sprintf("CCI %.2f at %s, close %s. %s",
			sig.CCIValue, sig.Timestamp.UTC().Format(time.RFC3339), formatPrice(sig.Price), sig.Reason),
		Fields: map[string]string{
			"signalId":  sig.ID,
			"configId":  sig.ConfigID,
			"username":  sig.Username,
			"direction": string(sig.Direction),
			"symbol":    sig.Symbol,
			"timeframe": sig.Timeframe,
		},
	}
}

func formatPrice(p float64) string {
	if math.Abs(p) >= 1 {
		return fmt.Sprintf("%.2f", p)
	}
	return fmt.Sprintf("%.6g", p)
}
