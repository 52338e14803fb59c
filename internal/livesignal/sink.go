package livesignal

import (
	"context"
	"strconv"

	"cci-trader/internal/model"
	"cci-trader/internal/notification"
)

// Recorder persists signals and reports whether the signal was new.
// A false return means the same config, direction and candle was already
// recorded, so sinks are skipped.
type Recorder interface {
	SaveSignal(ctx context.Context, sig *model.MarketSignal) (bool, error)
}

// Sink receives every newly emitted signal.
type Sink interface {
	Emit(ctx context.Context, sig *model.MarketSignal) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, sig *model.MarketSignal) error

func (f SinkFunc) Emit(ctx context.Context, sig *model.MarketSignal) error { return f(ctx, sig) }

// NotifierSink formats signals with notification.SignalAlert.
func NotifierSink(n notification.Notifier) Sink {
	return SinkFunc(func(ctx context.Context, sig *model.MarketSignal) error {
		return n.Send(ctx, notification.SignalAlert(*sig))
	})
}

// ChannelSink delivers signals to ch without blocking; a full channel drops
// the signal and returns ErrSinkFull.
func ChannelSink(ch chan<- model.MarketSignal) Sink {
	return SinkFunc(func(_ context.Context, sig *model.MarketSignal) error {
		select {
		case ch <- *sig:
			return nil
		default:
			return ErrSinkFull
		}
	})
}

type namedSink struct {
	name string
	Sink
}

// Named labels a sink in logs and metrics.
func Named(name string, s Sink) Sink { return namedSink{name: name, Sink: s} }

func sinkName(s Sink, idx int) string {
	if n, ok := s.(namedSink); ok {
		return n.name
	}
	return "sink" + strconv.Itoa(idx)
}
