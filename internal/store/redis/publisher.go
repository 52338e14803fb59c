package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"cci-trader/internal/model"
)

const (
	// SignalPattern matches every per-symbol signal channel.
	SignalPattern = "pub:signal:*"

	latestSignalTTL = 24 * time.Hour
	defaultMaxBuf   = 1000
)

// SignalPublisher publishes market signals through a circuit breaker. While
// the breaker is open signals are buffered and replayed once it closes.
type SignalPublisher struct {
	rdb *goredis.Client
	cb  *CircuitBreaker

	mu     sync.Mutex
	buffer []*model.MarketSignal
	maxBuf int

	// OnBuffer is called when a signal is buffered (for metrics).
	OnBuffer func()
}

// NewSignalPublisher wraps rdb with cb. maxBuffer <= 0 uses a default.
func NewSignalPublisher(rdb *goredis.Client, cb *CircuitBreaker, maxBuffer int) *SignalPublisher {
	if maxBuffer <= 0 {
		maxBuffer = defaultMaxBuf
	}
	p := &SignalPublisher{rdb: rdb, cb: cb, maxBuf: maxBuffer}

	prev := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prev != nil {
			prev(from, to)
		}
		if to == StateClosed {
			go p.Flush(context.Background())
		}
	}
	return p
}

// Publish sends sig on its channel and stores it as the latest signal for
// the symbol and timeframe.
func (p *SignalPublisher) Publish(ctx context.Context, sig *model.MarketSignal) error {
	err := p.cb.Execute(func() error { return p.send(ctx, sig) })
	if errors.Is(err, ErrCircuitOpen) {
		p.bufferSignal(sig)
		return nil
	}
	return err
}

func (p *SignalPublisher) send(ctx context.Context, sig *model.MarketSignal) error {
	payload := string(sig.JSON())
	if err := p.rdb.Publish(ctx, sig.PubSubChannel(), payload).Err(); err != nil {
		return err
	}
	return p.rdb.Set(ctx, "latest:signal:"+sig.Symbol+":"+sig.Timeframe, payload, latestSignalTTL).Err()
}

func (p *SignalPublisher) bufferSignal(sig *model.MarketSignal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.buffer) >= p.maxBuf {
		p.buffer = p.buffer[1:] // drop oldest
	}
	p.buffer = append(p.buffer, sig)
	if p.OnBuffer != nil {
		p.OnBuffer()
	}
}

// Buffered returns the number of signals waiting for the breaker to close.
func (p *SignalPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffer)
}

// Flush replays buffered signals in order. Stops at the first failure and
// keeps the rest.
func (p *SignalPublisher) Flush(ctx context.Context) int {
	p.mu.Lock()
	pending := p.buffer
	p.buffer = nil
	p.mu.Unlock()

	sent := 0
	for i, sig := range pending {
		if err := p.send(ctx, sig); err != nil {
			log.Printf("[redis] signal flush stopped after %d/%d: %v", sent, len(pending), err)
			p.mu.Lock()
			p.buffer = append(pending[i:], p.buffer...)
			p.mu.Unlock()
			return sent
		}
		sent++
	}
	if sent > 0 {
		log.Printf("[redis] flushed %d buffered signals", sent)
	}
	return sent
}

// SubscribeSignals forwards every published signal into out until ctx is
// cancelled. Undecodable messages are dropped.
func SubscribeSignals(ctx context.Context, rdb *goredis.Client, out chan<- model.MarketSignal) error {
	sub := rdb.PSubscribe(ctx, SignalPattern)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	log.Printf("[redis] subscribed to %s", SignalPattern)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var sig model.MarketSignal
			if err := json.Unmarshal([]byte(msg.Payload), &sig); err != nil {
				log.Printf("[redis] bad signal payload on %s: %v", msg.Channel, err)
				continue
			}
			select {
			case out <- sig:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
