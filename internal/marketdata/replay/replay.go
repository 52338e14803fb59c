// Package replay serves stored candles against a simulated clock so the live
// signal service can be dry-run over history.
package replay

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"cci-trader/internal/marketdata"
	"cci-trader/internal/model"
	"cci-trader/internal/strategy"
)

// Source implements marketdata.CandleSource over an in-memory history.
// FetchCandles only returns candles that closed at or before the clock.
type Source struct {
	mu     sync.RWMutex
	series map[string][]model.Candle
	clock  time.Time
}

var _ marketdata.CandleSource = (*Source)(nil)

// New indexes candles by symbol and interval. The clock starts at the zero time.
func New(candles []model.Candle) *Source {
	s := &Source{series: make(map[string][]model.Candle)}
	for _, c := range candles {
		s.series[c.Key()] = append(s.series[c.Key()], c)
	}
	for _, cs := range s.series {
		sort.SliceStable(cs, func(i, j int) bool { return cs[i].OpenTime.Before(cs[j].OpenTime) })
	}
	return s
}

// SetClock moves the simulated clock.
func (s *Source) SetClock(t time.Time) {
	s.mu.Lock()
	s.clock = t
	s.mu.Unlock()
}

// Clock returns the simulated time.
func (s *Source) Clock() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clock
}

// Span returns the first open time and the last close time across all series.
func (s *Source) Span() (first, last time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cs := range s.series {
		if len(cs) == 0 {
			continue
		}
		tf, _ := strategy.TimeframeDuration(cs[0].Interval)
		start, end := cs[0].OpenTime, cs[len(cs)-1].OpenTime.Add(tf)
		if first.IsZero() || start.Before(first) {
			first = start
		}
		if end.After(last) {
			last = end
		}
	}
	return first, last
}

// FetchCandles returns up to limit candles closed by the clock, oldest first.
func (s *Source) FetchCandles(_ context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := (&model.Candle{Symbol: symbol, Interval: interval}).Key()
	cs, ok := s.series[key]
	if !ok {
		return nil, &model.DataSourceError{Source: "replay", Symbol: symbol, Interval: interval, Err: errNoSeries}
	}
	closed := marketdata.DropForming(cs, interval, s.clock)
	out := marketdata.Tail(closed, limit)
	return append([]model.Candle(nil), out...), nil
}

// Run advances the clock from the first candle to the last close in steps,
// calling tick after every step. speed controls pacing: 1.0 = real time,
// 10.0 = 10x, 0 = as fast as possible.
func (s *Source) Run(ctx context.Context, step time.Duration, speed float64, tick func(ctx context.Context, now time.Time) error) error {
	first, last := s.Span()
	if first.IsZero() {
		log.Println("[replay] no candles loaded")
		return nil
	}
	log.Printf("[replay] replaying %s → %s, step=%v speed=%.1fx",
		first.Format(time.RFC3339), last.Format(time.RFC3339), step, speed)

	ticks := 0
	for now := first.Add(step); !now.After(last); now = now.Add(step) {
		select {
		case <-ctx.Done():
			log.Printf("[replay] cancelled after %d ticks", ticks)
			return ctx.Err()
		default:
		}

		if speed > 0 {
			gap := time.Duration(float64(step) / speed)
			// Cap max sleep to avoid very long waits
			if gap > 5*time.Second {
				gap = 5 * time.Second
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(gap):
			}
		}

		s.SetClock(now)
		if err := tick(ctx, now); err != nil {
			return err
		}
		ticks++
	}

	log.Printf("[replay] completed: %d ticks", ticks)
	return nil
}
