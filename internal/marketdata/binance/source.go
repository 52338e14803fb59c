// Package binance serves closed candles from the Binance spot or USD-M
// futures REST API.
package binance

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"cci-trader/internal/marketdata"
	"cci-trader/internal/model"
	"cci-trader/internal/strategy"
)

const (
	sourceName = "binance"
	// MaxLimit is the largest page the klines endpoint returns.
	MaxLimit = 1000
)

// Market selects the spot or futures klines endpoint.
type Market string

const (
	Spot    Market = "spot"
	Futures Market = "futures"
)

// Config holds the client settings. Keys are optional for klines.
type Config struct {
	APIKey    string
	APISecret string
	Market    Market
	Testnet   bool
	BaseURL   string // overrides the endpoint, mainly for tests
}

type kline struct {
	openTime                      int64
	open, high, low, close, volume string
}

type klineFunc func(ctx context.Context, symbol, interval string, limit int, start, end int64) ([]kline, error)

// Source implements marketdata.CandleSource.
type Source struct {
	market Market
	fetch  klineFunc
	now    func() time.Time
}

var _ marketdata.CandleSource = (*Source)(nil)

// New builds a Source for the configured market.
func New(cfg Config) (*Source, error) {
	s := &Source{market: cfg.Market, now: time.Now}
	switch cfg.Market {
	case Futures:
		fc := futures.NewClient(cfg.APIKey, cfg.APISecret)
		if cfg.Testnet {
			fc.BaseURL = "https://testnet.binancefuture.com"
		}
		if cfg.BaseURL != "" {
			fc.BaseURL = cfg.BaseURL
		}
		s.fetch = futuresKlines(fc)
	case Spot, "":
		s.market = Spot
		sc := binance.NewClient(cfg.APIKey, cfg.APISecret)
		if cfg.Testnet {
			sc.BaseURL = "https://testnet.binance.vision"
		}
		if cfg.BaseURL != "" {
			sc.BaseURL = cfg.BaseURL
		}
		s.fetch = spotKlines(sc)
	default:
		return nil, fmt.Errorf("binance: unknown market %q", cfg.Market)
	}
	return s, nil
}

func spotKlines(c *binance.Client) klineFunc {
	return func(ctx context.Context, symbol, interval string, limit int, start, end int64) ([]kline, error) {
		svc := c.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit)
		if start > 0 {
			svc = svc.StartTime(start)
		}
		if end > 0 {
			svc = svc.EndTime(end)
		}
		res, err := svc.Do(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]kline, len(res))
		for i, k := range res {
			out[i] = kline{k.OpenTime, k.Open, k.High, k.Low, k.Close, k.Volume}
		}
		return out, nil
	}
}

func futuresKlines(c *futures.Client) klineFunc {
	return func(ctx context.Context, symbol, interval string, limit int, start, end int64) ([]kline, error) {
		svc := c.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit)
		if start > 0 {
			svc = svc.StartTime(start)
		}
		if end > 0 {
			svc = svc.EndTime(end)
		}
		res, err := svc.Do(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]kline, len(res))
		for i, k := range res {
			out[i] = kline{k.OpenTime, k.Open, k.High, k.Low, k.Close, k.Volume}
		}
		return out, nil
	}
}

// FetchCandles returns up to limit closed candles, oldest first. The candle
// still forming at call time is dropped, so one extra bar is requested.
func (s *Source) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	symbol = strings.ToUpper(symbol)
	if limit <= 0 || limit >= MaxLimit {
		limit = MaxLimit - 1
	}
	ks, err := s.fetch(ctx, symbol, interval, limit+1, 0, 0)
	if err != nil {
		return nil, s.wrap(symbol, interval, err)
	}
	candles, err := toCandles(symbol, interval, ks)
	if err != nil {
		return nil, s.wrap(symbol, interval, err)
	}
	return marketdata.Tail(marketdata.DropForming(candles, interval, s.now()), limit), nil
}

// FetchHistory pages through [from, to) and returns every closed candle.
func (s *Source) FetchHistory(ctx context.Context, symbol, interval string, from, to time.Time) ([]model.Candle, error) {
	symbol = strings.ToUpper(symbol)
	step, ok := strategy.TimeframeDuration(interval)
	if !ok {
		return nil, s.wrap(symbol, interval, fmt.Errorf("unsupported interval %q", interval))
	}
	if to.IsZero() || to.After(s.now()) {
		to = s.now()
	}

	var all []model.Candle
	cursor := from
	for cursor.Before(to) {
		ks, err := s.fetch(ctx, symbol, interval, MaxLimit, cursor.UnixMilli(), to.UnixMilli()-1)
		if err != nil {
			return nil, s.wrap(symbol, interval, err)
		}
		page, err := toCandles(symbol, interval, ks)
		if err != nil {
			return nil, s.wrap(symbol, interval, err)
		}
		if len(page) == 0 {
			break
		}
		all = append(all, page...)
		cursor = page[len(page)-1].OpenTime.Add(step)
		if len(page) < MaxLimit {
			break
		}
		log.Printf("[binance] %s %s: %d candles fetched, continuing from %s",
			symbol, interval, len(all), cursor.Format(time.RFC3339))
	}
	return marketdata.DropForming(all, interval, s.now()), nil
}

func (s *Source) wrap(symbol, interval string, err error) error {
	return &model.DataSourceError{
		Source:   sourceName + "-" + string(s.market),
		Symbol:   symbol,
		Interval: interval,
		Err:      err,
	}
}

func toCandles(symbol, interval string, ks []kline) ([]model.Candle, error) {
	out := make([]model.Candle, 0, len(ks))
	for _, k := range ks {
		var vals [5]float64
		for i, raw := range [5]string{k.open, k.high, k.low, k.close, k.volume} {
			d, err := decimal.NewFromString(raw)
			if err != nil {
				return nil, fmt.Errorf("kline %d: parse %q: %w", k.openTime, raw, err)
			}
			vals[i] = d.InexactFloat64()
		}
		out = append(out, model.Candle{
			Symbol:   symbol,
			Interval: interval,
			OpenTime: time.UnixMilli(k.openTime).UTC(),
			Open:     vals[0],
			High:     vals[1],
			Low:      vals[2],
			Close:    vals[3],
			Volume:   vals[4],
		})
	}
	return out, nil
}
