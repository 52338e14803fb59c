// Package angel serves closed candles for Indian equities through the
// Angel One SmartAPI historical endpoint.
package angel

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"

	"cci-trader/internal/marketdata"
	"cci-trader/internal/model"
	"cci-trader/internal/strategy"
	"cci-trader/pkg/smartconnect"
)

const sourceName = "angel"

// IST is the exchange time zone; candle ranges are requested in it.
var IST = time.FixedZone("IST", 5*3600+1800)

var intervals = map[string]string{
	"1m":  "ONE_MINUTE",
	"3m":  "THREE_MINUTE",
	"5m":  "FIVE_MINUTE",
	"15m": "FIFTEEN_MINUTE",
	"30m": "THIRTY_MINUTE",
	"1h":  "ONE_HOUR",
	"1d":  "ONE_DAY",
}

// maxSpan is the longest range the API serves per interval.
var maxSpan = map[string]time.Duration{
	"ONE_MINUTE":     30 * 24 * time.Hour,
	"THREE_MINUTE":   60 * 24 * time.Hour,
	"FIVE_MINUTE":    100 * 24 * time.Hour,
	"FIFTEEN_MINUTE": 200 * 24 * time.Hour,
	"THIRTY_MINUTE":  200 * 24 * time.Hour,
	"ONE_HOUR":       400 * 24 * time.Hour,
	"ONE_DAY":        2000 * 24 * time.Hour,
}

// tradingMinutes is the length of an NSE cash session.
const tradingMinutes = 375

// Instrument locates a symbol on an exchange.
type Instrument struct {
	Exchange string `yaml:"exchange" json:"exchange"`
	Token    string `yaml:"token" json:"token"`
}

// Credentials are used only to read candles.
type Credentials struct {
	ClientCode string
	PIN        string
	TOTPSecret string
}

// Source implements marketdata.CandleSource.
type Source struct {
	client      *smartconnect.SmartConnect
	creds       Credentials
	instruments map[string]Instrument
	now         func() time.Time

	loginMu sync.Mutex
}

var _ marketdata.CandleSource = (*Source)(nil)

// New builds a Source. instruments maps an upper-case symbol to its token.
func New(client *smartconnect.SmartConnect, creds Credentials, instruments map[string]Instrument) *Source {
	norm := make(map[string]Instrument, len(instruments))
	for sym, inst := range instruments {
		if inst.Exchange == "" {
			inst.Exchange = "NSE"
		}
		norm[strings.ToUpper(sym)] = inst
	}
	return &Source{client: client, creds: creds, instruments: norm, now: time.Now}
}

// FetchCandles returns up to limit closed candles, oldest first.
func (s *Source) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	symbol = strings.ToUpper(symbol)
	candles, err := s.fetch(ctx, symbol, interval, limit)
	if err != nil {
		return nil, &model.DataSourceError{Source: sourceName, Symbol: symbol, Interval: interval, Err: err}
	}
	return candles, nil
}

func (s *Source) fetch(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	inst, ok := s.instruments[symbol]
	if !ok {
		return nil, fmt.Errorf("no instrument token for %s", symbol)
	}
	apiInterval, ok := intervals[interval]
	if !ok {
		return nil, fmt.Errorf("unsupported interval %q", interval)
	}
	tf, _ := strategy.TimeframeDuration(interval)

	now := s.now().In(IST)
	req := smartconnect.CandleRequest{
		Exchange:    inst.Exchange,
		SymbolToken: inst.Token,
		Interval:    apiInterval,
		From:        now.Add(-lookbackSpan(tf, limit, maxSpan[apiInterval])),
		To:          now,
	}

	if err := s.ensureLogin(ctx); err != nil {
		return nil, err
	}
	rows, err := s.client.CandleData(ctx, req)
	if errors.Is(err, smartconnect.ErrTokenExpired) {
		log.Printf("[angel] session expired, logging in again")
		if err := s.login(ctx); err != nil {
			return nil, err
		}
		rows, err = s.client.CandleData(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	candles := make([]model.Candle, len(rows))
	for i, r := range rows {
		candles[i] = model.Candle{
			Symbol:   symbol,
			Interval: interval,
			OpenTime: r.Time.UTC(),
			Open:     r.Open,
			High:     r.High,
			Low:      r.Low,
			Close:    r.Close,
			Volume:   r.Volume,
		}
	}
	return marketdata.Tail(marketdata.DropForming(candles, interval, now), limit), nil
}

// lookbackSpan converts a bar count into a calendar span that covers it given
// session hours and weekends, capped at the API maximum.
func lookbackSpan(tf time.Duration, limit int, ceiling time.Duration) time.Duration {
	if limit <= 0 {
		return ceiling
	}
	var days int
	if tf >= 24*time.Hour {
		days = limit
	} else {
		perDay := tradingMinutes / int(tf.Minutes())
		if perDay < 1 {
			perDay = 1
		}
		days = (limit + perDay - 1) / perDay
	}
	span := time.Duration(days*7/5+4) * 24 * time.Hour
	if ceiling > 0 && span > ceiling {
		return ceiling
	}
	return span
}

func (s *Source) ensureLogin(ctx context.Context) error {
	if s.client.LoggedIn() {
		return nil
	}
	return s.login(ctx)
}

func (s *Source) login(ctx context.Context) error {
	s.loginMu.Lock()
	defer s.loginMu.Unlock()

	code, err := totp.GenerateCode(s.creds.TOTPSecret, s.now())
	if err != nil {
		return fmt.Errorf("generate totp: %w", err)
	}
	if _, err := s.client.Login(ctx, s.creds.ClientCode, s.creds.PIN, code); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	log.Printf("[angel] logged in as %s", s.creds.ClientCode)
	return nil
}
