// cmd/ingest backfills Binance klines into the SQLite candle store, resuming
// from the newest stored candle of each series. With --follow it keeps the
// store current by re-syncing every --every.
//
// Usage:
//
//	go run ./cmd/ingest --symbols=BTCUSDT,ETHUSDT --tf=15m,1h --days=90 --follow
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"cci-trader/config"
	"cci-trader/internal/marketdata/binance"
	"cci-trader/internal/model"
	sqlitestore "cci-trader/internal/store/sqlite"
	"cci-trader/internal/strategy"
)

type series struct {
	symbol   string
	interval string
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	env := config.Load()

	symbolsStr := flag.String("symbols", strategy.DefaultSymbol, "Comma-separated symbols")
	tfStr := flag.String("tf", strategy.DefaultTimeframe, "Comma-separated timeframes")
	strategiesPath := flag.String("strategies", env.StrategyFile, "YAML strategy file; overrides -symbols/-tf")
	days := flag.Int("days", 30, "History depth for empty series")
	follow := flag.Bool("follow", false, "Keep syncing after the backfill")
	every := flag.Duration("every", time.Minute, "Sync period with --follow")
	dbPath := flag.String("db", env.SQLitePath, "Path to SQLite database")
	flag.Parse()

	targets, err := buildTargets(*strategiesPath, *symbolsStr, *tfStr)
	if err != nil {
		log.Fatalf("[ingest] %v", err)
	}

	src, err := binance.New(binance.Config{
		APIKey:    env.BinanceAPIKey,
		APISecret: env.BinanceAPISecret,
		Market:    binance.Market(env.BinanceMarket),
		Testnet:   env.BinanceTestnet,
	})
	if err != nil {
		log.Fatalf("[ingest] binance: %v", err)
	}

	os.MkdirAll("data", 0o755)
	store, err := sqlitestore.Open(sqlitestore.Config{DBPath: *dbPath})
	if err != nil {
		log.Fatalf("[ingest] sqlite init failed: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("[ingest] shutting down...")
		cancel()
	}()

	candleCh := make(chan model.Candle, 5000)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		store.Run(context.WithoutCancel(gctx), candleCh)
		return nil
	})
	g.Go(func() error {
		defer close(candleCh)
		lookback := time.Duration(*days) * 24 * time.Hour
		for {
			for _, t := range targets {
				if err := syncSeries(gctx, src, store, t, lookback, candleCh); err != nil {
					if gctx.Err() != nil {
						return nil
					}
					log.Printf("[ingest] %s %s: %v", t.symbol, t.interval, err)
				}
			}
			if !*follow {
				return nil
			}
			select {
			case <-gctx.Done():
				return nil
			case <-time.After(*every):
			}
		}
	})
	if err := g.Wait(); err != nil {
		log.Fatalf("[ingest] %v", err)
	}
	log.Println("[ingest] done")
}

// syncSeries fetches everything after the newest stored candle up to now.
// The writer upserts, so re-reading the boundary candle is harmless.
func syncSeries(ctx context.Context, src *binance.Source, store *sqlitestore.Store, t series,
	lookback time.Duration, out chan<- model.Candle) error {
	last, err := store.LastOpenTime(ctx, t.symbol, t.interval)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	from := now.Add(-lookback)
	if !last.IsZero() {
		tf, _ := strategy.TimeframeDuration(t.interval)
		from = last.Add(tf)
	}

	candles, err := src.FetchHistory(ctx, t.symbol, t.interval, from, now)
	if err != nil {
		return err
	}
	for _, c := range candles {
		select {
		case out <- c:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if len(candles) > 0 {
		log.Printf("[ingest] %s %s: %d new candles (through %s)",
			t.symbol, t.interval, len(candles), candles[len(candles)-1].OpenTime.Format(time.RFC3339))
	}
	return nil
}

func buildTargets(strategiesPath, symbols, tfs string) ([]series, error) {
	seen := make(map[series]bool)
	var out []series
	add := func(s series) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	if strategiesPath != "" {
		list, err := config.LoadStrategies(strategiesPath)
		if err != nil {
			return nil, err
		}
		for _, cfg := range list {
			add(series{symbol: cfg.Symbol, interval: cfg.Timeframe})
		}
		return out, nil
	}

	for _, sym := range strings.Split(symbols, ",") {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" {
			continue
		}
		for _, tf := range strings.Split(tfs, ",") {
			tf = strings.TrimSpace(tf)
			if _, ok := strategy.TimeframeDuration(tf); !ok {
				log.Printf("[ingest] skipping unknown timeframe %q", tf)
				continue
			}
			add(series{symbol: sym, interval: tf})
		}
	}
	return out, nil
}
