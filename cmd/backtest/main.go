// cmd/backtest runs the CCI averaging-down strategy over historical candles
// from Binance or the local SQLite store and prints a summary.
//
// Usage:
//
//	go run ./cmd/backtest --symbol=BTCUSDT --tf=15m --from=2024-01-01 --source=binance
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"cci-trader/config"
	"cci-trader/internal/backtest"
	"cci-trader/internal/marketdata/binance"
	"cci-trader/internal/model"
	sqlitestore "cci-trader/internal/store/sqlite"
	"cci-trader/internal/strategy"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	env := config.Load()

	strategyFile := flag.String("config", "", "YAML strategy file; the first entry is used")
	symbol := flag.String("symbol", strategy.DefaultSymbol, "Symbol to test")
	tf := flag.String("tf", strategy.DefaultTimeframe, "Candle timeframe")
	source := flag.String("source", "binance", "Candle source: binance | sqlite")
	fromStr := flag.String("from", "", "Range start (YYYY-MM-DD or RFC3339); empty uses -limit newest candles")
	toStr := flag.String("to", "", "Range end, exclusive (empty = now)")
	limit := flag.Int("limit", 1000, "Newest candle count when -from is empty")
	seed := flag.Float64("seed", strategy.DefaultSeedMoney, "Seed money")
	fee := flag.Float64("fee", 0, "Fee rate in percent per fill")
	dbPath := flag.String("db", env.SQLitePath, "Path to SQLite database")
	save := flag.Bool("save", true, "Store the result in SQLite")
	out := flag.String("out", "", "Write the full result JSON to this file")
	flag.Parse()

	cfg := strategy.Settings{Symbol: *symbol, Timeframe: *tf, SeedMoney: *seed, FeeRate: *fee, Username: "cli"}
	if *strategyFile != "" {
		list, err := config.LoadStrategies(*strategyFile)
		if err != nil {
			log.Fatalf("[backtest] %v", err)
		}
		cfg = list[0]
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[backtest] %v", err)
	}

	from, err := parseTime(*fromStr)
	if err != nil {
		log.Fatalf("[backtest] bad -from: %v", err)
	}
	to, err := parseTime(*toStr)
	if err != nil {
		log.Fatalf("[backtest] bad -to: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("[backtest] interrupted, closing open positions...")
		cancel()
	}()

	var store *sqlitestore.Store
	if *source == "sqlite" || *save {
		store, err = sqlitestore.Open(sqlitestore.Config{DBPath: *dbPath})
		if err != nil {
			log.Fatalf("[backtest] sqlite open failed: %v", err)
		}
		defer store.Close()
	}

	candles, err := loadCandles(ctx, env, *source, store, cfg, from, to, *limit)
	if err != nil {
		log.Fatalf("[backtest] load candles: %v", err)
	}
	log.Printf("[backtest] %d candles %s %s", len(candles), cfg.Symbol, cfg.Timeframe)

	start := time.Now()
	res, err := backtest.Run(ctx, cfg, candles)
	if res == nil {
		log.Fatalf("[backtest] %v", err)
	}
	if err != nil {
		log.Printf("[backtest] run cancelled: %v", err)
	}

	if *save {
		if err := store.SaveBacktestResult(context.WithoutCancel(ctx), res); err != nil {
			log.Printf("[backtest] WARNING: save failed: %v", err)
		}
	}
	if *out != "" {
		if err := writeJSON(*out, res); err != nil {
			log.Printf("[backtest] WARNING: write %s: %v", *out, err)
		}
	}

	printSummary(res, time.Since(start))
}

func loadCandles(ctx context.Context, env *config.Config, source string, store *sqlitestore.Store,
	cfg strategy.Settings, from, to time.Time, limit int) ([]model.Candle, error) {
	switch source {
	case "sqlite":
		if from.IsZero() {
			return store.FetchCandles(ctx, cfg.Symbol, cfg.Timeframe, limit)
		}
		return store.ReadCandles(ctx, cfg.Symbol, cfg.Timeframe, from, to)
	case "binance":
		src, err := binance.New(binance.Config{
			APIKey:    env.BinanceAPIKey,
			APISecret: env.BinanceAPISecret,
			Market:    binance.Market(env.BinanceMarket),
			Testnet:   env.BinanceTestnet,
		})
		if err != nil {
			return nil, err
		}
		if from.IsZero() {
			return src.FetchCandles(ctx, cfg.Symbol, cfg.Timeframe, limit)
		}
		if to.IsZero() {
			to = time.Now()
		}
		candles, err := src.FetchHistory(ctx, cfg.Symbol, cfg.Timeframe, from, to)
		if err == nil && store != nil {
			// Cache the range so later runs can use -source=sqlite.
			if serr := store.SaveCandles(ctx, candles); serr != nil {
				log.Printf("[backtest] WARNING: cache candles: %v", serr)
			}
		}
		return candles, err
	default:
		return nil, fmt.Errorf("unknown source %q", source)
	}
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func round(v float64, places int32) string {
	return decimal.NewFromFloat(v).Round(places).String()
}

func printSummary(res *model.BacktestResult, took time.Duration) {
	st := res.Stats
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════╗")
	fmt.Println("║            BACKTEST COMPLETE             ║")
	fmt.Println("╠══════════════════════════════════════════╣")
	fmt.Printf("║  Result ID:        %-21s ║\n", short(res.ID))
	fmt.Printf("║  Symbol / TF:      %-21s ║\n", res.Symbol+" "+res.Timeframe)
	fmt.Printf("║  Candles:          %-21d ║\n", res.Candles)
	fmt.Printf("║  Positions:        %-21s ║\n", fmt.Sprintf("%d (%d open at end)", st.TotalPositions, st.IncompletePositions))
	fmt.Printf("║  Trades:           %-21d ║\n", st.TotalTrades)
	fmt.Printf("║  Win rate:         %-21s ║\n", round(st.WinRate, 2)+"%")
	fmt.Printf("║  Profit factor:    %-21s ║\n", round(st.ProfitFactor, 2))
	fmt.Printf("║  Net profit:       %-21s ║\n", round(st.TotalProfit-st.TotalFees, 2))
	fmt.Printf("║  Fees:             %-21s ║\n", round(st.TotalFees, 2))
	fmt.Printf("║  Max drawdown:     %-21s ║\n", round(st.MaxDrawdown, 2)+"%")
	fmt.Printf("║  Max stage:        %-21d ║\n", st.MaxStageReached)
	fmt.Printf("║  Seed -> final:    %-21s ║\n", round(st.SeedMoney, 2)+" -> "+round(st.FinalSeedMoney, 2))
	fmt.Printf("║  Return:           %-21s ║\n", round(st.ReturnPct, 2)+"%")
	fmt.Printf("║  Took:             %-21s ║\n", took.Round(time.Millisecond))
	if res.Cancelled {
		fmt.Println("║  (cancelled, open positions force-closed) ║")
	}
	fmt.Println("╚══════════════════════════════════════════╝")
}

func short(id string) string {
	if len(id) > 21 {
		return id[:21]
	}
	return id
}
