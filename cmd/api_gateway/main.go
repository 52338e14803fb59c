// cmd/api_gateway serves the backtest/settings/signal REST API and streams
// live signals from Redis pub/sub to WebSocket clients.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"cci-trader/config"
	"cci-trader/internal/gateway"
	"cci-trader/internal/marketdata"
	"cci-trader/internal/marketdata/binance"
	"cci-trader/internal/metrics"
	"cci-trader/internal/model"
	redisstore "cci-trader/internal/store/redis"
	sqlitestore "cci-trader/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[api_gateway] starting...")
	env := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	prom := metrics.NewMetrics(prometheus.DefaultRegisterer)
	health := metrics.NewHealthStatus(true, true)
	metricsSrv := metrics.NewServer(env.MetricsAddr, health, prometheus.DefaultGatherer)
	metricsSrv.Start()

	store, err := sqlitestore.Open(sqlitestore.Config{DBPath: env.SQLitePath})
	if err != nil {
		log.Fatalf("[api_gateway] sqlite init failed: %v", err)
	}
	defer store.Close()

	var settings gateway.SettingsRepo
	rdb, err := redisstore.Connect(redisstore.Config{Addr: env.RedisAddr, Password: env.RedisPassword, DB: env.RedisDB})
	if err != nil {
		log.Printf("[api_gateway] WARNING: redis init failed: %v (settings and live stream disabled)", err)
	} else {
		defer rdb.Close()
		settings = redisstore.NewSettingsStore(rdb)
	}
	health.StartLivenessChecker(ctx, rdb, store.DB(), 10*time.Second)

	// Limit-based backtests read fresh candles; SQLite serves when offline.
	var candles marketdata.CandleSource = store
	if env.DataSource == config.SourceBinance {
		src, err := binance.New(binance.Config{
			APIKey:    env.BinanceAPIKey,
			APISecret: env.BinanceAPISecret,
			Market:    binance.Market(env.BinanceMarket),
			Testnet:   env.BinanceTestnet,
		})
		if err != nil {
			log.Fatalf("[api_gateway] binance: %v", err)
		}
		candles = src
	}

	hub := gateway.NewHub(prom)
	sampler := gateway.NewSystemSampler()
	if rdb != nil {
		go streamSignals(ctx, rdb, hub)
	}
	go hub.StartSystemBroadcast(ctx, sampler, 2*time.Second)

	api := &gateway.Server{
		Results:         store,
		Settings:        settings,
		Candles:         candles,
		History:         store,
		Hub:             hub,
		Metrics:         prom,
		System:          sampler,
		BacktestTimeout: env.BacktestTimeout,
	}
	srv := &http.Server{Addr: env.APIAddr, Handler: api.Routes(), ReadHeaderTimeout: 5 * time.Second}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("[api_gateway] serving at http://localhost%s", env.APIAddr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("[api_gateway] server error: %v", err)
		}
	}()

	<-sigCh
	log.Println("[api_gateway] shutting down...")
	cancel()
	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	srv.Shutdown(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)
}

// streamSignals resubscribes with backoff until ctx is cancelled.
func streamSignals(ctx context.Context, rdb *goredis.Client, hub *gateway.Hub) {
	in := make(chan model.MarketSignal, 256)
	go hub.Run(ctx, in)

	backoff := time.Second
	for {
		err := redisstore.SubscribeSignals(ctx, rdb, in)
		if ctx.Err() != nil {
			return
		}
		log.Printf("[api_gateway] signal subscription ended: %v (retry in %s)", err, backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}
