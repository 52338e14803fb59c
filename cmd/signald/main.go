// cmd/signald polls candle sources for every enabled strategy config and
// emits CCI breakout/recovery signals to SQLite, Redis pub/sub and the
// configured notifiers.
//
// Usage:
//
//	go run ./cmd/signald --strategies=strategies.yaml
//	go run ./cmd/signald --strategies=strategies.yaml --replay --from=2024-01-01 --speed=0
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"cci-trader/config"
	"cci-trader/internal/livesignal"
	"cci-trader/internal/logger"
	"cci-trader/internal/marketdata"
	"cci-trader/internal/marketdata/angel"
	"cci-trader/internal/marketdata/binance"
	"cci-trader/internal/marketdata/replay"
	"cci-trader/internal/markethours"
	"cci-trader/internal/metrics"
	"cci-trader/internal/model"
	"cci-trader/internal/notification"
	redisstore "cci-trader/internal/store/redis"
	sqlitestore "cci-trader/internal/store/sqlite"
	"cci-trader/internal/strategy"
	"cci-trader/pkg/smartconnect"
)

var errNoConfigSource = errors.New("no strategy file given and redis is unavailable")

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	env := config.Load()

	strategiesPath := flag.String("strategies", env.StrategyFile, "YAML strategy file (empty = load from Redis)")
	replayMode := flag.Bool("replay", false, "Dry-run over stored candles instead of polling live")
	fromStr := flag.String("from", "", "Replay start (YYYY-MM-DD or RFC3339)")
	toStr := flag.String("to", "", "Replay end, exclusive (empty = all)")
	speed := flag.Float64("speed", 0, "Replay speed multiplier (0=max, 1=realtime)")
	flag.Parse()

	lg := logger.Init("signald", logger.ParseLevel(env.LogLevel))
	if err := env.Validate(); err != nil {
		log.Fatalf("[signald] config: %v", err)
	}
	log.Printf("[signald] starting (source=%s replay=%t)", env.DataSource, *replayMode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("[signald] shutting down...")
		cancel()
	}()

	// ---- Metrics & health ----
	prom := metrics.NewMetrics(prometheus.DefaultRegisterer)
	health := metrics.NewHealthStatus(*strategiesPath == "", true)
	metricsSrv := metrics.NewServer(env.MetricsAddr, health, prometheus.DefaultGatherer)
	metricsSrv.Start()
	defer metricsSrv.Stop(context.Background())

	// ---- SQLite: signal dedup + candle cache ----
	store, err := sqlitestore.Open(sqlitestore.Config{DBPath: env.SQLitePath})
	if err != nil {
		log.Fatalf("[signald] sqlite init failed: %v", err)
	}
	defer store.Close()

	// ---- Redis: settings + signal fan-out (optional) ----
	rdb, err := redisstore.Connect(redisstore.Config{Addr: env.RedisAddr, Password: env.RedisPassword, DB: env.RedisDB})
	if err != nil {
		log.Printf("[signald] WARNING: redis init failed: %v (continuing without redis)", err)
	} else {
		defer rdb.Close()
	}
	health.StartLivenessChecker(ctx, rdb, store.DB(), 10*time.Second)

	configs, err := loadConfigs(ctx, *strategiesPath, rdb)
	if err != nil {
		log.Fatalf("[signald] %v", err)
	}
	log.Printf("[signald] loaded %d strategy configs", len(configs))

	if *replayMode {
		if err := runReplay(ctx, lg, store, configs, *fromStr, *toStr, *speed); err != nil && ctx.Err() == nil {
			log.Fatalf("[signald] replay: %v", err)
		}
		return
	}

	source, err := newSource(env, store)
	if err != nil {
		log.Fatalf("[signald] data source: %v", err)
	}
	if env.DataSource == config.SourceAngel {
		log.Printf("[signald] %s", markethours.StatusString(time.Now()))
	}

	svc := livesignal.New(source, buildSinks(env, rdb, prom), livesignal.Options{
		MinInterval: env.MinPollInterval,
		Recorder:    store,
		Calendar:    markethours.ForSource(env.DataSource),
		Metrics:     prom,
		Health:      health,
		Logger:      lg,
	})
	if err := svc.Run(ctx, configs); err != nil {
		log.Fatalf("[signald] %v", err)
	}
}

func loadConfigs(ctx context.Context, path string, rdb *goredis.Client) ([]strategy.Settings, error) {
	if path != "" {
		return config.LoadStrategies(path)
	}
	if rdb == nil {
		return nil, errNoConfigSource
	}
	return redisstore.NewSettingsStore(rdb).LoadAll(ctx)
}

func newSource(env *config.Config, store *sqlitestore.Store) (marketdata.CandleSource, error) {
	switch env.DataSource {
	case config.SourceAngel:
		client := smartconnect.New(smartconnect.Config{APIKey: env.AngelAPIKey})
		return angel.New(client, angel.Credentials{
			ClientCode: env.AngelClientCode,
			PIN:        env.AngelPassword,
			TOTPSecret: env.AngelTOTPSecret,
		}, env.ParseInstruments()), nil
	case config.SourceSQLite:
		return store, nil
	default:
		return binance.New(binance.Config{
			APIKey:    env.BinanceAPIKey,
			APISecret: env.BinanceAPISecret,
			Market:    binance.Market(env.BinanceMarket),
			Testnet:   env.BinanceTestnet,
		})
	}
}

// buildSinks wires every configured signal destination. Redis publishing
// goes through a circuit breaker whose state is exported as metrics.
func buildSinks(env *config.Config, rdb *goredis.Client, prom *metrics.Metrics) []livesignal.Sink {
	var sinks []livesignal.Sink

	if rdb != nil {
		cb := redisstore.NewCircuitBreaker(5, 30*time.Second)
		cb.OnStateChange = func(from, to redisstore.State) {
			prom.RedisCircuitBreakerState.Set(float64(to))
			if to == redisstore.StateOpen {
				prom.RedisCircuitBreakerTrips.Inc()
			}
			log.Printf("[signald] redis circuit breaker %s -> %s", from, to)
		}
		pub := redisstore.NewSignalPublisher(rdb, cb, 0)
		pub.OnBuffer = func() { prom.RedisBufferedSignals.Set(float64(pub.Buffered())) }
		sinks = append(sinks, livesignal.Named("redis", livesignal.SinkFunc(pub.Publish)))
	}

	if env.TelegramToken != "" {
		tg, err := notification.NewTelegramNotifier(env.TelegramToken, env.TelegramChatID)
		if err != nil {
			log.Printf("[signald] WARNING: telegram disabled: %v", err)
		} else {
			sinks = append(sinks, livesignal.Named("telegram", livesignal.NotifierSink(tg)))
		}
	}
	if env.WebhookURL != "" {
		sinks = append(sinks, livesignal.Named("webhook", livesignal.NotifierSink(notification.NewWebhookNotifier(env.WebhookURL))))
	}
	sinks = append(sinks, livesignal.Named("log", livesignal.NotifierSink(notification.NewLogNotifier())))

	log.Printf("[signald] %d signal sinks ready", len(sinks))
	return sinks
}

// runReplay loads stored candles for every config and drives PollOnce from
// a simulated clock. Signals are recorded and logged only.
func runReplay(ctx context.Context, lg *slog.Logger, store *sqlitestore.Store, configs []strategy.Settings,
	fromStr, toStr string, speed float64) error {
	from, err := parseTime(fromStr)
	if err != nil {
		return err
	}
	to, err := parseTime(toStr)
	if err != nil {
		return err
	}

	var history []model.Candle
	step := 24 * time.Hour
	for _, cfg := range configs {
		cs, err := store.ReadCandles(ctx, cfg.Symbol, cfg.Timeframe, from, to)
		if err != nil {
			return err
		}
		history = append(history, cs...)
		if tf, ok := strategy.TimeframeDuration(cfg.Timeframe); ok && tf < step {
			step = tf
		}
	}

	src := replay.New(history)
	svc := livesignal.New(src, []livesignal.Sink{
		livesignal.Named("log", livesignal.NotifierSink(notification.NewLogNotifier())),
	}, livesignal.Options{Recorder: store, Logger: lg, Now: src.Clock})

	fired := 0
	err = src.Run(ctx, step, speed, func(ctx context.Context, _ time.Time) error {
		for _, cfg := range configs {
			if sig, _ := svc.PollOnce(ctx, cfg); sig != nil {
				fired++
			}
		}
		return nil
	})
	log.Printf("[signald] replay finished: %d signals", fired)
	return err
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
