// Package livesignal runs the CCI signal detector against fresh candle
// windows on a timer, one task per enabled strategy configuration, and hands
// fired signals to persistence and notification sinks.
package livesignal

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"cci-trader/internal/logger"
	"cci-trader/internal/marketdata"
	"cci-trader/internal/markethours"
	"cci-trader/internal/metrics"
	"cci-trader/internal/model"
	"cci-trader/internal/strategy"
)

// DefaultMinInterval is the poll floor for ordinary configs.
const DefaultMinInterval = 15 * time.Minute

// Options configures a Service. Zero values are usable.
type Options struct {
	MinInterval time.Duration        // floor applied to every CheckInterval; default 15m
	Recorder    Recorder             // optional dedup store
	Calendar    markethours.Calendar // scheduled polls are skipped while closed; default always open
	Metrics     *metrics.Metrics
	Health      *metrics.HealthStatus
	Logger      *slog.Logger
	Now         func() time.Time
}

// Service schedules independent polls per configuration.
type Service struct {
	source marketdata.CandleSource
	sinks  []Sink
	opts   Options
	log    *slog.Logger

	mu      sync.Mutex
	enabled map[string]bool
	states  map[string]PollState
}

// New creates a Service reading candles from source.
func New(source marketdata.CandleSource, sinks []Sink, opts Options) *Service {
	if opts.MinInterval <= 0 {
		opts.MinInterval = DefaultMinInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Calendar == nil {
		opts.Calendar = markethours.AlwaysOpen{}
	}
	lg := opts.Logger
	if lg == nil {
		lg = slog.Default()
	}
	return &Service{
		source:  source,
		sinks:   sinks,
		opts:    opts,
		log:     lg.With(slog.String("component", "livesignal")),
		enabled: make(map[string]bool),
		states:  make(map[string]PollState),
	}
}

// Enable allows future polls for configID.
func (s *Service) Enable(configID string) {
	s.mu.Lock()
	s.enabled[configID] = true
	n := s.countEnabledLocked()
	s.mu.Unlock()
	s.reportActive(n)
}

// Disable stops future polls for configID. A poll already running completes.
func (s *Service) Disable(configID string) {
	s.mu.Lock()
	delete(s.enabled, configID)
	n := s.countEnabledLocked()
	s.mu.Unlock()
	s.reportActive(n)
}

// Enabled reports whether configID is scheduled.
func (s *Service) Enabled(configID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled[configID]
}

// State returns the last recorded poll state for configID.
func (s *Service) State(configID string) PollState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[configID]
	if !ok {
		return idle()
	}
	return st
}

func (s *Service) setState(configID string, st PollState) {
	s.mu.Lock()
	s.states[configID] = st
	s.mu.Unlock()
}

func (s *Service) countEnabledLocked() int { return len(s.enabled) }

func (s *Service) reportActive(n int) {
	if s.opts.Metrics != nil {
		s.opts.Metrics.ActiveConfigs.Set(float64(n))
	}
	if s.opts.Health != nil {
		s.opts.Health.SetActiveConfigs(n)
	}
}

// Interval returns the effective poll period for cfg.
func (s *Service) Interval(cfg strategy.Settings) time.Duration {
	d := cfg.CheckInterval.Std()
	if d < s.opts.MinInterval {
		return s.opts.MinInterval
	}
	return d
}

// Run starts one task per config and blocks until ctx is cancelled.
// Configs with Enabled=false get a task but stay paused until Enable.
// Invalid configs fail Run before any task starts.
func (s *Service) Run(ctx context.Context, configs []strategy.Settings) error {
	configs = append([]strategy.Settings(nil), configs...)
	for i := range configs {
		configs[i].ApplyDefaults()
		if err := configs[i].ValidateLive(); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, cfg := range configs {
		cfg := cfg
		if cfg.Enabled {
			s.Enable(cfg.ID)
		}
		g.Go(func() error {
			s.runTask(ctx, cfg)
			return nil
		})
	}
	s.log.Info("live signal service started", "configs", len(configs))
	err := g.Wait()
	s.log.Info("live signal service stopped")
	return err
}

func (s *Service) runTask(ctx context.Context, cfg strategy.Settings) {
	interval := s.Interval(cfg)
	s.log.Info("task scheduled",
		"config_id", cfg.ID, "symbol", cfg.Symbol, "timeframe", cfg.Timeframe, "interval", interval.String())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		switch {
		case !s.Enabled(cfg.ID):
		case !s.opts.Calendar.IsOpen(s.opts.Now()):
			s.countPoll("skipped")
			s.log.Debug("market closed, poll skipped", "config_id", cfg.ID)
		default:
			// Errors are recorded in the poll state; the next tick retries.
			_, _ = s.PollOnce(ctx, cfg)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PollOnce fetches the newest LookbackCandles, evaluates them from scratch
// and emits a signal if one fires on the newest candle. It returns the
// emitted signal, or nil when nothing fired or the signal was a duplicate.
func (s *Service) PollOnce(ctx context.Context, cfg strategy.Settings) (*model.MarketSignal, error) {
	ctx = logger.WithTraceID(ctx, logger.NewTraceID("poll"))
	lg := s.log.With(logger.LogWithTrace(ctx)...).With(
		"config_id", cfg.ID, "symbol", cfg.Symbol, "timeframe", cfg.Timeframe)

	started := s.opts.Now()
	s.setState(cfg.ID, fetching(started))
	defer func() {
		if s.opts.Metrics != nil {
			s.opts.Metrics.PollDuration.Observe(s.opts.Now().Sub(started).Seconds())
		}
		if s.opts.Health != nil {
			s.opts.Health.SetLastPollTime(started)
		}
	}()

	candles, err := s.source.FetchCandles(ctx, cfg.Symbol, cfg.Timeframe, cfg.LookbackCandles)
	if err != nil {
		s.setState(cfg.ID, failed(started, s.opts.Now(), err))
		var dse *model.DataSourceError
		if errors.As(err, &dse) {
			s.countPoll("skipped")
			if s.opts.Metrics != nil {
				s.opts.Metrics.DataSourceErrors.WithLabelValues(dse.Source).Inc()
			}
			lg.Warn("candle fetch failed, skipping poll", "error", err)
		} else {
			s.countPoll("error")
			lg.Error("candle fetch failed", "error", err)
		}
		return nil, err
	}

	sig, err := strategy.EvaluateLiveSignal(cfg, candles)
	if err != nil {
		s.setState(cfg.ID, failed(started, s.opts.Now(), err))
		s.countPoll("error")
		lg.Warn("evaluation failed", "candles", len(candles), "error", err)
		return nil, err
	}
	s.setState(cfg.ID, evaluated(started, s.opts.Now(), len(candles), sig))
	if sig == nil {
		s.countPoll("none")
		lg.Debug("no signal", "candles", len(candles))
		return nil, nil
	}

	if s.opts.Recorder != nil {
		inserted, err := s.opts.Recorder.SaveSignal(ctx, sig)
		if err != nil {
			s.countPoll("error")
			lg.Error("record signal failed", "signal_id", sig.ID, "error", err)
			return nil, err
		}
		if !inserted {
			s.countPoll("none")
			if s.opts.Metrics != nil {
				s.opts.Metrics.SignalsDeduped.Inc()
			}
			lg.Info("signal already recorded", "direction", sig.Direction, "candle", sig.Timestamp)
			return nil, nil
		}
	}

	s.countPoll("signal")
	if s.opts.Metrics != nil {
		s.opts.Metrics.SignalsTotal.WithLabelValues(string(sig.Direction)).Inc()
	}
	lg.Info("signal emitted",
		"signal_id", sig.ID, "direction", sig.Direction, "cci", sig.CCIValue, "price", sig.Price, "candle", sig.Timestamp)

	for i, sink := range s.sinks {
		name := sinkName(sink, i)
		err := sink.Emit(ctx, sig)
		if s.opts.Metrics != nil {
			result := "ok"
			if err != nil {
				result = "error"
			}
			s.opts.Metrics.NotificationsTotal.WithLabelValues(name, result).Inc()
		}
		if err != nil {
			lg.Warn("sink failed", "sink", name, "signal_id", sig.ID, "error", err)
		}
	}
	return sig, nil
}

func (s *Service) countPoll(result string) {
	if s.opts.Metrics != nil {
		s.opts.Metrics.PollsTotal.WithLabelValues(result).Inc()
	}
}
