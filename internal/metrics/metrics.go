package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the strategy engine.
type Metrics struct {
	// Live signal service
	PollsTotal       *prometheus.CounterVec // labels: result=signal|none|skipped|error
	PollDuration     prometheus.Histogram
	SignalsTotal     *prometheus.CounterVec // labels: direction
	SignalsDeduped   prometheus.Counter
	DataSourceErrors *prometheus.CounterVec // labels: source
	ActiveConfigs    prometheus.Gauge

	// Backtests
	BacktestsTotal    *prometheus.CounterVec // labels: status=ok|cancelled|error
	BacktestDuration  prometheus.Histogram
	BacktestPositions prometheus.Histogram

	// Circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedSignals     prometheus.Gauge

	// Gateway
	WSClients         prometheus.Gauge
	WSDropsTotal      prometheus.Counter
	SignalPushLatency prometheus.Histogram

	// Notifications
	NotificationsTotal *prometheus.CounterVec // labels: notifier, result=ok|error
}

// NewMetrics creates all metrics and registers them on reg.
// Pass prometheus.DefaultRegisterer in binaries and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PollsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cci_polls_total",
			Help: "Live signal polls by outcome",
		}, []string{"result"}),
		PollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cci_poll_duration_seconds",
			Help:    "Fetch plus evaluation latency per poll",
			Buckets: prometheus.DefBuckets,
		}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cci_signals_total",
			Help: "Market signals emitted (by direction)",
		}, []string{"direction"}),
		SignalsDeduped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cci_signals_deduped_total",
			Help: "Signals suppressed because the candle was already signalled",
		}),
		DataSourceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cci_data_source_errors_total",
			Help: "Candle fetch failures (by source)",
		}, []string{"source"}),
		ActiveConfigs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cci_active_configs",
			Help: "Enabled live strategy configurations",
		}),

		BacktestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cci_backtests_total",
			Help: "Backtest runs by status",
		}, []string{"status"}),
		BacktestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cci_backtest_duration_seconds",
			Help:    "Backtest wall-clock duration",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}),
		BacktestPositions: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cci_backtest_positions",
			Help:    "Positions opened per backtest",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cci_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cci_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker opened",
		}),
		RedisBufferedSignals: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cci_redis_buffered_signals",
			Help: "Signals held in memory while Redis is unavailable",
		}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cci_ws_clients",
			Help: "Connected WebSocket clients",
		}),
		WSDropsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cci_ws_drops_total",
			Help: "Messages dropped for slow WebSocket clients",
		}),
		SignalPushLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cci_signal_push_latency_seconds",
			Help:    "Delay between signal creation and WebSocket fan-out",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),

		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cci_notifications_total",
			Help: "Notification deliveries by notifier and result",
		}, []string{"notifier", "result"}),
	}

	reg.MustRegister(
		m.PollsTotal,
		m.PollDuration,
		m.SignalsTotal,
		m.SignalsDeduped,
		m.DataSourceErrors,
		m.ActiveConfigs,
		m.BacktestsTotal,
		m.BacktestDuration,
		m.BacktestPositions,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedSignals,
		m.WSClients,
		m.WSDropsTotal,
		m.SignalPushLatency,
		m.NotificationsTotal,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	LastPollTime   time.Time `json:"last_poll_time"`
	ActiveConfigs  int       `json:"active_configs"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`

	// Dependencies this process does not use are reported but never degrade it.
	requireRedis  bool
	requireSQLite bool
}

// NewHealthStatus returns a health status that degrades when a required
// dependency fails its probe.
func NewHealthStatus(requireRedis, requireSQLite bool) *HealthStatus {
	return &HealthStatus{
		StartedAt:     time.Now(),
		requireRedis:  requireRedis,
		requireSQLite: requireSQLite,
	}
}

func (h *HealthStatus) SetLastPollTime(t time.Time) {
	h.mu.Lock()
	h.LastPollTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetActiveConfigs(n int) {
	h.mu.Lock()
	h.ActiveConfigs = n
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker probes once immediately, then every interval.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	probe := func() {
		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if rdb != nil {
			h.CheckRedis(probeCtx, rdb)
		}
		if sqlDB != nil {
			h.CheckSQLite(probeCtx, sqlDB)
		}
	}
	go func() {
		probe()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probe()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	redisDown := h.requireRedis && !h.RedisConnected
	sqliteDown := h.requireSQLite && !h.SQLiteOK

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if redisDown || sqliteDown {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if redisDown && sqliteDown {
		overallStatus = "unhealthy"
	}

	pollAge := ""
	if !h.LastPollTime.IsZero() {
		pollAge = time.Since(h.LastPollTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		LastPollTime    string  `json:"last_poll_time,omitempty"`
		PollAge         string  `json:"poll_age,omitempty"`
		ActiveConfigs   int     `json:"active_configs"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		PollAge:         pollAge,
		ActiveConfigs:   h.ActiveConfigs,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}
	if !h.LastPollTime.IsZero() {
		status.LastPollTime = h.LastPollTime.Format(time.RFC3339)
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server for the given gatherer.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler returns the server's mux, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
