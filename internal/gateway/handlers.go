package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"cci-trader/internal/backtest"
	"cci-trader/internal/marketdata"
	"cci-trader/internal/metrics"
	"cci-trader/internal/model"
	"cci-trader/internal/store/sqlite"
	"cci-trader/internal/strategy"
)

// DefaultBacktestCandles is used when a request names neither a range nor a limit.
const DefaultBacktestCandles = 1000

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ResultStore persists backtest results and signals.
type ResultStore interface {
	SaveBacktestResult(ctx context.Context, res *model.BacktestResult) error
	GetBacktestResult(ctx context.Context, id string) (*model.BacktestResult, error)
	ListBacktestResults(ctx context.Context, username string, limit int) ([]sqlite.ResultSummary, error)
	ListSignals(ctx context.Context, f sqlite.SignalFilter) ([]model.MarketSignal, error)
	MarkSignalRead(ctx context.Context, id string) error
}

// HistoryReader serves candle ranges for backtests.
type HistoryReader interface {
	ReadCandles(ctx context.Context, symbol, interval string, from, to time.Time) ([]model.Candle, error)
}

// SettingsRepo stores per-user strategy settings.
type SettingsRepo interface {
	LoadSettings(ctx context.Context, username string) ([]strategy.Settings, error)
	SaveSettings(ctx context.Context, s *strategy.Settings) error
	DeleteSettings(ctx context.Context, username, id string) error
}

// Server exposes the REST API and the /ws signal stream.
type Server struct {
	Results  ResultStore
	Settings SettingsRepo            // nil disables /api/settings
	Candles  marketdata.CandleSource // live source for limit-based backtests
	History  HistoryReader           // nil disables range-based backtests
	Hub      *Hub
	Metrics  *metrics.Metrics        // optional
	System   *SystemSampler          // nil disables /api/system

	BacktestTimeout time.Duration
}

// Routes registers all HTTP routes on a new mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWS)

	mux.HandleFunc("POST /api/backtest", s.handleBacktest)
	mux.HandleFunc("GET /api/backtests", s.handleListBacktests)
	mux.HandleFunc("GET /api/backtests/{id}", s.handleGetBacktest)

	mux.HandleFunc("GET /api/signals", s.handleListSignals)
	mux.HandleFunc("POST /api/signals/read", s.handleMarkRead)

	mux.HandleFunc("GET /api/settings/{username}", s.handleGetSettings)
	mux.HandleFunc("PUT /api/settings/{username}", s.handlePutSettings)
	mux.HandleFunc("DELETE /api/settings/{username}/{id}", s.handleDeleteSettings)

	mux.HandleFunc("GET /api/system", s.handleSystem)

	mux.HandleFunc("OPTIONS /api/", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	SetCORS(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	var (
		ice *strategy.InvalidConfigurationError
		ide *model.InsufficientDataError
		dse *model.DataSourceError
	)
	switch {
	case errors.As(err, &ice):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Field: ice.Field})
	case errors.As(err, &ide):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error()})
	case errors.As(err, &dse):
		writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: err.Error()})
	case errors.Is(err, sqlite.ErrNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "not found"})
	case errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, ErrorResponse{Error: err.Error()})
	default:
		log.Printf("[api_gateway] internal error: %v", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: msg})
}

func queryInt(r *http.Request, key string, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil && v > 0 {
		return v
	}
	return def
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[api_gateway] ws upgrade error: %v", err)
		return
	}
	q := r.URL.Query()
	var filter ClientFilter
	if syms := q.Get("symbols"); syms != "" {
		filter.Symbols = strings.Split(syms, ",")
	}
	filter.Username = q.Get("username")
	lastSeq, _ := strconv.ParseInt(q.Get("last_seq"), 10, 64)
	s.Hub.HandleWS(conn, filter, lastSeq)
}

func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	var req BacktestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON: "+err.Error())
		return
	}
	cfg := req.Settings
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()
	if s.BacktestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.BacktestTimeout)
		defer cancel()
	}

	candles, err := s.loadCandles(ctx, cfg, req)
	if err != nil {
		writeError(w, err)
		return
	}

	start := time.Now()
	res, err := backtest.Run(ctx, cfg, candles)
	s.observeBacktest(start, res, err)
	if err != nil && res == nil {
		writeError(w, err)
		return
	}
	if err != nil {
		// Partial result from a cancelled run is still returned, flagged.
		log.Printf("[api_gateway] backtest %s cancelled: %v", res.ID, err)
	}

	if req.Save == nil || *req.Save {
		if err := s.Results.SaveBacktestResult(context.WithoutCancel(ctx), res); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) loadCandles(ctx context.Context, cfg strategy.Settings, req BacktestRequest) ([]model.Candle, error) {
	if !req.From.IsZero() {
		if s.History == nil {
			return nil, &model.DataSourceError{Source: "history", Symbol: cfg.Symbol, Interval: cfg.Timeframe,
				Err: errors.New("range backtests need a candle store")}
		}
		return s.History.ReadCandles(ctx, cfg.Symbol, cfg.Timeframe, req.From, req.To)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultBacktestCandles
	}
	return s.Candles.FetchCandles(ctx, cfg.Symbol, cfg.Timeframe, limit)
}

func (s *Server) observeBacktest(start time.Time, res *model.BacktestResult, err error) {
	if s.Metrics == nil {
		return
	}
	status := "ok"
	switch {
	case res != nil && res.Cancelled:
		status = "cancelled"
	case err != nil:
		status = "error"
	}
	s.Metrics.BacktestsTotal.WithLabelValues(status).Inc()
	s.Metrics.BacktestDuration.Observe(time.Since(start).Seconds())
	if res != nil {
		s.Metrics.BacktestPositions.Observe(float64(len(res.Positions)))
	}
}

func (s *Server) handleListBacktests(w http.ResponseWriter, r *http.Request) {
	list, err := s.Results.ListBacktestResults(r.Context(), r.URL.Query().Get("username"), queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []sqlite.ResultSummary{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetBacktest(w http.ResponseWriter, r *http.Request) {
	res, err := s.Results.GetBacktestResult(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListSignals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	unread, _ := strconv.ParseBool(q.Get("unread"))
	sigs, err := s.Results.ListSignals(r.Context(), sqlite.SignalFilter{
		Username:   q.Get("username"),
		Symbol:     strings.ToUpper(q.Get("symbol")),
		UnreadOnly: unread,
		Limit:      queryInt(r, "limit", 100),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if sigs == nil {
		sigs = []model.MarketSignal{}
	}
	writeJSON(w, http.StatusOK, sigs)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	var req MarkReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.IDs) == 0 {
		badRequest(w, "body must be {\"ids\":[...]}")
		return
	}
	resp := MarkReadResponse{Updated: []string{}}
	for _, id := range req.IDs {
		err := s.Results.MarkSignalRead(r.Context(), id)
		switch {
		case err == nil:
			resp.Updated = append(resp.Updated, id)
		case errors.Is(err, sqlite.ErrNotFound):
			resp.NotFound = append(resp.NotFound, id)
		default:
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) settingsEnabled(w http.ResponseWriter) bool {
	if s.Settings == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "settings store not configured"})
		return false
	}
	return true
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	if !s.settingsEnabled(w) {
		return
	}
	list, err := s.Settings.LoadSettings(r.Context(), r.PathValue("username"))
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []strategy.Settings{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	if !s.settingsEnabled(w) {
		return
	}
	var cfg strategy.Settings
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		badRequest(w, "invalid JSON: "+err.Error())
		return
	}
	cfg.Username = r.PathValue("username")
	if err := s.Settings.SaveSettings(r.Context(), &cfg); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleDeleteSettings(w http.ResponseWriter, r *http.Request) {
	if !s.settingsEnabled(w) {
		return
	}
	if err := s.Settings.DeleteSettings(r.Context(), r.PathValue("username"), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	if s.System == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "system metrics disabled"})
		return
	}
	writeJSON(w, http.StatusOK, s.System.Collect(s.Hub))
}
