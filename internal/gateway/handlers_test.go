package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cci-trader/internal/marketdata"
	"cci-trader/internal/metrics"
	"cci-trader/internal/model"
	"cci-trader/internal/store/sqlite"
	"cci-trader/internal/strategy"
)

var t0 = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func series(prices ...float64) []model.Candle {
	out := make([]model.Candle, len(prices))
	for i, p := range prices {
		out[i] = model.Candle{
			Symbol: "BTCUSDT", Interval: "15m",
			OpenTime: t0.Add(time.Duration(i) * 15 * time.Minute),
			Open:     p, High: p, Low: p, Close: p,
		}
	}
	return out
}

// entryAndExit opens a LONG at 100 and closes it in profit.
func entryAndExit() []model.Candle {
	prices := make([]float64, 0, 25)
	for i := 0; i < 20; i++ {
		prices = append(prices, 100)
	}
	return series(append(prices, 90, 90, 100, 100.5, 101.2)...)
}

type memSettings struct {
	mu   sync.Mutex
	docs map[string][]strategy.Settings
}

func (m *memSettings) LoadSettings(_ context.Context, user string) ([]strategy.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.docs[user], nil
}

func (m *memSettings) SaveSettings(_ context.Context, s *strategy.Settings) error {
	s.ApplyDefaults()
	if err := s.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.docs == nil {
		m.docs = map[string][]strategy.Settings{}
	}
	m.docs[s.Username] = append(m.docs[s.Username], *s)
	return nil
}

func (m *memSettings) DeleteSettings(_ context.Context, user, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.docs[user][:0]
	for _, s := range m.docs[user] {
		if s.ID != id {
			kept = append(kept, s)
		}
	}
	m.docs[user] = kept
	return nil
}

type fixture struct {
	store    *sqlite.Store
	settings *memSettings
	handler  http.Handler
}

func newFixture(t *testing.T, source marketdata.CandleSource) *fixture {
	t.Helper()
	st, err := sqlite.Open(sqlite.Config{DBPath: filepath.Join(t.TempDir(), "gw.db")})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	f := &fixture{store: st, settings: &memSettings{}}
	srv := &Server{
		Results:         st,
		Settings:        f.settings,
		Candles:         source,
		History:         st,
		Hub:             NewHub(nil),
		Metrics:         metrics.NewMetrics(prometheus.NewRegistry()),
		BacktestTimeout: 5 * time.Second,
	}
	f.handler = srv.Routes()
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(method, path, &buf))
	return rec
}

func staticSource(candles []model.Candle) marketdata.CandleSource {
	return marketdata.SourceFunc(func(context.Context, string, string, int) ([]model.Candle, error) {
		return candles, nil
	})
}

func backtestBody() map[string]any {
	return map[string]any{
		"settings": map[string]any{"symbol": "btcusdt", "timeframe": "15m", "seedMoney": 1000, "username": "alice"},
	}
}

func TestBacktest_RunSaveAndFetch(t *testing.T) {
	f := newFixture(t, staticSource(entryAndExit()))

	rec := f.do(t, http.MethodPost, "/api/backtest", backtestBody())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	var res model.BacktestResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, "BTCUSDT", res.Symbol)
	assert.Equal(t, 1, res.Stats.TotalPositions)

	rec = f.do(t, http.MethodGet, "/api/backtests/"+res.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var loaded model.BacktestResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &loaded))
	assert.Equal(t, res.ID, loaded.ID)
	assert.Len(t, loaded.Positions, 1)

	rec = f.do(t, http.MethodGet, "/api/backtests?username=alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []sqlite.ResultSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, res.ID, list[0].ID)
}

func TestBacktest_FromHistoryRange(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.store.SaveCandles(context.Background(), entryAndExit()))

	body := backtestBody()
	body["from"] = t0
	body["save"] = false
	rec := f.do(t, http.MethodPost, "/api/backtest", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res model.BacktestResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 25, res.Candles)

	rec = f.do(t, http.MethodGet, "/api/backtests/"+res.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBacktest_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		source marketdata.CandleSource
		body   any
		status int
	}{
		{
			name:   "invalid settings",
			source: staticSource(entryAndExit()),
			body:   map[string]any{"settings": map[string]any{"entryThreshold": 120, "breakoutThreshold": 100}},
			status: http.StatusBadRequest,
		},
		{
			name:   "insufficient data",
			source: staticSource(series(100, 100, 100)),
			body:   backtestBody(),
			status: http.StatusUnprocessableEntity,
		},
		{
			name: "data source failure",
			source: marketdata.SourceFunc(func(_ context.Context, s, i string, _ int) ([]model.Candle, error) {
				return nil, &model.DataSourceError{Source: "binance-spot", Symbol: s, Interval: i, Err: errors.New("503")}
			}),
			body:   backtestBody(),
			status: http.StatusBadGateway,
		},
		{
			name:   "malformed JSON",
			source: staticSource(nil),
			body:   "nope",
			status: http.StatusBadRequest,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.source)
			rec := f.do(t, http.MethodPost, "/api/backtest", tc.body)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())

			var e ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
			assert.NotEmpty(t, e.Error)
		})
	}
}

func TestSignals_ListAndMarkRead(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	for i, dir := range []model.Direction{model.Long, model.Short} {
		_, err := f.store.SaveSignal(ctx, &model.MarketSignal{
			ID: fmt.Sprintf("s%d", i+1), ConfigID: "cfg", Username: "alice",
			Symbol: "BTCUSDT", Timeframe: "15m", Direction: dir,
			Timestamp: t0.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
	}

	rec := f.do(t, http.MethodGet, "/api/signals?username=alice&unread=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sigs []model.MarketSignal
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sigs))
	assert.Len(t, sigs, 2)

	rec = f.do(t, http.MethodPost, "/api/signals/read", MarkReadRequest{IDs: []string{"s1", "missing"}})
	require.Equal(t, http.StatusOK, rec.Code)
	var mr MarkReadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mr))
	assert.Equal(t, []string{"s1"}, mr.Updated)
	assert.Equal(t, []string{"missing"}, mr.NotFound)

	rec = f.do(t, http.MethodGet, "/api/signals?username=alice&unread=true", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sigs))
	require.Len(t, sigs, 1)
	assert.Equal(t, "s2", sigs[0].ID)

	rec = f.do(t, http.MethodPost, "/api/signals/read", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSettings_PutGetDelete(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPut, "/api/settings/bob", map[string]any{"symbol": "ethusdt", "cciLength": 20})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var saved strategy.Settings
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &saved))
	assert.Equal(t, "bob", saved.Username)
	assert.Equal(t, "ETHUSDT", saved.Symbol)
	assert.NotEmpty(t, saved.ID)

	rec = f.do(t, http.MethodGet, "/api/settings/bob", nil)
	var list []strategy.Settings
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, 20, list[0].CCILength)

	rec = f.do(t, http.MethodPut, "/api/settings/bob", map[string]any{"cciLength": 2})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var e ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	assert.Equal(t, "cciLength", e.Field)

	rec = f.do(t, http.MethodDelete, "/api/settings/bob/"+saved.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/settings/bob", nil)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestSettings_NotConfigured(t *testing.T) {
	srv := &Server{Hub: NewHub(nil)}
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/settings/bob", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
