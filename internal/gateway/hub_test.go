package gateway

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cci-trader/internal/model"
)

type envelope struct {
	Channel string             `json:"channel"`
	Data    model.MarketSignal `json:"data"`
	TS      time.Time          `json:"ts"`
	Seq     int64              `json:"seq"`
}

func TestBuildEnvelope(t *testing.T) {
	sig := model.MarketSignal{ID: "a", Symbol: "BTCUSDT", Timeframe: "15m", Direction: model.Long, CCIValue: -95}
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	raw := buildEnvelope(sig.PubSubChannel(), sig.JSON(), now, 42)

	var env envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, "pub:signal:BTCUSDT:15m", env.Channel)
	assert.Equal(t, int64(42), env.Seq)
	assert.True(t, env.TS.Equal(now))
	assert.Equal(t, sig.ID, env.Data.ID)
	assert.Equal(t, model.Long, env.Data.Direction)
}

func TestClientFilter_Matches(t *testing.T) {
	c := newClient(NewHub(nil), nil, ClientFilter{Symbols: []string{" btcusdt "}, Username: "alice"})
	assert.True(t, c.matches("BTCUSDT", "alice"))
	assert.False(t, c.matches("ETHUSDT", "alice"))
	assert.False(t, c.matches("BTCUSDT", "bob"))

	c.setFilter(ClientFilter{})
	assert.True(t, c.matches("ETHUSDT", "bob"))
}

func dialWS(t *testing.T, srv *httptest.Server, hub *Hub, query string) *websocket.Conn {
	t.Helper()
	before := hub.ClientCount()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return hub.ClientCount() > before }, 2*time.Second, 5*time.Millisecond)
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, v))
}

func signalFor(symbol string) model.MarketSignal {
	return model.MarketSignal{ID: symbol + "-1", Symbol: symbol, Timeframe: "15m", Direction: model.Short}
}

func TestHub_FilteredBroadcastAndReplay(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer((&Server{Hub: hub}).Routes())
	defer srv.Close()

	btcOnly := dialWS(t, srv, hub, "?symbols=btcusdt")

	hub.Broadcast(signalFor("ETHUSDT"))
	hub.Broadcast(signalFor("BTCUSDT"))

	var env envelope
	readJSON(t, btcOnly, &env)
	assert.Equal(t, "BTCUSDT", env.Data.Symbol)
	assert.Equal(t, int64(2), env.Seq)

	late := dialWS(t, srv, hub, "?last_seq=1")
	readJSON(t, late, &env)
	assert.Equal(t, int64(2), env.Seq)
	assert.Equal(t, "pub:signal:BTCUSDT:15m", env.Channel)
}

func TestHub_SubscribeChangesFilter(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer((&Server{Hub: hub}).Routes())
	defer srv.Close()

	conn := dialWS(t, srv, hub, "?symbols=BTCUSDT")
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "SUBSCRIBE", "symbols": []string{"ethusdt"}}))

	var ack map[string]any
	readJSON(t, conn, &ack)
	assert.Equal(t, "subscribed", ack["type"])

	hub.Broadcast(signalFor("BTCUSDT"))
	hub.Broadcast(signalFor("ETHUSDT"))

	var env envelope
	readJSON(t, conn, &env)
	assert.Equal(t, "ETHUSDT", env.Data.Symbol)

	require.NoError(t, conn.WriteJSON(map[string]any{"ping": 7}))
	var pong map[string]any
	readJSON(t, conn, &pong)
	assert.Equal(t, "pong", pong["type"])
	assert.EqualValues(t, 7, pong["ping"])
}

func TestHub_DisconnectRemovesClient(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer((&Server{Hub: hub}).Routes())
	defer srv.Close()

	conn := dialWS(t, srv, hub, "")
	require.Equal(t, 1, hub.ClientCount())
	conn.Close()

	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}
