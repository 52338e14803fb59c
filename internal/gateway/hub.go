package gateway

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"cci-trader/internal/metrics"
	"cci-trader/internal/model"
)

// Hub manages WebSocket clients and fans live market signals out to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	seq     int64

	replay  *ReplayBuffer
	Latency *LatencyTracker

	prom *metrics.Metrics // optional
	now  func() time.Time
}

// NewHub creates a Hub. prom may be nil.
func NewHub(prom *metrics.Metrics) *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		replay:  NewReplayBuffer(500),
		Latency: NewLatencyTracker(1000),
		prom:    prom,
		now:     time.Now,
	}
}

// Run broadcasts every signal read from in. Blocks until ctx is cancelled
// or in is closed.
func (h *Hub) Run(ctx context.Context, in <-chan model.MarketSignal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-in:
			if !ok {
				return
			}
			h.Broadcast(sig)
		}
	}
}

// Broadcast assigns the next seq, stores the envelope for replay and sends it
// to every client whose filter matches. Slow clients drop the message.
func (h *Hub) Broadcast(sig model.MarketSignal) {
	now := h.now().UTC()
	if !sig.CreatedAt.IsZero() {
		d := now.Sub(sig.CreatedAt)
		h.Latency.Record(d)
		if h.prom != nil && d >= 0 {
			h.prom.SignalPushLatency.Observe(d.Seconds())
		}
	}

	// seq and replay order must agree, so both happen under the write lock.
	h.mu.Lock()
	h.seq++
	seq := h.seq
	env := buildEnvelope(sig.PubSubChannel(), sig.JSON(), now, seq)
	h.replay.Push(replayEntry{Seq: seq, Symbol: sig.Symbol, Username: sig.Username, Data: env})
	h.mu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if !client.matches(sig.Symbol, sig.Username) {
			continue
		}
		select {
		case client.send <- env:
		default:
			if h.prom != nil {
				h.prom.WSDropsTotal.Inc()
			}
		}
	}
}

// buildEnvelope hand-crafts {"channel":..,"data":..,"ts":..,"seq":N}; data
// must already be valid JSON.
func buildEnvelope(channel string, data []byte, now time.Time, seq int64) []byte {
	buf := make([]byte, 0, len(channel)+len(data)+96)
	buf = append(buf, `{"channel":"`...)
	buf = append(buf, channel...)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, '}')
	return buf
}

// HandleWS registers an upgraded connection. Envelopes newer than lastSeq
// that match filter are replayed before live traffic.
func (h *Hub) HandleWS(conn *websocket.Conn, filter ClientFilter, lastSeq int64) {
	client := newClient(h, conn, filter)

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()
	h.reportClients(count)

	log.Printf("[api_gateway] ws client connected (%d total)", count)

	if lastSeq > 0 {
		if oldest := h.replay.Oldest(); oldest > lastSeq+1 {
			log.Printf("[api_gateway] ws client resumed at seq %d, replay starts at %d", lastSeq, oldest)
		}
		missed := h.replay.After(lastSeq, func(e replayEntry) bool {
			return client.matches(e.Symbol, e.Username)
		})
		for _, e := range missed {
			select {
			case client.send <- e.Data:
			default:
			}
		}
	}

	go client.writePump()
	go client.readPump()
}

// RemoveClient removes a client from the hub.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	count := len(h.clients)
	close(c.send)
	h.mu.Unlock()
	h.reportClients(count)
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Seq returns the last assigned sequence number.
func (h *Hub) Seq() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seq
}

func (h *Hub) reportClients(n int) {
	if h.prom != nil {
		h.prom.WSClients.Set(float64(n))
	}
}
