package gateway

import (
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ClientFilter restricts which signals a client receives. Empty fields match
// everything.
type ClientFilter struct {
	Symbols  []string `json:"symbols"`
	Username string   `json:"username"`
}

// Client represents a single WebSocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	filterMu sync.RWMutex
	symbols  map[string]bool
	username string
}

// clientMsg is the inbound control message.
//
//	{"type":"SUBSCRIBE","symbols":["BTCUSDT"],"username":"alice"}
//	{"type":"UNSUBSCRIBE"}
//	{"ping":1718000000000}
type clientMsg struct {
	Type     string   `json:"type"`
	Symbols  []string `json:"symbols"`
	Username string   `json:"username"`
	Ping     int64    `json:"ping"`
}

func newClient(h *Hub, conn *websocket.Conn, f ClientFilter) *Client {
	c := &Client{conn: conn, send: make(chan []byte, 256), hub: h}
	c.setFilter(f)
	return c
}

func (c *Client) setFilter(f ClientFilter) {
	syms := make(map[string]bool, len(f.Symbols))
	for _, s := range f.Symbols {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			syms[s] = true
		}
	}
	c.filterMu.Lock()
	c.symbols = syms
	c.username = f.Username
	c.filterMu.Unlock()
}

func (c *Client) matches(symbol, username string) bool {
	c.filterMu.RLock()
	defer c.filterMu.RUnlock()
	if len(c.symbols) > 0 && !c.symbols[symbol] {
		return false
	}
	return c.username == "" || c.username == username
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		log.Println("[api_gateway] ws client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMsg
		if json.Unmarshal(raw, &msg) != nil {
			c.reply(map[string]any{"type": "error", "error": "invalid JSON"})
			continue
		}

		switch msg.Type {
		case "SUBSCRIBE":
			c.setFilter(ClientFilter{Symbols: msg.Symbols, Username: msg.Username})
			c.reply(map[string]any{"type": "subscribed", "symbols": msg.Symbols, "username": msg.Username, "seq": c.hub.Seq()})
		case "UNSUBSCRIBE":
			c.setFilter(ClientFilter{})
			c.reply(map[string]any{"type": "unsubscribed"})
		default:
			if msg.Ping > 0 {
				c.reply(map[string]any{"type": "pong", "ping": msg.Ping, "server_ts": time.Now().UnixMilli()})
			}
		}
	}
}

// reply queues a control message; it is dropped if the client is behind.
func (c *Client) reply(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- b:
	default:
	}
}
