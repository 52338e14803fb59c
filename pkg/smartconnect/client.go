// Package smartconnect is a minimal Angel One SmartAPI client covering what a
// read-only candle consumer needs: password+TOTP login, historical candles,
// and logout.
//
// Usage example:
//
//	sc := smartconnect.New(smartconnect.Config{APIKey: "your_api_key"})
//	if _, err := sc.Login(ctx, "CLIENTID", "PIN", totpCode); err != nil { ... }
//	rows, err := sc.CandleData(ctx, smartconnect.CandleRequest{
//	    Exchange: "NSE", SymbolToken: "3045", Interval: "FIFTEEN_MINUTE",
//	    From: from, To: to,
//	})
package smartconnect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

const defaultRoot = "https://apiconnect.angelone.in"

var routes = map[string]string{
	"api.login":       "/rest/auth/angelbroking/user/v1/loginByPassword",
	"api.logout":      "/rest/secure/angelbroking/user/v1/logout",
	"api.candle.data": "/rest/secure/angelbroking/historical/v1/getCandleData",
}

// ErrTokenExpired is returned when the API rejects the session token.
var ErrTokenExpired = errors.New("smartconnect: session token expired")

// Config configures the client.
type Config struct {
	APIKey string

	RootURL        string        // default: https://apiconnect.angelone.in
	Timeout        time.Duration // default: 7s
	ClientPublicIP string        // default: first non-loopback local IP
	ClientLocalIP  string        // default: first non-loopback local IP
	ClientMAC      string        // default: first interface MAC
	HTTPClient     *http.Client  // optional; overrides Timeout
}

// SmartConnect is safe for concurrent use once logged in.
type SmartConnect struct {
	apiKey     string
	rootURL    string
	httpClient *http.Client

	clientPublicIP string
	clientLocalIP  string
	clientMAC      string

	mu           sync.RWMutex
	accessToken  string
	refreshToken string
	feedToken    string
}

// Session holds the tokens returned by Login.
type Session struct {
	JWTToken     string `json:"jwtToken"`
	RefreshToken string `json:"refreshToken"`
	FeedToken    string `json:"feedToken"`
}

// CandleRequest selects a historical candle range. From/To are sent in the
// exchange's local time as "2006-01-02 15:04".
type CandleRequest struct {
	Exchange    string // NSE, BSE, NFO, MCX
	SymbolToken string
	Interval    string // ONE_MINUTE, FIVE_MINUTE, FIFTEEN_MINUTE, ONE_HOUR, ONE_DAY...
	From        time.Time
	To          time.Time
}

// CandleRow is one OHLCV row as returned by the API.
type CandleRow struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

type envelope struct {
	Status    bool            `json:"status"`
	Message   string          `json:"message"`
	ErrorCode string          `json:"errorcode"`
	ErrorType string          `json:"error_type"`
	Data      json.RawMessage `json:"data"`
}

// New initializes the client. No network calls are made.
func New(cfg Config) *SmartConnect {
	if cfg.RootURL == "" {
		cfg.RootURL = defaultRoot
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 7 * time.Second
	}
	localIP := firstNonEmpty(cfg.ClientLocalIP, localIPv4(), "127.0.0.1")
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &SmartConnect{
		apiKey:         cfg.APIKey,
		rootURL:        strings.TrimRight(cfg.RootURL, "/"),
		httpClient:     hc,
		clientPublicIP: firstNonEmpty(cfg.ClientPublicIP, localIP),
		clientLocalIP:  localIP,
		clientMAC:      firstNonEmpty(cfg.ClientMAC, interfaceMAC(), "00:11:22:33:44:55"),
	}
}

// LoggedIn reports whether an access token is held.
func (sc *SmartConnect) LoggedIn() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.accessToken != ""
}

// Login authenticates with client code, PIN and a current TOTP code.
func (sc *SmartConnect) Login(ctx context.Context, clientCode, password, totp string) (*Session, error) {
	params := map[string]any{"clientcode": clientCode, "password": password, "totp": totp}
	env, err := sc.do(ctx, http.MethodPost, "api.login", params)
	if err != nil {
		return nil, err
	}
	var s Session
	if err := json.Unmarshal(env.Data, &s); err != nil || s.JWTToken == "" {
		return nil, errors.New("smartconnect: unexpected login response format")
	}

	sc.mu.Lock()
	sc.accessToken = s.JWTToken
	sc.refreshToken = s.RefreshToken
	sc.feedToken = s.FeedToken
	sc.mu.Unlock()
	return &s, nil
}

// Logout terminates the session and clears tokens.
func (sc *SmartConnect) Logout(ctx context.Context, clientCode string) error {
	_, err := sc.do(ctx, http.MethodPost, "api.logout", map[string]any{"clientcode": clientCode})
	sc.mu.Lock()
	sc.accessToken, sc.refreshToken, sc.feedToken = "", "", ""
	sc.mu.Unlock()
	return err
}

// CandleData fetches historical candles, oldest first.
func (sc *SmartConnect) CandleData(ctx context.Context, req CandleRequest) ([]CandleRow, error) {
	params := map[string]any{
		"exchange":    req.Exchange,
		"symboltoken": req.SymbolToken,
		"interval":    req.Interval,
		"fromdate":    req.From.Format("2006-01-02 15:04"),
		"todate":      req.To.Format("2006-01-02 15:04"),
	}
	env, err := sc.do(ctx, http.MethodPost, "api.candle.data", params)
	if err != nil {
		return nil, err
	}
	return parseCandleRows(env.Data)
}

// parseCandleRows decodes [[ts, o, h, l, c, v], ...].
func parseCandleRows(data json.RawMessage) ([]CandleRow, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var raw [][]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("smartconnect: candle data: %w", err)
	}
	rows := make([]CandleRow, 0, len(raw))
	for i, r := range raw {
		if len(r) < 6 {
			return nil, fmt.Errorf("smartconnect: candle row %d has %d fields", i, len(r))
		}
		var ts string
		if err := json.Unmarshal(r[0], &ts); err != nil {
			return nil, fmt.Errorf("smartconnect: candle row %d time: %w", i, err)
		}
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("smartconnect: candle row %d time: %w", i, err)
		}
		var vals [5]float64
		for j := range vals {
			if err := json.Unmarshal(r[j+1], &vals[j]); err != nil {
				return nil, fmt.Errorf("smartconnect: candle row %d field %d: %w", i, j+1, err)
			}
		}
		rows = append(rows, CandleRow{Time: t, Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3], Volume: vals[4]})
	}
	return rows, nil
}

// ---- Helpers ----

func (sc *SmartConnect) requestHeaders() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	h.Set("X-ClientLocalIP", sc.clientLocalIP)
	h.Set("X-ClientPublicIP", sc.clientPublicIP)
	h.Set("X-MACAddress", sc.clientMAC)
	h.Set("X-PrivateKey", sc.apiKey)
	h.Set("X-UserType", "USER")
	h.Set("X-SourceID", "WEB")
	sc.mu.RLock()
	if sc.accessToken != "" {
		h.Set("Authorization", "Bearer "+sc.accessToken)
	}
	sc.mu.RUnlock()
	return h
}

func (sc *SmartConnect) do(ctx context.Context, method, route string, params map[string]any) (*envelope, error) {
	uri, ok := routes[route]
	if !ok {
		return nil, fmt.Errorf("smartconnect: unknown route %s", route)
	}
	b, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, sc.rootURL+uri, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header = sc.requestHeaders()

	resp, err := sc.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("smartconnect: %s %s: %w", method, route, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("smartconnect: couldn't parse JSON response (HTTP %d): %w", resp.StatusCode, err)
	}
	if env.ErrorType == "TokenException" || resp.StatusCode == http.StatusForbidden || env.ErrorCode == "AG8001" {
		return nil, ErrTokenExpired
	}
	if env.ErrorType != "" {
		return nil, fmt.Errorf("smartconnect: %s: %s", env.ErrorType, env.Message)
	}
	if !env.Status {
		return nil, fmt.Errorf("smartconnect: %s failed: %s (%s)", route, env.Message, env.ErrorCode)
	}
	return &env, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func localIPv4() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, a := range addrs {
		if ipnet, ok := a.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
			return ipnet.IP.String()
		}
	}
	return ""
}

func interfaceMAC() string {
	ifs, _ := net.Interfaces()
	for _, ifc := range ifs {
		if len(ifc.HardwareAddr) > 0 {
			return ifc.HardwareAddr.String()
		}
	}
	return ""
}
