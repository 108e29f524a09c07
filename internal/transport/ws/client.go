// Package ws provides the websocket connection provider for signaling.
// Frames are JSON objects of the form {"event": "<name>", "data": {...}}.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Transport-level events synthesised by the client.
const (
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
)

var (
	ErrNotConnected = errors.New("websocket is not connected")
	ErrBackpressure = errors.New("websocket send queue is full")
	ErrClosed       = errors.New("websocket client is closed")
)

// Config controls dialing and keepalive.
type Config struct {
	URL              string
	AuthToken        string
	HandshakeTimeout time.Duration
	ReconnectMin     time.Duration
	ReconnectMax     time.Duration
	PingPeriod       time.Duration
	WriteTimeout     time.Duration
	SendQueue        int
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client keeps one signaling websocket alive, redialing with backoff, and
// delivers inbound frames to a single receiver from a single goroutine.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer

	recvMu   sync.RWMutex
	receiver func(event string, data json.RawMessage)

	mu      sync.Mutex
	current *connection
	closed  bool

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type connection struct {
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}

	closeOnce sync.Once
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

func NewClient(cfg Config) *Client {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = time.Second
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = 30 * time.Second
		if cfg.ReconnectMax < cfg.ReconnectMin {
			cfg.ReconnectMax = cfg.ReconnectMin
		}
	}
	if cfg.PingPeriod <= 0 {
		cfg.PingPeriod = 54 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = 32
	}
	return &Client{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout, Proxy: http.ProxyFromEnvironment},
		done:   make(chan struct{}),
	}
}

func (c *Client) SetReceiver(fn func(event string, data json.RawMessage)) {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()
	c.receiver = fn
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// Send queues one frame on the live connection.
func (c *Client) Send(event string, data []byte) error {
	payload, err := json.Marshal(frame{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	c.mu.Lock()
	conn := c.current
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if conn == nil {
		return ErrNotConnected
	}

	select {
	case <-conn.done:
		return ErrNotConnected
	default:
	}
	select {
	case conn.send <- payload:
		return nil
	default:
		return ErrBackpressure
	}
}

// Run starts the dial/serve/redial loop in the background. It stops when ctx
// is cancelled or Close is called.
func (c *Client) Run(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.loop(ctx)
	}()
}

// Close stops the client and closes the live connection, if any.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		conn := c.current
		c.mu.Unlock()
		close(c.done)
		if conn != nil {
			conn.close()
		}
	})
	c.wg.Wait()
	return nil
}

func (c *Client) loop(ctx context.Context) {
	backoff := c.cfg.ReconnectMin
	for {
		if c.stopped(ctx) {
			return
		}

		ws, err := c.dial(ctx)
		if err != nil {
			log.Warn().Err(err).Str("module", "transport.ws").Dur("retry_in", backoff).Msg("dial failed")
			if !c.sleep(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, c.cfg.ReconnectMax)
			continue
		}
		backoff = c.cfg.ReconnectMin

		c.serve(ctx, ws)

		if !c.sleep(ctx, backoff) {
			return
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	target, err := signalURL(c.cfg.URL)
	if err != nil {
		return nil, err
	}
	headers := http.Header{}
	if c.cfg.AuthToken != "" {
		headers.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}
	ws, _, err := c.dialer.DialContext(ctx, target, headers)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to signaling websocket: %w", err)
	}
	return ws, nil
}

// serve owns one connection until it drops. Connect, inbound frames and
// disconnect are all delivered from this goroutine, in that order.
func (c *Client) serve(ctx context.Context, ws *websocket.Conn) {
	conn := &connection{
		ws:   ws,
		send: make(chan []byte, c.cfg.SendQueue),
		done: make(chan struct{}),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = ws.Close()
		return
	}
	c.current = conn
	c.mu.Unlock()

	stopWatch := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.close()
		case <-stopWatch:
		}
	}()

	var writer sync.WaitGroup
	writer.Add(1)
	go func() {
		defer writer.Done()
		c.writeLoop(conn)
	}()

	log.Info().Str("module", "transport.ws").Str("url", c.cfg.URL).Msg("connected")
	c.deliver(EventConnect, nil)

	err := c.readLoop(conn)

	c.mu.Lock()
	if c.current == conn {
		c.current = nil
	}
	c.mu.Unlock()
	conn.close()
	close(stopWatch)
	writer.Wait()

	if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		log.Warn().Err(err).Str("module", "transport.ws").Msg("connection lost")
	} else {
		log.Info().Str("module", "transport.ws").Msg("connection closed")
	}
	c.deliver(EventDisconnect, nil)
}

func (c *Client) readLoop(conn *connection) error {
	pongWait := c.cfg.PingPeriod * 10 / 9
	_ = conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := conn.ws.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.ws.SetReadDeadline(time.Now().Add(pongWait))

		var f frame
		if err := json.Unmarshal(payload, &f); err != nil || f.Event == "" {
			log.Warn().Str("module", "transport.ws").Msg("dropping malformed frame")
			continue
		}
		if f.Event == EventConnect || f.Event == EventDisconnect {
			log.Warn().Str("module", "transport.ws").Str("event", f.Event).Msg("dropping reserved event from server")
			continue
		}
		c.deliver(f.Event, f.Data)
	}
}

func (c *Client) writeLoop(conn *connection) {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-conn.done:
			return
		case payload := <-conn.send:
			_ = conn.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := conn.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Error().Err(err).Str("module", "transport.ws").Msg("write failed")
				conn.close()
				return
			}
		case <-ticker.C:
			if err := conn.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				log.Error().Err(err).Str("module", "transport.ws").Msg("ping failed")
				conn.close()
				return
			}
		}
	}
}

// signalURL accepts ws(s) URLs and maps http(s) onto them.
func signalURL(raw string) (string, error) {
	base := strings.TrimSpace(raw)
	if base == "" {
		return "", errors.New("signaling URL is not configured")
	}
	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}

	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid signaling URL: %w", err)
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return "", fmt.Errorf("invalid signaling URL scheme %q", parsed.Scheme)
	}
	return parsed.String(), nil
}

func (c *Client) deliver(event string, data json.RawMessage) {
	c.recvMu.RLock()
	fn := c.receiver
	c.recvMu.RUnlock()
	if fn != nil {
		fn(event, data)
	}
}

func (c *Client) stopped(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Client) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-c.done:
		return false
	}
}

func nextBackoff(current, limit time.Duration) time.Duration {
	next := current * 2
	if next > limit {
		return limit
	}
	return next
}
