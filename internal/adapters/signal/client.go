// Package signal is the client side of the signaling channel: one long-lived
// WebSocket per authenticated client, reconnecting on loss.
package signal

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/ring/internal/core"
	"github.com/dkeye/ring/internal/domain"
)

// Handler consumes one raw inbound signaling frame.
type Handler func(data []byte)

// Client manages the WebSocket connection to the signaling relay. Any
// closure the caller did not ask for schedules a redial after a fixed
// delay, forever.
type Client struct {
	serverURL      string
	token          string
	handler        Handler
	reconnectDelay time.Duration
	pingPeriod     time.Duration

	mu      sync.Mutex
	conn    *websocket.Conn
	stopped bool
}

// NewClient creates a signaling client for serverURL (ws:// or wss://),
// authenticating with the given bearer token.
func NewClient(serverURL, token string, reconnectDelay, pingPeriod time.Duration, handler Handler) *Client {
	return &Client{
		serverURL:      serverURL,
		token:          token,
		handler:        handler,
		reconnectDelay: reconnectDelay,
		pingPeriod:     pingPeriod,
	}
}

// Connect starts the dial/read loop in the background. Dial failures are
// retried on the same fixed delay as dropped connections.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return err
	}
	u.Path = "/ws/call"
	q := u.Query()
	q.Set("token", c.token)
	u.RawQuery = q.Encode()

	go c.run(ctx, u.String())
	return nil
}

func (c *Client) run(ctx context.Context, dialURL string) {
	for {
		if c.isStopped() || ctx.Err() != nil {
			return
		}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, dialURL, nil)
		if err != nil {
			log.Warn().Err(err).Str("module", "signal").Dur("retry_in", c.reconnectDelay).Msg("dial failed")
			if !c.sleep(ctx) {
				return
			}
			continue
		}
		log.Info().Str("module", "signal").Msg("connected")
		c.setConn(conn)

		pingDone := make(chan struct{})
		go c.pingLoop(conn, pingDone)
		c.readLoop(conn)
		close(pingDone)
		c.clearConn(conn)

		if c.isStopped() || ctx.Err() != nil {
			return
		}
		log.Info().Str("module", "signal").Dur("retry_in", c.reconnectDelay).Msg("connection lost, reconnecting")
		if !c.sleep(ctx) {
			return
		}
	}
}

func (c *Client) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(c.reconnectDelay):
		return !c.isStopped()
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !c.isStopped() {
				log.Warn().Err(err).Str("module", "signal").Msg("read error")
			}
			return
		}
		c.handler(data)
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(c.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.mu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			c.mu.Unlock()
			if err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("ping error")
				return
			}
		}
	}
}

// Send writes one signal to the relay. Fails fast with ErrNotConnected
// while the channel is not open; messages are never queued.
func (c *Client) Send(sig domain.Signal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return core.ErrNotConnected
	}
	data, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	log.Debug().Str("module", "signal").Str("type", sig.Type).Str("target", sig.Target).Msg("send")
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close shuts the channel down and suppresses the auto-reconnect.
// Idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	log.Info().Str("module", "signal").Msg("disconnected")
}

func (c *Client) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.mu.Unlock()
}

func (c *Client) clearConn(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
}
