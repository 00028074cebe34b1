// Package realtime owns the one push-channel connection per signed-in
// operator. The list synchronizer, transcript synchronizer and presence
// tracker all attach handlers to the shared client; only the top-level
// session lifecycle calls Connect/Disconnect.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// Handler receives the raw data of a push event.
type Handler func(data json.RawMessage)

// ErrNotConnected is returned by Emit when no connection is live.
var ErrNotConnected = errors.New("realtime: not connected")

// Client maintains the websocket push channel.
type Client struct {
	url     string
	machine *Machine
	logger  *zap.Logger

	mu         sync.Mutex
	handlers   map[string]map[int]Handler
	nextID     int
	conn       *websocket.Conn
	cancel     context.CancelFunc
	operatorID string
	authFailed bool
}

// NewClient creates a push-channel client for the given websocket URL.
func NewClient(wsURL string, machine *Machine, logger *zap.Logger) *Client {
	return &Client{
		url:      wsURL,
		machine:  machine,
		logger:   logger,
		handlers: make(map[string]map[int]Handler),
	}
}

// Connect establishes the push channel with the given bearer token.
// Without a token it is a no-op: the client stays disconnected rather
// than retrying against an endpoint that will always reject it.
// Calling Connect while already running tears down the stale connection
// first so events are never delivered twice.
func (c *Client) Connect(ctx context.Context, token string) {
	if token == "" {
		c.logger.Info("no credential, push channel stays disconnected")
		return
	}

	c.Disconnect()

	c.mu.Lock()
	c.operatorID = operatorIDFromToken(token)
	c.authFailed = false
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	go c.run(runCtx, token)
}

// Disconnect tears down the connection and stops reconnection attempts.
func (c *Client) Disconnect() {
	c.mu.Lock()
	cancel := c.cancel
	conn := c.conn
	c.cancel = nil
	c.conn = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	if c.machine.Current() != Disconnected {
		_ = c.machine.Transition(Disconnected)
	}
}

// Connected reports whether the push channel is live.
func (c *Client) Connected() bool {
	return c.machine.Current() == Connected
}

// AuthFailed reports whether the last connection attempt was rejected
// with a credential error. The client does not retry after that; it
// stays disconnected until Connect is called with new credentials.
func (c *Client) AuthFailed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authFailed
}

// On registers a handler for a push event (canonical or legacy name).
// Returns an unsubscribe function; the caller must invoke it on teardown
// or the handler leaks across conversation switches.
func (c *Client) On(event string, h Handler) func() {
	event = Canonical(event)
	c.mu.Lock()
	if c.handlers[event] == nil {
		c.handlers[event] = make(map[int]Handler)
	}
	id := c.nextID
	c.nextID++
	c.handlers[event][id] = h
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.handlers[event], id)
		c.mu.Unlock()
	}
}

// Emit sends an event to the server.
func (c *Client) Emit(ctx context.Context, event string, payload any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(Frame{Event: event, Data: data})
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, frame)
}

func (c *Client) run(ctx context.Context, token string) {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 0 // retry until cancelled

	for {
		if ctx.Err() != nil {
			return
		}

		_ = c.machine.Transition(Connecting)

		conn, resp, err := websocket.Dial(ctx, c.url, &websocket.DialOptions{
			HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
		})
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusUnauthorized {
				c.logger.Warn("push channel credential rejected")
				c.mu.Lock()
				c.authFailed = true
				c.mu.Unlock()
				_ = c.machine.TransitionWithReason(Disconnected, "auth_rejected")
				return
			}
			c.logger.Warn("push channel dial failed", zap.Error(err))
			_ = c.machine.Transition(Disconnected)
			select {
			case <-ctx.Done():
				return
			case <-time.After(policy.NextBackOff()):
				continue
			}
		}

		policy.Reset()
		c.mu.Lock()
		c.conn = conn
		operatorID := c.operatorID
		c.mu.Unlock()
		_ = c.machine.Transition(Connected)
		c.logger.Info("push channel connected")

		// Join the operator's room so the server routes events here.
		if err := c.Emit(ctx, EventJoin, JoinPayload{UserID: operatorID}); err != nil {
			c.logger.Warn("join emit failed", zap.Error(err))
		}

		c.readLoop(ctx, conn)

		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		if c.machine.Current() != Disconnected {
			_ = c.machine.Transition(Disconnected)
		}
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("push channel dropped, reconnecting")
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Warn("malformed push frame", zap.Error(err))
			continue
		}
		c.dispatch(frame)
	}
}

func (c *Client) dispatch(frame Frame) {
	event := Canonical(frame.Event)

	c.mu.Lock()
	hs := make([]Handler, 0, len(c.handlers[event]))
	for _, h := range c.handlers[event] {
		hs = append(hs, h)
	}
	c.mu.Unlock()

	for _, h := range hs {
		h(frame.Data)
	}
}

// operatorIDFromToken extracts the subject claim from the bearer token.
// The client has no verification key; the server validates the token on
// upgrade, this parse only recovers the identity for the join emit.
func operatorIDFromToken(token string) string {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return ""
	}
	sub, err := parsed.Claims.GetSubject()
	if err != nil {
		return ""
	}
	return sub
}
