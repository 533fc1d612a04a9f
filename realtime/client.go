package realtime

import (
	"context"
	"math"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"standhub/models"
	"standhub/utils"
)

// ConnectionState describes the lifecycle of the single channel connection.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
)

// Conn is the minimal connection surface the client needs.
// *websocket.Conn satisfies it directly.
type Conn interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	Close() error
}

// Dialer opens a new connection. Tests inject fakes here.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// WebsocketDialer dials the gateway's /ws endpoint with a bearer token.
type WebsocketDialer struct {
	URL   string
	Token string
}

func (d *WebsocketDialer) Dial(ctx context.Context) (Conn, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, err
	}
	if d.Token != "" {
		q := u.Query()
		q.Set("token", d.Token)
		u.RawQuery = q.Encode()
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// ClientConfig tunes reconnection behavior.
type ClientConfig struct {
	// InitialBackoff is the delay before the first reconnect attempt.
	InitialBackoff time.Duration
	// MaxBackoff caps the delay between reconnect attempts.
	MaxBackoff time.Duration
	// BackoffFactor is the exponential growth factor.
	BackoffFactor float64
	// Jitter randomizes delays to avoid thundering herds.
	Jitter bool
}

// DefaultClientConfig returns the reconnection defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
		Jitter:         true,
	}
}

// Client owns the single channel connection: connect, deliberate disconnect,
// automatic reconnect with bounded exponential backoff, outbound command
// sends and inbound message dispatch. No other component touches the
// transport handle.
type Client struct {
	dialer Dialer
	config ClientConfig
	logger *utils.Logger

	onState   func(ConnectionState)
	onMessage func(models.Envelope)

	mu       sync.Mutex
	state    ConnectionState
	conn     Conn
	attempts int
	timer    *time.Timer
	// generation invalidates read loops and pending timers from
	// connections that have since been torn down
	generation uint64
}

// NewClient creates a channel client. The state and message callbacks are
// invoked synchronously at the moment a transition or message occurs;
// message dispatch happens on a single goroutine per connection.
func NewClient(dialer Dialer, config ClientConfig, logger *utils.Logger) *Client {
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = time.Second
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}
	if config.BackoffFactor <= 0 {
		config.BackoffFactor = 2.0
	}
	if logger == nil {
		logger = utils.NewLogger("development")
	}
	return &Client{
		dialer: dialer,
		config: config,
		logger: logger,
		state:  StateDisconnected,
	}
}

// OnStateChange registers the single state listener. Must be called before
// Connect. The listener sees StateConnected on every (re)connect.
func (c *Client) OnStateChange(fn func(ConnectionState)) {
	c.onState = fn
}

// OnMessage registers the single inbound message listener. Must be called
// before Connect.
func (c *Client) OnMessage(fn func(models.Envelope)) {
	c.onMessage = fn
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect initiates the handshake. Calling while already connecting or
// connected is a no-op.
func (c *Client) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	c.attempts = 0
	gen := c.generation
	c.mu.Unlock()

	c.notifyState(StateConnecting)
	go c.dial(ctx, gen)
}

// Disconnect deliberately tears down the connection, cancels any pending
// reconnect timer and suppresses auto-reconnect until Connect is called
// again. Safe to call from any state.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.generation++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.attempts = 0
	c.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			c.logger.Debug("Error closing connection", "error", err)
		}
	}
	c.notifyState(StateDisconnected)
}

// Send writes a command to the transport. When not connected the command is
// dropped silently; membership re-assertion on reconnect is the only replay
// mechanism.
func (c *Client) Send(env models.Envelope) error {
	c.mu.Lock()
	if c.state != StateConnected || c.conn == nil {
		c.mu.Unlock()
		c.logger.Debug("Dropping command while not connected", "type", env.Type)
		return nil
	}
	conn := c.conn
	c.mu.Unlock()

	if err := conn.WriteJSON(env); err != nil {
		c.logger.Warn("Failed to send command", "type", env.Type, "error", err)
		return err
	}
	return nil
}

// dial performs one connection attempt for the given generation.
func (c *Client) dial(ctx context.Context, gen uint64) {
	conn, err := c.dialer.Dial(ctx)

	c.mu.Lock()
	if gen != c.generation || (c.state != StateConnecting && c.state != StateReconnecting) {
		// Disconnected while the handshake was in flight
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		c.state = StateReconnecting
		c.scheduleReconnectLocked(ctx, gen)
		attempt := c.attempts
		c.mu.Unlock()
		c.logger.Warn("Connection attempt failed", "attempt", attempt, "error", err)
		c.notifyState(StateReconnecting)
		return
	}

	c.conn = conn
	c.state = StateConnected
	c.attempts = 0
	c.mu.Unlock()

	c.logger.Info("Channel connected")
	c.notifyState(StateConnected)
	go c.readLoop(ctx, conn, gen)
}

// readLoop processes inbound messages in delivery order, one message to
// completion before the next.
func (c *Client) readLoop(ctx context.Context, conn Conn, gen uint64) {
	for {
		var env models.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			c.handleTransportLoss(ctx, conn, gen, err)
			return
		}
		if c.onMessage != nil {
			c.onMessage(env)
		}
	}
}

// handleTransportLoss transitions to RECONNECTING unless the loss was a
// deliberate disconnect.
func (c *Client) handleTransportLoss(ctx context.Context, conn Conn, gen uint64, err error) {
	c.mu.Lock()
	if gen != c.generation || c.conn != conn {
		// Deliberate disconnect already handled the teardown
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = StateReconnecting
	c.scheduleReconnectLocked(ctx, gen)
	c.mu.Unlock()

	conn.Close()
	c.logger.Warn("Transport lost, reconnecting", "error", err)
	c.notifyState(StateReconnecting)
}

// scheduleReconnectLocked arms the backoff timer. Caller holds c.mu.
func (c *Client) scheduleReconnectLocked(ctx context.Context, gen uint64) {
	c.attempts++
	delay := c.backoff(c.attempts)
	c.timer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		if gen != c.generation || c.state != StateReconnecting {
			c.mu.Unlock()
			return
		}
		c.timer = nil
		c.mu.Unlock()
		c.dial(ctx, gen)
	})
}

// backoff computes the exponential delay for the given attempt.
func (c *Client) backoff(attempt int) time.Duration {
	delay := float64(c.config.InitialBackoff) * math.Pow(c.config.BackoffFactor, float64(attempt-1))
	if delay > float64(c.config.MaxBackoff) {
		delay = float64(c.config.MaxBackoff)
	}
	if c.config.Jitter {
		delay *= 0.5 + rand.Float64()
		if delay > float64(c.config.MaxBackoff) {
			delay = float64(c.config.MaxBackoff)
		}
	}
	return time.Duration(delay)
}

func (c *Client) notifyState(state ConnectionState) {
	if c.onState != nil {
		c.onState(state)
	}
}
