package socket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"peerchat/internal/core/domain"
	"peerchat/internal/core/ports"
	"peerchat/pkg/retry"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Envelope is the wire frame of the event channel: a named event plus its raw
// payload.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Options configures the channel client.
type Options struct {
	URL          string
	Header       http.Header
	PingInterval time.Duration
	PongTimeout  time.Duration
	WriteTimeout time.Duration
	Backoff      retry.Backoff
}

// Client is the websocket-backed EventChannel. Events are dispatched to
// handlers sequentially, in receipt order; a dropped connection is redialed
// with exponential backoff until Close is called.
type Client struct {
	opts   Options
	dialer *websocket.Dialer
	logger *zap.SugaredLogger

	mu       sync.RWMutex
	conn     *websocket.Conn
	handlers map[string][]ports.EventHandler
	closed   bool

	onDisconnect func()
	onReconnect  func()

	writeMu sync.Mutex
	done    chan struct{}
}

func NewClient(opts Options, logger *zap.SugaredLogger) *Client {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = 60 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.Backoff.InitialDelay <= 0 {
		opts.Backoff = retry.DefaultBackoff()
	}
	return &Client{
		opts:     opts,
		dialer:   websocket.DefaultDialer,
		logger:   logger,
		handlers: make(map[string][]ports.EventHandler),
		done:     make(chan struct{}),
	}
}

// OnDisconnect registers a hook that fires whenever the connection drops,
// before the redial loop starts. Used for defensive call teardown.
func (c *Client) OnDisconnect(fn func()) {
	c.mu.Lock()
	c.onDisconnect = fn
	c.mu.Unlock()
}

// OnReconnect registers a hook that fires after a dropped connection has been
// successfully redialed.
func (c *Client) OnReconnect(fn func()) {
	c.mu.Lock()
	c.onReconnect = fn
	c.mu.Unlock()
}

// Connect dials the server and starts the read and ping loops. It returns
// once the first connection is up.
func (c *Client) Connect(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.run(conn)
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.opts.URL, c.opts.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
		return nil
	})
	return conn, nil
}

// run owns one connection: it reads and dispatches until the connection
// fails, then hands over to the reconnect loop.
func (c *Client) run(conn *websocket.Conn) {
	pingTicker := time.NewTicker(c.opts.PingInterval)
	defer pingTicker.Stop()

	errorChan := make(chan error, 1)
	messageChan := make(chan Envelope, 16)

	go func() {
		for {
			var env Envelope
			if err := conn.ReadJSON(&env); err != nil {
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
			messageChan <- env
		}
	}()

	for {
		select {
		case env := <-messageChan:
			c.dispatch(env)

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Warnw("ping failed", "error", err)
				conn.Close()
				c.handleDrop()
				return
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warnw("connection read failed", "error", err)
			}
			conn.Close()
			c.handleDrop()
			return

		case <-c.done:
			conn.Close()
			return
		}
	}
}

func (c *Client) handleDrop() {
	c.mu.Lock()
	closed := c.closed
	c.conn = nil
	hook := c.onDisconnect
	c.mu.Unlock()
	if closed {
		return
	}

	if hook != nil {
		hook()
	}
	go c.reconnect()
}

func (c *Client) reconnect() {
	backoff := c.opts.Backoff
	for {
		select {
		case <-c.done:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		conn, err := c.dial(ctx)
		cancel()
		if err == nil {
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				conn.Close()
				return
			}
			c.conn = conn
			hook := c.onReconnect
			c.mu.Unlock()

			c.logger.Infow("reconnected", "attempts", backoff.Attempt()+1)
			if hook != nil {
				hook()
			}
			go c.run(conn)
			return
		}

		delay := backoff.Next()
		c.logger.Warnw("reconnect failed", "attempt", backoff.Attempt(), "retry_in", delay, "error", err)
		select {
		case <-c.done:
			return
		case <-time.After(delay):
		}
	}
}

func (c *Client) dispatch(env Envelope) {
	if env.Event == "" {
		c.logger.Debugw("dropping frame without event name")
		return
	}
	c.mu.RLock()
	handlers := append([]ports.EventHandler(nil), c.handlers[env.Event]...)
	c.mu.RUnlock()

	if len(handlers) == 0 {
		c.logger.Debugw("no handler for event", "event", env.Event)
		return
	}
	for _, h := range handlers {
		h(env.Payload)
	}
}

// Emit sends one named command. Commands issued while the connection is down
// fail immediately; they are not queued or retried.
func (c *Client) Emit(event string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	c.mu.RLock()
	conn := c.conn
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return domain.ErrChannelClosed
	}
	if conn == nil {
		return domain.ErrNoTransport
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	return conn.WriteJSON(Envelope{Event: event, Payload: raw})
}

// Subscribe registers a handler for a named event. Registration order is
// invocation order.
func (c *Client) Subscribe(event string, handler ports.EventHandler) {
	c.mu.Lock()
	c.handlers[event] = append(c.handlers[event], handler)
	c.mu.Unlock()
}

// Close shuts the channel down for good; no reconnect follows.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	close(c.done)
	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		return conn.Close()
	}
	return nil
}
