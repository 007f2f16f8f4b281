// Package transport wraps the Socket.IO client used as the live channel for
// one order conversation.
//
// The wrapper owns exactly one physical connection per open order id and
// translates transport lifecycle (connect, disconnect, connect_error) and
// inbound payload events into callbacks for the session runtime. Transient
// connection loss is retried by the Socket.IO layer itself; after a bounded
// number of consecutive failed attempts the wrapper surfaces a terminal
// connect failure instead of retrying forever.
package transport

import (
	"errors"
	"fmt"
	"sync"
	"time"

	socket "github.com/zishang520/socket.io/clients/socket/v3"
	"github.com/zishang520/socket.io/v3/pkg/types"
	"go.uber.org/zap"

	"github.com/nlanhduy/online-auction-chat/internal/logging"
	"github.com/nlanhduy/online-auction-chat/internal/wire"
)

const (
	// maxConnectAttempts bounds consecutive connect_error events before the
	// wrapper gives up and reports a terminal failure.
	maxConnectAttempts = 5

	ackTimeout = 10 * time.Second
)

// ErrNotConnected is returned by Emit/EmitWithAck when no socket is open.
var ErrNotConnected = errors.New("transport: not connected")

// ErrConnectFailed is the terminal error surfaced after the retry ceiling.
var ErrConnectFailed = errors.New("transport: connection attempts exhausted")

// Client is a Socket.IO connection scoped to a single order conversation.
type Client struct {
	serverURL string
	token     string
	orderID   string
	log       *zap.SugaredLogger

	mu        sync.RWMutex
	socket    *socket.Socket
	handlers  map[string]func(map[string]any)
	connected bool
	failures  int

	onConnect       func()
	onDisconnect    func(reason string)
	onConnectFailed func(err error)
	onAuthError     func(wire.AuthError)

	closeOnce sync.Once
	done      chan struct{}
}

// NewClient creates a channel client for one order. Connect must be called
// before any emission.
func NewClient(serverURL, token, orderID string, log *zap.SugaredLogger) *Client {
	if log == nil {
		log = logging.Nop()
	}
	return &Client{
		serverURL: serverURL,
		token:     token,
		orderID:   orderID,
		log:       log,
		handlers:  make(map[string]func(map[string]any)),
		done:      make(chan struct{}),
	}
}

// OnConnect registers the connected-lifecycle callback.
func (c *Client) OnConnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnect = fn
}

// OnDisconnect registers the disconnected-lifecycle callback. The reason
// string is forwarded verbatim from the transport layer.
func (c *Client) OnDisconnect(fn func(reason string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = fn
}

// OnConnectFailed registers the terminal connect-failure callback, invoked
// once the retry ceiling is reached.
func (c *Client) OnConnectFailed(fn func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnectFailed = fn
}

// OnAuthError registers the credential-rejection callback. Auth errors are
// signaled distinctly from connect errors and are never retried here.
func (c *Client) OnAuthError(fn func(wire.AuthError)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onAuthError = fn
}

// OnInbound registers a handler for a named payload event. Must be called
// before Connect.
func (c *Client) OnInbound(event string, handler func(map[string]any)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = handler
}

// Connect establishes the Socket.IO connection and registers all handlers.
func (c *Client) Connect() error {
	opts := socket.DefaultOptions()
	opts.SetPath("/socket.io")
	opts.SetTransports(types.NewSet(socket.Polling, socket.WebSocket))
	opts.SetAuth(map[string]any{
		"token":   c.token,
		"orderId": c.orderID,
	})

	sock, err := socket.Connect(c.serverURL, opts)
	if err != nil {
		return fmt.Errorf("transport: connect %s: %w", c.serverURL, err)
	}

	c.mu.Lock()
	c.socket = sock
	c.mu.Unlock()

	sock.On(types.EventName("connect"), func(args ...any) {
		c.mu.Lock()
		c.connected = true
		c.failures = 0
		fn := c.onConnect
		c.mu.Unlock()

		c.log.Debugw("channel connected", "orderId", c.orderID, "socketId", sock.Id())
		if fn != nil {
			fn()
		}
	})

	sock.On(types.EventName("disconnect"), func(args ...any) {
		reason := ""
		if len(args) > 0 {
			if r, ok := args[0].(string); ok {
				reason = r
			}
		}

		c.mu.Lock()
		c.connected = false
		fn := c.onDisconnect
		c.mu.Unlock()

		c.log.Debugw("channel disconnected", "orderId", c.orderID, "reason", reason)
		if fn != nil {
			fn(reason)
		}
	})

	sock.On(types.EventName("connect_error"), func(args ...any) {
		var detail any
		if len(args) > 0 {
			detail = args[0]
		}

		c.mu.Lock()
		c.failures++
		exhausted := c.failures >= maxConnectAttempts
		fn := c.onConnectFailed
		c.mu.Unlock()

		c.log.Warnw("channel connect error", "orderId", c.orderID, "attempt", c.failures, "detail", detail)
		if exhausted {
			c.Close()
			if fn != nil {
				fn(fmt.Errorf("%w: last error: %v", ErrConnectFailed, detail))
			}
		}
	})

	sock.On(types.EventName(wire.EventJWTError), func(args ...any) {
		var authErr wire.AuthError
		if len(args) > 0 {
			if m, ok := args[0].(map[string]any); ok {
				_ = wire.Decode(m, &authErr)
			}
		}

		c.mu.RLock()
		fn := c.onAuthError
		c.mu.RUnlock()

		c.log.Warnw("channel auth rejected", "orderId", c.orderID, "reason", authErr.Reason)
		if fn != nil {
			fn(authErr)
		}
	})

	c.mu.RLock()
	events := make([]string, 0, len(c.handlers))
	for event := range c.handlers {
		events = append(events, event)
	}
	c.mu.RUnlock()

	for _, event := range events {
		ev := event
		sock.On(types.EventName(ev), func(args ...any) {
			var data map[string]any
			if len(args) > 0 {
				if m, ok := args[0].(map[string]any); ok {
					data = m
				}
			}

			c.mu.RLock()
			handler := c.handlers[ev]
			c.mu.RUnlock()

			if handler != nil {
				go handler(data)
			}
		})
	}

	return nil
}

// Emit sends a fire-and-forget event.
func (c *Client) Emit(event string, payload map[string]any) error {
	c.mu.RLock()
	sock := c.socket
	c.mu.RUnlock()

	if sock == nil {
		return ErrNotConnected
	}
	sock.Emit(event, payload)
	return nil
}

// EmitWithAck sends an event and waits for the acknowledgement payload.
func (c *Client) EmitWithAck(event string, payload map[string]any) (map[string]any, error) {
	c.mu.RLock()
	sock := c.socket
	c.mu.RUnlock()

	if sock == nil {
		return nil, ErrNotConnected
	}

	resultCh := make(chan map[string]any, 1)
	errCh := make(chan error, 1)

	sock.Emit(event, payload, func(args []any, err error) {
		if err != nil {
			errCh <- err
			return
		}
		if len(args) == 0 {
			resultCh <- nil
			return
		}
		if ack, ok := args[0].(map[string]any); ok {
			resultCh <- ack
			return
		}
		resultCh <- nil
	})

	select {
	case res := <-resultCh:
		return res, nil
	case err := <-errCh:
		return nil, err
	case <-time.After(ackTimeout):
		return nil, fmt.Errorf("transport: ack timeout for %s", event)
	case <-c.done:
		return nil, ErrNotConnected
	}
}

// IsConnected reports whether the socket currently reports a live connection.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	sock := c.socket
	connected := c.connected
	c.mu.RUnlock()

	if connected {
		return true
	}
	return sock != nil && sock.Connected()
}

// Close tears down the physical connection. Idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.socket != nil {
		c.socket.Disconnect()
		c.socket = nil
	}
	c.connected = false
}
