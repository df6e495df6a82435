package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ConnectionState represents the lifecycle state of the relay connection.
type ConnectionState string

const (
	StateReady        ConnectionState = "READY"
	StateDisconnected ConnectionState = "DISCONNECTED"
)

// ConnectionOptions controls runtime behavior of Connection.
type ConnectionOptions struct {
	RequestTimeout    time.Duration
	KeepAliveInterval time.Duration
	KeepAliveTimeout  time.Duration
	// OnPush receives frames that are not acks, in arrival order.
	OnPush func(Frame)
	Logger zerolog.Logger
}

func (o ConnectionOptions) withDefaults() ConnectionOptions {
	out := o
	if out.RequestTimeout <= 0 {
		out.RequestTimeout = DefaultRequestTimeout
	}
	if out.KeepAliveInterval <= 0 {
		out.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if out.KeepAliveTimeout <= 0 {
		out.KeepAliveTimeout = DefaultKeepAliveTimeout
	}
	return out
}

// Connection multiplexes requests over one websocket. Every request gets a
// fresh ID and is resolved exactly once, by its ack, a timeout or close.
type Connection struct {
	conn    *websocket.Conn
	options ConnectionOptions
	log     zerolog.Logger

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan json.RawMessage

	pushes chan Frame

	stateMu sync.RWMutex
	state   ConnectionState

	closeOnce sync.Once
	closed    chan struct{}

	errMu    sync.RWMutex
	closeErr error
}

func newConnection(conn *websocket.Conn, options ConnectionOptions) *Connection {
	opts := options.withDefaults()

	c := &Connection{
		conn:    conn,
		options: opts,
		log:     opts.Logger.With().Str("component", "connection").Logger(),
		pending: make(map[string]chan json.RawMessage),
		pushes:  make(chan Frame, 64),
		state:   StateReady,
		closed:  make(chan struct{}),
	}

	conn.SetReadLimit(MaxFrameSize)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Time{})
	})

	go c.readLoop()
	go c.pushLoop()
	go c.keepAliveLoop()
	return c
}

// State returns the current connection state.
func (c *Connection) State() ConnectionState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// Done is closed when the connection is fully disconnected.
func (c *Connection) Done() <-chan struct{} {
	return c.closed
}

// LastError returns the terminal connection error, if any.
func (c *Connection) LastError() error {
	c.errMu.RLock()
	defer c.errMu.RUnlock()
	return c.closeErr
}

// Request sends event with data and waits for the matching ack. The ack data
// is returned undecoded.
func (c *Connection) Request(ctx context.Context, event string, data any) (json.RawMessage, error) {
	id := uuid.NewString()
	payload, err := EncodeFrame(id, event, data)
	if err != nil {
		return nil, err
	}

	reply := make(chan json.RawMessage, 1)
	c.pendingMu.Lock()
	c.pending[id] = reply
	c.pendingMu.Unlock()
	defer c.forget(id)

	if err := c.write(payload); err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.options.RequestTimeout)
	defer timer.Stop()

	select {
	case data := <-reply:
		return data, nil
	case <-timer.C:
		return nil, fmt.Errorf("%s: %w", event, ErrRequestTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		if err := c.LastError(); err != nil {
			return nil, fmt.Errorf("%s: %w: %v", event, ErrClosed, err)
		}
		return nil, fmt.Errorf("%s: %w", event, ErrClosed)
	}
}

// Close sends a close message and terminates the connection.
func (c *Connection) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()
	c.closeWithError(nil)
	return nil
}

func (c *Connection) write(payload []byte) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.closeWithError(fmt.Errorf("write message: %w", err))
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

func (c *Connection) resolve(id string, data json.RawMessage) bool {
	c.pendingMu.Lock()
	reply, ok := c.pending[id]
	delete(c.pending, id)
	c.pendingMu.Unlock()

	if !ok {
		return false
	}
	reply <- data
	return true
}

func (c *Connection) forget(id string) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

func (c *Connection) readLoop() {
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.closeWithError(nil)
				return
			}
			c.closeWithError(fmt.Errorf("read message: %w", err))
			return
		}

		frame, err := DecodeFrame(payload)
		if err != nil {
			c.log.Debug().Err(err).Msg("Dropping undecodable frame")
			continue
		}

		if frame.Event == EventAck {
			if !c.resolve(frame.ID, frame.Data) {
				c.log.Debug().Str("id", frame.ID).Msg("Dropping ack for unknown request")
			}
			continue
		}

		select {
		case c.pushes <- frame:
		case <-c.closed:
			return
		}
	}
}

// pushLoop hands pushes to OnPush outside the read loop, so a handler may
// issue requests on this connection.
func (c *Connection) pushLoop() {
	for {
		select {
		case frame := <-c.pushes:
			if c.options.OnPush != nil {
				c.options.OnPush(frame)
			}
		case <-c.closed:
			return
		}
	}
}

func (c *Connection) keepAliveLoop() {
	ticker := time.NewTicker(c.options.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.options.KeepAliveTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.closeWithError(fmt.Errorf("send ping: %w", err))
				return
			}
			_ = c.conn.SetReadDeadline(time.Now().Add(c.options.KeepAliveTimeout))
		case <-c.closed:
			return
		}
	}
}

func (c *Connection) closeWithError(err error) {
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.closeErr = err
		c.errMu.Unlock()

		c.stateMu.Lock()
		c.state = StateDisconnected
		c.stateMu.Unlock()

		_ = c.conn.Close()
		close(c.closed)

		if err != nil && !errors.Is(err, ErrClosed) {
			c.log.Warn().Err(err).Msg("Relay connection closed")
		}
	})
}
