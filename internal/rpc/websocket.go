package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

var ErrClosed = errors.New("connection is closed")

// Conn carries JSON-RPC messages over a WebSocket connection. Writes are
// serialized; reads must come from a single goroutine.
type Conn struct {
	name    string
	ws      *websocket.Conn
	logger  *slog.Logger
	writeMu sync.Mutex
	closed  atomic.Bool
}

// NewConn wraps an established WebSocket connection
func NewConn(name string, ws *websocket.Conn, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	return &Conn{name: name, ws: ws, logger: logger}
}

// Name returns the connection identifier
func (c *Conn) Name() string {
	return c.name
}

// Notify sends a notification
func (c *Conn) Notify(n Notification) error {
	return c.write(n)
}

// Reply sends a response
func (c *Conn) Reply(r Response) error {
	return c.write(r)
}

// ReadRequest reads the next request. A message that is not a valid request
// yields an *Error and leaves the connection usable.
func (c *Conn) ReadRequest() (Request, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return Request{}, err
	}

	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, &Error{Code: CodeParseError, Message: "parse error"}
	}
	if req.JSONRPC != Version || req.Method == "" {
		return req, &Error{Code: CodeInvalidRequest, Message: "invalid request"}
	}
	return req, nil
}

func (c *Conn) write(v any) error {
	if c.closed.Load() {
		return ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteJSON(v); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Close disconnects, sending a normal close frame first
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.writeMu.Lock()
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()

	c.logger.Debug("closed websocket connection", "name", c.name)
	return c.ws.Close()
}

// Client is a JSON-RPC client for the chat session API over WebSocket.
// Responses are matched to calls by id; notifications are delivered on
// Notifications.
type Client struct {
	conn          *Conn
	reqID         atomic.Int64
	logger        *slog.Logger
	mu            sync.Mutex
	pending       map[int64]chan Response
	notifications chan Notification
	done          chan struct{}
	readErr       error
}

// Dial connects to a chat session server
func Dial(ctx context.Context, url string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to WebSocket: %w", err)
	}

	c := &Client{
		conn:          NewConn(url, ws, logger),
		logger:        logger,
		pending:       make(map[int64]chan Response),
		notifications: make(chan Notification, 256),
		done:          make(chan struct{}),
	}
	go c.readLoop()

	logger.Info("connected to chat server", "url", url)
	return c, nil
}

// Notifications returns the channel of server notifications. It is closed
// when the connection ends.
func (c *Client) Notifications() <-chan Notification {
	return c.notifications
}

// Done is closed when the connection ends
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.notifications)

	for {
		var env envelope
		if err := c.conn.ws.ReadJSON(&env); err != nil {
			c.mu.Lock()
			c.readErr = err
			for id, ch := range c.pending {
				close(ch)
				delete(c.pending, id)
			}
			c.mu.Unlock()
			if !c.conn.closed.Load() {
				c.logger.Warn("websocket read failed", "error", err)
			}
			return
		}

		if env.ID == nil {
			if env.Method == "" {
				continue
			}
			select {
			case c.notifications <- Notification{JSONRPC: env.JSONRPC, Method: env.Method, Params: env.Params}:
			default:
				c.logger.Warn("notification buffer full, dropping", "method", env.Method)
			}
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[*env.ID]
		delete(c.pending, *env.ID)
		c.mu.Unlock()
		if !ok {
			c.logger.Warn("response for unknown request", "id", *env.ID)
			continue
		}
		ch <- Response{JSONRPC: env.JSONRPC, ID: *env.ID, Result: env.Result, Error: env.Error}
	}
}

// Call sends a request and waits for its response. A JSON-RPC error is
// returned as *Error.
func (c *Client) Call(ctx context.Context, method string, params any, result any) error {
	id := c.reqID.Add(1)

	req := Request{JSONRPC: Version, ID: id, Method: method}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("failed to marshal params: %w", err)
		}
		req.Params = data
	}

	ch := make(chan Response, 1)
	c.mu.Lock()
	if c.readErr != nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrClosed, c.readErr)
	}
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.conn.write(req); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return ErrClosed
		}
		if resp.Error != nil {
			return resp.Error
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("failed to unmarshal result: %w", err)
			}
		}
		return nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return ctx.Err()
	}
}

// Close disconnects from the server
func (c *Client) Close() error {
	err := c.conn.Close()
	<-c.done
	c.logger.Info("closed chat client", "url", c.conn.name)
	return err
}
