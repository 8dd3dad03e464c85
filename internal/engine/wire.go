package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/adnanbaig/browserfarm/internal/fault"
)

// wireClient is an id-correlated DevTools protocol connection
type wireClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	nextID  atomic.Int64
	mu      sync.Mutex
	pending map[int64]chan wireResponse
	closed  bool
	readErr error
}

type wireRequest struct {
	ID        int64          `json:"id"`
	Method    string         `json:"method"`
	Params    map[string]any `json:"params,omitempty"`
	SessionID string         `json:"sessionId,omitempty"`
}

type wireResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *wireError      `json:"error,omitempty"`
	Method string          `json:"method,omitempty"`
}

type wireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func dialWire(ctx context.Context, connectURL string) (*wireClient, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, connectURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", connectURL, err)
	}

	c := &wireClient{
		conn:    conn,
		pending: make(map[int64]chan wireResponse),
	}
	go c.readLoop()
	return c, nil
}

func (c *wireClient) readLoop() {
	for {
		var resp wireResponse
		if err := c.conn.ReadJSON(&resp); err != nil {
			c.mu.Lock()
			c.closed = true
			c.readErr = err
			for id, ch := range c.pending {
				close(ch)
				delete(c.pending, id)
			}
			c.mu.Unlock()
			return
		}

		// Protocol events carry a method and no id; the manager does
		// not subscribe to events, so they are dropped here
		if resp.ID == 0 {
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()

		if ok {
			ch <- resp
		}
	}
}

// call sends one protocol command and waits for its response.
// sessionID scopes the command to an attached target when non-empty.
func (c *wireClient) call(ctx context.Context, sessionID, method string, params map[string]any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	ch := make(chan wireResponse, 1)

	c.mu.Lock()
	if c.closed {
		err := c.readErr
		c.mu.Unlock()
		return nil, fault.Wrap(err, fault.KindEngineUnavailable, "engine connection closed")
	}
	c.pending[id] = ch
	c.mu.Unlock()

	req := wireRequest{ID: id, Method: method, Params: params, SessionID: sessionID}

	c.writeMu.Lock()
	err := c.conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fault.Wrap(err, fault.KindEngineUnavailable, "write protocol command")
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, fault.New(fault.KindEngineUnavailable, "engine connection closed mid-call")
		}
		if resp.Error != nil {
			return nil, fault.New(fault.KindProtocolError, "%s: %s (code %d)", method, resp.Error.Message, resp.Error.Code)
		}
		return resp.Result, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fault.Wrap(ctx.Err(), fault.KindTimedOut, method+" timed out")
	}
}

func (c *wireClient) close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}
