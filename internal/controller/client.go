// Package controller is the controller side of the bridge: it dials the
// relay, sends commands, and dispatches state, event and result envelopes to
// registered handlers.
package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/automcagent/mcbridge/internal/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/pterm/pterm"
)

var (
	ErrNotConnected  = errors.New("not connected to bridge")
	ErrUnknownResult = errors.New("no pending command with that id")
)

// Handler receives the raw payload of one envelope type.
type Handler func(payload json.RawMessage)

type Client struct {
	url  string
	conn *websocket.Conn

	writeMu sync.Mutex

	mu       sync.Mutex
	handlers map[string]Handler
	pending  map[string]chan protocol.CommandResult

	ready     chan struct{}
	readyOnce sync.Once

	done    chan struct{}
	readErr error
}

// Option configures a Client before it starts listening.
type Option func(*Client)

// WithHandler registers h for msgType before the first frame is read, so
// early frames such as bridge_ready reach it.
func WithHandler(msgType string, h Handler) Option {
	return func(c *Client) {
		c.handlers[msgType] = h
	}
}

// Dial connects to the bridge at url and starts listening. timeout bounds
// the handshake; zero means 10s.
func Dial(ctx context.Context, url string, header http.Header, timeout time.Duration, opts ...Option) (*Client, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pterm.Debug.Printfln("connecting to bridge at %s", url)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, url, header)
	if err != nil {
		return nil, errors.Wrapf(err, "connect to %s", url)
	}

	c := &Client{
		url:      url,
		conn:     conn,
		handlers: make(map[string]Handler),
		pending:  make(map[string]chan protocol.CommandResult),
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.listen()
	return c, nil
}

// On registers h for envelopes of msgType, replacing any previous handler.
func (c *Client) On(msgType string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[msgType] = h
}

// Ready is closed once the bridge_ready event has arrived.
func (c *Client) Ready() <-chan struct{} {
	return c.ready
}

func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the read error that ended the connection, if any.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.readErr
	default:
		return nil
	}
}

// SendCommand sends action with params. An empty id is replaced with a
// generated one; the id used is returned.
func (c *Client) SendCommand(action string, params any, id string) (string, error) {
	select {
	case <-c.done:
		return "", ErrNotConnected
	default:
	}

	if id == "" {
		id = action + "_" + uuid.NewString()
	}
	if params == nil {
		params = map[string]any{}
	}
	rawParams, err := json.Marshal(params)
	if err != nil {
		return "", errors.Wrap(err, "encode params")
	}
	env, err := protocol.NewEnvelope(protocol.TypeCommand, protocol.Command{
		ID:     id,
		Action: action,
		Params: rawParams,
	})
	if err != nil {
		return "", errors.Wrap(err, "encode command")
	}

	c.mu.Lock()
	if _, ok := c.pending[id]; !ok {
		c.pending[id] = make(chan protocol.CommandResult, 1)
	}
	c.mu.Unlock()

	c.writeMu.Lock()
	err = c.conn.WriteJSON(env)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		return "", errors.Wrap(err, "send command")
	}
	pterm.Debug.Printfln("sent command: id=%s action=%s", id, action)
	return id, nil
}

func (c *Client) RequestState() (string, error) {
	return c.SendCommand("get_state", nil, "")
}

// WaitResult blocks until the result for id arrives, ctx ends, or the
// connection drops.
func (c *Client) WaitResult(ctx context.Context, id string) (protocol.CommandResult, error) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	c.mu.Unlock()
	if !ok {
		return protocol.CommandResult{}, ErrUnknownResult
	}

	select {
	case result := <-ch:
		c.forget(id)
		return result, nil
	case <-ctx.Done():
		c.forget(id)
		return protocol.CommandResult{}, ctx.Err()
	case <-c.done:
		select {
		case result := <-ch:
			c.forget(id)
			return result, nil
		default:
		}
		return protocol.CommandResult{}, ErrNotConnected
	}
}

// Do sends a command and waits for its result.
func (c *Client) Do(ctx context.Context, action string, params any) (protocol.CommandResult, error) {
	id, err := c.SendCommand(action, params, "")
	if err != nil {
		return protocol.CommandResult{}, err
	}
	return c.WaitResult(ctx, id)
}

func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	err := c.conn.Close()
	<-c.done
	pterm.Debug.Printfln("disconnected from bridge %s", c.url)
	return err
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
}

func (c *Client) listen() {
	defer close(c.done)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				pterm.Warning.Printfln("bridge connection closed: %v", err)
			}
			c.readErr = err
			return
		}
		c.handle(data)
	}
}

func (c *Client) handle(data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		pterm.Error.Printfln("invalid JSON received: %v", err)
		return
	}

	switch env.Type {
	case protocol.TypeEvent:
		var ev protocol.EventPayload
		if err := json.Unmarshal(env.Payload, &ev); err == nil && ev.Event == protocol.EventBridgeReady {
			c.readyOnce.Do(func() { close(c.ready) })
		}
	case protocol.TypeResult:
		var result protocol.CommandResult
		if err := json.Unmarshal(env.Payload, &result); err != nil {
			pterm.Error.Printfln("invalid result payload: %v", err)
		} else {
			c.mu.Lock()
			ch, ok := c.pending[result.ID]
			c.mu.Unlock()
			if ok {
				select {
				case ch <- result:
				default:
				}
			}
		}
	}

	c.mu.Lock()
	h := c.handlers[env.Type]
	c.mu.Unlock()
	if h != nil {
		h(env.Payload)
	}
}
