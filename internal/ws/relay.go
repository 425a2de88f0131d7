package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/automcagent/mcbridge/internal/bot"
	"github.com/automcagent/mcbridge/internal/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pterm/pterm"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 1 << 20

	sendBuffer = 256
)

// Executor answers commands. Execute may block; the relay calls it off the
// read loop.
type Executor interface {
	Execute(ctx context.Context, cmd protocol.Command) protocol.CommandResult
}

type Options struct {
	AuthToken string
}

type clientConn struct {
	id     string
	remote string
	conn   *websocket.Conn
	send   chan []byte

	closeOnce sync.Once
}

// close stops the writer; the writer sends a close frame and drops the
// socket. Callers hold Relay.mu.
func (c *clientConn) close() {
	c.closeOnce.Do(func() { close(c.send) })
}

// Relay serves exactly one controller at a time. A new connection takes the
// client slot and the previous controller is closed.
type Relay struct {
	session  bot.Session
	executor Executor
	opts     Options

	upgrader websocket.Upgrader
	mux      *http.ServeMux

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	client  *clientConn
	closed  bool
	servers []*http.Server
}

func NewRelay(session bot.Session, executor Executor, opts Options) *Relay {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Relay{
		session:  session,
		executor: executor,
		opts:     opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(_ *http.Request) bool { return true },
		},
		mux:    http.NewServeMux(),
		ctx:    ctx,
		cancel: cancel,
	}
	r.mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.mux.HandleFunc("/", r.HandleController)
	return r
}

// Handle mounts an extra route next to the controller endpoint.
func (r *Relay) Handle(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

func (r *Relay) Handler() http.Handler {
	return r.mux
}

func (r *Relay) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return r.Serve(ln)
}

// Serve accepts controllers on ln until Close. It returns nil after Close.
func (r *Relay) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:           r.mux,
		ReadHeaderTimeout: 15 * time.Second,
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ln.Close()
	}
	r.servers = append(r.servers, srv)
	r.mu.Unlock()

	pterm.Info.Printfln("bridge listening on %s", ln.Addr())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (r *Relay) HandleController(w http.ResponseWriter, req *http.Request) {
	if r.opts.AuthToken != "" && req.Header.Get("Authorization") != "Bearer "+r.opts.AuthToken {
		pterm.Warning.Printfln("controller unauthorized: remote=%s", req.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		pterm.Error.Printfln("upgrade controller ws failed: %v", err)
		return
	}
	client := &clientConn{
		id:     uuid.NewString(),
		remote: req.RemoteAddr,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
	}

	ready, err := encode(protocol.TypeEvent, protocol.EventPayload{Event: protocol.EventBridgeReady})
	if err != nil {
		pterm.Error.Printfln("encode bridge_ready failed: %v", err)
		_ = conn.Close()
		return
	}
	client.send <- ready

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = conn.Close()
		return
	}
	prev := r.client
	r.client = client
	if prev != nil {
		prev.close()
	}
	r.mu.Unlock()

	if prev != nil {
		pterm.Info.Printfln("controller replaced: old=%s new=%s remote=%s", prev.id, client.id, client.remote)
	} else {
		pterm.Info.Printfln("controller connected: conn=%s remote=%s", client.id, client.remote)
	}

	go r.writePump(client)
	r.readPump(client)
}

func (r *Relay) readPump(client *clientConn) {
	defer func() {
		r.detach(client)
		_ = client.conn.Close()
		pterm.Info.Printfln("controller disconnected: conn=%s", client.id)
	}()

	client.conn.SetReadLimit(maxMessageSize)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				pterm.Warning.Printfln("recv controller->bridge failed: conn=%s err=%v", client.id, err)
			}
			return
		}
		_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
		r.handleFrame(client, data)
	}
}

func (r *Relay) handleFrame(client *clientConn, data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		pterm.Error.Printfln("parse message failed: conn=%s err=%v", client.id, err)
		return
	}
	logEnvelope("recv controller->bridge", env)

	if env.Type != protocol.TypeCommand {
		pterm.Debug.Printfln("ignore non-command from controller: type=%s", env.Type)
		return
	}

	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		pterm.Error.Printfln("command without payload: conn=%s", client.id)
		return
	}
	var cmd protocol.Command
	if err := json.Unmarshal(env.Payload, &cmd); err != nil {
		pterm.Error.Printfln("parse command failed: conn=%s err=%v", client.id, err)
		return
	}
	pterm.Debug.Printfln("received command: id=%s action=%s", cmd.ID, cmd.Action)

	go func() {
		result := r.executor.Execute(r.ctx, cmd)
		r.SendResult(result)
	}()
}

func (r *Relay) writePump(client *clientConn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = client.conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				pterm.Warning.Printfln("send bridge->controller failed: conn=%s err=%v", client.id, err)
				return
			}

		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// detach clears the slot if it still holds client.
func (r *Relay) detach(client *clientConn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == client {
		r.client = nil
	}
	client.close()
}

// Connected reports whether a controller currently holds the slot.
func (r *Relay) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.client != nil
}

// SendMessage queues env for the current controller. Without a controller
// the message is dropped.
func (r *Relay) SendMessage(env protocol.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		pterm.Error.Printfln("encode envelope failed: type=%s err=%v", env.Type, err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == nil {
		return
	}
	select {
	case r.client.send <- data:
	default:
		pterm.Warning.Printfln("send queue full, dropping: conn=%s type=%s", r.client.id, env.Type)
	}
}

func (r *Relay) send(msgType string, payload any) {
	env, err := protocol.NewEnvelope(msgType, payload)
	if err != nil {
		pterm.Error.Printfln("encode %s payload failed: %v", msgType, err)
		return
	}
	r.SendMessage(env)
}

func (r *Relay) SendResult(result protocol.CommandResult) {
	r.send(protocol.TypeResult, result)
}

func (r *Relay) SendEvent(event string, data any) {
	r.send(protocol.TypeEvent, protocol.EventPayload{Event: event, Data: data})
}

// SendState pushes a fresh snapshot of the session. It reports false, and
// sends nothing, while the session has no entity.
func (r *Relay) SendState() bool {
	state, ok := bot.Snapshot(r.session)
	if !ok {
		return false
	}
	r.send(protocol.TypeState, state)
	return true
}

// Close stops accepting controllers and drops the current one. Queued
// messages may be lost.
func (r *Relay) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	if r.client != nil {
		r.client.close()
		r.client = nil
	}
	servers := r.servers
	r.servers = nil
	r.mu.Unlock()
	r.cancel()

	var firstErr error
	for _, srv := range servers {
		if err := srv.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	pterm.Info.Println("bridge closed")
	return firstErr
}

func encode(msgType string, payload any) ([]byte, error) {
	env, err := protocol.NewEnvelope(msgType, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

func logEnvelope(prefix string, env protocol.Envelope) {
	pterm.Debug.Printfln("%s: type=%s timestamp=%.0f bytes=%d", prefix, env.Type, env.Timestamp, len(env.Payload))
}
