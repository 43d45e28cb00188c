// Package trader implements the gateway protocol client used by trader
// processes: one persistent WebSocket connection carrying correlated
// command/response pairs plus server-pushed broadcast events.
package trader

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/obs"
	"main/internal/protocol"
)

var (
	ErrNotConnected     = errors.New("gateway client not connected")
	ErrAlreadyConnected = errors.New("gateway client already connected")
	ErrConnectionClosed = errors.New("connection closed")
	ErrCommandTimeout   = errors.New("command timed out")
)

const (
	DefaultCommandTimeout   = 30 * time.Second
	DefaultReconnectDelay   = 3 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
)

// Option configures the client.
type Option struct {
	// URL is the gateway WebSocket endpoint. Required.
	URL string
	// CommandTimeout bounds each command round trip. Optional; default 30s.
	CommandTimeout time.Duration
	// AutoReconnect schedules a fixed-delay reconnect after connection loss.
	AutoReconnect bool
	// ReconnectDelay is the fixed delay between reconnect attempts. Optional; default 3s.
	ReconnectDelay time.Duration
	// Metrics receives client counters when set.
	Metrics *obs.Metrics
}

func (opt *Option) init() {
	if opt.CommandTimeout <= 0 {
		opt.CommandTimeout = DefaultCommandTimeout
	}
	if opt.ReconnectDelay <= 0 {
		opt.ReconnectDelay = DefaultReconnectDelay
	}
}

type result struct {
	data []byte
	err  error
}

// pendingRequest is one in-flight command. It is settled exactly once by
// whichever of response, timeout or connection loss happens first.
type pendingRequest struct {
	ch    chan result
	timer *time.Timer
	sent  time.Time
}

// Client is the gateway protocol client. Connection state and the pending
// table are confined behind one mutex; writes to the transport are
// serialized separately so dispatch never waits on a send.
type Client struct {
	opt     Option
	metrics *obs.Metrics

	mu             sync.Mutex
	conn           *websocket.Conn
	connected      bool
	closing        bool
	pending        map[string]*pendingRequest
	reconnectTimer *time.Timer

	writeMu sync.Mutex

	requestID uint64 // strictly increasing, never reused across reconnects

	handlerMu      sync.Mutex
	eventHandlers  []func(bus.Event)
	connectedFns   []func()
	disconnectFns  []func(error)
	reconnectFns   []func()
	errorFns       []func(error)
}

// NewClient builds a client; Connect establishes the transport.
func NewClient(opt Option) *Client {
	opt.init()
	return &Client{
		opt:     opt,
		metrics: opt.Metrics,
		pending: make(map[string]*pendingRequest),
	}
}

// OnEvent registers a handler for server-pushed broadcast events.
func (c *Client) OnEvent(fn func(bus.Event)) {
	c.handlerMu.Lock()
	c.eventHandlers = append(c.eventHandlers, fn)
	c.handlerMu.Unlock()
}

// OnConnected registers a handler fired after the transport opens.
func (c *Client) OnConnected(fn func()) {
	c.handlerMu.Lock()
	c.connectedFns = append(c.connectedFns, fn)
	c.handlerMu.Unlock()
}

// OnDisconnected registers a handler fired when the transport closes.
func (c *Client) OnDisconnected(fn func(err error)) {
	c.handlerMu.Lock()
	c.disconnectFns = append(c.disconnectFns, fn)
	c.handlerMu.Unlock()
}

// OnReconnecting registers a handler fired when a reconnect is scheduled.
func (c *Client) OnReconnecting(fn func()) {
	c.handlerMu.Lock()
	c.reconnectFns = append(c.reconnectFns, fn)
	c.handlerMu.Unlock()
}

// OnError registers a handler for transport and server errors. These do not
// by themselves tear down the connection.
func (c *Client) OnError(fn func(err error)) {
	c.handlerMu.Lock()
	c.errorFns = append(c.errorFns, fn)
	c.handlerMu.Unlock()
}

// Connected reports whether the transport is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && c.conn != nil
}

// Connect dials the gateway. A transport error before the socket opens
// rejects the call and is emitted as an error event.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.closing = false
	c.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: defaultHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.opt.URL, nil)
	if err != nil {
		wrapped := errors.Wrap(err, "dial gateway")
		c.emitError(wrapped)
		return wrapped
	}

	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrAlreadyConnected
	}
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	go c.readLoop(conn)
	c.emitConnected()
	return nil
}

// Disconnect cancels any pending reconnect timer and closes the transport.
// Pending requests are settled by the close handling the closure triggers,
// not by Disconnect itself.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.closing = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}
}

// SendCommand sends one command and waits for whichever of response,
// timeout or connection loss comes first. Valid only while the transport
// is live; each call settles exactly once through its own request id.
func (c *Client) SendCommand(ctx context.Context, name string, params any) ([]byte, error) {
	c.mu.Lock()
	conn := c.conn
	if !c.connected || conn == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}

	id := strconv.FormatUint(atomic.AddUint64(&c.requestID, 1), 10)
	p := &pendingRequest{
		ch:   make(chan result, 1),
		sent: time.Now(),
	}
	c.pending[id] = p
	c.mu.Unlock()

	p.timer = time.AfterFunc(c.opt.CommandTimeout, func() {
		if c.settle(id, result{err: ErrCommandTimeout}) {
			c.metrics.IncCommandTimeout()
		}
	})

	cmd, err := protocol.NewCommand(name, params, id, time.Now().UnixMilli())
	if err != nil {
		c.settle(id, result{err: err})
		res := <-p.ch
		return nil, res.err
	}

	c.writeMu.Lock()
	writeErr := conn.WriteJSON(cmd)
	c.writeMu.Unlock()
	if writeErr != nil {
		c.settle(id, result{err: errors.Wrap(writeErr, "send command")})
		res := <-p.ch
		return nil, res.err
	}
	c.metrics.IncCommandSent()

	select {
	case res := <-p.ch:
		if res.err == nil {
			c.metrics.ObserveCommand(time.Since(p.sent))
		}
		return res.data, res.err
	case <-ctx.Done():
		c.settle(id, result{err: ctx.Err()})
		res := <-p.ch
		return res.data, res.err
	}
}

// settle resolves the pending request exactly once, returning false when the
// id is unknown or already settled.
func (c *Client) settle(id string, res result) bool {
	c.mu.Lock()
	p, ok := c.pending[id]
	if !ok {
		c.mu.Unlock()
		return false
	}
	delete(c.pending, id)
	c.mu.Unlock()

	if p.timer != nil {
		p.timer.Stop()
	}
	p.ch <- res
	return true
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(conn, err)
			return
		}
		c.dispatch(data)
	}
}

// dispatch routes one inbound frame. It never blocks: unparseable frames
// are logged and dropped with the connection left open.
func (c *Client) dispatch(data []byte) {
	frame, err := protocol.DecodeFrame(data)
	if err != nil {
		c.metrics.IncProtocolError()
		logs.Errorf("drop frame, err: %+v", err)
		return
	}

	switch frame.Kind {
	case protocol.FrameResponse:
		c.dispatchResponse(frame.Response)
	case protocol.FrameError:
		c.emitError(errors.New(frame.Error.Message))
	case protocol.FrameEvent:
		c.emitEvent(eventFromFrame(frame.Event))
	default:
		c.metrics.IncProtocolError()
	}
}

func (c *Client) dispatchResponse(resp *protocol.Response) {
	var res result
	if resp.Success {
		res.data = resp.Data
	} else {
		message := "command failed"
		if resp.Error != nil && resp.Error.Message != "" {
			message = resp.Error.Message
		}
		res.err = errors.New(message)
		c.metrics.IncCommandFailure()
	}
	if !c.settle(resp.RequestID, res) {
		// late or unknown id: silently dropped, observable only here
		c.metrics.IncStaleResponse()
	}
}

// handleClose runs the disconnect handling for one transport closure:
// flip the flag, reject every pending request with a connection-closed
// error, then schedule at most one reconnect.
func (c *Client) handleClose(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		// a stale close for a transport already replaced
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.connected = false
	pending := c.pending
	c.pending = make(map[string]*pendingRequest)
	closing := c.closing
	c.mu.Unlock()

	_ = conn.Close()

	for _, p := range pending {
		if p.timer != nil {
			p.timer.Stop()
		}
		p.ch <- result{err: ErrConnectionClosed}
	}

	c.emitDisconnected(cause)

	if c.opt.AutoReconnect && !closing {
		c.scheduleReconnect()
	}
}

// scheduleReconnect arms exactly one fixed-delay reconnect timer;
// re-entrant scheduling while one is pending is a no-op.
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.reconnectTimer != nil || c.closing {
		c.mu.Unlock()
		return
	}
	c.reconnectTimer = time.AfterFunc(c.opt.ReconnectDelay, c.reconnectAttempt)
	c.mu.Unlock()

	c.metrics.IncReconnect()
	c.emitReconnecting()
}

func (c *Client) reconnectAttempt() {
	c.mu.Lock()
	c.reconnectTimer = nil
	closing := c.closing
	c.mu.Unlock()
	if closing {
		return
	}

	if err := c.Connect(context.Background()); err != nil {
		// a failed attempt reschedules through the same close handling
		// path instead of retrying inline
		c.scheduleReconnect()
	}
}

func (c *Client) emitEvent(e bus.Event) {
	c.handlerMu.Lock()
	handlers := make([]func(bus.Event), len(c.eventHandlers))
	copy(handlers, c.eventHandlers)
	c.handlerMu.Unlock()
	for _, fn := range handlers {
		fn(e)
	}
}

func (c *Client) emitConnected() {
	c.handlerMu.Lock()
	handlers := make([]func(), len(c.connectedFns))
	copy(handlers, c.connectedFns)
	c.handlerMu.Unlock()
	for _, fn := range handlers {
		fn()
	}
}

func (c *Client) emitDisconnected(err error) {
	c.handlerMu.Lock()
	handlers := make([]func(error), len(c.disconnectFns))
	copy(handlers, c.disconnectFns)
	c.handlerMu.Unlock()
	for _, fn := range handlers {
		fn(err)
	}
}

func (c *Client) emitReconnecting() {
	c.handlerMu.Lock()
	handlers := make([]func(), len(c.reconnectFns))
	copy(handlers, c.reconnectFns)
	c.handlerMu.Unlock()
	for _, fn := range handlers {
		fn()
	}
}

func (c *Client) emitError(err error) {
	c.handlerMu.Lock()
	handlers := make([]func(error), len(c.errorFns))
	copy(handlers, c.errorFns)
	c.handlerMu.Unlock()
	for _, fn := range handlers {
		fn(err)
	}
}
