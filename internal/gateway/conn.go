package gateway

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yanun0323/logs"

	"main/internal/protocol"
)

// conn is one trader connection: a read loop dispatching commands and a
// single writer goroutine draining a bounded send queue.
type conn struct {
	srv    *Server
	ws     *websocket.Conn
	send   chan []byte
	closed uint32

	mu       sync.Mutex
	followed map[string]struct{}
	traderID string
}

func newConn(s *Server, ws *websocket.Conn) *conn {
	return &conn{
		srv:      s,
		ws:       ws,
		send:     make(chan []byte, s.opt.SendQueueSize),
		followed: make(map[string]struct{}),
	}
}

func (c *conn) follows(asset string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.followed[asset]
	return ok
}

func (c *conn) follow(assets []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, asset := range assets {
		if asset != "" {
			c.followed[asset] = struct{}{}
		}
	}
}

func (c *conn) unfollow(assets []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, asset := range assets {
		delete(c.followed, asset)
	}
}

// trySend offers a frame without blocking; false means the queue was full
// or the connection is going away.
func (c *conn) trySend(frame []byte) bool {
	if atomic.LoadUint32(&c.closed) != 0 {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *conn) close() {
	if atomic.CompareAndSwapUint32(&c.closed, 0, 1) {
		close(c.send)
	}
}

func (c *conn) writePump() {
	for frame := range c.send {
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
			_ = c.ws.Close()
			return
		}
	}
	_ = c.ws.Close()
}

// readPump consumes frames until the peer goes away. A malformed frame is
// answered with an error frame and the connection stays open.
func (c *conn) readPump() {
	defer c.close()
	c.ws.SetReadLimit(readLimit)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		frame, err := protocol.DecodeFrame(data)
		if err != nil {
			c.srv.metrics.IncProtocolError()
			c.sendError("malformed frame")
			continue
		}
		if frame.Kind != protocol.FrameCommand {
			c.srv.metrics.IncProtocolError()
			continue
		}

		resp := c.srv.handleCommand(c, frame.Command)
		raw, err := json.Marshal(resp)
		if err != nil {
			logs.Errorf("marshal response, err: %+v", err)
			continue
		}
		if !c.trySend(raw) {
			c.srv.metrics.IncBroadcastDrop()
		}
	}
}

func (c *conn) sendError(message string) {
	raw, err := json.Marshal(protocol.ServerError{Type: protocol.TypeError, Message: message})
	if err != nil {
		return
	}
	c.trySend(raw)
}
