// Package gateway serves the trader-facing WebSocket endpoint: correlated
// command handling against the market-data cache plus broadcast fan-out of
// bus events to following connections.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/marketdata"
	"main/internal/model"
	"main/internal/obs"
	"main/internal/protocol"
	"main/internal/store"
)

const (
	DefaultSendQueueSize   = 256
	DefaultStartingBalance = 10000

	writeWait       = 10 * time.Second
	maxTradeHistory = 1000
	persistTimeout  = 5 * time.Second
	shutdownTimeout = 5 * time.Second
	readLimit       = 1 << 20
)

// Option configures the gateway server.
type Option struct {
	// Addr is the listen address for Start, e.g. ":8080".
	Addr string
	// Cache serves tick and candle queries. Required.
	Cache *marketdata.Cache
	// Trades persists trade records when set.
	Trades store.TradeWriter
	// Metrics receives server counters when set.
	Metrics *obs.Metrics
	// StartingBalance seeds the paper account. Optional; default 10000.
	StartingBalance float64
	// SendQueueSize bounds each client's outbound queue. Optional; default 256.
	SendQueueSize int
}

func (opt *Option) init() {
	if opt.StartingBalance <= 0 {
		opt.StartingBalance = DefaultStartingBalance
	}
	if opt.SendQueueSize <= 0 {
		opt.SendQueueSize = DefaultSendQueueSize
	}
}

type traderInfo struct {
	ID       string
	Name     string
	LastSeen time.Time
}

// Server is the gateway process core. Account, trader registry and trade
// book are confined behind one mutex; per-connection state lives on the
// connection itself.
type Server struct {
	opt      Option
	cache    *marketdata.Cache
	trades   store.TradeWriter
	metrics  *obs.Metrics
	upgrader websocket.Upgrader

	mu         sync.Mutex
	conns      map[*conn]struct{}
	balance    float64
	traders    map[string]*traderInfo
	tradeBook  map[string]model.TradeRecord
	tradeOrder []string
}

// NewServer builds a gateway server around the cache.
func NewServer(opt Option) *Server {
	opt.init()
	return &Server{
		opt:       opt,
		cache:     opt.Cache,
		trades:    opt.Trades,
		metrics:   opt.Metrics,
		conns:     make(map[*conn]struct{}),
		balance:   opt.StartingBalance,
		traders:   make(map[string]*traderInfo),
		tradeBook: make(map[string]model.TradeRecord),
	}
}

// Handler returns the WebSocket upgrade handler.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.serveWS)
}

// Start listens on Addr until the context is done.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.opt.Addr, Handler: s.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logs.Infof("gateway listening on %s", s.opt.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// ConsumeEvents drains the subscriber into the broadcast path until the
// context is done.
func (s *Server) ConsumeEvents(ctx context.Context, sub *bus.Subscriber) {
	sub.Queue().Run(ctx, s.Broadcast)
	sub.Close()
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logs.Errorf("upgrade failed, err: %+v", err)
		return
	}

	c := newConn(s, ws)
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	go c.writePump()
	c.readPump()

	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// Broadcast serializes the event once and offers it to every connection
// following its asset. Events without an asset go to every connection.
// A full send queue drops the frame for that client only.
func (s *Server) Broadcast(e bus.Event) {
	frame, err := marshalEvent(e)
	if err != nil {
		logs.Errorf("marshal event %q, err: %+v", e.WireName(), err)
		return
	}

	s.mu.Lock()
	targets := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		if e.Asset == "" || c.follows(e.Asset) {
			targets = append(targets, c)
		}
	}
	s.mu.Unlock()

	for _, c := range targets {
		if !c.trySend(frame) {
			s.metrics.IncBroadcastDrop()
		}
	}
}

func marshalEvent(e bus.Event) ([]byte, error) {
	var data any
	switch {
	case e.Tick != nil:
		data = e.Tick
	case e.Candle != nil:
		data = e.Candle
	case e.Payload != nil:
		data = json.RawMessage(e.Payload)
	}
	event, err := protocol.NewEvent(e.WireName(), data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(event)
}

// sendEventTo pushes a server-originated event, such as a trade lifecycle
// notification, to one connection only.
func (s *Server) sendEventTo(c *conn, name string, data any) {
	if c == nil {
		return
	}
	raw, err := json.Marshal(data)
	if err != nil {
		logs.Errorf("marshal %q payload, err: %+v", name, err)
		return
	}
	frame, err := marshalEvent(bus.UnknownEvent(name, raw))
	if err != nil {
		logs.Errorf("marshal event %q, err: %+v", name, err)
		return
	}
	if !c.trySend(frame) {
		s.metrics.IncBroadcastDrop()
	}
}

// persistTrade hands the write to the backend off the command path.
// Failures are logged and swallowed; the in-memory book stays canonical.
func (s *Server) persistTrade(op string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			logs.Errorf("%s failed, err: %+v", op, err)
		}
	}()
}
