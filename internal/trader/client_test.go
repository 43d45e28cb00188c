package trader

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/bus"
	"main/internal/obs"
	"main/internal/protocol"
)

// testGateway is a minimal in-process gateway endpoint. Each accepted
// connection is handed to handle on its own goroutine.
type testGateway struct {
	srv    *httptest.Server
	handle func(conn *websocket.Conn)
}

func newTestGateway(t *testing.T, handle func(conn *websocket.Conn)) *testGateway {
	t.Helper()
	g := &testGateway{handle: handle}
	upgrader := websocket.Upgrader{}
	g.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		g.handle(conn)
	}))
	t.Cleanup(g.srv.Close)
	return g
}

func (g *testGateway) url() string {
	return "ws" + strings.TrimPrefix(g.srv.URL, "http")
}

func readCommand(t *testing.T, conn *websocket.Conn) protocol.Command {
	t.Helper()
	var cmd protocol.Command
	require.NoError(t, conn.ReadJSON(&cmd))
	return cmd
}

func TestSendCommandRoundTrip(t *testing.T) {
	gw := newTestGateway(t, func(conn *websocket.Conn) {
		defer conn.Close()
		cmd := readCommand(t, conn)
		assert.Equal(t, protocol.CmdBalance, cmd.Command)
		resp, err := protocol.OkResponse(cmd.RequestID, map[string]float64{"balance": 102.5})
		require.NoError(t, err)
		require.NoError(t, conn.WriteJSON(resp))
	})

	client := NewClient(Option{URL: gw.url()})
	require.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()

	balance, err := client.Balance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 102.5, balance)
}

func TestCommandTimeoutThenLateResponse(t *testing.T) {
	release := make(chan string, 1)
	gw := newTestGateway(t, func(conn *websocket.Conn) {
		defer conn.Close()
		cmd := readCommand(t, conn)
		release <- cmd.RequestID
		// hold the connection open without answering
		time.Sleep(300 * time.Millisecond)
		resp, _ := protocol.OkResponse(cmd.RequestID, nil)
		_ = conn.WriteJSON(resp)
		time.Sleep(100 * time.Millisecond)
	})

	metrics := obs.NewMetrics()
	client := NewClient(Option{URL: gw.url(), CommandTimeout: 50 * time.Millisecond, Metrics: metrics})
	require.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()

	_, err := client.SendCommand(context.Background(), protocol.CmdPing, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCommandTimeout)
	<-release

	// the late response must be dropped without settling anything twice
	assert.Eventually(t, func() bool {
		return metrics.Snapshot().StaleResponses == 1
	}, time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 1, metrics.Snapshot().CommandTimeouts)
	assert.True(t, client.Connected())
}

func TestConnectionLossRejectsPending(t *testing.T) {
	gw := newTestGateway(t, func(conn *websocket.Conn) {
		readCommand(t, conn)
		conn.Close()
	})

	client := NewClient(Option{URL: gw.url()})
	require.NoError(t, client.Connect(context.Background()))

	disconnected := make(chan struct{})
	client.OnDisconnected(func(error) { close(disconnected) })

	_, err := client.SendCommand(context.Background(), protocol.CmdPing, nil)
	assert.ErrorIs(t, err, ErrConnectionClosed)

	select {
	case <-disconnected:
	case <-time.After(time.Second):
		t.Fatal("disconnected handler never fired")
	}

	_, err = client.SendCommand(context.Background(), protocol.CmdPing, nil)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestConcurrentCommandsCorrelateByRequestID(t *testing.T) {
	const n = 16

	gw := newTestGateway(t, func(conn *websocket.Conn) {
		defer conn.Close()
		commands := make([]protocol.Command, 0, n)
		for range n {
			commands = append(commands, readCommand(t, conn))
		}
		// answer newest first to force out-of-order correlation
		for i := len(commands) - 1; i >= 0; i-- {
			resp, err := protocol.OkResponse(commands[i].RequestID, map[string]string{"echo": commands[i].RequestID})
			require.NoError(t, err)
			require.NoError(t, conn.WriteJSON(resp))
		}
	})

	client := NewClient(Option{URL: gw.url()})
	require.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, err := client.SendCommand(context.Background(), protocol.CmdPing, nil)
			if err != nil {
				errs <- err
				return
			}
			var body struct {
				Echo string `json:"echo"`
			}
			errs <- json.Unmarshal(data, &body)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}

func TestRequestIDsSurviveReconnect(t *testing.T) {
	var mu sync.Mutex
	var seen []uint64

	gw := newTestGateway(t, func(conn *websocket.Conn) {
		defer conn.Close()
		for {
			var cmd protocol.Command
			if err := conn.ReadJSON(&cmd); err != nil {
				return
			}
			id, err := strconv.ParseUint(cmd.RequestID, 10, 64)
			require.NoError(t, err)
			mu.Lock()
			seen = append(seen, id)
			mu.Unlock()
			resp, _ := protocol.OkResponse(cmd.RequestID, nil)
			_ = conn.WriteJSON(resp)
		}
	})

	client := NewClient(Option{URL: gw.url()})
	require.NoError(t, client.Connect(context.Background()))
	require.NoError(t, client.Ping(context.Background()))
	require.NoError(t, client.Ping(context.Background()))
	client.Disconnect()

	require.Eventually(t, func() bool { return !client.Connected() }, time.Second, 10*time.Millisecond)

	require.NoError(t, client.Connect(context.Background()))
	require.NoError(t, client.Ping(context.Background()))
	client.Disconnect()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 3)
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i], seen[i-1], "request ids must keep increasing across connections")
	}
}

func TestAutoReconnectAfterClose(t *testing.T) {
	var mu sync.Mutex
	accepted := 0

	gw := newTestGateway(t, func(conn *websocket.Conn) {
		mu.Lock()
		accepted++
		first := accepted == 1
		mu.Unlock()
		if first {
			conn.Close()
			return
		}
		for {
			var cmd protocol.Command
			if err := conn.ReadJSON(&cmd); err != nil {
				return
			}
			resp, _ := protocol.OkResponse(cmd.RequestID, nil)
			_ = conn.WriteJSON(resp)
		}
	})

	metrics := obs.NewMetrics()
	client := NewClient(Option{
		URL:            gw.url(),
		AutoReconnect:  true,
		ReconnectDelay: 20 * time.Millisecond,
		Metrics:        metrics,
	})

	reconnecting := make(chan struct{}, 4)
	client.OnReconnecting(func() { reconnecting <- struct{}{} })

	require.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()

	select {
	case <-reconnecting:
	case <-time.After(time.Second):
		t.Fatal("reconnect never scheduled")
	}

	require.Eventually(t, client.Connected, time.Second, 10*time.Millisecond)
	require.NoError(t, client.Ping(context.Background()))
	assert.EqualValues(t, 1, metrics.Snapshot().Reconnects)
}

func TestScheduleReconnectIsReentrant(t *testing.T) {
	metrics := obs.NewMetrics()
	client := NewClient(Option{
		URL:            "ws://127.0.0.1:1",
		AutoReconnect:  true,
		ReconnectDelay: time.Hour,
		Metrics:        metrics,
	})

	client.scheduleReconnect()
	client.scheduleReconnect()
	client.scheduleReconnect()

	assert.EqualValues(t, 1, metrics.Snapshot().Reconnects, "only one timer may be armed")
	client.Disconnect()
}

func TestDisconnectCancelsReconnect(t *testing.T) {
	gw := newTestGateway(t, func(conn *websocket.Conn) {
		conn.Close()
	})

	client := NewClient(Option{
		URL:            gw.url(),
		AutoReconnect:  true,
		ReconnectDelay: 50 * time.Millisecond,
	})

	reconnecting := make(chan struct{}, 4)
	client.OnReconnecting(func() { reconnecting <- struct{}{} })

	require.NoError(t, client.Connect(context.Background()))

	select {
	case <-reconnecting:
	case <-time.After(time.Second):
		t.Fatal("reconnect never scheduled")
	}

	client.Disconnect()
	time.Sleep(150 * time.Millisecond)
	assert.False(t, client.Connected())
	select {
	case <-reconnecting:
		t.Fatal("reconnect fired after explicit disconnect")
	default:
	}
}

func TestEventsDecodeIntoTypedUnion(t *testing.T) {
	gw := newTestGateway(t, func(conn *websocket.Conn) {
		defer conn.Close()
		tick, err := protocol.NewEvent(bus.NameTick, map[string]any{"asset": "R_75", "price": 101.5, "timestamp": 1700000000000})
		require.NoError(t, err)
		require.NoError(t, conn.WriteJSON(tick))

		closed, err := protocol.NewEvent(bus.NameCandleClosed, map[string]any{
			"asset": "R_75", "timeframe": 60, "timestamp": 1700000040,
			"open": 1.0, "high": 2.0, "low": 0.5, "close": 1.5,
		})
		require.NoError(t, err)
		require.NoError(t, conn.WriteJSON(closed))

		custom, err := protocol.NewEvent("signal:proximity", map[string]any{"level": 0.97})
		require.NoError(t, err)
		require.NoError(t, conn.WriteJSON(custom))

		freeform, err := protocol.NewEvent("totally:new", map[string]any{"x": 1})
		require.NoError(t, err)
		require.NoError(t, conn.WriteJSON(freeform))
		time.Sleep(100 * time.Millisecond)
	})

	client := NewClient(Option{URL: gw.url()})
	events := make(chan bus.Event, 8)
	client.OnEvent(func(e bus.Event) { events <- e })

	require.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()

	next := func() bus.Event {
		select {
		case e := <-events:
			return e
		case <-time.After(time.Second):
			t.Fatal("event never arrived")
			return bus.Event{}
		}
	}

	tick := next()
	require.Equal(t, bus.EventTick, tick.Kind)
	require.NotNil(t, tick.Tick)
	assert.Equal(t, "R_75", tick.Tick.Asset)
	assert.Equal(t, 101.5, tick.Tick.Price)

	closed := next()
	require.Equal(t, bus.EventCandleClosed, closed.Kind)
	require.NotNil(t, closed.Candle)
	assert.Equal(t, int64(60), closed.Candle.Timeframe)
	assert.Equal(t, 1.5, closed.Candle.Close)

	proximity := next()
	assert.Equal(t, bus.EventSignalProximity, proximity.Kind)
	assert.JSONEq(t, `{"level":0.97}`, string(proximity.Payload))

	unknown := next()
	assert.Equal(t, bus.EventUnknown, unknown.Kind)
	assert.Equal(t, "totally:new", unknown.Name)
	assert.JSONEq(t, `{"x":1}`, string(unknown.Payload))
}

func TestServerErrorDoesNotCloseConnection(t *testing.T) {
	gw := newTestGateway(t, func(conn *websocket.Conn) {
		defer conn.Close()
		require.NoError(t, conn.WriteJSON(protocol.ServerError{Type: protocol.TypeError, Message: "market closed"}))
		cmd := readCommand(t, conn)
		resp, _ := protocol.OkResponse(cmd.RequestID, nil)
		require.NoError(t, conn.WriteJSON(resp))
	})

	client := NewClient(Option{URL: gw.url()})
	errs := make(chan error, 1)
	client.OnError(func(err error) { errs <- err })

	require.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()

	select {
	case err := <-errs:
		assert.Contains(t, err.Error(), "market closed")
	case <-time.After(time.Second):
		t.Fatal("error handler never fired")
	}

	require.NoError(t, client.Ping(context.Background()))
}

func TestCommandFailureCarriesServerMessage(t *testing.T) {
	gw := newTestGateway(t, func(conn *websocket.Conn) {
		defer conn.Close()
		cmd := readCommand(t, conn)
		require.NoError(t, conn.WriteJSON(protocol.FailResponse(cmd.RequestID, "unknown asset")))
	})

	metrics := obs.NewMetrics()
	client := NewClient(Option{URL: gw.url(), Metrics: metrics})
	require.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()

	_, err := client.Ticks(context.Background(), "NOPE", 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown asset")
	assert.EqualValues(t, 1, metrics.Snapshot().CommandFailures)
}
