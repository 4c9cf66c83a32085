package net

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	. "fenrir/internal/common"
	"fenrir/internal/engine"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Setup & Helpers --------------------------------------------------------

type testClient struct {
	conn   net.Conn
	reader *bufio.Reader
}

func startTestServer(t *testing.T) *Server {
	t.Helper()
	eng := engine.New(engine.WithIDGenerator(engine.NewSequenceGenerator("o")))
	srv := New("127.0.0.1", 0, eng, WithWorkers(2), WithReadTimeout(20*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("server did not stop")
		}
	})

	select {
	case <-srv.Ready():
	case err := <-done:
		t.Fatalf("server exited early: %v", err)
	}
	return srv
}

func dial(t *testing.T, srv *Server) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &testClient{conn: conn, reader: bufio.NewReader(conn)}
}

func (c *testClient) send(t *testing.T, m Message) {
	t.Helper()
	payload, err := EncodeMessage(m)
	require.NoError(t, err)
	require.NoError(t, WriteFrame(c.conn, payload))
}

func (c *testClient) recv(t *testing.T) Report {
	t.Helper()
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	payload, err := ReadFrame(c.reader)
	require.NoError(t, err)
	report, err := ParseReport(payload)
	require.NoError(t, err)
	return report
}

// place submits an order and returns the acknowledged id.
func (c *testClient) place(t *testing.T, side Side, price int64, qty uint64) string {
	t.Helper()
	c.send(t, NewOrderMessage{Side: side, Price: price, Quantity: qty})
	ack, ok := c.recv(t).(Ack)
	require.True(t, ok, "expected an ack")
	require.NotEmpty(t, ack.OrderID)
	return ack.OrderID
}

// --- Tests ------------------------------------------------------------------

func TestServer_Heartbeat(t *testing.T) {
	srv := startTestServer(t)
	client := dial(t, srv)

	client.send(t, HeartbeatMessage{})
	assert.Equal(t, Ack{}, client.recv(t))
}

func TestServer_MatchAndReport(t *testing.T) {
	srv := startTestServer(t)
	maker := dial(t, srv)
	taker := dial(t, srv)

	ask := maker.place(t, Sell, 100, 10)
	bid := taker.place(t, Buy, 100, 4)

	takerExec, ok := taker.recv(t).(Execution)
	require.True(t, ok)
	assert.Equal(t, bid, takerExec.OrderID)
	assert.Equal(t, ask, takerExec.Counterparty)
	assert.Equal(t, Buy, takerExec.Side)
	assert.Equal(t, int64(100), takerExec.Price)
	assert.Equal(t, uint64(4), takerExec.Quantity)

	makerExec, ok := maker.recv(t).(Execution)
	require.True(t, ok)
	assert.Equal(t, ask, makerExec.OrderID)
	assert.Equal(t, bid, makerExec.Counterparty)
	assert.Equal(t, Sell, makerExec.Side)
	assert.Equal(t, takerExec.Timestamp, makerExec.Timestamp)

	taker.place(t, Buy, 99, 5)
	taker.send(t, DepthRequestMessage{})
	assert.Equal(t, DepthSnapshot{
		Bids: []DepthLevel{{Price: 99, Volume: 5}},
		Asks: []DepthLevel{{Price: 100, Volume: 6}},
	}, taker.recv(t))

	taker.send(t, LookupOrderMessage{OrderID: ask})
	assert.Equal(t, OrderInfo{
		Side:          Sell,
		Price:         100,
		Quantity:      6,
		TotalQuantity: 10,
		OrderID:       ask,
	}, taker.recv(t))
}

func TestServer_CancelAndReduce(t *testing.T) {
	srv := startTestServer(t)
	owner := dial(t, srv)
	other := dial(t, srv)

	id := owner.place(t, Sell, 100, 10)

	other.send(t, CancelOrderMessage{OrderID: id})
	assert.Equal(t, Rejection{Err: ErrNotOwner.Error()}, other.recv(t))

	owner.send(t, ReduceOrderMessage{OrderID: id, Amount: 11})
	assert.Equal(t, Rejection{Err: engine.ErrInvalidAmount.Error()}, owner.recv(t))

	owner.send(t, ReduceOrderMessage{OrderID: id, Amount: 4})
	assert.Equal(t, Ack{OrderID: id}, owner.recv(t))

	owner.send(t, CancelOrderMessage{OrderID: id})
	assert.Equal(t, Ack{OrderID: id}, owner.recv(t))

	owner.send(t, CancelOrderMessage{OrderID: id})
	assert.Equal(t, Rejection{Err: engine.ErrOrderNotFound.Error()}, owner.recv(t))

	owner.send(t, DepthRequestMessage{})
	depth := owner.recv(t).(DepthSnapshot)
	assert.Empty(t, depth.Bids)
	assert.Empty(t, depth.Asks)
}

func TestServer_OrdersOutliveTheirSession(t *testing.T) {
	srv := startTestServer(t)
	owner := dial(t, srv)
	id := owner.place(t, Sell, 100, 10)
	require.NoError(t, owner.conn.Close())

	// The server notices the hang up and forgets who owned the order.
	assert.Eventually(t, func() bool {
		srv.clientSessionsLock.Lock()
		defer srv.clientSessionsLock.Unlock()
		_, owned := srv.owners[id]
		return !owned
	}, 5*time.Second, 10*time.Millisecond)

	other := dial(t, srv)
	other.send(t, LookupOrderMessage{OrderID: id})
	info, ok := other.recv(t).(OrderInfo)
	require.True(t, ok)
	assert.Equal(t, uint64(10), info.Quantity)

	other.send(t, ReduceOrderMessage{OrderID: id, Amount: 3})
	assert.Equal(t, Ack{OrderID: id}, other.recv(t))
	other.send(t, CancelOrderMessage{OrderID: id})
	assert.Equal(t, Ack{OrderID: id}, other.recv(t))
}

func TestServer_ReadyOnListenFailure(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	eng := engine.New()
	srv := New("127.0.0.1", taken.Addr().(*net.TCPAddr).Port, eng)
	done := make(chan error, 1)
	go func() { done <- srv.Run(context.Background()) }()

	select {
	case <-srv.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("ready never closed")
	}
	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return")
	}
	assert.Nil(t, srv.Addr())
}

func TestServer_RejectsBadInput(t *testing.T) {
	srv := startTestServer(t)
	client := dial(t, srv)

	client.send(t, NewOrderMessage{Side: Buy, Price: 100, Quantity: 0})
	assert.Equal(t, Rejection{Err: engine.ErrInvalidAmount.Error()}, client.recv(t))

	// Unknown message type, the session survives it.
	require.NoError(t, WriteFrame(client.conn, []byte{0, 42}))
	assert.Equal(t, Rejection{Err: ErrInvalidMessageType.Error()}, client.recv(t))

	client.send(t, HeartbeatMessage{})
	assert.Equal(t, Ack{}, client.recv(t))
}
