package net

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	. "fenrir/internal/common"
	"fenrir/internal/engine"
	"fenrir/internal/utils"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

const (
	defaultNWorkers     = 10
	defaultReadTimeout  = 250 * time.Millisecond
	defaultFrameTimeout = 5 * time.Second
	// Every session either sits in the task queue or is held by a worker, so
	// the queue size bounds the number of sessions.
	maxSessions = utils.TASK_CHAN_SIZE
)

var (
	ErrImproperConversion = errors.New("improper type conversion")
	ErrClientDoesNotExist = errors.New("client does not exist")
	ErrNotOwner           = errors.New("order owned by another client")
	ErrTooManySessions    = errors.New("too many sessions")
)

// ClientSession contains relevant information pertaining to an individual
// connected TCP session.
type ClientSession struct {
	address string
	conn    net.Conn
	reader  *bufio.Reader
	writeMu sync.Mutex
}

// send writes one report frame. Writes from the session handler and from a
// worker rejecting a bad frame may race, hence the lock.
func (c *ClientSession) send(report Report) error {
	payload, err := EncodeReport(report)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(defaultFrameTimeout)); err != nil {
		return err
	}
	return WriteFrame(c.conn, payload)
}

// ClientMessage links a message to the client sending it.
type ClientMessage struct {
	session *ClientSession
	message Message
}

type Server struct {
	address     string
	port        int
	engine      *engine.Engine
	pool        *utils.WorkerPool
	readTimeout time.Duration
	cancel      context.CancelFunc

	listener net.Listener
	ready    chan struct{}

	clientSessions     map[string]*ClientSession
	owners             map[string]string // order id -> client address
	clientSessionsLock sync.Mutex
	clientMessages     chan ClientMessage
}

type Option func(*Server)

func WithWorkers(n uint) Option {
	return func(s *Server) { s.pool = utils.NewWorkerPool(n) }
}

// WithReadTimeout sets how long a worker waits on an idle connection before
// handing it back to the pool.
func WithReadTimeout(d time.Duration) Option {
	return func(s *Server) { s.readTimeout = d }
}

func New(address string, port int, eng *engine.Engine, opts ...Option) *Server {
	s := &Server{
		address:        address,
		port:           port,
		engine:         eng,
		pool:           utils.NewWorkerPool(defaultNWorkers),
		readTimeout:    defaultReadTimeout,
		ready:          make(chan struct{}),
		clientSessions: make(map[string]*ClientSession),
		owners:         make(map[string]string),
		clientMessages: make(chan ClientMessage, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ready is closed once the listener is bound, or once binding has failed.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr is the bound listener address, valid after Ready. It is nil when the
// listener could not be bound.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) Shutdown() {
	log.Info().Msg("server shutting down")
	if s.cancel != nil {
		s.cancel()
	}
}

// Run serves until ctx is canceled or a worker fails.
func (s *Server) Run(ctx context.Context) error {
	// Setup a cancel on the context for future shutdown.
	ctx, s.cancel = context.WithCancel(ctx)
	defer s.Shutdown()
	t, ctx := tomb.WithContext(ctx)

	// Start a tcp listener.
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", net.JoinHostPort(s.address, strconv.Itoa(s.port)))
	if err != nil {
		log.Error().Err(err).Msg("unable to start listener")
		close(s.ready)
		return err
	}
	s.listener = listener
	close(s.ready)

	// Start the worker pool and the session handler.
	s.pool.Setup(t, s.handleConnection)
	t.Go(func() error {
		return s.sessionHandler(t)
	})

	// Closing the listener unblocks Accept on shutdown.
	t.Go(func() error {
		<-t.Dying()
		if err := listener.Close(); err != nil {
			log.Error().Err(err).Msg("unable to close listener")
		}
		return nil
	})

	t.Go(func() error {
		return s.acceptLoop(t, listener)
	})

	log.Info().
		Str("address", listener.Addr().String()).
		Int("workers", s.pool.Size()).
		Msg("server running")

	// Closing the connections unblocks workers waiting on reads.
	<-t.Dying()
	s.closeAllSessions()
	err = t.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Server) acceptLoop(t *tomb.Tomb, listener net.Listener) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-t.Dying():
				return nil
			default:
			}
			log.Error().Err(err).Msg("error accepting client")
			continue
		}

		// Add the client to client sessions we are tracking.
		// We expect to potentially maintain a long TCP session.
		session, err := s.addClientSession(conn)
		if err != nil {
			log.Error().
				Err(err).
				Str("address", conn.RemoteAddr().String()).
				Msg("rejecting client")
			session := &ClientSession{conn: conn}
			_ = session.send(Rejection{Err: err.Error()})
			_ = conn.Close()
			continue
		}
		log.Info().Str("address", session.address).Msg("new client added")

		// Pass over the connection to be read from.
		if err := s.pool.AddTask(session); err != nil {
			s.closeSession(session)
			return nil
		}
	}
}

// handleConnection is a short-lived worker method which reads the next message off the
// connection, parses and passes it forward to sessionHandler to handle it. An idle
// connection is handed straight back to the pool. If the connection dies, the client
// session is cleaned up.
// Note, any error returned from here is fatal.
func (s *Server) handleConnection(t *tomb.Tomb, task any) error {
	session, ok := task.(*ClientSession)
	if !ok {
		return ErrImproperConversion
	}

	// Wait a short while for a frame to start. Peek does not consume, so an idle
	// timeout loses nothing.
	if err := session.conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
		s.dropSession(session, err, "failed setting deadline for connection")
		return nil
	}
	if _, err := session.reader.Peek(FrameHeaderLen); err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			s.requeue(session)
			return nil
		}
		s.dropSession(session, err, "error reading from connection")
		return nil
	}

	// A frame has started, give it time to complete.
	if err := session.conn.SetReadDeadline(time.Now().Add(defaultFrameTimeout)); err != nil {
		s.dropSession(session, err, "failed setting deadline for connection")
		return nil
	}
	payload, err := ReadFrame(session.reader)
	if err != nil {
		s.dropSession(session, err, "error reading frame")
		return nil
	}

	message, err := ParseMessage(payload)
	if err != nil {
		log.Error().
			Err(err).
			Str("address", session.address).
			Msg("error parsing message")
		if err := session.send(Rejection{Err: err.Error()}); err != nil {
			s.dropSession(session, err, "unable to send report")
			return nil
		}
		s.requeue(session)
		return nil
	}

	// Pass over to the message handling buffer before the connection can be
	// read again, which keeps a client's messages in order.
	select {
	case <-t.Dying():
		return nil
	case s.clientMessages <- ClientMessage{session: session, message: message}:
	}

	// Push the client connection back to handle the next message.
	s.requeue(session)
	return nil
}

func (s *Server) requeue(session *ClientSession) {
	if err := s.pool.AddTask(session); err != nil {
		s.closeSession(session)
	}
}

// sessionHandler applies client messages to the engine one at a time, in the
// order the workers received them.
func (s *Server) sessionHandler(t *tomb.Tomb) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case message := <-s.clientMessages:
			s.handleMessage(message)
		}
	}
}

func (s *Server) handleMessage(msg ClientMessage) {
	session := msg.session
	log.Debug().
		Int("message type", int(msg.message.GetType())).
		Str("address", session.address).
		Msg("new message")

	var report Report
	switch m := msg.message.(type) {
	case HeartbeatMessage:
		report = Ack{}

	case NewOrderMessage:
		id, trades, err := s.engine.Submit(m.Side, m.Price, m.Quantity)
		if err != nil {
			s.reply(session, Rejection{Err: err.Error()})
			return
		}
		s.setOwner(id, session.address)
		s.reply(session, Ack{OrderID: id})
		s.routeTrades(trades)
		return

	case CancelOrderMessage:
		if err := s.checkOwner(m.OrderID, session.address); err != nil {
			report = Rejection{Err: err.Error()}
			break
		}
		if err := s.engine.Cancel(m.OrderID); err != nil {
			report = Rejection{Err: err.Error()}
			break
		}
		s.dropOwner(m.OrderID)
		report = Ack{OrderID: m.OrderID}

	case ReduceOrderMessage:
		if err := s.checkOwner(m.OrderID, session.address); err != nil {
			report = Rejection{Err: err.Error()}
			break
		}
		if err := s.engine.Reduce(m.OrderID, m.Amount); err != nil {
			report = Rejection{Err: err.Error()}
			break
		}
		s.pruneOwner(m.OrderID)
		report = Ack{OrderID: m.OrderID}

	case LookupOrderMessage:
		snapshot, err := s.engine.Lookup(m.OrderID)
		if err != nil {
			report = Rejection{Err: err.Error()}
			break
		}
		report = OrderInfo{
			Side:          snapshot.Side,
			Price:         snapshot.Price,
			Quantity:      snapshot.Quantity,
			TotalQuantity: snapshot.TotalQuantity,
			OrderID:       snapshot.ID,
		}

	case DepthRequestMessage:
		bids, asks := s.engine.Ladder()
		depth := DepthSnapshot{Bids: depthLevels(bids), Asks: depthLevels(asks)}
		if len(bids) > MaxDepthLevels || len(asks) > MaxDepthLevels {
			depth.Truncated = true
			log.Warn().
				Int("bids", len(bids)).
				Int("asks", len(asks)).
				Int("max", MaxDepthLevels).
				Str("address", session.address).
				Msg("depth report truncated")
		}
		report = depth

	default:
		report = Rejection{Err: ErrInvalidMessageType.Error()}
	}
	s.reply(session, report)
}

func (s *Server) reply(session *ClientSession, report Report) {
	if err := session.send(report); err != nil {
		s.dropSession(session, err, "unable to send report")
	}
}

func depthLevels(rows []engine.LevelDepth) []DepthLevel {
	levels := make([]DepthLevel, len(rows))
	for i, row := range rows {
		levels[i] = DepthLevel{Price: row.Price, Volume: row.Volume}
	}
	return levels
}

// routeTrades sends an execution report to the owners of both orders of
// every trade.
func (s *Server) routeTrades(trades []Trade) {
	for _, trade := range trades {
		ts := uint64(trade.Timestamp.UnixNano())
		s.Report(trade.TakerID, Execution{
			Side:         trade.TakerSide,
			Price:        trade.Price,
			Quantity:     trade.Quantity,
			Timestamp:    ts,
			OrderID:      trade.TakerID,
			Counterparty: trade.MakerID,
		})
		s.Report(trade.MakerID, Execution{
			Side:         trade.TakerSide.Opposite(),
			Price:        trade.Price,
			Quantity:     trade.Quantity,
			Timestamp:    ts,
			OrderID:      trade.MakerID,
			Counterparty: trade.TakerID,
		})
	}
	for _, trade := range trades {
		s.pruneOwner(trade.TakerID)
		s.pruneOwner(trade.MakerID)
	}
}

// Report sends an execution to the client owning the order.
func (s *Server) Report(orderID string, execution Execution) {
	s.clientSessionsLock.Lock()
	client, ok := s.clientSessions[s.owners[orderID]]
	s.clientSessionsLock.Unlock()
	if !ok {
		log.Debug().Str("order", orderID).Err(ErrClientDoesNotExist).Msg("execution not delivered")
		return
	}
	if err := client.send(execution); err != nil {
		s.dropSession(client, fmt.Errorf("unable to send report: %w", err), "report failed")
	}
}

func (s *Server) setOwner(orderID, address string) {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()
	s.owners[orderID] = address
}

func (s *Server) dropOwner(orderID string) {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()
	delete(s.owners, orderID)
}

// pruneOwner forgets the owner of an order that is no longer live.
func (s *Server) pruneOwner(orderID string) {
	if _, err := s.engine.Lookup(orderID); errors.Is(err, engine.ErrOrderNotFound) {
		s.dropOwner(orderID)
	}
}

// checkOwner lets an order be touched by the client that placed it. Orders with
// no known owner are left to the engine to resolve.
func (s *Server) checkOwner(orderID, address string) error {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()
	if owner, ok := s.owners[orderID]; ok && owner != address {
		return ErrNotOwner
	}
	return nil
}

// addClientSession is an atomic map add
func (s *Server) addClientSession(conn net.Conn) (*ClientSession, error) {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()

	if len(s.clientSessions) >= maxSessions {
		return nil, ErrTooManySessions
	}
	session := &ClientSession{
		address: conn.RemoteAddr().String(),
		conn:    conn,
		reader:  bufio.NewReader(conn),
	}
	s.clientSessions[session.address] = session
	return session, nil
}

func (s *Server) dropSession(session *ClientSession, err error, msg string) {
	log.Error().
		Err(err).
		Str("address", session.address).
		Msg(msg)
	s.closeSession(session)
}

// closeSession is an atomic map remove followed by closing the connection.
// Resting orders stay in the book, but lose their owner so that any session
// may cancel or reduce them.
func (s *Server) closeSession(session *ClientSession) {
	s.clientSessionsLock.Lock()
	if s.clientSessions[session.address] == session {
		delete(s.clientSessions, session.address)
		for id, owner := range s.owners {
			if owner == session.address {
				delete(s.owners, id)
			}
		}
	}
	s.clientSessionsLock.Unlock()

	if err := session.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		log.Error().Str("address", session.address).Err(err).Msg("unable to close connection")
	}
}

func (s *Server) closeAllSessions() {
	s.clientSessionsLock.Lock()
	sessions := make([]*ClientSession, 0, len(s.clientSessions))
	for _, session := range s.clientSessions {
		sessions = append(sessions, session)
	}
	s.clientSessionsLock.Unlock()

	for _, session := range sessions {
		s.closeSession(session)
	}
}
