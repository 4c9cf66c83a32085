package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"fenrir/internal/common"
	"fenrir/internal/engine"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 5 * time.Second

// Book is the read side of the engine the debug server reports on.
type Book interface {
	Verify() error
	Ladder() (bids, asks []engine.LevelDepth)
	Lookup(id string) (engine.Snapshot, error)
	Queue(side common.Side, price int64) ([]engine.Snapshot, error)
}

// Server is the read-only HTTP debug surface of the exchange. It never mutates
// the book.
type Server struct {
	engine  Book
	started time.Time

	srvID   uint32
	address string
	port    uint16
}

func NewServer(srvID uint32, address string, port uint16, eng Book) *Server {
	return &Server{
		engine:  eng,
		started: time.Now(),
		srvID:   srvID,
		address: address,
		port:    port,
	}
}

// Router builds the chi router with access logging through zerolog.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(hlog.NewHandler(log.Logger))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("duration", duration).
			Msg("request")
	}))

	r.Get("/healthz", s.healthz)
	r.Get("/info", s.queryServer)
	r.Get("/depth", s.depth)
	r.Get("/orders/{order_id}", s.lookup)
	r.Get("/queue/{side}/{price}", s.queue)
	return r
}

// healthz fails when the book invariants do not hold.
func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Verify(); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("book invariants broken")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "corrupt", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              net.JoinHostPort(s.address, strconv.Itoa(int(s.port))),
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errs := make(chan error, 1)
	go func() {
		log.Info().Stringer("server", s).Msg("debug server running")
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return fmt.Errorf("debug server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("debug server shutdown: %w", err)
	}
	if err := <-errs; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ---- Utility Methods ----
func (s *Server) String() string {
	return fmt.Sprintf("debug server %d on %s", s.srvID, net.JoinHostPort(s.address, strconv.Itoa(int(s.port))))
}

// ---- Handlers ----

type serverInfo struct {
	ID      uint32 `json:"id"`
	Address string `json:"address"`
	Port    uint16 `json:"port"`
	Uptime  string `json:"uptime"`
}

func (s *Server) queryServer(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, serverInfo{
		ID:      s.srvID,
		Address: s.address,
		Port:    s.port,
		Uptime:  time.Since(s.started).Round(time.Second).String(),
	})
}

type levelResponse struct {
	Price  int64  `json:"price"`
	Volume uint64 `json:"volume"`
	Orders int    `json:"orders"`
}

type depthResponse struct {
	Bids []levelResponse `json:"bids"`
	Asks []levelResponse `json:"asks"`
}

func levels(rows []engine.LevelDepth) []levelResponse {
	out := make([]levelResponse, len(rows))
	for i, row := range rows {
		out[i] = levelResponse{Price: row.Price, Volume: row.Volume, Orders: row.Orders}
	}
	return out
}

func (s *Server) depth(w http.ResponseWriter, r *http.Request) {
	bids, asks := s.engine.Ladder()
	writeJSON(w, http.StatusOK, depthResponse{Bids: levels(bids), Asks: levels(asks)})
}

type orderResponse struct {
	ID            string    `json:"id"`
	Side          string    `json:"side"`
	Price         int64     `json:"price"`
	Quantity      uint64    `json:"quantity"`
	TotalQuantity uint64    `json:"total_quantity"`
	Timestamp     time.Time `json:"timestamp"`
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.engine.Lookup(chi.URLParam(r, "order_id"))
	if errors.Is(err, engine.ErrOrderNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("lookup failed")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, orderOf(snapshot))
}

func orderOf(snapshot engine.Snapshot) orderResponse {
	return orderResponse{
		ID:            snapshot.ID,
		Side:          snapshot.Side.String(),
		Price:         snapshot.Price,
		Quantity:      snapshot.Quantity,
		TotalQuantity: snapshot.TotalQuantity,
		Timestamp:     snapshot.Timestamp,
	}
}

// queue lists the orders resting at one price, in time priority.
func (s *Server) queue(w http.ResponseWriter, r *http.Request) {
	side, err := common.ParseSide(chi.URLParam(r, "side"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	price, err := strconv.ParseInt(chi.URLParam(r, "price"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid price: %w", err))
		return
	}
	snapshots, err := s.engine.Queue(side, price)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("queue failed")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	orders := make([]orderResponse, len(snapshots))
	for i, snapshot := range snapshots {
		orders[i] = orderOf(snapshot)
	}
	writeJSON(w, http.StatusOK, orders)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("unable to write response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
