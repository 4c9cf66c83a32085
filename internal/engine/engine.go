package engine

import (
	"sync"

	"fenrir/internal/common"

	"github.com/rs/zerolog"
)

// Reporter receives every trade the engine executes.
type Reporter interface {
	ReportTrade(trade common.Trade) error
}

// Engine serialises access to a single order book so it can be shared by
// concurrent callers. Mutations take the write lock, queries the read lock.
// Trades are handed to the reporter after the lock is released, in the order
// they were executed within one submission.
type Engine struct {
	mu       sync.RWMutex
	book     *OrderBook
	reporter Reporter
	logger   zerolog.Logger
}

func New(opts ...Option) *Engine {
	book := NewOrderBook(opts...)
	return &Engine{
		book:   book,
		logger: book.logger,
	}
}

func (engine *Engine) SetReporter(reporter Reporter) {
	engine.mu.Lock()
	defer engine.mu.Unlock()
	engine.reporter = reporter
}

// Submit places a limit order and reports the trades it produced.
func (engine *Engine) Submit(side common.Side, price int64, quantity uint64) (string, []common.Trade, error) {
	engine.mu.Lock()
	id, trades, err := engine.book.Submit(side, price, quantity)
	reporter := engine.reporter
	engine.mu.Unlock()

	if err != nil {
		engine.logger.Debug().Err(err).Msg("order rejected")
		return "", nil, err
	}
	if reporter != nil {
		for _, trade := range trades {
			if err := reporter.ReportTrade(trade); err != nil {
				engine.logger.Error().
					Err(err).
					Str("taker", trade.TakerID).
					Str("maker", trade.MakerID).
					Msg("unable to report trade")
			}
		}
	}
	return id, trades, nil
}

func (engine *Engine) Cancel(id string) error {
	engine.mu.Lock()
	defer engine.mu.Unlock()
	return engine.book.Cancel(id)
}

func (engine *Engine) Reduce(id string, amount uint64) error {
	engine.mu.Lock()
	defer engine.mu.Unlock()
	return engine.book.Reduce(id, amount)
}

func (engine *Engine) Lookup(id string) (Snapshot, error) {
	engine.mu.RLock()
	defer engine.mu.RUnlock()
	return engine.book.Lookup(id)
}

func (engine *Engine) Depth() Depth {
	engine.mu.RLock()
	defer engine.mu.RUnlock()
	return engine.book.Depth()
}

func (engine *Engine) Ladder() (bids, asks []LevelDepth) {
	engine.mu.RLock()
	defer engine.mu.RUnlock()
	return engine.book.Ladder()
}

func (engine *Engine) Queue(side common.Side, price int64) ([]Snapshot, error) {
	engine.mu.RLock()
	defer engine.mu.RUnlock()
	return engine.book.Queue(side, price)
}

// Verify checks the book invariants under the read lock.
func (engine *Engine) Verify() error {
	engine.mu.RLock()
	defer engine.mu.RUnlock()
	return engine.book.Verify()
}

// LogReporter writes every trade to a zerolog logger.
type LogReporter struct {
	Logger zerolog.Logger
}

func (r LogReporter) ReportTrade(trade common.Trade) error {
	r.Logger.Info().
		Str("taker", trade.TakerID).
		Str("maker", trade.MakerID).
		Stringer("side", trade.TakerSide).
		Int64("price", trade.Price).
		Uint64("quantity", trade.Quantity).
		Time("at", trade.Timestamp).
		Msg("trade")
	return nil
}
