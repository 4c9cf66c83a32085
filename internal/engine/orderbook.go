package engine

import (
	"fmt"
	"math"
	"time"

	"fenrir/internal/common"

	"github.com/rs/zerolog"
)

// OrderBook keeps the registry of live orders and the two sides. Every live
// order with remaining quantity rests in exactly one level of its own side.
// Terminal orders are purged from the registry.
//
// An OrderBook is a sequential state machine and must not be used from more
// than one goroutine at a time, see Engine for a serialised wrapper.
type OrderBook struct {
	orders map[string]*Order
	bids   *SideIndex
	asks   *SideIndex

	ids    IDGenerator
	clock  func() time.Time
	logger zerolog.Logger
}

type Option func(*OrderBook)

func WithIDGenerator(ids IDGenerator) Option {
	return func(book *OrderBook) { book.ids = ids }
}

func WithClock(clock func() time.Time) Option {
	return func(book *OrderBook) { book.clock = clock }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(book *OrderBook) { book.logger = logger }
}

func NewOrderBook(opts ...Option) *OrderBook {
	book := &OrderBook{
		orders: make(map[string]*Order),
		bids:   NewSideIndex(common.Buy),
		asks:   NewSideIndex(common.Sell),
		ids:    UUIDGenerator{},
		clock:  time.Now,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(book)
	}
	return book
}

func (book *OrderBook) sideOf(side common.Side) *SideIndex {
	if side == common.Buy {
		return book.bids
	}
	return book.asks
}

// Submit places a new limit order which can either (fully or partially):
// 1. Execute immediately against the opposite side
// 2. Rest in the book with whatever quantity is left
// It returns the new order id and the trades it took part in.
func (book *OrderBook) Submit(side common.Side, price int64, quantity uint64) (string, []common.Trade, error) {
	if !side.Valid() {
		return "", nil, ErrInvalidSide
	}
	if quantity == 0 {
		return "", nil, ErrInvalidAmount
	}
	// Matching never touches the own side, so this is checked before anything
	// changes. The whole quantity counts even if part of it would fill.
	if level, ok := book.sideOf(side).Level(price); ok && quantity > math.MaxUint64-level.Volume() {
		return "", nil, ErrInvalidAmount
	}

	order := newOrder(book.ids.NextID(), side, price, quantity, book.clock())
	book.orders[order.ID] = order

	trades, filled := book.match(order, book.sideOf(side.Opposite()))
	if filled {
		delete(book.orders, order.ID)
		return order.ID, trades, nil
	}

	if err := book.sideOf(side).Add(order); err != nil {
		// Unreachable for a fresh order with quantity left.
		delete(book.orders, order.ID)
		return "", trades, fmt.Errorf("resting order %s: %w", order.ID, err)
	}
	book.logger.Debug().
		Str("id", order.ID).
		Stringer("side", side).
		Int64("price", price).
		Uint64("quantity", order.Quantity).
		Msg("order resting")
	return order.ID, trades, nil
}

// match consumes the best levels of the opposite side while they cross the
// incoming order, in price-time priority. It reports whether the order was
// fully satisfied. Anything filled before the loop stops stays filled.
func (book *OrderBook) match(order *Order, opposite *SideIndex) ([]common.Trade, bool) {
	var trades []common.Trade
	for {
		level, err := opposite.Best()
		if err != nil {
			// No opposite liquidity.
			return trades, false
		}
		if !crosses(order, level.Price()) {
			return trades, false
		}

		// Walk the level's queue from the head. Once it empties, the level has
		// already eliminated itself and the next best is fetched.
		for !level.Empty() {
			maker := level.Head()
			matchQty := min(order.Quantity, maker.Quantity)

			// matchQty never exceeds either remaining quantity.
			order.take(matchQty)
			maker.take(matchQty)
			if maker.Quantity == 0 {
				delete(book.orders, maker.ID)
			}

			trade := common.Trade{
				TakerID:   order.ID,
				MakerID:   maker.ID,
				TakerSide: order.Side,
				Price:     level.Price(),
				Quantity:  matchQty,
				Timestamp: book.clock(),
			}
			trades = append(trades, trade)
			book.logger.Debug().Stringer("trade", trade).Msg("trade")

			if order.Quantity == 0 {
				return trades, true
			}
		}
	}
}

// crosses reports whether an order's limit reaches price. A buy does not cross
// a higher ask, a sell does not cross a lower bid.
func crosses(order *Order, price int64) bool {
	if order.Side == common.Buy {
		return order.Price >= price
	}
	return order.Price <= price
}

// live returns a registered order that still has quantity.
func (book *OrderBook) live(id string) (*Order, error) {
	order, ok := book.orders[id]
	if !ok || order.Quantity == 0 {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

// Cancel removes a live order from the book.
func (book *OrderBook) Cancel(id string) error {
	order, err := book.live(id)
	if err != nil {
		return err
	}
	order.Cancel()
	delete(book.orders, id)
	book.logger.Debug().Str("id", id).Msg("order canceled")
	return nil
}

// Reduce lowers a live order's remaining quantity. Reducing by the full
// remaining quantity terminates the order.
func (book *OrderBook) Reduce(id string, amount uint64) error {
	order, err := book.live(id)
	if err != nil {
		return err
	}
	if err := order.Reduce(amount); err != nil {
		return err
	}
	if order.Quantity == 0 {
		delete(book.orders, id)
	}
	book.logger.Debug().
		Str("id", id).
		Uint64("amount", amount).
		Uint64("remaining", order.Quantity).
		Msg("order reduced")
	return nil
}

// Lookup returns a snapshot of a live order.
func (book *OrderBook) Lookup(id string) (Snapshot, error) {
	order, err := book.live(id)
	if err != nil {
		return Snapshot{}, err
	}
	return order.Snapshot(), nil
}

// Queue returns copies of the orders resting at price on one side, in time
// priority. An absent price yields an empty queue.
func (book *OrderBook) Queue(side common.Side, price int64) ([]Snapshot, error) {
	if !side.Valid() {
		return nil, ErrInvalidSide
	}
	level, ok := book.sideOf(side).Level(price)
	if !ok {
		return []Snapshot{}, nil
	}
	queue := make([]Snapshot, 0, level.Len())
	for _, order := range level.Orders() {
		queue = append(queue, order.Snapshot())
	}
	return queue, nil
}

// Len is the number of live orders.
func (book *OrderBook) Len() int {
	return len(book.orders)
}

// Depth is the aggregate resting volume per price for both sides.
type Depth struct {
	Bids map[int64]uint64
	Asks map[int64]uint64
}

func (book *OrderBook) Depth() Depth {
	return Depth{
		Bids: book.bids.Depth(),
		Asks: book.asks.Depth(),
	}
}

// LevelDepth is one row of an ordered depth ladder.
type LevelDepth struct {
	Price  int64
	Volume uint64
	Orders int
}

// Ladder returns both sides best price first.
func (book *OrderBook) Ladder() (bids, asks []LevelDepth) {
	return ladder(book.bids), ladder(book.asks)
}

func ladder(side *SideIndex) []LevelDepth {
	levels := side.Levels()
	rows := make([]LevelDepth, len(levels))
	for i, level := range levels {
		rows[i] = LevelDepth{
			Price:  level.Price(),
			Volume: level.Volume(),
			Orders: level.Len(),
		}
	}
	return rows
}
