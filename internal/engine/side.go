package engine

import (
	"math"

	"fenrir/internal/common"

	"github.com/tidwall/btree"
)

type PriceLevels = btree.BTreeG[*PriceLevel]

// SideIndex holds the price levels of one side of the book, ordered so that
// Min is always the best price: highest first for bids, lowest first for asks.
// A price is present if and only if its level is non-empty.
type SideIndex struct {
	side   common.Side
	levels *PriceLevels
	arena  arena
}

func NewSideIndex(side common.Side) *SideIndex {
	// Sorted least first.
	less := func(a, b *PriceLevel) bool {
		return a.price < b.price
	}
	if side == common.Buy {
		// Sorted greatest first.
		less = func(a, b *PriceLevel) bool {
			return a.price > b.price
		}
	}
	// Access is serialised by the owning book, the tree needs no locks of its own.
	return &SideIndex{
		side:   side,
		levels: btree.NewBTreeGOptions(less, btree.Options{NoLocks: true}),
	}
}

func (s *SideIndex) Side() common.Side { return s.side }

// Len is the number of distinct prices.
func (s *SideIndex) Len() int { return s.levels.Len() }

// Add queues the order at its limit price, creating the level if needed. An
// order whose quantity would overflow the level volume is refused.
func (s *SideIndex) Add(order *Order) error {
	switch {
	case order.Side != s.side:
		return ErrInvalidSide
	case order.Quantity == 0:
		return ErrInvalidAmount
	case order.level != nil:
		return ErrOrderResting
	}

	// Levels comparator only accounts for prices, so a dummy level is enough for
	// the search.
	level, ok := s.levels.Get(&PriceLevel{price: order.Price})
	if ok && order.Quantity > math.MaxUint64-level.volume {
		// The level volume would wrap.
		return ErrInvalidAmount
	}
	if !ok {
		level = newPriceLevel(order.Price, s)
		s.levels.Set(level)
	}
	level.add(order)
	return nil
}

// Best returns the level with the best price, or ErrEmptyBook.
func (s *SideIndex) Best() (*PriceLevel, error) {
	level, ok := s.levels.Min()
	if !ok {
		return nil, ErrEmptyBook
	}
	return level, nil
}

// Level returns the level at exactly price.
func (s *SideIndex) Level(price int64) (*PriceLevel, bool) {
	return s.levels.Get(&PriceLevel{price: price})
}

// Levels returns every level, best price first.
func (s *SideIndex) Levels() []*PriceLevel {
	return s.levels.Items()
}

// Depth maps each resting price to its aggregate volume.
func (s *SideIndex) Depth() map[int64]uint64 {
	depth := make(map[int64]uint64, s.levels.Len())
	s.levels.Scan(func(level *PriceLevel) bool {
		depth[level.price] = level.volume
		return true
	})
	return depth
}

// eliminate drops an emptied level.
func (s *SideIndex) eliminate(level *PriceLevel) {
	s.levels.Delete(level)
}
