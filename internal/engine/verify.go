package engine

import (
	"fmt"
	"math/bits"

	"fenrir/internal/common"
)

// Verify walks the whole book and checks its invariants:
//   - every level is non-empty and its volume is the sum of its orders,
//     without overflow
//   - queue links agree in both directions and the tail is the last order
//   - every queued order is live, registered and sits at its own price and side
//   - every registered order is queued
//
// A non-nil error means the book is corrupt.
func (book *OrderBook) Verify() error {
	queued := 0
	for _, side := range []*SideIndex{book.bids, book.asks} {
		n, err := book.verifySide(side)
		if err != nil {
			return fmt.Errorf("%v side: %w", side.side, err)
		}
		queued += n
	}
	if queued != len(book.orders) {
		return fmt.Errorf("%d orders registered, %d queued", len(book.orders), queued)
	}
	return nil
}

func (book *OrderBook) verifySide(side *SideIndex) (int, error) {
	queued := 0
	var prev *PriceLevel
	for _, level := range side.Levels() {
		if prev != nil && !better(side.side, prev.price, level.price) {
			return 0, fmt.Errorf("level %d out of order after %d", level.price, prev.price)
		}
		prev = level

		if level.Empty() {
			return 0, fmt.Errorf("level %d is empty", level.price)
		}
		if level.side != side {
			return 0, fmt.Errorf("level %d belongs to another side", level.price)
		}

		var sum uint64
		count := 0
		last := nilHandle
		for h := level.head; h != nilHandle; {
			order := side.arena.get(h)
			switch {
			case order == nil:
				return 0, fmt.Errorf("level %d links a freed slot", level.price)
			case order.slot != h:
				return 0, fmt.Errorf("order %s slot mismatch", order.ID)
			case order.prev != last:
				return 0, fmt.Errorf("order %s back link broken", order.ID)
			case order.level != level:
				return 0, fmt.Errorf("order %s points at another level", order.ID)
			case order.Quantity == 0:
				return 0, fmt.Errorf("order %s is terminal but queued", order.ID)
			case order.Price != level.price || order.Side != side.side:
				return 0, fmt.Errorf("order %s queued at wrong price or side", order.ID)
			case book.orders[order.ID] != order:
				return 0, fmt.Errorf("order %s missing from registry", order.ID)
			}
			var carry uint64
			if sum, carry = bits.Add64(sum, order.Quantity, 0); carry != 0 {
				return 0, fmt.Errorf("level %d volume overflows", level.price)
			}
			count++
			last = h
			h = order.next
		}
		if level.tail != last {
			return 0, fmt.Errorf("level %d tail does not match its last order", level.price)
		}
		if count != level.count {
			return 0, fmt.Errorf("level %d counts %d orders, holds %d", level.price, level.count, count)
		}
		if sum != level.volume {
			return 0, fmt.Errorf("level %d volume %d, orders sum %d", level.price, level.volume, sum)
		}
		queued += count
	}
	if queued != side.arena.live() {
		return 0, fmt.Errorf("%d slots occupied, %d orders queued", side.arena.live(), queued)
	}
	return queued, nil
}

func better(side common.Side, a, b int64) bool {
	if side == common.Buy {
		return a > b
	}
	return a < b
}
