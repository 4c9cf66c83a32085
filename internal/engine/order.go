package engine

import (
	"time"

	"fenrir/internal/common"
)

type Order struct {
	ID            string      // Order tracked id
	Side          common.Side // Order side
	Price         int64       // Limiting price, in ticks
	Quantity      uint64      // Remaining quantity
	TotalQuantity uint64      // Total volume requested
	Timestamp     time.Time   // Time of arrival of order into the book

	// Set while the order rests in a level. Only the level touches these.
	level *PriceLevel
	slot  handle
	prev  handle
	next  handle
}

func newOrder(id string, side common.Side, price int64, quantity uint64, ts time.Time) *Order {
	return &Order{
		ID:            id,
		Side:          side,
		Price:         price,
		Quantity:      quantity,
		TotalQuantity: quantity,
		Timestamp:     ts,
		slot:          nilHandle,
		prev:          nilHandle,
		next:          nilHandle,
	}
}

// Cancel drops all of the remaining quantity. Canceling a terminal order does
// nothing.
func (o *Order) Cancel() {
	o.take(o.Quantity)
}

// Reduce voluntarily lowers the remaining quantity by amount.
func (o *Order) Reduce(amount uint64) error {
	if amount > o.Quantity {
		return ErrInvalidAmount
	}
	o.take(amount)
	return nil
}

// Fill lowers the remaining quantity by an executed amount.
func (o *Order) Fill(amount uint64) error {
	if amount > o.Quantity {
		return ErrInvalidAmount
	}
	o.take(amount)
	return nil
}

// take is shared by cancel, reduce and fill. The level is debited by the
// amount before the order itself changes, and a terminal order is unlinked.
func (o *Order) take(amount uint64) {
	if o.level != nil {
		o.level.debit(amount)
	}
	o.Quantity -= amount
	if o.Quantity == 0 && o.level != nil {
		o.level.unlink(o)
	}
}

// Resting reports whether the order currently sits in a price level.
func (o *Order) Resting() bool {
	return o.level != nil
}

// Level returns the price level holding the order, or nil.
func (o *Order) Level() *PriceLevel {
	return o.level
}

// Snapshot is a read only copy of an order, safe to hand out of the book.
type Snapshot struct {
	ID            string
	Side          common.Side
	Price         int64
	Quantity      uint64
	TotalQuantity uint64
	Timestamp     time.Time
}

func (o *Order) Snapshot() Snapshot {
	return Snapshot{
		ID:            o.ID,
		Side:          o.Side,
		Price:         o.Price,
		Quantity:      o.Quantity,
		TotalQuantity: o.TotalQuantity,
		Timestamp:     o.Timestamp,
	}
}
