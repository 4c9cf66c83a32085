package common

import (
	"fmt"
	"time"
)

// Trade accounts for the two parties who matched. The taker is the incoming
// order, the maker is the order that was resting in the book. Price is always
// the maker's price level.
type Trade struct {
	TakerID   string
	MakerID   string
	TakerSide Side
	Price     int64
	Quantity  uint64
	Timestamp time.Time
}

// String reads as "o2 buy 5@100 against o1": taker, side, quantity at price,
// then the maker.
func (t Trade) String() string {
	return fmt.Sprintf("%s %v %d@%d against %s", t.TakerID, t.TakerSide, t.Quantity, t.Price, t.MakerID)
}
