package engine

// PriceLevel is the FIFO queue of the orders resting at one price on one side.
// Volume always equals the sum of the member orders' remaining quantities. A
// level removes itself from its side the moment its queue empties.
type PriceLevel struct {
	price  int64
	volume uint64
	count  int
	head   handle
	tail   handle
	side   *SideIndex
}

func newPriceLevel(price int64, side *SideIndex) *PriceLevel {
	return &PriceLevel{
		price: price,
		head:  nilHandle,
		tail:  nilHandle,
		side:  side,
	}
}

func (l *PriceLevel) Price() int64   { return l.price }
func (l *PriceLevel) Volume() uint64 { return l.volume }
func (l *PriceLevel) Len() int       { return l.count }
func (l *PriceLevel) Empty() bool    { return l.head == nilHandle }

// Head is the earliest queued order, the next one to match.
func (l *PriceLevel) Head() *Order { return l.side.arena.get(l.head) }

// Tail is the latest queued order.
func (l *PriceLevel) Tail() *Order { return l.side.arena.get(l.tail) }

// Orders returns the queue in time priority.
func (l *PriceLevel) Orders() []*Order {
	orders := make([]*Order, 0, l.count)
	for o := l.Head(); o != nil; o = l.side.arena.get(o.next) {
		orders = append(orders, o)
	}
	return orders
}

// add appends the order at the tail of the queue.
func (l *PriceLevel) add(order *Order) {
	h := l.side.arena.alloc(order)
	order.level = l
	order.slot = h
	order.prev = l.tail
	order.next = nilHandle

	if l.tail == nilHandle {
		l.head = h
	} else {
		l.side.arena.get(l.tail).next = h
	}
	l.tail = h
	l.volume += order.Quantity
	l.count++
}

func (l *PriceLevel) debit(amount uint64) {
	l.volume -= amount
}

// unlink detaches the order wherever it sits in the queue, fixing both the
// head and the tail.
func (l *PriceLevel) unlink(order *Order) {
	a := &l.side.arena
	if order.prev == nilHandle {
		l.head = order.next
	} else {
		a.get(order.prev).next = order.next
	}
	if order.next == nilHandle {
		l.tail = order.prev
	} else {
		a.get(order.next).prev = order.prev
	}
	a.release(order.slot)

	order.level = nil
	order.slot = nilHandle
	order.prev = nilHandle
	order.next = nilHandle
	l.count--

	if l.head == nilHandle {
		l.side.eliminate(l)
	}
}
