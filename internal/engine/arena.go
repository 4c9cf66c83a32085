package engine

// handle indexes a slot of an arena. Queue links are handles rather than
// pointers, so a detached order is never reachable from a level.
type handle int32

const nilHandle handle = -1

// arena owns the slots of the orders resting on one side of the book. Freed
// slots are reused before the slice grows.
type arena struct {
	slots []*Order
	free  []handle
}

func (a *arena) alloc(order *Order) handle {
	if n := len(a.free); n > 0 {
		h := a.free[n-1]
		a.free = a.free[:n-1]
		a.slots[h] = order
		return h
	}
	a.slots = append(a.slots, order)
	return handle(len(a.slots) - 1)
}

func (a *arena) get(h handle) *Order {
	if h == nilHandle {
		return nil
	}
	return a.slots[h]
}

func (a *arena) release(h handle) {
	a.slots[h] = nil
	a.free = append(a.free, h)
}

// live is the number of occupied slots.
func (a *arena) live() int {
	return len(a.slots) - len(a.free)
}
