package engine

import (
	"errors"

	"fenrir/internal/common"
)

var (
	ErrInvalidAmount = errors.New("invalid amount")
	ErrOrderNotFound = errors.New("order not found")
	ErrOrderResting  = errors.New("order already resting")
	ErrInvalidSide   = common.ErrInvalidSide

	// ErrEmptyBook is only used between the side indexes and the crossing
	// loop, it is never returned from the book.
	ErrEmptyBook = errors.New("empty book")
)
