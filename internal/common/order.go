package common

import "errors"

var ErrInvalidSide = errors.New("invalid order side")

type Side uint8

// See: https://go.dev/ref/spec#Iota
const (
	Buy Side = iota
	Sell
)

// Opposite returns the side an order of this side trades against.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	}
	return "unknown"
}

// ParseSide accepts "buy" or "sell".
func ParseSide(s string) (Side, error) {
	switch s {
	case "buy", "BUY", "b":
		return Buy, nil
	case "sell", "SELL", "s":
		return Sell, nil
	}
	return 0, ErrInvalidSide
}
