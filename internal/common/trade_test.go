package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrade_String(t *testing.T) {
	trade := Trade{TakerID: "o2", MakerID: "o1", TakerSide: Sell, Price: -5, Quantity: 3}
	assert.Equal(t, "o2 sell 3@-5 against o1", trade.String())
}

func TestSide(t *testing.T) {
	assert.Equal(t, Sell, Buy.Opposite())
	assert.Equal(t, Buy, Sell.Opposite())
	assert.False(t, Side(2).Valid())
	assert.Equal(t, "unknown", Side(2).String())

	for _, in := range []string{"buy", "BUY", "b"} {
		side, err := ParseSide(in)
		assert.NoError(t, err)
		assert.Equal(t, Buy, side)
	}
	_, err := ParseSide("hold")
	assert.ErrorIs(t, err, ErrInvalidSide)
}
