package engine

import (
	"testing"

	"fenrir/internal/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func prices(side *SideIndex) []int64 {
	var out []int64
	for _, level := range side.Levels() {
		out = append(out, level.Price())
	}
	return out
}

func TestSideIndex_Ordering(t *testing.T) {
	bids := NewSideIndex(common.Buy)
	asks := NewSideIndex(common.Sell)
	for _, price := range []int64{99, 101, 100, 98} {
		require.NoError(t, bids.Add(newOrder("b", common.Buy, price, 1, baseTime)))
		require.NoError(t, asks.Add(newOrder("a", common.Sell, price, 1, baseTime)))
	}

	assert.Equal(t, []int64{101, 100, 99, 98}, prices(bids), "Bids should be sorted High -> Low")
	assert.Equal(t, []int64{98, 99, 100, 101}, prices(asks), "Asks should be sorted Low -> High")

	// Draining the best level repeatedly walks the side in price order.
	var walked []int64
	for {
		best, err := bids.Best()
		if err != nil {
			assert.ErrorIs(t, err, ErrEmptyBook)
			break
		}
		walked = append(walked, best.Price())
		best.Head().Cancel()
	}
	assert.Equal(t, []int64{101, 100, 99, 98}, walked)
}

func TestSideIndex_BestOnEmpty(t *testing.T) {
	_, err := NewSideIndex(common.Sell).Best()
	assert.ErrorIs(t, err, ErrEmptyBook)
}

func TestSideIndex_Depth(t *testing.T) {
	asks := NewSideIndex(common.Sell)
	queueLevel(t, asks, 100, 5, 5)
	queueLevel(t, asks, 102, 7)

	assert.Equal(t, map[int64]uint64{100: 10, 102: 7}, asks.Depth())
	assert.Equal(t, 2, asks.Len())
}

func TestSideIndex_AddRejections(t *testing.T) {
	bids := NewSideIndex(common.Buy)

	assert.ErrorIs(t, bids.Add(newOrder("s", common.Sell, 100, 1, baseTime)), ErrInvalidSide)
	assert.ErrorIs(t, bids.Add(newOrder("z", common.Buy, 100, 0, baseTime)), ErrInvalidAmount)

	order := newOrder("b", common.Buy, 100, 1, baseTime)
	require.NoError(t, bids.Add(order))
	assert.ErrorIs(t, bids.Add(order), ErrOrderResting)
	assert.Equal(t, map[int64]uint64{100: 1}, bids.Depth())
}

func TestSideIndex_AddRejectsVolumeOverflow(t *testing.T) {
	asks := NewSideIndex(common.Sell)
	require.NoError(t, asks.Add(newOrder("a", common.Sell, 100, 1<<63, baseTime)))

	big := newOrder("b", common.Sell, 100, 1<<63, baseTime)
	assert.ErrorIs(t, asks.Add(big), ErrInvalidAmount)
	assert.False(t, big.Resting())
	assert.Equal(t, map[int64]uint64{100: 1 << 63}, asks.Depth())

	fits := newOrder("c", common.Sell, 100, 1<<63-1, baseTime)
	require.NoError(t, asks.Add(fits))
	assert.Equal(t, map[int64]uint64{100: 1<<64 - 1}, asks.Depth())
}
