package orderbook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPriceIndex(t *testing.T) {
	idx, err := NewPriceIndex(0, 200000, 100)
	require.NoError(t, err)
	assert.Equal(t, 2001, idx.Levels())

	_, err = NewPriceIndex(0, 200000, 0)
	assert.ErrorIs(t, err, ErrInvalidGrid)

	_, err = NewPriceIndex(100, 0, 10)
	assert.ErrorIs(t, err, ErrInvalidGrid)

	_, err = NewPriceIndex(0, 105, 10)
	assert.ErrorIs(t, err, ErrInvalidGrid)
}

func TestPriceIndexSlotRoundTrip(t *testing.T) {
	idx, err := NewPriceIndex(20000000, 120000000000, 10000000)
	require.NoError(t, err)

	for _, price := range []int64{20000000, 20010000000, 120000000000} {
		slot, err := idx.Slot(price)
		require.NoError(t, err)
		assert.Equal(t, price, idx.Price(slot))
	}

	slot, err := idx.Slot(20000000)
	require.NoError(t, err)
	assert.Equal(t, 0, slot)

	slot, err = idx.Slot(120000000000)
	require.NoError(t, err)
	assert.Equal(t, idx.Levels()-1, slot)
}

func TestPriceIndexRejectsBadPrices(t *testing.T) {
	idx, err := NewPriceIndex(1000, 2000, 10)
	require.NoError(t, err)

	_, err = idx.Slot(990)
	assert.ErrorIs(t, err, ErrPriceOutOfRange)

	_, err = idx.Slot(2010)
	assert.ErrorIs(t, err, ErrPriceOutOfRange)

	_, err = idx.Slot(1005)
	assert.ErrorIs(t, err, ErrPriceMisaligned)
}
