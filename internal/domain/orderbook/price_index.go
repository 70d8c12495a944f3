package orderbook

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidGrid     = errors.New("invalid price grid")
	ErrPriceOutOfRange = errors.New("price out of range")
	ErrPriceMisaligned = errors.New("price not aligned to tick size")
)

// PriceIndex maps fixed-point prices on a bounded tick grid to dense slots.
type PriceIndex struct {
	min  int64
	max  int64
	tick int64
	n    int
}

// NewPriceIndex validates the grid and returns its index.
func NewPriceIndex(priceMin, priceMax, tickSize int64) (PriceIndex, error) {
	if tickSize <= 0 {
		return PriceIndex{}, fmt.Errorf("%w: tick size %d must be positive", ErrInvalidGrid, tickSize)
	}
	if priceMax < priceMin {
		return PriceIndex{}, fmt.Errorf("%w: max %d below min %d", ErrInvalidGrid, priceMax, priceMin)
	}
	if (priceMax-priceMin)%tickSize != 0 {
		return PriceIndex{}, fmt.Errorf("%w: range %d..%d is not a multiple of tick %d", ErrInvalidGrid, priceMin, priceMax, tickSize)
	}
	return PriceIndex{
		min:  priceMin,
		max:  priceMax,
		tick: tickSize,
		n:    int((priceMax-priceMin)/tickSize) + 1,
	}, nil
}

func (p PriceIndex) Min() int64      { return p.min }
func (p PriceIndex) Max() int64      { return p.max }
func (p PriceIndex) TickSize() int64 { return p.tick }

// Levels is the number of slots per side.
func (p PriceIndex) Levels() int { return p.n }

// Slot returns the dense index for price.
func (p PriceIndex) Slot(price int64) (int, error) {
	if price < p.min || price > p.max {
		return 0, fmt.Errorf("%w: %d not in [%d, %d]", ErrPriceOutOfRange, price, p.min, p.max)
	}
	off := price - p.min
	if off%p.tick != 0 {
		return 0, fmt.Errorf("%w: %d (tick %d)", ErrPriceMisaligned, price, p.tick)
	}
	return int(off / p.tick), nil
}

// Price is the inverse of Slot. slot must be in [0, Levels()).
func (p PriceIndex) Price(slot int) int64 {
	return p.min + int64(slot)*p.tick
}
