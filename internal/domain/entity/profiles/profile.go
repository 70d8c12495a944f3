package profiles

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"mbobook/internal/domain/orderbook"
)

var (
	ErrEmptySymbol     = errors.New("profile symbol is empty")
	ErrProfileNotFound = errors.New("profile not found")
	ErrInvalidScale    = errors.New("invalid price scale")
)

const maxPriceScale = 18

// BookProfile stores the price grid used to mirror one instrument.
// Prices are fixed-point integers scaled by 10^PriceScale.
type BookProfile struct {
	UID          uuid.UUID  `json:"uid"`
	Symbol       string     `json:"symbol"`
	InstrumentID uint32     `json:"instrument_id"`
	PriceMin     int64      `json:"price_min"`
	PriceMax     int64      `json:"price_max"`
	TickSize     int64      `json:"tick_size"`
	PriceScale   int32      `json:"price_scale"`
	Description  string     `json:"description,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

func (p BookProfile) GetUID() uuid.UUID { return p.UID }
func (p BookProfile) GetSymbol() string { return p.Symbol }

// Grid returns the validated price index described by the profile.
func (p BookProfile) Grid() (orderbook.PriceIndex, error) {
	return orderbook.NewPriceIndex(p.PriceMin, p.PriceMax, p.TickSize)
}

// Validate checks the symbol, scale and grid of the profile.
func (p BookProfile) Validate() error {
	if strings.TrimSpace(p.Symbol) == "" {
		return ErrEmptySymbol
	}
	if p.PriceScale < 0 || p.PriceScale > maxPriceScale {
		return fmt.Errorf("%w: %d out of range [0, %d]", ErrInvalidScale, p.PriceScale, maxPriceScale)
	}
	if _, err := p.Grid(); err != nil {
		return err
	}
	return nil
}
