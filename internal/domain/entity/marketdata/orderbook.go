package marketdata

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"mbobook/internal/domain/orderbook"
)

var ErrPricePrecision = errors.New("price has more decimals than the instrument scale")

// OrderBookLevel holds one aggregated price level within a snapshot.
// Price stays in fixed-point ticks; DisplayPrice is the human readable value.
type OrderBookLevel struct {
	Price        int64  `json:"price"`
	DisplayPrice string `json:"display_price"`
	Size         uint64 `json:"size"`
	Count        int    `json:"count"`
}

// OrderBookSnapshot represents the book captured at a specific time/depth.
// Depth 0 means the full book.
type OrderBookSnapshot struct {
	ID         uuid.UUID        `json:"id"`
	Symbol     string           `json:"symbol"`
	SnapshotAt time.Time        `json:"snapshot_at"`
	Depth      int32            `json:"depth"`
	Bids       []OrderBookLevel `json:"bids"`
	Asks       []OrderBookLevel `json:"asks"`
	Metadata   map[string]any   `json:"metadata,omitempty"`
}

// NewOrderBookSnapshot converts a depth view into a storable snapshot.
func NewOrderBookSnapshot(symbol string, depth int32, scale int32, view orderbook.DepthSnapshot, at time.Time) OrderBookSnapshot {
	return OrderBookSnapshot{
		ID:         uuid.New(),
		Symbol:     symbol,
		SnapshotAt: at.UTC(),
		Depth:      depth,
		Bids:       convertLevels(view.Bids, scale),
		Asks:       convertLevels(view.Asks, scale),
	}
}

func convertLevels(levels []orderbook.LevelView, scale int32) []OrderBookLevel {
	out := make([]OrderBookLevel, 0, len(levels))
	for _, lv := range levels {
		out = append(out, OrderBookLevel{
			Price:        lv.Price,
			DisplayPrice: FormatPrice(lv.Price, scale),
			Size:         lv.Size,
			Count:        lv.Count,
		})
	}
	return out
}

// FormatPrice renders a fixed-point price scaled by 10^scale.
func FormatPrice(price int64, scale int32) string {
	return decimal.New(price, -scale).String()
}

// ParsePrice is the inverse of FormatPrice. Digits beyond scale are rejected.
func ParsePrice(raw string, scale int32) (int64, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, err
	}
	shifted := d.Shift(scale)
	if !shifted.IsInteger() {
		return 0, ErrPricePrecision
	}
	return shifted.IntPart(), nil
}
