package orderbook

import "fmt"

// LevelView is the aggregate of one non-empty price level.
type LevelView struct {
	Price int64  `json:"price"`
	Size  uint64 `json:"size"`
	Count int    `json:"count"`
}

// DepthSnapshot lists levels best to worst: bids descending, asks ascending.
type DepthSnapshot struct {
	Bids []LevelView `json:"bids"`
	Asks []LevelView `json:"asks"`
}

// BidAskPair is one row of a market-by-price view; missing levels are zero.
type BidAskPair struct {
	BidPx int64  `json:"bid_px"`
	BidSz uint64 `json:"bid_sz"`
	BidCt uint32 `json:"bid_ct"`
	AskPx int64  `json:"ask_px"`
	AskSz uint64 `json:"ask_sz"`
	AskCt uint32 `json:"ask_ct"`
}

// ResidentOrder is a read-only copy of an order currently in the book.
type ResidentOrder struct {
	ID    uint64 `json:"order_id"`
	Side  Side   `json:"side"`
	Price int64  `json:"price"`
	Size  uint32 `json:"size"`
}

// BestBid returns the highest non-empty bid level.
func (b *Book) BestBid() (LevelView, bool) {
	return b.best(SideBid)
}

// BestAsk returns the lowest non-empty ask level.
func (b *Book) BestAsk() (LevelView, bool) {
	return b.best(SideAsk)
}

func (b *Book) best(side Side) (LevelView, bool) {
	var (
		out   LevelView
		found bool
	)
	b.walk(side, func(slot int, lv *level) bool {
		out, found = b.view(slot, lv), true
		return false
	})
	return out, found
}

// Depth returns up to n non-empty levels per side.
func (b *Book) Depth(n int) DepthSnapshot {
	if n <= 0 {
		return DepthSnapshot{Bids: []LevelView{}, Asks: []LevelView{}}
	}
	n = min(n, b.grid.Levels())
	return DepthSnapshot{
		Bids: b.collect(SideBid, n),
		Asks: b.collect(SideAsk, n),
	}
}

// Snapshot returns every non-empty level on both sides.
func (b *Book) Snapshot() DepthSnapshot {
	return DepthSnapshot{
		Bids: b.collect(SideBid, -1),
		Asks: b.collect(SideAsk, -1),
	}
}

// DepthPairs builds n paired rows from the top of both sides. The returned
// count is the number of rows backed by at least one real level. n is
// clamped to the number of grid slots.
func (b *Book) DepthPairs(n int) ([]BidAskPair, int) {
	if n <= 0 {
		return []BidAskPair{}, 0
	}
	n = min(n, b.grid.Levels())
	bids := b.collect(SideBid, n)
	asks := b.collect(SideAsk, n)

	pairs := make([]BidAskPair, n)
	for i, lv := range bids {
		pairs[i].BidPx, pairs[i].BidSz, pairs[i].BidCt = lv.Price, lv.Size, uint32(lv.Count)
	}
	for i, lv := range asks {
		pairs[i].AskPx, pairs[i].AskSz, pairs[i].AskCt = lv.Price, lv.Size, uint32(lv.Count)
	}
	return pairs, max(len(bids), len(asks))
}

// Order looks up a resident order by id.
func (b *Book) Order(id uint64) (ResidentOrder, bool) {
	r, ok := b.orders[id]
	if !ok {
		return ResidentOrder{}, false
	}
	return ResidentOrder{ID: id, Side: r.side, Price: r.price, Size: b.nodes.at(r.h).size}, true
}

// Queue returns the FIFO at (side, price), highest priority first.
func (b *Book) Queue(side Side, price int64) ([]ResidentOrder, error) {
	if !side.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSide, side)
	}
	slot, err := b.grid.Slot(price)
	if err != nil {
		return nil, err
	}
	lv := b.level(side, slot)
	out := make([]ResidentOrder, 0, lv.count)
	for h := lv.head; h != 0; {
		n := b.nodes.at(h)
		out = append(out, ResidentOrder{ID: n.id, Side: side, Price: price, Size: n.size})
		h = n.next
	}
	return out, nil
}

// collect gathers up to limit levels from the best end; limit < 0 means all.
func (b *Book) collect(side Side, limit int) []LevelView {
	capHint := min(limit, b.grid.Levels())
	if capHint < 0 {
		capHint = min(16, b.grid.Levels())
	}
	out := make([]LevelView, 0, capHint)
	b.walk(side, func(slot int, lv *level) bool {
		out = append(out, b.view(slot, lv))
		return limit < 0 || len(out) < limit
	})
	return out
}

// walk visits non-empty levels from best to worst until fn returns false.
func (b *Book) walk(side Side, fn func(slot int, lv *level) bool) {
	if side == SideBid {
		for s := b.bidTop; s >= 0; s-- {
			if lv := &b.bids[s]; !lv.empty() && !fn(s, lv) {
				return
			}
		}
		return
	}
	if b.askTop < 0 {
		return
	}
	for s := b.askTop; s < len(b.asks); s++ {
		if lv := &b.asks[s]; !lv.empty() && !fn(s, lv) {
			return
		}
	}
}

func (b *Book) view(slot int, lv *level) LevelView {
	return LevelView{Price: b.grid.Price(slot), Size: lv.total, Count: lv.count}
}
