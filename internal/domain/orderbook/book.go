package orderbook

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownSide   = errors.New("unknown side")
	ErrUnknownAction = errors.New("unknown action")
)

const defaultArenaCapacity = 1 << 12

// ref locates a resident order without scanning levels.
type ref struct {
	side  Side
	slot  int
	h     handle
	price int64
}

// Book mirrors the resident liquidity of one instrument as seen by an MBO feed.
//
// Book is single-writer and is not safe for concurrent use; the owner must
// serialize Apply and every query.
type Book struct {
	grid PriceIndex

	bids []level
	asks []level

	// bidTop is the highest occupied bid slot, askTop the lowest occupied
	// ask slot; -1 when the side is empty.
	bidTop int
	askTop int

	orders map[uint64]ref
	nodes  arena
}

// NewBook creates an empty book over the grid [priceMin, priceMax] stepped by tickSize.
func NewBook(priceMin, priceMax, tickSize int64) (*Book, error) {
	grid, err := NewPriceIndex(priceMin, priceMax, tickSize)
	if err != nil {
		return nil, err
	}
	return NewBookWithIndex(grid), nil
}

// NewBookWithIndex creates an empty book over an already validated grid.
func NewBookWithIndex(grid PriceIndex) *Book {
	return &Book{
		grid:   grid,
		bids:   make([]level, grid.Levels()),
		asks:   make([]level, grid.Levels()),
		bidTop: -1,
		askTop: -1,
		orders: make(map[uint64]ref, defaultArenaCapacity),
		nodes:  newArena(defaultArenaCapacity),
	}
}

// Grid returns the price index the book was built with.
func (b *Book) Grid() PriceIndex { return b.grid }

// Len returns the number of resident orders.
func (b *Book) Len() int { return len(b.orders) }

// Apply mutates the book with one feed event.
//
// Unknown order ids are tolerated as no-ops. An error is returned only when
// the event is rejected outright (malformed side or action, price off the
// grid); a rejected event leaves the book untouched.
func (b *Book) Apply(ev Event) error {
	if ev.Action == ActionReset {
		b.Reset()
		return nil
	}
	if !ev.Side.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownSide, ev.Side)
	}

	switch ev.Action {
	case ActionAdd:
		return b.add(ev)
	case ActionModify:
		return b.modify(ev)
	case ActionCancel, ActionTrade, ActionNonPrintedTrade:
		b.reduce(ev.OrderID, ev.Size)
		return nil
	case ActionFill:
		if r, ok := b.orders[ev.OrderID]; ok {
			b.remove(ev.OrderID, r)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, ev.Action)
	}
}

// Reset returns the book to its initial empty state.
func (b *Book) Reset() {
	clear(b.bids)
	clear(b.asks)
	clear(b.orders)
	b.nodes.reset()
	b.bidTop, b.askTop = -1, -1
}

func (b *Book) add(ev Event) error {
	if _, ok := b.orders[ev.OrderID]; ok {
		return nil
	}
	slot, err := b.grid.Slot(ev.Price)
	if err != nil {
		return err
	}
	b.insert(ev.OrderID, ev.Side, slot, ev.Price, ev.Size)
	return nil
}

func (b *Book) modify(ev Event) error {
	r, ok := b.orders[ev.OrderID]
	if !ok {
		return b.add(ev)
	}
	if ev.Size == 0 {
		b.remove(ev.OrderID, r)
		return nil
	}

	if ev.Price != r.price {
		slot, err := b.grid.Slot(ev.Price)
		if err != nil {
			return err
		}
		b.remove(ev.OrderID, r)
		b.insert(ev.OrderID, ev.Side, slot, ev.Price, ev.Size)
		return nil
	}

	lv := b.level(r.side, r.slot)
	old := b.nodes.at(r.h).size
	lv.resize(&b.nodes, r.h, ev.Size)
	if ev.Size > old {
		lv.moveToBack(&b.nodes, r.h)
	}
	return nil
}

// reduce implements partial/full cancels and trades: the order leaves the
// book once size covers its resident quantity, otherwise it keeps its place.
func (b *Book) reduce(id uint64, size uint32) {
	r, ok := b.orders[id]
	if !ok {
		return
	}
	resident := b.nodes.at(r.h).size
	if size >= resident {
		b.remove(id, r)
		return
	}
	b.level(r.side, r.slot).resize(&b.nodes, r.h, resident-size)
}

func (b *Book) insert(id uint64, side Side, slot int, price int64, size uint32) {
	h := b.nodes.alloc(id, size)
	b.level(side, slot).pushBack(&b.nodes, h)
	b.orders[id] = ref{side: side, slot: slot, h: h, price: price}

	if side == SideBid {
		if slot > b.bidTop {
			b.bidTop = slot
		}
	} else if b.askTop < 0 || slot < b.askTop {
		b.askTop = slot
	}
}

func (b *Book) remove(id uint64, r ref) {
	lv := b.level(r.side, r.slot)
	lv.remove(&b.nodes, r.h)
	b.nodes.release(r.h)
	delete(b.orders, id)

	if lv.empty() {
		b.vacate(r.side, r.slot)
	}
}

// vacate moves the best-price hint past a level that just became empty.
func (b *Book) vacate(side Side, slot int) {
	if side == SideBid {
		if slot != b.bidTop {
			return
		}
		for s := slot - 1; s >= 0; s-- {
			if !b.bids[s].empty() {
				b.bidTop = s
				return
			}
		}
		b.bidTop = -1
		return
	}

	if slot != b.askTop {
		return
	}
	for s := slot + 1; s < len(b.asks); s++ {
		if !b.asks[s].empty() {
			b.askTop = s
			return
		}
	}
	b.askTop = -1
}

func (b *Book) level(side Side, slot int) *level {
	if side == SideBid {
		return &b.bids[slot]
	}
	return &b.asks[slot]
}
