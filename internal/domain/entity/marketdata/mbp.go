package marketdata

import "mbobook/internal/domain/orderbook"

// MbpDepth is the number of levels carried by an MBP-10 message.
const MbpDepth = 10

// RTypeMbp10 is the record type tag of market-by-price messages with ten levels.
const RTypeMbp10 uint8 = 0x0A

type MbpHeader struct {
	RType        uint8  `json:"rtype"`
	TsEvent      int64  `json:"ts_event"`
	InstrumentID uint32 `json:"instrument_id"`
	PublisherID  uint16 `json:"publisher_id"`
}

// MbpMessage is the top-of-book view emitted after each applied MBO event.
// Price, Size, Action and Side echo the event that produced it; Depth is the
// number of rows backed by real levels.
type MbpMessage struct {
	Header    MbpHeader              `json:"hd"`
	Price     int64                  `json:"price"`
	Size      uint32                 `json:"size"`
	Action    string                 `json:"action"`
	Side      string                 `json:"side"`
	Flags     uint8                  `json:"flags"`
	Depth     uint8                  `json:"depth"`
	TsRecv    int64                  `json:"ts_recv"`
	TsInDelta int32                  `json:"ts_in_delta"`
	Sequence  uint32                 `json:"sequence"`
	Levels    []orderbook.BidAskPair `json:"levels"`
}

// NewMbpMessage builds an MBP message from the event and the book rows
// returned by Book.DepthPairs.
func NewMbpMessage(ev orderbook.Event, levels []orderbook.BidAskPair, depth int) MbpMessage {
	return MbpMessage{
		Header: MbpHeader{
			RType:        RTypeMbp10,
			TsEvent:      ev.TsEvent,
			InstrumentID: ev.InstrumentID,
			PublisherID:  ev.PublisherID,
		},
		Price:     ev.Price,
		Size:      ev.Size,
		Action:    string(ev.Action),
		Side:      string(ev.Side),
		Flags:     ev.Flags,
		Depth:     uint8(depth),
		TsRecv:    ev.TsRecv,
		TsInDelta: ev.TsInDelta,
		Sequence:  ev.Sequence,
		Levels:    levels,
	}
}

// Build synthesizes the MBP-10 message for ev from the current book state.
// Levels always has MbpDepth rows, even on grids with fewer slots.
func Build(book *orderbook.Book, ev orderbook.Event) MbpMessage {
	levels, depth := book.DepthPairs(MbpDepth)
	if len(levels) < MbpDepth {
		levels = append(levels, make([]orderbook.BidAskPair, MbpDepth-len(levels))...)
	}
	return NewMbpMessage(ev, levels, depth)
}
