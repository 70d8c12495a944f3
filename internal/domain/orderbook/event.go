package orderbook

// Action is the MBO action code carried by a feed record.
type Action string

const (
	ActionAdd             Action = "A"
	ActionCancel          Action = "C"
	ActionModify          Action = "M"
	ActionTrade           Action = "T"
	ActionFill            Action = "F"
	ActionNonPrintedTrade Action = "N"
	ActionReset           Action = "R"
)

func (a Action) String() string {
	switch a {
	case ActionAdd:
		return "add"
	case ActionCancel:
		return "cancel"
	case ActionModify:
		return "modify"
	case ActionTrade:
		return "trade"
	case ActionFill:
		return "fill"
	case ActionNonPrintedTrade:
		return "non_printed_trade"
	case ActionReset:
		return "reset"
	default:
		return "unknown"
	}
}

// Side is the book side of a resident order.
type Side string

const (
	SideBid  Side = "B"
	SideAsk  Side = "A"
	SideNone Side = "N"
)

// IsValid reports whether s addresses one of the two book sides.
func (s Side) IsValid() bool {
	return s == SideBid || s == SideAsk
}

// Event is one normalized order-level record from the feed.
// Header fields are not interpreted by the book.
type Event struct {
	OrderID uint64 `json:"order_id"`
	Action  Action `json:"action"`
	Side    Side   `json:"side"`
	Price   int64  `json:"price"`
	Size    uint32 `json:"size"`

	InstrumentID uint32 `json:"instrument_id,omitempty"`
	PublisherID  uint16 `json:"publisher_id,omitempty"`
	TsEvent      int64  `json:"ts_event,omitempty"`
	TsRecv       int64  `json:"ts_recv,omitempty"`
	TsInDelta    int32  `json:"ts_in_delta,omitempty"`
	Sequence     uint32 `json:"sequence,omitempty"`
	Flags        uint8  `json:"flags,omitempty"`
}
