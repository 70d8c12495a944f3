package interfaces

import "mbobook/internal/domain/orderbook"

// EventJournal durably records accepted events so a restarted engine can
// rebuild its book. Truncate drops everything recorded so far.
type EventJournal interface {
	Append(ev orderbook.Event) error
	Replay(fn func(orderbook.Event) error) error
	Truncate() error
	Close() error
}
